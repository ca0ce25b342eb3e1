package httpadapter

import (
	"container/list"
	"sync"
	"time"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

// ChatTurn is one exchange in a chat session.
type ChatTurn struct {
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Outcome  domain.Outcome `json:"outcome"`
	At       time.Time      `json:"at"`
}

// turnRing keeps the most recent turns of a session in a fixed-size ring.
type turnRing struct {
	turns []ChatTurn
	start int
	count int
}

func newTurnRing(capacity int) *turnRing {
	return &turnRing{turns: make([]ChatTurn, capacity)}
}

func (r *turnRing) push(turn ChatTurn) {
	if len(r.turns) == 0 {
		return
	}
	if r.count < len(r.turns) {
		r.turns[(r.start+r.count)%len(r.turns)] = turn
		r.count++
		return
	}
	r.turns[r.start] = turn
	r.start = (r.start + 1) % len(r.turns)
}

// snapshot returns the turns oldest first.
func (r *turnRing) snapshot() []ChatTurn {
	out := make([]ChatTurn, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.turns[(r.start+i)%len(r.turns)])
	}
	return out
}

type session struct {
	id   string
	ring *turnRing
}

// SessionStore holds chat history in memory. When more than maxSessions are
// active the least recently used session is evicted.
type SessionStore struct {
	mu          sync.Mutex
	maxTurns    int
	maxSessions int
	order       *list.List
	byID        map[string]*list.Element
}

func NewSessionStore(maxTurns, maxSessions int) *SessionStore {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if maxSessions <= 0 {
		maxSessions = 1000
	}
	return &SessionStore{
		maxTurns:    maxTurns,
		maxSessions: maxSessions,
		order:       list.New(),
		byID:        make(map[string]*list.Element),
	}
}

// Append records a turn and returns the session history after it.
func (s *SessionStore) Append(sessionID string, turn ChatTurn) []ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.byID[sessionID]
	if ok {
		s.order.MoveToFront(el)
	} else {
		el = s.order.PushFront(&session{id: sessionID, ring: newTurnRing(s.maxTurns)})
		s.byID[sessionID] = el
		for s.order.Len() > s.maxSessions {
			oldest := s.order.Back()
			s.order.Remove(oldest)
			delete(s.byID, oldest.Value.(*session).id)
		}
	}
	sess := el.Value.(*session)
	sess.ring.push(turn)
	return sess.ring.snapshot()
}

func (s *SessionStore) History(sessionID string) ([]ChatTurn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.byID[sessionID]
	if !ok {
		return nil, false
	}
	return el.Value.(*session).ring.snapshot(), true
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
