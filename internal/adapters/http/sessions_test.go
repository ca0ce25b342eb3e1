package httpadapter

import (
	"fmt"
	"sync"
	"testing"
)

func TestTurnRingKeepsNewest(t *testing.T) {
	ring := newTurnRing(3)
	for i := 0; i < 5; i++ {
		ring.push(ChatTurn{Question: fmt.Sprintf("q%d", i)})
	}
	got := ring.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got))
	}
	for i, want := range []string{"q2", "q3", "q4"} {
		if got[i].Question != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].Question)
		}
	}
}

func TestSessionStoreEvictsLeastRecentlyUsed(t *testing.T) {
	store := NewSessionStore(2, 2)
	store.Append("a", ChatTurn{Question: "a1"})
	store.Append("b", ChatTurn{Question: "b1"})
	store.Append("a", ChatTurn{Question: "a2"})
	store.Append("c", ChatTurn{Question: "c1"})

	if store.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", store.Len())
	}
	if _, ok := store.History("b"); ok {
		t.Fatalf("expected session b evicted")
	}
	history, ok := store.History("a")
	if !ok || len(history) != 2 {
		t.Fatalf("expected session a kept with 2 turns, got %v %v", ok, history)
	}
}

func TestSessionStoreConcurrentAppends(t *testing.T) {
	store := NewSessionStore(100, 10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Append("shared", ChatTurn{Question: fmt.Sprintf("q%d", i)})
		}(i)
	}
	wg.Wait()

	history, _ := store.History("shared")
	if len(history) != 50 {
		t.Fatalf("expected 50 turns, got %d", len(history))
	}
}
