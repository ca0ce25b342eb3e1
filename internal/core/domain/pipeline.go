package domain

import "time"

type Outcome string

const (
	OutcomeAnswered             Outcome = "answered"
	OutcomeCacheHit             Outcome = "cache_hit"
	OutcomeOutOfScope           Outcome = "out_of_scope"
	OutcomeNoContext            Outcome = "no_context"
	OutcomeGenerationFailed     Outcome = "generation_failed"
	OutcomeBlocked              Outcome = "blocked"
	OutcomeRetrievalUnavailable Outcome = "retrieval_unavailable"
)

type Stage string

const (
	StageClassify   Stage = "classify"
	StageCacheCheck Stage = "cache_check"
	StageExpand     Stage = "expand"
	StageRetrieve   Stage = "retrieve"
	StageGenerate   Stage = "generate"
	StageValidate   Stage = "validate"
	StageCacheWrite Stage = "cache_write"
)

// PipelineContext is the per-request state threaded through the stages.
type PipelineContext struct {
	OriginalQuery   string
	Intent          Intent
	SearchQueries   []string
	RetrievedChunks []FusedResult
	RawAnswer       string
	Validated       bool
}

type Source struct {
	Source string  `json:"source"`
	Page   int     `json:"page,omitempty"`
	Score  float64 `json:"score"`
}

type PipelineResult struct {
	Answer        string        `json:"answer"`
	Outcome       Outcome       `json:"outcome"`
	Intent        Intent        `json:"intent"`
	SearchQueries []string      `json:"search_queries,omitempty"`
	Sources       []Source      `json:"sources,omitempty"`
	Duration      time.Duration `json:"-"`
}

// Terminal reports whether the outcome carries a fixed safety or fallback
// message rather than generated text.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeAnswered, OutcomeCacheHit:
		return false
	default:
		return true
	}
}
