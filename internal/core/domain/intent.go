package domain

type IntentKind string

const (
	IntentRelevant   IntentKind = "relevant"
	IntentGreeting   IntentKind = "greeting"
	IntentOutOfScope IntentKind = "out_of_scope"
)

// Intent unifies binary relevance classification and the three-way analyzer
// with query rewrite. RefinedQuery is only meaningful for IntentRelevant.
type Intent struct {
	Kind         IntentKind `json:"kind"`
	RefinedQuery string     `json:"refined_query,omitempty"`
}

func Relevant(refinedQuery string) Intent {
	return Intent{Kind: IntentRelevant, RefinedQuery: refinedQuery}
}

func Greeting() Intent {
	return Intent{Kind: IntentGreeting}
}

func OutOfScope() Intent {
	return Intent{Kind: IntentOutOfScope}
}

func (i Intent) IsRelevant() bool { return i.Kind == IntentRelevant }
