package entity

type DecisionKind string

const (
	DecisionCache    DecisionKind = "cache"
	DecisionOverride DecisionKind = "override"
	DecisionModel    DecisionKind = "model"
	DecisionSkip     DecisionKind = "skip"
)

// Decision is the outcome of categorizing one job. Skip decisions carry a
// Reason and no category.
type Decision struct {
	Kind         DecisionKind `json:"kind"`
	CategoryID   string       `json:"category_id,omitempty"`
	CategoryName string       `json:"category_name,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

func Skip(reason string) Decision {
	return Decision{Kind: DecisionSkip, Reason: reason}
}
