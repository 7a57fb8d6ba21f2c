package model

// TransitionRuleType discriminates the transition rule variants.
type TransitionRuleType string

const (
	TransitionAlways  TransitionRuleType = "always"
	TransitionSuccess TransitionRuleType = "success"
	TransitionFailure TransitionRuleType = "failure"
	TransitionScore   TransitionRuleType = "score"
)

// TransitionRule is a tagged variant over the transition rule shapes.
// Rules on a node are evaluated in declaration order; the first rule
// producing a target wins. Retry counters for Failure rules live on the
// execution state keyed by node id, never inside the rule itself, so the
// same workflow definition can run concurrently.
type TransitionRule struct {
	Type   TransitionRuleType `json:"type"`
	Target string             `json:"target,omitempty"`

	// Failure only.
	MaxRetries int `json:"maxRetries,omitempty"`

	// Score only.
	Conditions []ScoreCondition `json:"conditions,omitempty"`
}

// ScoreOperator compares a rubric (or self-reported) score to a condition.
type ScoreOperator string

const (
	ScoreGT    ScoreOperator = "gt"
	ScoreGTE   ScoreOperator = "gte"
	ScoreLT    ScoreOperator = "lt"
	ScoreLTE   ScoreOperator = "lte"
	ScoreEQ    ScoreOperator = "eq"
	ScoreRange ScoreOperator = "range"
)

// ScoreCondition routes to Target when the score satisfies the operator.
// Range uses the inclusive [Min, Max] bounds; the other operators use Value.
type ScoreCondition struct {
	Operator ScoreOperator `json:"operator"`
	Value    float64       `json:"value,omitempty"`
	Min      float64       `json:"min,omitempty"`
	Max      float64       `json:"max,omitempty"`
	Target   string        `json:"target"`
}

// Matches reports whether the given score satisfies the condition.
func (c ScoreCondition) Matches(score float64) bool {
	switch c.Operator {
	case ScoreGT:
		return score > c.Value
	case ScoreGTE:
		return score >= c.Value
	case ScoreLT:
		return score < c.Value
	case ScoreLTE:
		return score <= c.Value
	case ScoreEQ:
		return score == c.Value
	case ScoreRange:
		return score >= c.Min && score <= c.Max
	}
	return false
}

// Targets returns every node id the rule can route to. Used by workflow
// validation to reject dangling references.
func (r TransitionRule) Targets() []string {
	if r.Type == TransitionScore {
		targets := make([]string, 0, len(r.Conditions))
		for _, cond := range r.Conditions {
			targets = append(targets, cond.Target)
		}
		return targets
	}
	if r.Target == "" {
		return nil
	}
	return []string{r.Target}
}
