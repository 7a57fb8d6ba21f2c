package model

// EvaluationType selects how a rubric criterion is scored.
type EvaluationType string

const (
	EvaluationAutomated EvaluationType = "automated"
	EvaluationManual    EvaluationType = "manual"
	EvaluationLLMBased  EvaluationType = "llm_based"
	EvaluationHybrid    EvaluationType = "hybrid"
)

// Rubric is a weighted set of criteria evaluated against a node output.
// Scores are on a 0–100 scale; the rubric passes when the weighted score
// reaches PassThreshold and every required criterion passes individually.
type Rubric struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Version       string      `json:"version,omitempty"`
	Type          string      `json:"type,omitempty"`
	PassThreshold float64     `json:"passThreshold"`
	Criteria      []Criterion `json:"criteria"`
}

// Criterion is one weighted dimension of a rubric.
type Criterion struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Weight          float64        `json:"weight"`
	MinScore        float64        `json:"minScore,omitempty"`
	Required        bool           `json:"required,omitempty"`
	EvaluationType  EvaluationType `json:"evaluationType"`
	EvaluationLogic string         `json:"evaluationLogic,omitempty"`
}

// CriterionResult is the per-criterion outcome of a rubric evaluation.
type CriterionResult struct {
	CriterionID   string  `json:"criterionId"`
	Score         float64 `json:"score"`
	WeightedScore float64 `json:"weightedScore"`
	Passed        bool    `json:"passed"`
	Feedback      string  `json:"feedback,omitempty"`
}

// RubricEvaluation is the outcome of evaluating a rubric against a node
// result: the clamped weighted score, the pass verdict, and per-criterion
// detail for routing and feedback.
type RubricEvaluation struct {
	RubricID         string            `json:"rubricId"`
	Score            float64           `json:"score"`
	Passed           bool              `json:"passed"`
	CriterionResults []CriterionResult `json:"criterionResults,omitempty"`
	FailedCriteria   []string          `json:"failedCriteria,omitempty"`
	Suggestions      []string          `json:"suggestions,omitempty"`
}
