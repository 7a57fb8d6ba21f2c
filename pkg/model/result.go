package model

import "time"

// ResultStatus is the outcome classification of a single node body.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailure ResultStatus = "failure"
	StatusPending ResultStatus = "pending"
	StatusEnd     ResultStatus = "end"
)

// NodeResult is what a node executor produces. Output is usually a string
// (the agent's text response) but may be any JSON-serializable value.
// Err carries the internal cause on failures; it is never serialized.
type NodeResult struct {
	Status    ResultStatus   `json:"status"`
	Output    any            `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	Err error `json:"-"`
}

// NewSuccessResult builds a success result with the given output.
func NewSuccessResult(output any) *NodeResult {
	return &NodeResult{Status: StatusSuccess, Output: output, Timestamp: time.Now()}
}

// NewFailureResult builds a failure result. The error message doubles as
// the output so transition rules and history have something to record.
func NewFailureResult(err error) *NodeResult {
	var output any
	if err != nil {
		output = err.Error()
	}
	return &NodeResult{Status: StatusFailure, Output: output, Timestamp: time.Now(), Err: err}
}

// Meta returns the metadata value for key, or nil.
func (r *NodeResult) Meta(key string) any {
	if r.Metadata == nil {
		return nil
	}
	return r.Metadata[key]
}

// SetMeta sets a metadata entry, allocating the map on first use.
func (r *NodeResult) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}
