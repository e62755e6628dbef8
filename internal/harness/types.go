package harness

import "github.com/roach88/listsync/internal/model"

// Trace event types.
const (
	EventJoin   = "join"
	EventLeave  = "leave"
	EventSubmit = "submit"
)

// TraceEvent records what one flow step did. A submit step records one event
// per operation.
type TraceEvent struct {
	Step        int    `json:"step"`
	Type        string `json:"type"`
	User        string `json:"user,omitempty"`
	Client      string `json:"client,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	OpType      string `json:"op_type,omitempty"`

	// Status is the operation outcome, or "ok"/"error" for join and leave.
	Status string `json:"status"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Set for applied operations only.
	ServerTimestamp int64           `json:"server_timestamp,omitempty"`
	Products        []model.Product `json:"products,omitempty"`
	Title           string          `json:"title,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// State is the persisted list after the flow.
	State model.ListState `json:"state"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
