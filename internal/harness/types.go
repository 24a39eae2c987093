package harness

// Evaluation modes recorded in the trace.
const (
	ModeArray = "array"
	ModeQuery = "query"
)

// TraceEvent records one query of a scenario evaluated in one mode.
type TraceEvent struct {
	Query  string `json:"query"`
	Entity string `json:"entity"`
	Mode   string `json:"mode"` // "array" or "query"

	// IDs are the primary keys of the fetched entities, in fetch order.
	IDs []any `json:"ids"`

	// Aggregate holds {"id", "value"} pairs when the query aggregates.
	Aggregate []any `json:"aggregate,omitempty"`

	// SQL is the rendered statement of a query-mode evaluation.
	SQL string `json:"sql,omitempty"`

	Error string `json:"error,omitempty"`
	Seq   int64  `json:"seq"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success: the modes agree and every
	// expect clause and assertion holds.
	Pass bool `json:"pass"`

	// Trace contains every evaluation in order, array mode first for
	// each query.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an evaluation to the trace.
func (r *Result) AddTrace(event TraceEvent) {
	r.Trace = append(r.Trace, event)
}

// Events returns the trace events of the named query.
func (r *Result) Events(query string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Query == query {
			out = append(out, e)
		}
	}
	return out
}
