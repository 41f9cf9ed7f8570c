package types

import "time"

// Stage names the pipeline stage an item failed in.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageAggregate Stage = "aggregate"
	StageTransform Stage = "transform"
)

// RunStatus is the overall outcome of one pipeline run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailure RunStatus = "failure"
)

// Global error codes carried by a failed ExecutionReport.
const (
	CodeExecutionFailed = "EXECUTION_FAILED"
	CodeUnexpectedError = "UNEXPECTED_ERROR"
)

// GlobalItemID is the synthetic item id under which run-level errors are
// stored in an adapter's error history.
const GlobalItemID = "GLOBAL"

// ItemError identifies which unit of work failed, at which stage, and why.
// Values are never mutated after creation.
type ItemError struct {
	ItemID    string    `json:"item_id"`
	ItemName  string    `json:"item_name,omitempty"`
	Stage     Stage     `json:"stage"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionContext describes partial outcomes of a stage at item granularity.
type ExecutionContext struct {
	TotalItems      int         `json:"total_items"`
	SuccessfulItems int         `json:"successful_items"`
	FailedItems     int         `json:"failed_items"`
	ItemErrors      []ItemError `json:"item_errors,omitempty"`

	// SucceededItemIDs lists the items that completed, when the stage
	// tracks them individually.
	SucceededItemIDs []string `json:"succeeded_item_ids,omitempty"`
}

// Clone returns a deep copy of c. A nil receiver yields nil.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	out := *c
	out.ItemErrors = append([]ItemError(nil), c.ItemErrors...)
	out.SucceededItemIDs = append([]string(nil), c.SucceededItemIDs...)
	return &out
}

// Extend returns a new context that keeps every item error of prev and adds
// the failures reported by next. Item counts are taken from prev when it
// sized the run; items that failed in next are moved from succeeded to
// failed.
func Extend(prev, next *ExecutionContext) *ExecutionContext {
	switch {
	case prev == nil:
		return next.Clone()
	case next == nil:
		return prev.Clone()
	}

	out := prev.Clone()
	failedLater := make(map[string]struct{}, len(next.ItemErrors))
	for _, ie := range next.ItemErrors {
		out.ItemErrors = append(out.ItemErrors, ie)
		failedLater[ie.ItemID] = struct{}{}
	}

	if len(failedLater) > 0 && len(out.SucceededItemIDs) > 0 {
		kept := out.SucceededItemIDs[:0]
		for _, id := range out.SucceededItemIDs {
			if _, failed := failedLater[id]; !failed {
				kept = append(kept, id)
			}
		}
		out.SucceededItemIDs = kept
	}

	moved := next.FailedItems
	if moved > out.SuccessfulItems {
		moved = out.SuccessfulItems
	}
	out.SuccessfulItems -= moved
	out.FailedItems += moved
	if out.TotalItems < out.SuccessfulItems+out.FailedItems {
		out.TotalItems = out.SuccessfulItems + out.FailedItems
	}
	return out
}

// GlobalError is the run-level failure recorded when a run produced nothing
// usable.
type GlobalError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExecutionReport is the normalized outcome record of one pipeline run.
type ExecutionReport struct {
	RunID            string        `json:"run_id"`
	AdapterID        string        `json:"adapter_id"`
	Timestamp        time.Time     `json:"timestamp"`
	Duration         time.Duration `json:"duration"`
	Status           RunStatus     `json:"status"`
	TotalItems       int           `json:"total_items"`
	SuccessfulItems  int           `json:"successful_items"`
	FailedItems      int           `json:"failed_items"`
	ItemErrors       []ItemError   `json:"item_errors,omitempty"`
	SucceededItemIDs []string      `json:"succeeded_item_ids,omitempty"`
	GlobalError      *GlobalError  `json:"global_error,omitempty"`
}

// Indicator is one normalized observation produced by an adapter's
// transform stage.
type Indicator struct {
	AdapterID  string    `json:"adapter_id"`
	ItemID     string    `json:"item_id"`
	ItemName   string    `json:"item_name,omitempty"`
	Kind       string    `json:"kind"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}
