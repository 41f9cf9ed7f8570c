package pipeline

import (
	"fmt"
	"time"

	"github.com/obsidianstack/hydrowatch/internal/result"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// BuildReport normalizes the terminal Result of one run. Adapters that report
// no execution context count as a single item.
func BuildReport[T any](adapterID string, r result.Result[T], elapsed time.Duration, at time.Time) types.ExecutionReport {
	rep := types.ExecutionReport{
		AdapterID: adapterID,
		Timestamp: at,
		Duration:  elapsed,
	}

	if ec := r.Context(); ec != nil {
		rep.TotalItems = ec.TotalItems
		rep.SuccessfulItems = ec.SuccessfulItems
		rep.FailedItems = ec.FailedItems
		rep.ItemErrors = append([]types.ItemError(nil), ec.ItemErrors...)
		rep.SucceededItemIDs = append([]string(nil), ec.SucceededItemIDs...)
	} else if r.IsOk() {
		rep.TotalItems, rep.SuccessfulItems = 1, 1
	} else {
		rep.TotalItems, rep.FailedItems = 1, 1
	}

	switch {
	case !r.IsOk():
		rep.Status = types.RunFailure
		rep.GlobalError = &types.GlobalError{
			Code:    types.CodeExecutionFailed,
			Message: r.Error().Error(),
		}
	case rep.FailedItems > 0:
		rep.Status = types.RunPartial
	default:
		rep.Status = types.RunSuccess
	}
	return rep
}

// UnexpectedReport is the report of a run that panicked instead of returning
// a Result.
func UnexpectedReport(adapterID string, recovered any, elapsed time.Duration, at time.Time) types.ExecutionReport {
	return types.ExecutionReport{
		AdapterID:   adapterID,
		Timestamp:   at,
		Duration:    elapsed,
		Status:      types.RunFailure,
		TotalItems:  1,
		FailedItems: 1,
		GlobalError: &types.GlobalError{
			Code:    types.CodeUnexpectedError,
			Message: fmt.Sprint(recovered),
		},
	}
}
