package alerts

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// condition is a compiled "field operator value" rule expression:
//
//	status == UNHEALTHY
//	validity != VALID
//	failure_count > 3
//	avg_duration_ms > 5000
//	failing_items >= 1
//
// status and validity compare case-insensitively and accept only == and !=.
// Every other field is numeric; see numericField.
type condition struct {
	field string
	op    string
	word  string
	num   float64
}

func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return condition{}, errors.Newf("condition %q: want \"field operator value\"", expr)
	}
	c := condition{field: parts[0], op: parts[1], word: parts[2]}

	switch c.field {
	case "status", "validity":
		if c.op != "==" && c.op != "!=" {
			return condition{}, errors.Newf("condition %q: %s supports only == and !=", expr, c.field)
		}
		return c, nil
	}

	if _, known := numericField(c.field, types.AdapterHealthStatus{}); !known {
		return condition{}, errors.Newf("condition %q: unknown field %q", expr, c.field)
	}
	if _, known := compareFloat(0, c.op, 0); !known {
		return condition{}, errors.Newf("condition %q: unknown operator %q", expr, c.op)
	}
	n, err := strconv.ParseFloat(c.word, 64)
	if err != nil {
		return condition{}, errors.Wrapf(err, "condition %q", expr)
	}
	c.num = n
	return c, nil
}

// eval reports whether c holds for st and the value it compared. String
// comparisons report a zero value.
func (c condition) eval(st types.AdapterHealthStatus) (bool, float64) {
	switch c.field {
	case "status":
		return c.matchWord(string(st.CurrentStatus)), 0
	case "validity":
		return c.matchWord(string(st.Validity)), 0
	}
	v, _ := numericField(c.field, st)
	holds, _ := compareFloat(v, c.op, c.num)
	return holds, v
}

func (c condition) matchWord(v string) bool {
	eq := strings.EqualFold(v, c.word)
	if c.op == "!=" {
		return !eq
	}
	return eq
}

func (c condition) String() string { return c.field + " " + c.op + " " + c.word }

func numericField(field string, st types.AdapterHealthStatus) (float64, bool) {
	switch field {
	case "failure_count":
		return float64(st.FailureCount), true
	case "success_count":
		return float64(st.SuccessCount), true
	case "partial_success_count":
		return float64(st.PartialSuccessCount), true
	case "avg_duration_ms":
		return st.AverageDuration, true
	case "response_time_ms":
		return float64(st.ResponseTimeMs), true
	case "error_count":
		return float64(len(st.Errors)), true
	case "failing_items":
		// Items failing more often than they succeed.
		n := 0
		for _, s := range st.ItemStatistics {
			if s.FailureCount > s.SuccessCount {
				n++
			}
		}
		return float64(n), true
	}
	return 0, false
}

func compareFloat(v float64, op string, threshold float64) (holds, known bool) {
	switch op {
	case ">":
		return v > threshold, true
	case ">=":
		return v >= threshold, true
	case "<":
		return v < threshold, true
	case "<=":
		return v <= threshold, true
	case "==":
		return v == threshold, true
	case "!=":
		return v != threshold, true
	}
	return false, false
}
