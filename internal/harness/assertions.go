package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/listsync/internal/store"
)

// AssertionContext gives assertions access to the persisted state.
type AssertionContext struct {
	Store  *store.Store
	Ctx    context.Context
	ListID string
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, ev.describe())
		}
	}
	return buf.String()
}

func (ev TraceEvent) describe() string {
	switch ev.Type {
	case EventSubmit:
		s := fmt.Sprintf("submit %s %s by %s: %s", ev.OpType, ev.OperationID, ev.Client, ev.Status)
		if ev.Reason != "" {
			s += " (" + ev.Reason + ")"
		}
		if ev.Kind != "" {
			s += " [" + ev.Kind + "]"
		}
		return s
	default:
		s := fmt.Sprintf("%s %s: %s", ev.Type, ev.User, ev.Status)
		if ev.Kind != "" {
			s += " [" + ev.Kind + "]"
		}
		return s
	}
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalProducts:
			err = assertFinalProducts(result, a)
		case AssertFinalTitle:
			err = assertFinalTitle(result, a)
		case AssertEditLog:
			err = assertEditLog(result, a)
		case AssertOutcomeCount:
			err = assertOutcomeCount(result.Trace, a)
		case AssertOperationStatus:
			err = assertOperationStatus(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func assertFinalProducts(result *Result, a Assertion) error {
	want := make([]string, len(a.Products))
	for i, p := range a.Products {
		want[i] = fmt.Sprintf("%s x%d", p.Product, p.Units)
	}
	got := make([]string, len(result.State.Products))
	for i, p := range result.State.Products {
		got[i] = fmt.Sprintf("%s x%d", p.ProductRef, p.NumUnits)
	}
	if strings.Join(want, ", ") != strings.Join(got, ", ") {
		return &AssertionError{
			Type:     AssertFinalProducts,
			Expected: "[" + strings.Join(want, ", ") + "]",
			Actual:   "[" + strings.Join(got, ", ") + "]",
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertFinalTitle(result *Result, a Assertion) error {
	if result.State.Title != a.Title {
		return &AssertionError{
			Type:     AssertFinalTitle,
			Expected: fmt.Sprintf("%q", a.Title),
			Actual:   fmt.Sprintf("%q", result.State.Title),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertEditLog(result *Result, a Assertion) error {
	got := make([]string, len(result.State.EditLog))
	for i, e := range result.State.EditLog {
		got[i] = e.Action
	}
	if strings.Join(got, "|") != strings.Join(a.Actions, "|") {
		return &AssertionError{
			Type:     AssertEditLog,
			Expected: fmt.Sprintf("%q", a.Actions),
			Actual:   fmt.Sprintf("%q", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertOutcomeCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == EventSubmit && ev.Status == a.Status {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertOutcomeCount,
			Expected: fmt.Sprintf("%d operations %s", *a.Count, a.Status),
			Actual:   fmt.Sprintf("%d operations", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertOperationStatus checks the durable log, not the trace: a duplicate
// submission leaves the logged status of the original untouched.
func assertOperationStatus(actx *AssertionContext, a Assertion) error {
	records, err := actx.Store.ReadOperations(actx.Ctx, actx.ListID)
	if err != nil {
		return fmt.Errorf("read operations: %w", err)
	}
	for _, rec := range records {
		if rec.Submitted.ClientID == a.Client && rec.Submitted.OperationID == a.OperationID {
			if string(rec.Status) != a.Status {
				return &AssertionError{
					Type:     AssertOperationStatus,
					Expected: fmt.Sprintf("%s/%s %s", a.Client, a.OperationID, a.Status),
					Actual:   string(rec.Status),
				}
			}
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertOperationStatus,
		Expected: fmt.Sprintf("%s/%s %s", a.Client, a.OperationID, a.Status),
		Actual:   "not logged",
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

