// ABOUTME: Sequential per-id execution of bulk actions with per-id outcomes
// ABOUTME: Failures do not stop the batch except for an expired session

package console

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/pymemap-console/internal/api"
)

// Outcome is the result of running an action for one id.
type Outcome struct {
	ID  string
	Err error
}

// BatchResult collects the outcomes of a bulk action. Ids after an
// authorization failure are not attempted and appear in Skipped.
type BatchResult struct {
	Action   string
	Outcomes []Outcome
	Skipped  []string
}

// RunBatch runs fn for each id in order, one at a time. Earlier successes are
// never rolled back.
func RunBatch(ctx context.Context, action string, ids []string, fn func(ctx context.Context, id string) error) *BatchResult {
	res := &BatchResult{Action: action}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			res.Skipped = append(res.Skipped, ids[i:]...)
			break
		}
		err := fn(ctx, id)
		res.Outcomes = append(res.Outcomes, Outcome{ID: id, Err: err})
		if errors.Is(err, api.ErrUnauthorized) {
			res.Skipped = append(res.Skipped, ids[i+1:]...)
			break
		}
	}
	return res
}

// Succeeded lists ids whose action completed.
func (b *BatchResult) Succeeded() []string {
	var out []string
	for _, o := range b.Outcomes {
		if o.Err == nil {
			out = append(out, o.ID)
		}
	}
	return out
}

// Failed counts ids whose action returned an error.
func (b *BatchResult) Failed() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Summary reports the counts, e.g. "1 succeeded, 1 failed".
func (b *BatchResult) Summary() string {
	s := fmt.Sprintf("%d succeeded, %d failed", len(b.Succeeded()), b.Failed())
	if len(b.Skipped) > 0 {
		s += fmt.Sprintf(", %d skipped", len(b.Skipped))
	}
	return s
}

// Err returns the result as an error when anything failed or was skipped.
func (b *BatchResult) Err() error {
	if b.Failed() == 0 && len(b.Skipped) == 0 {
		return nil
	}
	return b
}

func (b *BatchResult) Error() string {
	var first string
	for _, o := range b.Outcomes {
		if o.Err != nil {
			first = fmt.Sprintf(" (%s: %s)", o.ID, api.MessageOf(o.Err))
			break
		}
	}
	return strings.TrimSpace(b.Action + ": " + b.Summary() + first)
}

// Unwrap exposes the per-id errors to errors.Is and errors.As.
func (b *BatchResult) Unwrap() []error {
	var errs []error
	for _, o := range b.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}
