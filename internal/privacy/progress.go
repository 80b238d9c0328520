package privacy

import (
	"context"

	"github.com/inferloop/aidrin/pkg/errors"
)

// ProgressFunc receives a completion fraction in [0, 1] and a short status
// message. It is an optional side channel and must not block.
type ProgressFunc func(fraction float64, message string)

func (f ProgressFunc) report(fraction float64, message string) {
	if f != nil {
		f(fraction, message)
	}
}

// Coverage describes how many rows a computation used.
type Coverage struct {
	RowsUsed    int      `json:"rows_used"`
	RowsDropped int      `json:"rows_dropped"`
	Warnings    []string `json:"warnings,omitempty"`
}

// checkContext converts a finished context into a Timeout error.
func checkContext(ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return errors.WrapError(ctx.Err(), errors.ErrorTypeTimeout, errors.CodeTimeout,
			"Computation timed out. The dataset may be too large or complex.")
	default:
		return errors.WrapError(ctx.Err(), errors.ErrorTypeTimeout, errors.CodeCancelled,
			"Computation was cancelled.")
	}
}
