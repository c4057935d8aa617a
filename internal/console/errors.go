package console

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when expected output does not appear in time.
var ErrTimeout = errors.New("timeout waiting for console output")

// TimeoutError records what was being waited for and the unmatched output
// seen so far.
type TimeoutError struct {
	Pattern string
	Output  string
}

func (e *TimeoutError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("timeout waiting for %q: no output", e.Pattern)
	}
	return fmt.Sprintf("timeout waiting for %q; last output: %q", e.Pattern, e.Output)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
