package flashtest

import (
	"errors"
	"fmt"
)

var errMissingGroup = errors.New("capture group missing from match")

// ParseError indicates that a matched response field could not be parsed.
type ParseError struct {
	Field string
	Text  string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s %q: %v", e.Field, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
