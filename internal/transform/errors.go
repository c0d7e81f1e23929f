package transform

import (
	"errors"
	"fmt"
)

// ErrUnparseableDate is wrapped by a StandardisationError for dates no layout accepts.
var ErrUnparseableDate = errors.New("unparseable date")

// StandardisationError reports a value that could not be standardised and for
// which no fallback was configured.
type StandardisationError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *StandardisationError) Error() string {
	return fmt.Sprintf("standardisation failed at row %d, column %s, value %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *StandardisationError) Unwrap() error {
	return e.Err
}
