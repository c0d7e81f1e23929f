package load

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by a LoadError when re-reading the output disagrees
// with the table that was written.
var ErrValidation = errors.New("post-write validation failed")

// LoadError reports an unwritable destination, a failed write or a failed
// post-write validation. No output is left at Path when it is returned.
type LoadError struct {
	Op     string
	Format Format
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s %s (%s): %v", e.Format, e.Path, e.Op, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
