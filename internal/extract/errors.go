package extract

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingColumns is wrapped by an ExtractionError when required columns are absent.
var ErrMissingColumns = errors.New("required columns missing")

// ErrNoInput is returned when Extract is called without any path.
var ErrNoInput = errors.New("no input files configured")

// ExtractionError reports a missing, unreadable or structurally invalid input file.
type ExtractionError struct {
	Path    string
	Line    int
	Missing []string
	Err     error
}

func (e *ExtractionError) Error() string {
	var b strings.Builder
	b.WriteString("extraction failed")
	if e.Path != "" {
		fmt.Fprintf(&b, " for %s", e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing columns %s", strings.Join(e.Missing, ", "))
		return b.String()
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
