package problem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrMalformedClause marks an instance line that does not follow the
	// problem's format.
	ErrMalformedClause = errors.New("malformed instance line")
	// ErrOutOfRange marks a value outside the declared dimension.
	ErrOutOfRange = errors.New("value out of declared range")
)

// InstanceError locates a defect in an instance file.
type InstanceError struct {
	Problem string
	// Line is 1-based; 0 when the defect is not tied to a single line.
	Line int
	Err  error
}

func (e *InstanceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s instance: line %d: %v", e.Problem, e.Line, e.Err)
	}
	return fmt.Sprintf("%s instance: %v", e.Problem, e.Err)
}

func (e *InstanceError) Unwrap() error { return e.Err }

// Malformed returns an InstanceError wrapping ErrMalformedClause.
func Malformed(problem string, line int, format string, args ...interface{}) error {
	return &InstanceError{
		Problem: problem,
		Line:    line,
		Err:     fmt.Errorf("%w: %s", ErrMalformedClause, fmt.Sprintf(format, args...)),
	}
}

// OutOfRange returns an InstanceError wrapping ErrOutOfRange.
func OutOfRange(problem string, line int, format string, args ...interface{}) error {
	return &InstanceError{
		Problem: problem,
		Line:    line,
		Err:     fmt.Errorf("%w: %s", ErrOutOfRange, fmt.Sprintf(format, args...)),
	}
}

// ScanFields calls fn with the whitespace separated fields of every line of
// r that is neither blank nor a '#' comment. Line numbers are 1-based.
func ScanFields(r io.Reader, fn func(line int, fields []string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := fn(line, strings.Fields(text)); err != nil {
			return err
		}
	}
	return sc.Err()
}
