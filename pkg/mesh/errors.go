package mesh

import "fmt"

// FormatError reports malformed, truncated or otherwise undecodable input.
// Offset is a byte offset (binary formats) and Line a 1-based line number
// (text formats); whichever does not apply is -1 or 0 respectively.
type FormatError struct {
	Format  string
	Offset  int64
	Line    int
	Message string
	Err     error
}

func (e *FormatError) Error() string {
	var msg string
	switch {
	case e.Line > 0:
		msg = fmt.Sprintf("%s: line %d: %s", e.Format, e.Line, e.Message)
	case e.Offset >= 0:
		msg = fmt.Sprintf("%s: offset %d: %s", e.Format, e.Offset, e.Message)
	default:
		msg = fmt.Sprintf("%s: %s", e.Format, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }
