package codec

import "fmt"

// ParseError reports malformed or truncated wire data. Batch callers treat
// a ParseError as skippable: the offending item is dropped, the batch goes
// on.
type ParseError struct {
	What   string // what was being parsed ("block header", "varint", ...)
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.What, e.Reason)
}

func parseErrorf(what, format string, args ...interface{}) *ParseError {
	return &ParseError{What: what, Reason: fmt.Sprintf(format, args...)}
}
