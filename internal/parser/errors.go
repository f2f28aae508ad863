package parser

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Validators and scanners wrap one of these so callers can
// tell the failure modes apart with errors.Is.
var (
	// ErrSync marks a candidate that is not a real frame. The parser drops one
	// byte and rescans.
	ErrSync = errors.New("parser: invalid frame header")

	// ErrMissingParameterSet marks a unit referencing a parameter set id that
	// has not been stored.
	ErrMissingParameterSet = errors.New("parser: missing parameter set")

	// ErrStructure marks a length or size field outside its legal range. The
	// current unit or frame is abandoned.
	ErrStructure = errors.New("parser: malformed length or size field")

	// ErrBufferLimit is the resource error: retained bytes would exceed the
	// configured limit. It is fatal for the stream.
	ErrBufferLimit = errors.New("parser: buffer limit exceeded")

	// ErrEmptyFrame is returned when a scanner reports a zero-length frame.
	ErrEmptyFrame = errors.New("parser: zero-length frame")

	// ErrFrameTooLarge is returned when a candidate frame grows past
	// Options.MaxFrameSize.
	ErrFrameTooLarge = fmt.Errorf("%w: frame exceeds size limit", ErrStructure)
)

// UnitError reports recoverable problems in individual units of a frame that
// was still emitted. It unwraps to the per-unit errors.
type UnitError struct {
	Errs []error
}

func (e *UnitError) Error() string {
	if len(e.Errs) == 1 {
		return e.Errs[0].Error()
	}
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d unit errors: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *UnitError) Unwrap() []error {
	return e.Errs
}

// Syncf returns an error of class ErrSync with a formatted detail.
func Syncf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSync, fmt.Sprintf(format, args...))
}

// Structf returns an error of class ErrStructure with a formatted detail.
func Structf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStructure, fmt.Sprintf(format, args...))
}
