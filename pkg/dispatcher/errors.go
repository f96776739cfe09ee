package dispatcher

import (
	"errors"
	"fmt"
)

// Failure codes, one per step of the dispatch algorithm.
const (
	CodeMalformedEnvelope = "MALFORMED_ENVELOPE"
	CodeHandlerNotFound   = "HANDLER_NOT_FOUND"
	CodePayloadDecode     = "PAYLOAD_DECODE_ERROR"
	CodeFilterRejected    = "FILTER_REJECTED"
	CodeHandlerError      = "HANDLER_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

// Sentinels matched by *Error through errors.Is.
var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrHandlerNotFound   = errors.New("handler not found")
	ErrPayloadDecode     = errors.New("payload decode error")
	ErrFilterRejected    = errors.New("filter rejected")
	ErrHandlerError      = errors.New("handler error")
	// ErrHandlerPanic wraps the value recovered from a panicking handler.
	ErrHandlerPanic = errors.New("handler panicked")
)

var codeSentinels = map[string]error{
	CodeMalformedEnvelope: ErrMalformedEnvelope,
	CodeHandlerNotFound:   ErrHandlerNotFound,
	CodePayloadDecode:     ErrPayloadDecode,
	CodeFilterRejected:    ErrFilterRejected,
	CodeHandlerError:      ErrHandlerError,
}

// Error is the failure returned by Dispatch. Err holds the underlying cause.
type Error struct {
	Code      string
	EventType string
	RequestID string
	// Filter is set for CodeFilterRejected.
	Filter string
	Err    error
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeHandlerNotFound:
		return fmt.Sprintf("%s: no handler for %q", e.Code, e.EventType)
	case CodeFilterRejected:
		return fmt.Sprintf("%s: %s rejected %q: %v", e.Code, e.Filter, e.EventType, e.Err)
	}
	if e.EventType == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %q: %v", e.Code, e.EventType, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// CodeOf returns the failure code of err, or CodeInternal for errors that did
// not come from Dispatch.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
