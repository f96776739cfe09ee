package dispatcher

import (
	"context"
	"errors"

	"github.com/morezero/socket-dispatch/pkg/connection"
	"github.com/morezero/socket-dispatch/pkg/envelope"
)

// ErrorEventType is the tag of the failure notification.
const ErrorEventType = envelope.ErrorEventType

// ErrorMessage is the payload of an ErrorEventType envelope.
type ErrorMessage = envelope.ErrorMessage

// ErrorReply converts a dispatch failure into the payload sent to the peer.
func ErrorReply(err error) ErrorMessage {
	var de *Error
	if !errors.As(err, &de) {
		return ErrorMessage{Code: CodeInternal, Message: err.Error()}
	}

	msg := ErrorMessage{Code: de.Code, EventType: de.EventType, Filter: de.Filter}
	switch {
	case de.Code == CodeHandlerNotFound:
		msg.Message = "no handler registered for " + de.EventType
	case de.Err != nil:
		msg.Message = de.Err.Error()
	default:
		msg.Message = de.Code
	}
	return msg
}

// NotifyFailure sends the error notification for err to c, echoing the
// request id of the failed message. The connection is left open.
func NotifyFailure(ctx context.Context, c connection.Connection, err error) error {
	var requestID string
	var de *Error
	if errors.As(err, &de) {
		requestID = de.RequestID
	}
	return connection.SendEnvelope(ctx, c, ErrorEventType, requestID, ErrorReply(err))
}
