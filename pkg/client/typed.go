package client

import (
	"context"
	"fmt"
	"time"

	"github.com/morezero/socket-dispatch/pkg/envelope"
)

// RegisterReply declares that inbound messages tagged tag decode into *T.
// Replies with tags that were never registered are dropped on receipt.
func RegisterReply[T any](c *Client, tag string) {
	c.shapesMu.Lock()
	defer c.shapesMu.Unlock()
	c.shapes[envelope.NormalizeTag(tag)] = func(raw []byte) (any, error) {
		v := new(T)
		if err := envelope.DecodePayload(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// RegisterReplyType is RegisterReply with the tag taken from T's type name.
func RegisterReplyType[T any](c *Client) {
	RegisterReply[T](c, envelope.TagOf(new(T)))
}

// Request sends msg and returns the typed payload of the matching reply. The
// reply shape must have been registered as T.
func Request[T any](ctx context.Context, c *Client, msg Message, expectedTag string, timeout time.Duration) (*T, error) {
	reply, err := c.SendAndAwait(ctx, msg, expectedTag, timeout)
	if err != nil {
		return nil, err
	}
	if v, ok := reply.Payload.(*T); ok {
		return v, nil
	}
	v := new(T)
	if err := envelope.DecodePayload(reply.Raw, v); err != nil {
		return nil, fmt.Errorf("%s - decode %s reply: %w", logPrefix, reply.EventType, err)
	}
	return v, nil
}
