package contextkeys

import (
	"context"

	"github.com/BatmanBruc/bat-bot-uploader/types"
)

type eventKey struct{}
type correlationIDKey struct{}

func WithEvent(ctx context.Context, ev types.Event) context.Context {
	return context.WithValue(ctx, eventKey{}, ev)
}

// GetEvent returns the classified inbound event placed by the analyze middleware.
func GetEvent(ctx context.Context) (types.Event, bool) {
	v, ok := ctx.Value(eventKey{}).(types.Event)
	return v, ok
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func GetCorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationIDKey{}).(string)
	return v, ok && v != ""
}
