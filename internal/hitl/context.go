package hitl

import "context"

type bridgeKeyType struct{}

var bridgeKey = bridgeKeyType{}

// WithBridge attaches the active run's Bridge to ctx so tools invoked
// deeper in the call stack (ask_human, anything gated on approval) can
// reach it without threading it through every function signature.
func WithBridge(ctx context.Context, b *Bridge) context.Context {
	return context.WithValue(ctx, bridgeKey, b)
}

// BridgeFromContext retrieves the Bridge set by WithBridge, if any.
func BridgeFromContext(ctx context.Context) (*Bridge, bool) {
	b, ok := ctx.Value(bridgeKey).(*Bridge)
	return b, ok
}
