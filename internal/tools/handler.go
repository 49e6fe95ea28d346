package tools

import "context"

// Handler is the invocation contract every tool implements. Handlers are
// free-standing functions over immutable captured config; they hold no
// shared mutable state, so concurrent invocation needs no synchronization.
type Handler func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
