package send

import (
	"context"

	"github.com/opd-ai/courier/message"
)

// Execution is the mutable context threaded through the plugin chain for one
// send attempt. Plugins may mutate Message in place before the gateway sees
// it, transform chunks and results, and inspect the outcome.
type Execution struct {
	// Store is the message store shared with the sender's owner. The sender
	// itself never writes to it; only plugins do.
	Store *message.Store
	// Message is the working message for this attempt. The store strategy
	// replaces it with the stored entry once the message enters the store,
	// so updates stay visible through one object.
	Message message.Message
	// Options are the caller's per-send options, never nil.
	Options *Options
	// Params are the sender's fixed gateway parameters merged with the
	// per-send overrides; per-send keys win.
	Params map[string]any
	// Result is the gateway's payload once the call succeeds.
	Result any
	// Err is the wrapped error once the attempt fails.
	Err error
	// Aborted reports whether the failure was a deliberate cancellation.
	Aborted bool
	// AddedToStore reports whether the store strategy has inserted Message.
	AddedToStore bool
}

// Next continues the exec chain. A plugin's OnExec must call it to let the
// send proceed; not calling it intentionally short-circuits the gateway.
type Next func(ctx context.Context, ex *Execution) error

// Plugin hooks into the send pipeline. Hooks run in registration order.
// Embed BasePlugin to implement only the hooks a plugin needs. An error or
// panic escaping any hook is contained at the pipeline boundary and turns
// the attempt into a failed message.
type Plugin interface {
	// OnBefore runs before the gateway invocation. Returning an error
	// short-circuits the send.
	OnBefore(ctx context.Context, ex *Execution) error
	// OnExec wraps the gateway invocation; next continues the chain.
	OnExec(ctx context.Context, ex *Execution, next Next) error
	// OnConnected fires once the gateway establishes its connection or
	// stream, or when the first chunk arrives without an explicit signal.
	OnConnected(ex *Execution)
	// OnStream transforms a streamed chunk before it reaches the caller.
	OnStream(ex *Execution, chunk any) any
	// OnSuccess runs after the gateway resolves and may mutate ex.Result.
	OnSuccess(ctx context.Context, ex *Execution) error
	// OnError runs after a failed attempt. A non-nil return replaces the
	// pending error.
	OnError(ctx context.Context, ex *Execution) error
}

// BasePlugin is a no-op Plugin implementation for embedding.
type BasePlugin struct{}

// OnBefore implements Plugin.
func (BasePlugin) OnBefore(context.Context, *Execution) error { return nil }

// OnExec implements Plugin by continuing the chain.
func (BasePlugin) OnExec(ctx context.Context, ex *Execution, next Next) error {
	return next(ctx, ex)
}

// OnConnected implements Plugin.
func (BasePlugin) OnConnected(*Execution) {}

// OnStream implements Plugin by passing the chunk through unchanged.
func (BasePlugin) OnStream(_ *Execution, chunk any) any { return chunk }

// OnSuccess implements Plugin.
func (BasePlugin) OnSuccess(context.Context, *Execution) error { return nil }

// OnError implements Plugin.
func (BasePlugin) OnError(context.Context, *Execution) error { return nil }
