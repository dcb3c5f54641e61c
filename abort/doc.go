// Package abort implements per-id cancellation for in-flight sends.
//
// A Registry hands out contexts derived from the caller's context, keyed by
// message id. Triggering an id cancels its context with ErrAborted as the
// cause, which is how the sender distinguishes a deliberate stop from an
// ordinary failure:
//
//	reg := abort.NewRegistry()
//	ctx := reg.Register(context.Background(), id)
//	// ... pass ctx to the gateway ...
//	reg.Trigger(id) // ctx is now done, context.Cause(ctx) == abort.ErrAborted
//
// Registering an id that already has an active registration supersedes it:
// the old context is cancelled with ErrSuperseded so the orphaned operation
// fails instead of lingering.
package abort
