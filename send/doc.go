// Package send implements the message sending pipeline: it turns a partial
// message into a terminal one by invoking a Gateway exactly once per Send
// call, running a plugin chain around the invocation, and normalizing both
// success and failure into a single returned message.
//
// # Overview
//
//   - Gateway: The transport capability. Its implementation (HTTP,
//     WebSocket, in-process) is the caller's concern; the pipeline only
//     defines the contract
//   - Sender: The orchestrator. It owns a private cancellation registry and
//     never writes to the message store itself
//   - Plugin: Middleware hooks around the gateway call; OnExec receives a
//     continuation and may short-circuit by not calling it
//   - StorePlugin: The delivery policy deciding when a message enters and
//     leaves the store, selectable via Strategy
//
// # Usage
//
//	store := message.NewStore()
//	sender := send.New(store,
//	    send.WithGateway(gw),
//	    send.WithName("chat"),
//	).Use(send.NewStorePlugin(store, send.StrategyKeepFailed))
//
//	msg, _ := sender.Send(ctx, message.New(message.WithContent("hi")), nil)
//	// msg.State().Status is StatusSent, StatusFailed or StatusStopped
//
// By default Send never returns an error: failures surface as a terminal
// message with the error recorded on it, so callers can render failed and
// stopped messages without extra control flow. WithPropagateErrors switches
// the sender to returning the wrapped error instead.
//
// Cancellation is per message id: Stop cancels one in-flight send, StopAll
// cancels every one, and neither affects sends with other ids.
package send
