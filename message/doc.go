// Package message implements the delivery-state data model for the courier
// engine: the Message unit, its status lifecycle, and the ordered Store that
// tracks messages for a conversation.
//
// # Overview
//
// The package provides three primary components:
//
//   - Message: The unit of work and of state. Concrete messages are built
//     from Record; specialized kinds embed Record and override Clone so that
//     copy and merge operations preserve their concrete type
//   - Patch: A partial update applied to a message's State; later patches
//     override earlier ones
//   - Store: A mutex-guarded, insertion-ordered collection of messages plus
//     a session-scoped streaming flag
//
// # Lifecycle
//
// A message moves through StatusDraft -> StatusSending -> one of StatusSent,
// StatusFailed or StatusStopped. Terminal states always carry a non-zero
// EndTime; EndTime == 0 means the send is still in flight. Re-sending a
// message reuses its id and restarts the attempt at StatusSending.
//
// # Store semantics
//
// The Store preserves insertion order. Adding a message whose id is already
// present merges onto the existing entry in place, at the same index, so a
// caller rendering the list directly never sees entries jump around:
//
//	store := message.NewStore()
//	msg := store.AddMessage(message.New(message.WithContent("hi")))
//	store.UpdateMessage(msg.State().ID, message.WithStatus(message.StatusSent))
//
// ToJSON returns a deep structural snapshot: mutating the returned data never
// affects the store.
package message
