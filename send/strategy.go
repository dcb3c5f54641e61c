package send

import (
	"context"

	"github.com/opd-ai/courier/message"
	"github.com/sirupsen/logrus"
)

// Strategy selects when a message enters and leaves the store relative to
// its send outcome.
type Strategy uint8

const (
	// StrategyKeepFailed adds the message when the send starts and keeps it
	// in the store whatever the outcome, updating its status in place.
	StrategyKeepFailed Strategy = iota
	// StrategyDeleteFailed adds the message when the send starts and removes
	// it on failure. Stopped messages are kept, distinct from failed ones.
	StrategyDeleteFailed
	// StrategyAddOnSuccess only adds the message once the gateway resolves
	// successfully; failed and stopped sends never touch the store.
	StrategyAddOnSuccess
)

// String returns a human-readable name for the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyKeepFailed:
		return "keep-failed"
	case StrategyDeleteFailed:
		return "delete-failed"
	case StrategyAddOnSuccess:
		return "add-on-success"
	default:
		return "unknown"
	}
}

// StorePlugin is the delivery policy plugin: the only component that writes
// to the message store during a send. Streamed chunks update the tracked
// entry's result field only, never the user-authored content; a chunk that
// is itself a message with a foreign id becomes a second, independent store
// entry.
type StorePlugin struct {
	BasePlugin

	store    *message.Store
	strategy Strategy
}

// NewStorePlugin creates the policy plugin for the given store and strategy.
// The store must be the same one the sender's owner reads from.
func NewStorePlugin(store *message.Store, strategy Strategy) *StorePlugin {
	logrus.WithFields(logrus.Fields{
		"function": "NewStorePlugin",
		"strategy": strategy.String(),
	}).Debug("Created store plugin")
	return &StorePlugin{store: store, strategy: strategy}
}

// OnBefore inserts the message for the strategies that track it from the
// start, and adopts the stored entry as the working message so every later
// update lands on one object.
func (p *StorePlugin) OnBefore(_ context.Context, ex *Execution) error {
	if p.strategy == StrategyAddOnSuccess {
		ex.AddedToStore = false
		return nil
	}
	ex.Message = p.store.AddMessage(ex.Message)
	ex.AddedToStore = true
	return nil
}

// OnConnected clears the loading flag on the tracked message and marks the
// store as streaming. The pipeline's cleanup clears the streaming flag.
func (p *StorePlugin) OnConnected(ex *Execution) {
	id := ex.Message.State().ID
	if ex.AddedToStore {
		p.store.UpdateMessage(id, message.WithLoading(false))
	} else {
		ex.Message.State().Loading = false
	}
	p.store.StartStreaming()
}

// OnStream folds a chunk into the tracked entry's result. A chunk carrying
// a foreign message id is upserted as its own entry instead, so a
// synthesized response never overwrites the message the user authored.
func (p *StorePlugin) OnStream(ex *Execution, chunk any) any {
	if m, ok := chunk.(message.Message); ok {
		if id := m.State().ID; id != "" && id != ex.Message.State().ID {
			p.store.AddMessage(m)
			return chunk
		}
	}
	if ex.AddedToStore {
		p.store.UpdateMessage(ex.Message.State().ID, message.WithResult(chunk))
	}
	return chunk
}

// OnSuccess inserts the message for StrategyAddOnSuccess; the other
// strategies already track the stored entry by reference and need no work
// here.
func (p *StorePlugin) OnSuccess(_ context.Context, ex *Execution) error {
	if p.strategy != StrategyAddOnSuccess {
		return nil
	}
	ex.Message = p.store.AddMessage(ex.Message)
	ex.AddedToStore = true
	return nil
}

// OnError applies the failure policy. Stopped sends count as kept for every
// strategy that tracks from the start; only a genuine failure under
// StrategyDeleteFailed removes the entry.
func (p *StorePlugin) OnError(_ context.Context, ex *Execution) error {
	if p.strategy == StrategyDeleteFailed && !ex.Aborted && ex.AddedToStore {
		p.store.DeleteMessage(ex.Message.State().ID)
		ex.AddedToStore = false
	}
	return nil
}
