package abort

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrAborted is the cancellation cause set when an id is triggered through
// Trigger or TriggerAll.
var ErrAborted = errors.New("send aborted")

// ErrSuperseded is the cancellation cause set on a registration that was
// replaced by a newer one for the same id.
var ErrSuperseded = errors.New("send superseded by a newer registration")

// Registry maps message ids to cancellable contexts. It is safe for
// concurrent use. Each sender owns exactly one registry; registries are
// never shared across senders.
type Registry struct {
	entries map[string]context.CancelCauseFunc

	mu sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]context.CancelCauseFunc),
	}
}

// Register derives a cancellable context from parent and tracks it under id.
// A previous registration for the same id is superseded: its context is
// cancelled with ErrSuperseded.
func (r *Registry) Register(parent context.Context, id string) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	r.mu.Lock()
	if old, ok := r.entries[id]; ok {
		old(ErrSuperseded)
		logrus.WithFields(logrus.Fields{
			"function":  "Register",
			"messageID": id,
		}).Debug("Superseded previous cancellation registration")
	}
	r.entries[id] = cancel
	r.mu.Unlock()

	return ctx
}

// Trigger cancels the registration for id with ErrAborted and reports
// whether an active registration existed. It does not wait for the
// cancelled operation to finish.
func (r *Registry) Trigger(id string) bool {
	r.mu.Lock()
	cancel, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancel(ErrAborted)
	logrus.WithFields(logrus.Fields{
		"function":  "Trigger",
		"messageID": id,
	}).Debug("Triggered cancellation")
	return true
}

// TriggerAll cancels every active registration with ErrAborted. Safe to
// call with zero registrations.
func (r *Registry) TriggerAll() {
	r.mu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(r.entries))
	for id := range r.entries {
		cancels = append(cancels, r.entries[id])
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel(ErrAborted)
	}
	if len(cancels) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "TriggerAll",
			"count":    len(cancels),
		}).Debug("Triggered cancellation for all registrations")
	}
}

// Clear releases the registration for id without treating it as an abort.
// The context is cancelled so derived resources are freed. Clearing an
// unknown id is a no-op.
func (r *Registry) Clear(id string) {
	r.mu.Lock()
	cancel, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		cancel(context.Canceled)
	}
}

// Len returns the number of active registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Aborted reports whether ctx was cancelled through a Trigger or TriggerAll
// call, as opposed to an ordinary cancellation or deadline.
func Aborted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrAborted)
}
