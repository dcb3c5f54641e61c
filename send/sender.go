package send

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/courier/abort"
	"github.com/opd-ai/courier/message"
	"github.com/sirupsen/logrus"
)

// ErrNoGateway is returned when a send reaches the gateway invocation with
// no gateway configured and no plugin short-circuiting the call.
var ErrNoGateway = errors.New("no gateway configured")

// Gateway is the transport capability that actually delivers a message. The
// context carries cancellation for the attempt; implementations must settle
// (return an error) when it is cancelled mid-flight.
type Gateway interface {
	SendMessage(ctx context.Context, msg message.Message, opts GatewayOptions) (any, error)
}

// GatewayFunc is a function type that implements Gateway.
type GatewayFunc func(ctx context.Context, msg message.Message, opts GatewayOptions) (any, error)

// SendMessage implements Gateway for GatewayFunc.
func (f GatewayFunc) SendMessage(ctx context.Context, msg message.Message, opts GatewayOptions) (any, error) {
	return f(ctx, msg, opts)
}

// GatewayOptions are the lifecycle callbacks and transport parameters the
// pipeline hands to the gateway for one invocation.
type GatewayOptions struct {
	// OnConnected should be invoked once a connection or stream is
	// established. Optional for gateways that cannot tell; the pipeline
	// synthesizes the transition from the first chunk.
	OnConnected func()
	// OnChunk should be invoked per streamed partial result.
	OnChunk func(chunk any)
	// Params are pass-through transport options, opaque to the pipeline.
	Params map[string]any
}

// Options are the caller-facing per-send options. The caller's own
// cancellation signal is the context passed to Send.
type Options struct {
	// OnConnected is forwarded when the gateway signals connection
	// establishment.
	OnConnected func()
	// OnChunk receives each streamed chunk after the plugin chain has
	// transformed it.
	OnChunk func(chunk any)
	// OnAborted is invoked with the terminal message when the send was
	// cancelled. A panic inside it is contained and does not change the
	// returned message.
	OnAborted func(msg message.Message)
	// Params override the sender's fixed gateway parameters for this send;
	// per-send keys win on conflict.
	Params map[string]any
}

// Sender orchestrates message sends: it normalizes the input, runs the
// plugin chain around the gateway invocation, and returns a terminal
// message. A Sender is safe for concurrent use; each Send call is
// independent and cancellable by message id.
//
// The Sender never writes to the message store. Store mutation is the
// business of plugins (see StorePlugin), which keeps delivery policy
// replaceable without touching the pipeline.
type Sender struct {
	store    *message.Store
	gateway  Gateway
	params   map[string]any
	name     string
	log      logrus.FieldLogger
	registry *abort.Registry

	propagateErrors bool

	plugins []Plugin
	mu      sync.Mutex
}

// Option configures a Sender.
type Option func(*Sender)

// WithGateway sets the transport used to deliver messages.
func WithGateway(g Gateway) Option {
	return func(s *Sender) { s.gateway = g }
}

// WithGatewayParams sets fixed transport parameters passed to every gateway
// invocation. Per-send params override them key by key.
func WithGatewayParams(params map[string]any) Option {
	return func(s *Sender) { s.params = params }
}

// WithName sets the sender name used in diagnostics.
func WithName(name string) Option {
	return func(s *Sender) { s.name = name }
}

// WithLogger sets the logger. Defaults to the standard logrus logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Sender) { s.log = log }
}

// WithPropagateErrors makes Send return the wrapped error for failed and
// stopped attempts instead of swallowing it into the terminal message.
func WithPropagateErrors() Option {
	return func(s *Sender) { s.propagateErrors = true }
}

// New creates a sender bound to the given store. The store is shared with
// the caller; the sender never outlives nor owns it.
func New(store *message.Store, opts ...Option) *Sender {
	s := &Sender{
		store:    store,
		name:     "sender",
		registry: abort.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithField("sender", s.name)

	s.log.WithFields(logrus.Fields{
		"function":   "New",
		"hasGateway": s.gateway != nil,
	}).Debug("Created message sender")
	return s
}

// Use registers a plugin. Plugins run in registration order for every hook.
// Use returns the sender so registrations chain.
func (s *Sender) Use(p Plugin) *Sender {
	s.mu.Lock()
	s.plugins = append(s.plugins, p)
	s.mu.Unlock()
	return s
}

func (s *Sender) pluginChain() []Plugin {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Plugin, len(s.plugins))
	copy(out, s.plugins)
	return out
}

// Send delivers one message through the gateway and returns it in a
// terminal state.
//
// The partial input is normalized into a fresh working copy (the caller's
// value is never modified, and its concrete type is preserved): a missing id
// is assigned, status becomes StatusSending, loading is set, the start time
// restarts and the end time clears. A nil partial sends an empty message.
//
// The returned message always carries a terminal status. Unless the sender
// was built WithPropagateErrors, the returned error is nil even for failed
// and stopped attempts; the outcome lives on the message itself.
func (s *Sender) Send(ctx context.Context, partial message.Message, opts *Options) (message.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		opts = &Options{}
	}

	working := message.Normalize(partial)
	st := working.State()
	st.Status = message.StatusSending
	st.Loading = true
	st.StartTime = message.Now()
	st.EndTime = 0
	st.Err = nil

	sendCtx := s.registry.Register(ctx, st.ID)
	plugins := s.pluginChain()

	ex := &Execution{
		Store:   s.store,
		Message: working,
		Options: opts,
		Params:  mergeParams(s.params, opts.Params),
	}

	log := s.log.WithFields(logrus.Fields{
		"function":  "Send",
		"messageID": st.ID,
	})
	log.Info("Sending message")

	runErr := s.run(sendCtx, ex, plugins)

	if runErr == nil {
		s.finalize(ex,
			message.WithStatus(message.StatusSent),
			message.WithLoading(false),
			message.WithEndTime(message.Now()),
			message.WithResult(ex.Result),
		)
		st = ex.Message.State()
		log.WithField("duration", st.EndTime-st.StartTime).Info("Message sent")
	} else {
		s.fail(sendCtx, ex, runErr, plugins, log)
		st = ex.Message.State()
	}

	s.registry.Clear(st.ID)
	s.store.StopStreaming()

	if runErr != nil && s.propagateErrors {
		return ex.Message, ex.Err
	}
	return ex.Message, nil
}

// run executes the onBefore, exec and onSuccess phases. Panics in any hook
// surface as an error so one misbehaving plugin cannot take down the caller.
func (s *Sender) run(ctx context.Context, ex *Execution, plugins []Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()

	for _, p := range plugins {
		if err := p.OnBefore(ctx, ex); err != nil {
			return err
		}
	}

	if err := s.execChain(ctx, ex, plugins); err != nil {
		return err
	}

	for _, p := range plugins {
		if err := p.OnSuccess(ctx, ex); err != nil {
			return err
		}
	}
	return nil
}

// execChain folds the plugins' OnExec hooks into a continuation chain
// terminating in the gateway invocation.
func (s *Sender) execChain(ctx context.Context, ex *Execution, plugins []Plugin) error {
	next := Next(func(c context.Context, e *Execution) error {
		return s.invokeGateway(c, e, plugins)
	})
	for i := len(plugins) - 1; i >= 0; i-- {
		p, tail := plugins[i], next
		next = func(c context.Context, e *Execution) error {
			return p.OnExec(c, e, tail)
		}
	}
	return next(ctx, ex)
}

// invokeGateway is the terminal link of the exec chain: the actual gateway
// call, with streaming and connection callbacks wired through the plugins.
func (s *Sender) invokeGateway(ctx context.Context, ex *Execution, plugins []Plugin) error {
	if s.gateway == nil {
		return ErrNoGateway
	}

	// connected flips exactly once, whether the gateway signals the
	// connection explicitly or the transition is synthesized from the
	// first chunk.
	var connected atomic.Bool
	markConnected := func() {
		if !connected.CompareAndSwap(false, true) {
			return
		}
		for _, p := range plugins {
			p.OnConnected(ex)
		}
		if ex.Options.OnConnected != nil {
			ex.Options.OnConnected()
		}
	}

	opts := GatewayOptions{
		Params:      ex.Params,
		OnConnected: markConnected,
		OnChunk: func(chunk any) {
			markConnected()
			for _, p := range plugins {
				chunk = p.OnStream(ex, chunk)
			}
			if ex.Options.OnChunk != nil {
				ex.Options.OnChunk(chunk)
			}
		},
	}

	s.log.WithFields(logrus.Fields{
		"function":  "invokeGateway",
		"messageID": ex.Message.State().ID,
	}).Debug("Invoking gateway")

	result, err := s.gateway.SendMessage(ctx, ex.Message, opts)
	if err != nil {
		return err
	}
	ex.Result = result
	return nil
}

// fail finalizes a failed or stopped attempt: classifies the outcome by the
// cancellation cause, wraps the error, runs the onError chain and notifies
// the caller's abort callback.
func (s *Sender) fail(ctx context.Context, ex *Execution, runErr error, plugins []Plugin, log logrus.FieldLogger) {
	ex.Aborted = abort.Aborted(ctx)

	var werr *Error
	if ex.Aborted {
		werr = wrapStopped(runErr)
	} else {
		werr = Wrap(runErr)
	}
	ex.Err = werr

	status := message.StatusFailed
	if ex.Aborted {
		status = message.StatusStopped
	}
	s.finalize(ex,
		message.WithStatus(status),
		message.WithLoading(false),
		message.WithEndTime(message.Now()),
		message.WithError(werr),
	)

	for _, p := range plugins {
		s.runOnError(ctx, p, ex)
	}
	if ex.Err != werr {
		// A plugin replaced the pending error.
		s.finalize(ex, message.WithError(ex.Err))
	}

	if ex.Aborted {
		log.Info("Send stopped")
		s.notifyAborted(ex)
	} else {
		log.WithField("error", werr.Error()).Warn("Send failed")
	}
}

// finalize applies terminal patches to the working message. Once the store
// strategy has inserted the entry, the writes go through the store so they
// serialize with concurrent snapshot readers; a message outside the store is
// private to this send and is patched directly.
func (s *Sender) finalize(ex *Execution, patches ...message.Patch) {
	if ex.AddedToStore {
		if m, ok := s.store.UpdateMessage(ex.Message.State().ID, patches...); ok {
			ex.Message = m
			return
		}
	}
	st := ex.Message.State()
	for _, patch := range patches {
		patch(st)
	}
}

// runOnError invokes one plugin's OnError hook, containing panics. A
// non-nil return replaces the pending error.
func (s *Sender) runOnError(ctx context.Context, p Plugin, ex *Execution) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{
				"function": "runOnError",
				"panic":    r,
			}).Error("Plugin onError hook panicked")
		}
	}()
	if err := p.OnError(ctx, ex); err != nil {
		ex.Err = Wrap(err)
	}
}

// notifyAborted calls the caller's OnAborted callback. A panic inside the
// callback must not propagate nor change the returned message.
func (s *Sender) notifyAborted(ex *Execution) {
	if ex.Options.OnAborted == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{
				"function": "notifyAborted",
				"panic":    r,
			}).Error("OnAborted callback panicked")
		}
	}()
	ex.Options.OnAborted(ex.Message)
}

// Stop signals cancellation for the in-flight send with the given id and
// reports whether one was registered. It does not block until the send
// settles.
func (s *Sender) Stop(id string) bool {
	stopped := s.registry.Trigger(id)
	s.log.WithFields(logrus.Fields{
		"function":  "Stop",
		"messageID": id,
		"stopped":   stopped,
	}).Info("Stop requested")
	return stopped
}

// StopAll signals cancellation for every in-flight send. Safe to call with
// none registered.
func (s *Sender) StopAll() {
	s.log.WithFields(logrus.Fields{
		"function": "StopAll",
		"pending":  s.registry.Len(),
	}).Info("Stopping all in-flight sends")
	s.registry.TriggerAll()
}

// Pending returns the number of in-flight sends.
func (s *Sender) Pending() int {
	return s.registry.Len()
}

// Duration returns how long the message's send attempt took, or 0 while it
// is still in flight.
func (s *Sender) Duration(m message.Message) time.Duration {
	st := m.State()
	if st.EndTime == 0 {
		return 0
	}
	return time.Duration(st.EndTime-st.StartTime) * time.Millisecond
}

// mergeParams overlays per-send params onto the fixed ones; per-send keys
// win. A nil result means neither side supplied params.
func mergeParams(fixed, override map[string]any) map[string]any {
	if fixed == nil && override == nil {
		return nil
	}
	out := make(map[string]any, len(fixed)+len(override))
	for k, v := range fixed {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
