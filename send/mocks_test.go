package send

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/opd-ai/courier/message"
)

// mockGateway is a configurable in-process Gateway for tests.
type mockGateway struct {
	result          any
	err             error
	chunks          []any
	signalConnected bool
	block           bool

	// started receives one value when SendMessage begins, if non-nil.
	started chan struct{}

	mu         sync.Mutex
	calls      int
	lastMsg    message.Message
	lastParams map[string]any
}

func (g *mockGateway) SendMessage(ctx context.Context, msg message.Message, opts GatewayOptions) (any, error) {
	g.mu.Lock()
	g.calls++
	g.lastMsg = msg
	g.lastParams = opts.Params
	g.mu.Unlock()

	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}

	if g.signalConnected && opts.OnConnected != nil {
		opts.OnConnected()
	}
	for _, c := range g.chunks {
		if opts.OnChunk != nil {
			opts.OnChunk(c)
		}
	}

	if g.block {
		<-ctx.Done()
		return nil, context.Cause(ctx)
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func (g *mockGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *mockGateway) gotParams() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastParams
}

// recordPlugin captures the hook invocations it sees.
type recordPlugin struct {
	BasePlugin

	mu              sync.Mutex
	hooks           []string
	addedAtBefore   bool
	addedAtSuccess  bool
	connectedCalled bool
}

func (p *recordPlugin) record(hook string) {
	p.mu.Lock()
	p.hooks = append(p.hooks, hook)
	p.mu.Unlock()
}

func (p *recordPlugin) OnBefore(_ context.Context, ex *Execution) error {
	p.record("before")
	p.mu.Lock()
	p.addedAtBefore = ex.AddedToStore
	p.mu.Unlock()
	return nil
}

func (p *recordPlugin) OnExec(ctx context.Context, ex *Execution, next Next) error {
	p.record("exec")
	return next(ctx, ex)
}

func (p *recordPlugin) OnConnected(*Execution) {
	p.record("connected")
	p.mu.Lock()
	p.connectedCalled = true
	p.mu.Unlock()
}

func (p *recordPlugin) OnStream(_ *Execution, chunk any) any {
	p.record("stream")
	return chunk
}

func (p *recordPlugin) OnSuccess(_ context.Context, ex *Execution) error {
	p.record("success")
	p.mu.Lock()
	p.addedAtSuccess = ex.AddedToStore
	p.mu.Unlock()
	return nil
}

func (p *recordPlugin) OnError(_ context.Context, ex *Execution) error {
	p.record("error")
	return nil
}

func (p *recordPlugin) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.hooks))
	copy(out, p.hooks)
	return out
}

// failingPlugin fails or panics in the configured hooks.
type failingPlugin struct {
	BasePlugin

	failBefore  bool
	panicBefore bool
	failSuccess bool
}

func (p *failingPlugin) OnBefore(context.Context, *Execution) error {
	if p.panicBefore {
		panic("plugin blew up")
	}
	if p.failBefore {
		return errors.New("onBefore rejected")
	}
	return nil
}

func (p *failingPlugin) OnSuccess(context.Context, *Execution) error {
	if p.failSuccess {
		return errors.New("onSuccess rejected")
	}
	return nil
}

// interceptPlugin short-circuits the exec chain with a fixed result.
type interceptPlugin struct {
	BasePlugin

	result any
}

func (p *interceptPlugin) OnExec(_ context.Context, ex *Execution, _ Next) error {
	ex.Result = p.result
	return nil
}

// replacingPlugin swaps the pending error for its own in OnError.
type replacingPlugin struct {
	BasePlugin

	replacement error
}

func (p *replacingPlugin) OnError(context.Context, *Execution) error {
	return p.replacement
}

// upperPlugin upper-cases string chunks.
type upperPlugin struct {
	BasePlugin
}

func (upperPlugin) OnStream(_ *Execution, chunk any) any {
	if s, ok := chunk.(string); ok {
		return strings.ToUpper(s)
	}
	return chunk
}

// pinnedMessage is a specialized message kind for kind-preservation tests.
type pinnedMessage struct {
	message.Record
}

func (p *pinnedMessage) Clone() message.Message {
	c := &pinnedMessage{}
	*c.State() = *p.State()
	return c
}
