// Package dispatch implements the method-channel protocol between execution
// contexts: request ids, pending calls, per-channel handlers and the error
// taxonomy callers see.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/runloop"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

// Dispatcher sends calls on behalf of one execution context and serves the
// calls addressed to it.
type Dispatcher struct {
	self      types.WindowHandle
	transport transport.Transport
	loop      *runloop.Loop
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer
	timeout   time.Duration

	nextID atomic.Uint64

	mu        sync.Mutex
	handlers  map[string]Handler
	pending   map[uint64]*pendingCall
	abandoned map[uint64]func(json.RawMessage)
	closed    bool
}

type pendingCall struct {
	channel string
	method  string
	target  types.WindowHandle
	done    chan struct{}
	result  json.RawMessage
	err     error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics records calls in m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer wraps every outgoing call in a span.
func WithTracer(t *tracing.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithTimeout bounds calls whose context has no deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// New creates a dispatcher for the endpoint self. Incoming calls and events
// run on loop. The caller attaches Receive to the transport.
func New(self types.WindowHandle, tr transport.Transport, loop *runloop.Loop, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		self:      self,
		transport: tr,
		loop:      loop,
		logger:    zap.NewNop(),
		handlers:  make(map[string]Handler),
		pending:   make(map[uint64]*pendingCall),
		abandoned: make(map[uint64]func(json.RawMessage)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.Int64("endpoint", int64(self)))
	return d
}

// Self returns the endpoint this dispatcher speaks for.
func (d *Dispatcher) Self() types.WindowHandle {
	return d.self
}

// Loop returns the loop incoming calls run on.
func (d *Dispatcher) Loop() *runloop.Loop {
	return d.loop
}

// SetHandler installs the handler for channel, replacing any previous one.
// A nil handler removes it.
func (d *Dispatcher) SetHandler(channel string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, channel)
		return
	}
	d.handlers[channel] = h
}

// Invoke calls method on the channel handler of target and waits for the
// reply. Arguments are encoded before anything is sent.
func (d *Dispatcher) Invoke(ctx context.Context, channel string, target types.WindowHandle, method string, args any) (json.RawMessage, error) {
	timer := monitoring.NewTimer(d.metrics, channel, method)
	result, err := d.invoke(ctx, channel, target, method, args)
	timer.Stop(outcome(err))
	return result, err
}

func (d *Dispatcher) invoke(ctx context.Context, channel string, target types.WindowHandle, method string, args any) (json.RawMessage, error) {
	payload, err := transport.Marshal(args)
	if err != nil {
		return nil, &Error{Kind: KindSerialization, Channel: channel, Method: method, Err: err}
	}
	if !target.IsValid() && target != types.ShellHandle {
		return nil, &Error{Kind: KindInvalidTarget, Channel: channel, Method: method, Message: fmt.Sprintf("handle %s", target)}
	}

	// A caller that already gave up must not cause side effects remotely.
	if err := ctx.Err(); err != nil {
		return nil, fromContext(err, channel, method)
	}

	if _, ok := ctx.Deadline(); !ok && d.timeout > 0 && !timeoutDisabled(ctx) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	span, ctx := d.tracer.StartSpan(ctx, channel+"."+method)
	span.SetTag("target", target.String())
	defer d.tracer.Finish(span)

	p := &pendingCall{channel: channel, method: method, target: target, done: make(chan struct{})}
	callID, err := d.register(p)
	if err != nil {
		return nil, err
	}

	env := &transport.Envelope{
		Kind:    transport.KindCall,
		ID:      callID,
		Channel: channel,
		Source:  d.self,
		Target:  target,
		Method:  method,
		Payload: payload,
	}
	stamp(ctx, env)

	if err := d.transport.Send(env); err != nil {
		d.unregister(callID)
		derr := fromTransport(err, channel, method)
		span.SetError(derr)
		return nil, derr
	}

	if err := runloop.Await(ctx, p.done); err != nil {
		if d.abandon(callID, lateReplyHook(ctx)) {
			derr := fromContext(err, channel, method)
			span.SetError(derr)
			d.logger.Debug("call abandoned",
				zap.String("channel", channel),
				zap.String("method", method),
				zap.Uint64("id", callID),
				zap.Error(err),
			)
			return nil, derr
		}
		// The reply won the race.
		<-p.done
	}
	if p.err != nil {
		span.SetError(p.err)
		return nil, p.err
	}
	return p.result, nil
}

// CallAs invokes method and decodes the reply into a T.
func CallAs[T any](ctx context.Context, d *Dispatcher, channel string, target types.WindowHandle, method string, args any) (T, error) {
	var zero T
	payload, err := d.Invoke(ctx, channel, target, method, args)
	if err != nil {
		return zero, err
	}
	v, err := Decode[T](payload)
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			de.Channel, de.Method = channel, method
		}
		return zero, err
	}
	return v, nil
}

// Post delivers method to the channel handler of target without waiting for
// or expecting a reply.
func (d *Dispatcher) Post(ctx context.Context, channel string, target types.WindowHandle, method string, args any) error {
	payload, err := transport.Marshal(args)
	if err != nil {
		return &Error{Kind: KindSerialization, Channel: channel, Method: method, Err: err}
	}
	env := &transport.Envelope{
		Kind:    transport.KindEvent,
		Channel: channel,
		Source:  d.self,
		Target:  target,
		Method:  method,
		Payload: payload,
	}
	stamp(ctx, env)
	if err := d.transport.Send(env); err != nil {
		return fromTransport(err, channel, method)
	}
	return nil
}

// Broadcast delivers method to every endpoint listening on channel. subject
// names the window the event is about.
func (d *Dispatcher) Broadcast(channel string, subject types.WindowHandle, method string, args any) error {
	payload, err := transport.Marshal(args)
	if err != nil {
		return &Error{Kind: KindSerialization, Channel: channel, Method: method, Err: err}
	}
	env := &transport.Envelope{
		Kind:    transport.KindEvent,
		Channel: channel,
		Source:  d.self,
		Target:  subject,
		Method:  method,
		Payload: payload,
	}
	if err := d.transport.Broadcast(env); err != nil {
		return fromTransport(err, channel, method)
	}
	return nil
}

// Receive is the transport receiver for this endpoint. Replies complete
// pending calls immediately; calls and events are queued on the loop.
func (d *Dispatcher) Receive(env *transport.Envelope) {
	switch env.Kind {
	case transport.KindReply:
		d.complete(env)
	case transport.KindCall, transport.KindEvent:
		if !d.loop.Post(func(ctx context.Context) { d.serve(ctx, env) }) {
			d.logger.Debug("loop stopped, dropping incoming message",
				zap.String("channel", env.Channel),
				zap.String("method", env.Method),
			)
			// Receive runs on the transport's delivery path, which a reply
			// must not block.
			if env.Kind == transport.KindCall {
				go d.reply(env, nil, &Error{Kind: KindInvalidTarget, Message: "execution context shut down"})
			}
		}
	default:
		d.logger.Warn("unknown envelope kind", zap.String("kind", string(env.Kind)))
	}
}

// Pending returns the number of calls awaiting replies.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close fails every pending call and rejects new ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.pending
	d.pending = make(map[uint64]*pendingCall)
	d.abandoned = make(map[uint64]func(json.RawMessage))
	d.handlers = make(map[string]Handler)
	d.mu.Unlock()

	for _, p := range pending {
		p.err = &Error{Kind: KindTransport, Channel: p.channel, Method: p.method, Err: transport.ErrClosed}
		close(p.done)
		d.metrics.DecPending()
	}
}

func (d *Dispatcher) register(p *pendingCall) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, &Error{Kind: KindTransport, Channel: p.channel, Method: p.method, Err: transport.ErrClosed}
	}
	callID := d.nextID.Add(1)
	d.pending[callID] = p
	d.metrics.IncPending()
	return callID, nil
}

// unregister removes a pending call, reporting whether it was still pending.
func (d *Dispatcher) unregister(callID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[callID]; !ok {
		return false
	}
	delete(d.pending, callID)
	d.metrics.DecPending()
	return true
}

// abandon removes a pending call the caller gave up on, reporting whether it
// was still pending. A non-nil late hook receives the reply if one arrives.
func (d *Dispatcher) abandon(callID uint64, late func(json.RawMessage)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[callID]; !ok {
		return false
	}
	delete(d.pending, callID)
	if late != nil && !d.closed {
		d.abandoned[callID] = late
	}
	d.metrics.DecPending()
	return true
}

func (d *Dispatcher) complete(env *transport.Envelope) {
	d.mu.Lock()
	p, ok := d.pending[env.ID]
	if ok {
		delete(d.pending, env.ID)
	}
	late := d.abandoned[env.ID]
	delete(d.abandoned, env.ID)
	d.mu.Unlock()

	if !ok {
		if late != nil && env.Error == nil {
			go late(env.Payload)
		}
		d.metrics.IncDiscardedReplies()
		d.logger.Debug("discarding reply without pending call",
			zap.Uint64("id", env.ID),
			zap.String("channel", env.Channel),
			zap.String("method", env.Method),
		)
		return
	}
	d.metrics.DecPending()

	if env.Error != nil {
		p.err = fromPayload(env.Error, p.channel, p.method)
	} else {
		p.result = env.Payload
	}
	close(p.done)
}

func (d *Dispatcher) serve(ctx context.Context, env *transport.Envelope) {
	d.mu.Lock()
	h := d.handlers[env.Channel]
	d.mu.Unlock()

	isCall := env.Kind == transport.KindCall
	if h == nil {
		d.metrics.RecordHandled(env.Channel, string(KindNoHandler))
		if isCall {
			d.reply(env, nil, &Error{Kind: KindNoHandler, Message: "no handler for channel " + env.Channel})
		}
		return
	}

	ctx = tracing.WithSpan(ctx, id.TraceID(env.Trace), id.SpanID(env.Span))
	call := &Call{
		Channel: env.Channel,
		Method:  env.Method,
		Source:  env.Source,
		Target:  env.Target,
		Args:    env.Payload,
		Event:   !isCall,
	}
	if isCall {
		call.respond = func(result any, err error) { d.reply(env, result, err) }
	}
	result, err := d.run(ctx, h, call)
	d.metrics.RecordHandled(env.Channel, outcome(err))
	if !isCall {
		if err != nil {
			d.logger.Debug("event handler failed",
				zap.String("channel", env.Channel),
				zap.String("method", env.Method),
				zap.Error(err),
			)
		}
		return
	}
	if call.deferred {
		if err != nil {
			call.once.Do(func() { d.reply(env, nil, err) })
		}
		return
	}
	call.once.Do(func() { d.reply(env, result, err) })
}

func (d *Dispatcher) run(ctx context.Context, h Handler, call *Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				zap.String("channel", call.Channel),
				zap.String("method", call.Method),
				zap.Any("panic", r),
			)
			result, err = nil, &Error{Kind: KindHandler, Message: fmt.Sprint(r)}
		}
	}()
	return h(ctx, call)
}

func (d *Dispatcher) reply(call *transport.Envelope, result any, err error) {
	env := &transport.Envelope{
		Kind:    transport.KindReply,
		ID:      call.ID,
		Channel: call.Channel,
		Source:  d.self,
		Target:  call.Source,
		Method:  call.Method,
	}
	if err == nil {
		payload, merr := transport.Marshal(result)
		if merr != nil {
			err = &Error{Kind: KindSerialization, Err: merr}
		} else {
			env.Payload = payload
		}
	}
	if err != nil {
		env.Error = toPayload(err)
	}
	if serr := d.transport.Send(env); serr != nil {
		d.logger.Debug("reply undeliverable",
			zap.String("channel", call.Channel),
			zap.String("method", call.Method),
			zap.Int64("caller", int64(call.Source)),
			zap.Error(serr),
		)
	}
}

func stamp(ctx context.Context, env *transport.Envelope) {
	traceID, spanID := tracing.FromContext(ctx)
	env.Trace = traceID.String()
	env.Span = spanID.String()
}
