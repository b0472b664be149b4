// Package engine boots one execution context: its run loop, dispatcher and
// window manager, attached to a transport on behalf of one window.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/runloop"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/window"
)

// Entry is the code of a window. It runs on the context's loop right after
// start; it may block, the loop keeps serving calls while it waits.
type Entry func(ctx context.Context, c *Context)

// Spec describes the context to start.
type Spec struct {
	Handle   types.WindowHandle
	Parent   types.WindowHandle
	InitData json.RawMessage
	Entry    Entry
}

// Options carries the ambient dependencies shared by every context.
type Options struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
	Timeout time.Duration
}

// Context is a running execution context.
type Context struct {
	handle     types.WindowHandle
	transport  transport.Transport
	loop       *runloop.Loop
	dispatcher *dispatch.Dispatcher
	manager    *window.Manager
	logger     *zap.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

var channels = []string{types.ChannelWindowEvents, types.ChannelWindowMethod}

// Start attaches a new context for spec.Handle to tr. It returns once the
// context can receive events; the entry point runs asynchronously.
func Start(tr transport.Transport, spec Spec, opts Options) (*Context, error) {
	if !spec.Handle.IsValid() {
		return nil, fmt.Errorf("start context: invalid handle %s", spec.Handle)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.Int64("window", int64(spec.Handle)))

	loop := runloop.New(spec.Handle.String(), logger)
	d := dispatch.New(spec.Handle, tr, loop,
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithMetrics(opts.Metrics),
		dispatch.WithTracer(opts.Tracer),
		dispatch.WithTimeout(opts.Timeout),
	)
	m := window.NewManager(d,
		window.Local(spec.Handle, spec.Parent, spec.InitData),
		window.WithLogger(logger.Named("window")),
		window.WithMetrics(opts.Metrics),
	)

	c := &Context{
		handle:     spec.Handle,
		transport:  tr,
		loop:       loop,
		dispatcher: d,
		manager:    m,
		logger:     logger,
		stopped:    make(chan struct{}),
	}

	if err := tr.Attach(spec.Handle, d.Receive); err != nil {
		return nil, fmt.Errorf("attach %s: %w", spec.Handle, err)
	}
	for _, channel := range channels {
		if err := tr.Bind(channel, spec.Handle, spec.Handle); err != nil {
			tr.Detach(spec.Handle)
			return nil, fmt.Errorf("bind %s for %s: %w", channel, spec.Handle, err)
		}
	}

	m.LocalWindow().OnClosed(func() {
		logger.Debug("local window closed, stopping context")
		c.Stop()
	})

	loop.Start()
	if spec.Entry != nil {
		loop.Post(func(ctx context.Context) { spec.Entry(ctx, c) })
	}
	logger.Debug("context started", zap.Int64("parent", int64(spec.Parent)))
	return c, nil
}

// Handle returns the handle of the window the context owns.
func (c *Context) Handle() types.WindowHandle {
	return c.handle
}

// Manager returns the context's window manager.
func (c *Context) Manager() *window.Manager {
	return c.manager
}

// Window returns the window owned by the context.
func (c *Context) Window() *window.LocalWindow {
	return c.manager.LocalWindow()
}

// Dispatcher returns the context's dispatcher.
func (c *Context) Dispatcher() *dispatch.Dispatcher {
	return c.dispatcher
}

// Run executes fn on the context's loop and waits for it.
func (c *Context) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	if !c.loop.Post(func(loopCtx context.Context) { errCh <- fn(loopCtx) }) {
		return fmt.Errorf("context %s: %w", c.handle, transport.ErrClosed)
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop detaches the context and stops its loop. Pending calls fail.
func (c *Context) Stop() {
	c.stopOnce.Do(func() {
		c.transport.Detach(c.handle)
		c.dispatcher.Close()
		c.loop.Stop()
		close(c.stopped)
	})
}

// Done is closed once the context stopped.
func (c *Context) Done() <-chan struct{} {
	return c.stopped
}
