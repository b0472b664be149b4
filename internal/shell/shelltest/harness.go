// Package shelltest runs a headless shell and in-process execution contexts
// on one hub, for tests of code built on windows.
package shelltest

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/engine"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

// Harness owns a hub, a shell and the contexts the shell launched.
type Harness struct {
	Hub   *transport.Hub
	Shell *shell.Shell

	entry   engine.Entry
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	contexts map[types.WindowHandle]*engine.Context
	launched chan types.WindowHandle
}

type options struct {
	entry     engine.Entry
	cfg       config.ShellConfig
	timeout   time.Duration
	logger    *zap.Logger
	shellOpts []shell.Option
}

// Option configures a Harness.
type Option func(*options)

// WithEntry runs entry in every launched context.
func WithEntry(entry engine.Entry) Option {
	return func(o *options) { o.entry = entry }
}

// WithConfig replaces the default shell configuration.
func WithConfig(cfg config.ShellConfig) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithTimeout sets the default call timeout of every context.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

// WithLogger logs shell and context activity.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithShellOptions passes extra options to the shell.
func WithShellOptions(opts ...shell.Option) Option {
	return func(o *options) { o.shellOpts = append(o.shellOpts, opts...) }
}

// New starts a harness that is torn down when t ends.
func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()
	o := options{
		cfg:     config.Default().Shell,
		timeout: 5 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Harness{
		Hub:      transport.NewHub(o.logger),
		entry:    o.entry,
		logger:   o.logger,
		timeout:  o.timeout,
		contexts: make(map[types.WindowHandle]*engine.Context),
		launched: make(chan types.WindowHandle, 64),
	}
	shellOpts := append([]shell.Option{
		shell.WithLauncher(shell.LauncherFunc(h.launch)),
		shell.WithLogger(o.logger),
		shell.WithTimeout(o.timeout),
	}, o.shellOpts...)

	s, err := shell.New(h.Hub, o.cfg, shellOpts...)
	if err != nil {
		t.Fatalf("start shell: %v", err)
	}
	h.Shell = s
	t.Cleanup(h.Close)
	return h
}

func (h *Harness) launch(_ context.Context, spec shell.LaunchSpec) error {
	c, err := engine.Start(h.Hub, engine.Spec{
		Handle:   spec.Handle,
		Parent:   spec.Parent,
		InitData: spec.InitData,
		Entry:    h.entry,
	}, engine.Options{Logger: h.logger, Timeout: h.timeout})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.contexts[spec.Handle] = c
	h.mu.Unlock()
	select {
	case h.launched <- spec.Handle:
	default:
	}
	return nil
}

// CreateRoot creates a window without a parent and returns its context.
func (h *Harness) CreateRoot(ctx context.Context, initData any) (*engine.Context, error) {
	handle, err := h.Shell.CreateWindow(ctx, types.InvalidWindowHandle, initData)
	if err != nil {
		return nil, err
	}
	return h.Context(handle), nil
}

// Context returns the context launched for handle, or nil.
func (h *Harness) Context(handle types.WindowHandle) *engine.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.contexts[handle]
}

// Launched delivers the handle of every launched context, in order.
func (h *Harness) Launched() <-chan types.WindowHandle {
	return h.launched
}

// Close stops every context and the shell.
func (h *Harness) Close() {
	h.mu.Lock()
	contexts := make([]*engine.Context, 0, len(h.contexts))
	for _, c := range h.contexts {
		contexts = append(contexts, c)
	}
	h.mu.Unlock()

	for _, c := range contexts {
		c.Stop()
	}
	h.Shell.Close()
	h.Hub.Close()
}
