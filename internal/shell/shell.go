// Package shell implements the native side of the window protocol without a
// display: it allocates window and menu handles, keeps window state and
// geometry, tracks popups and broadcasts window events.
package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/runloop"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

var (
	ErrUnknownWindow = errors.New("unknown window")
	ErrNoPopup       = errors.New("no popup menu is tracking")
	ErrUnknownItem   = errors.New("menu item not selectable")
)

// LaunchSpec describes the execution context to start for a new window.
type LaunchSpec struct {
	Handle   types.WindowHandle
	Parent   types.WindowHandle
	InitData json.RawMessage
}

// Launcher starts the execution context of a new window. Launch returns
// once the context is attached to the transport.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, spec LaunchSpec) error

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context, spec LaunchSpec) error {
	return f(ctx, spec)
}

// CallRecord is one call served by the shell.
type CallRecord struct {
	Channel string             `json:"channel"`
	Method  string             `json:"method"`
	Source  types.WindowHandle `json:"source"`
	Target  types.WindowHandle `json:"target"`
}

// AutoSelect picks a popup item as soon as a popup is shown. Returning false
// dismisses the popup.
type AutoSelect func(window types.WindowHandle, menu types.MenuDescription) (itemID string, ok bool)

type nativeMenu struct {
	desc  types.MenuDescription
	owner types.WindowHandle
}

// Shell is the headless native peer.
type Shell struct {
	cfg        config.ShellConfig
	transport  transport.Transport
	loop       *runloop.Loop
	dispatcher *dispatch.Dispatcher
	launcher   Launcher
	autoSelect AutoSelect
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
	timeout    time.Duration

	mu         sync.Mutex
	nextWindow types.WindowHandle
	nextMenu   types.MenuHandle
	windows    map[types.WindowHandle]*nativeWindow
	menus      map[types.MenuHandle]*nativeMenu
	calls      []CallRecord
}

// Option configures a Shell.
type Option func(*Shell)

// WithLauncher starts a context for every created window.
func WithLauncher(l Launcher) Option {
	return func(s *Shell) { s.launcher = l }
}

// WithAutoSelect resolves popups without user interaction.
func WithAutoSelect(fn AutoSelect) Option {
	return func(s *Shell) { s.autoSelect = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Shell) { s.logger = logger }
}

// WithMetrics records window and menu counts.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Shell) { s.metrics = m }
}

// WithTracer traces calls the shell makes to itself.
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Shell) { s.tracer = t }
}

// WithTimeout bounds calls the shell makes to itself.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Shell) { s.timeout = timeout }
}

// New attaches a shell to tr as ShellHandle and starts serving.
func New(tr transport.Transport, cfg config.ShellConfig, opts ...Option) (*Shell, error) {
	s := &Shell{
		cfg:       cfg,
		transport: tr,
		logger:    zap.NewNop(),
		windows:   make(map[types.WindowHandle]*nativeWindow),
		menus:     make(map[types.MenuHandle]*nativeMenu),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("shell")
	s.loop = runloop.New("shell", s.logger)
	s.dispatcher = dispatch.New(types.ShellHandle, tr, s.loop,
		dispatch.WithLogger(s.logger.Named("dispatch")),
		dispatch.WithMetrics(s.metrics),
		dispatch.WithTracer(s.tracer),
		dispatch.WithTimeout(s.timeout),
	)
	s.dispatcher.SetHandler(types.ChannelWindowManager, s.handleWindowManager)
	s.dispatcher.SetHandler(types.ChannelMenuManager, s.handleMenuManager)

	if err := tr.Attach(types.ShellHandle, s.dispatcher.Receive); err != nil {
		return nil, fmt.Errorf("attach shell: %w", err)
	}
	for _, channel := range []string{types.ChannelWindowManager, types.ChannelMenuManager} {
		if err := tr.Bind(channel, types.ShellHandle, types.ShellHandle); err != nil {
			tr.Detach(types.ShellHandle)
			return nil, fmt.Errorf("bind %s: %w", channel, err)
		}
	}
	s.loop.Start()
	return s, nil
}

// Close detaches the shell and stops its loop.
func (s *Shell) Close() {
	s.transport.Detach(types.ShellHandle)
	s.dispatcher.Close()
	s.loop.Stop()
}

// CreateWindow creates a window as if requested by parent, which may be
// InvalidWindowHandle for a root window.
func (s *Shell) CreateWindow(ctx context.Context, parent types.WindowHandle, initData any) (types.WindowHandle, error) {
	payload, err := transport.Marshal(initData)
	if err != nil {
		return types.InvalidWindowHandle, err
	}
	resp, err := dispatch.CallAs[types.CreateWindowResponse](ctx, s.dispatcher, types.ChannelWindowManager, types.ShellHandle,
		types.MethodCreateWindow, types.CreateWindowRequest{Parent: parent, InitData: payload})
	if err != nil {
		return types.InvalidWindowHandle, err
	}
	return resp.Handle, nil
}

// RequestClose tells every context that the user asked to close the window.
func (s *Shell) RequestClose(ctx context.Context, handle types.WindowHandle) error {
	return s.exec(ctx, func(context.Context) error {
		if s.window(handle) == nil {
			return fmt.Errorf("%s: %w", handle, ErrUnknownWindow)
		}
		return s.broadcast(handle, types.EventCloseRequest, nil)
	})
}

// SelectPopupItem simulates the user choosing itemID in the popup tracking
// over the window.
func (s *Shell) SelectPopupItem(ctx context.Context, handle types.WindowHandle, itemID string) error {
	return s.exec(ctx, func(context.Context) error {
		s.mu.Lock()
		w := s.windows[handle]
		if w == nil || w.popup == nil {
			s.mu.Unlock()
			return fmt.Errorf("%s: %w", handle, ErrNoPopup)
		}
		p := w.popup
		menu := s.menus[p.menu]
		if menu == nil {
			s.mu.Unlock()
			return fmt.Errorf("%s: %w", handle, ErrNoPopup)
		}
		if item, ok := menu.desc.Find(itemID); !ok || !item.Enabled || item.Submenu != nil {
			s.mu.Unlock()
			return fmt.Errorf("%q: %w", itemID, ErrUnknownItem)
		}
		w.popup = nil
		s.mu.Unlock()

		p.reply(types.PopupMenuResponse{ItemSelected: true, ItemID: itemID}, nil)
		return nil
	})
}

// DismissPopup simulates the user clicking outside the popup.
func (s *Shell) DismissPopup(ctx context.Context, handle types.WindowHandle) error {
	return s.exec(ctx, func(context.Context) error {
		s.mu.Lock()
		w := s.windows[handle]
		if w == nil || w.popup == nil {
			s.mu.Unlock()
			return fmt.Errorf("%s: %w", handle, ErrNoPopup)
		}
		p := w.popup
		w.popup = nil
		s.mu.Unlock()

		p.reply(types.PopupMenuResponse{}, nil)
		return nil
	})
}

// ActivePopup returns the menu tracking over the window.
func (s *Shell) ActivePopup(handle types.WindowHandle) (types.MenuHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.windows[handle]
	if w == nil || w.popup == nil {
		return types.InvalidMenuHandle, false
	}
	return w.popup.menu, true
}

// Window returns a snapshot of one window.
func (s *Shell) Window(handle types.WindowHandle) (types.WindowInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.windows[handle]
	if w == nil {
		return types.WindowInfo{}, false
	}
	return w.info(), true
}

// Windows returns snapshots of every window ordered by handle.
func (s *Shell) Windows() []types.WindowInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.WindowInfo, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, w.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Menu returns the description of a materialized menu.
func (s *Shell) Menu(handle types.MenuHandle) (types.MenuDescription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.menus[handle]
	if m == nil {
		return types.MenuDescription{}, false
	}
	return m.desc, true
}

// MenuCount returns the number of materialized menus.
func (s *Shell) MenuCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.menus)
}

// Calls returns every call served so far, in order.
func (s *Shell) Calls() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallRecord(nil), s.calls...)
}

// exec runs fn on the shell loop so it is ordered with incoming calls.
func (s *Shell) exec(ctx context.Context, fn func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	if !s.loop.Post(func(loopCtx context.Context) { errCh <- fn(loopCtx) }) {
		return transport.ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Shell) window(handle types.WindowHandle) *nativeWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[handle]
}

func (s *Shell) record(call *dispatch.Call) {
	s.mu.Lock()
	s.calls = append(s.calls, CallRecord{Channel: call.Channel, Method: call.Method, Source: call.Source, Target: call.Target})
	s.mu.Unlock()
}

func (s *Shell) broadcast(handle types.WindowHandle, method string, args any) error {
	if err := s.dispatcher.Broadcast(types.ChannelWindowEvents, handle, method, args); err != nil {
		s.logger.Warn("broadcast failed",
			zap.Int64("window", int64(handle)),
			zap.String("event", method),
			zap.Error(err),
		)
		return err
	}
	return nil
}
