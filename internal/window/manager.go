package window

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

// Manager is the per-context window registry.
type Manager struct {
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	methods    *MethodCallHandler

	mu          sync.Mutex
	windows     map[types.WindowHandle]*Window
	initialized map[types.WindowHandle]struct{}
	local       *LocalWindow
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records popup outcomes in metrics.
func WithMetrics(metrics *monitoring.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// Local makes the manager own the window handle. parent is the handle of the
// window that requested its creation; it is registered as an initialized
// reference.
func Local(handle, parent types.WindowHandle, initData json.RawMessage) ManagerOption {
	return func(m *Manager) {
		w := newWindow(m, handle, false)
		m.local = &LocalWindow{Window: w, initData: initData, parent: parent}
		w.local = m.local
		m.windows[handle] = w
		if parent.IsValid() {
			m.windows[parent] = newWindow(m, parent, true)
		}
	}
}

// NewManager creates the registry for the context served by d and installs
// its window event and custom method handlers on d.
func NewManager(d *dispatch.Dispatcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		dispatcher:  d,
		logger:      zap.NewNop(),
		windows:     make(map[types.WindowHandle]*Window),
		initialized: make(map[types.WindowHandle]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.methods = NewMethodCallHandler()
	d.SetHandler(types.ChannelWindowEvents, m.handleEvent)
	d.SetHandler(types.ChannelWindowMethod, m.methods.Handle)
	return m
}

// Dispatcher returns the dispatcher the manager calls through.
func (m *Manager) Dispatcher() *dispatch.Dispatcher {
	return m.dispatcher
}

// MethodCallHandler returns the context's custom method multiplexer.
func (m *Manager) MethodCallHandler() *MethodCallHandler {
	return m.methods
}

// LocalWindow returns the window owned by this context, or nil.
func (m *Manager) LocalWindow() *LocalWindow {
	return m.local
}

// CreateWindow asks the shell for a new window whose own context receives
// initData. The returned reference is registered once the shell replied.
func (m *Manager) CreateWindow(ctx context.Context, initData any) (*Window, error) {
	payload, err := transport.Marshal(initData)
	if err != nil {
		return nil, &dispatch.Error{Kind: dispatch.KindSerialization, Channel: types.ChannelWindowManager, Method: types.MethodCreateWindow, Err: err}
	}
	parent := types.InvalidWindowHandle
	if m.local != nil {
		parent = m.local.handle
	}

	resp, err := dispatch.CallAs[types.CreateWindowResponse](dispatch.OnLateReply(ctx, m.closeLate), m.dispatcher,
		types.ChannelWindowManager, types.ShellHandle, types.MethodCreateWindow,
		types.CreateWindowRequest{Parent: parent, InitData: payload})
	if err != nil {
		return nil, err
	}
	if !resp.Handle.IsValid() {
		return nil, fmt.Errorf("create window: shell returned %s", resp.Handle)
	}

	w := m.Reference(resp.Handle)
	m.logger.Debug("window created", zap.Int64("window", int64(resp.Handle)))
	return w, nil
}

// closeLate closes a window the shell created after CreateWindow gave up.
func (m *Manager) closeLate(result json.RawMessage) {
	resp, err := dispatch.Decode[types.CreateWindowResponse](result)
	if err != nil || !resp.Handle.IsValid() {
		return
	}
	if err := m.dispatcher.Post(context.Background(), types.ChannelWindowManager, resp.Handle, types.MethodClose, nil); err != nil {
		m.logger.Warn("late window close failed", zap.Int64("window", int64(resp.Handle)), zap.Error(err))
	}
}

// GetWindow returns the registered window for handle, or nil.
func (m *Manager) GetWindow(handle types.WindowHandle) *Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windows[handle]
}

// Reference returns the window for handle, registering a new reference when
// none exists. It returns nil for handles that cannot name a window.
func (m *Manager) Reference(handle types.WindowHandle) *Window {
	if !handle.IsValid() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[handle]; ok {
		return w
	}
	_, initialized := m.initialized[handle]
	delete(m.initialized, handle)
	w := newWindow(m, handle, initialized)
	m.windows[handle] = w
	return w
}

// Windows returns the registered windows ordered by handle.
func (m *Manager) Windows() []*Window {
	m.mu.Lock()
	out := make([]*Window, 0, len(m.windows))
	for _, w := range m.windows {
		out = append(out, w)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out
}

func (m *Manager) windowClosed(w *Window) {
	m.mu.Lock()
	if m.windows[w.handle] == w {
		delete(m.windows, w.handle)
	}
	m.mu.Unlock()
}

func (m *Manager) handleEvent(ctx context.Context, call *dispatch.Call) (any, error) {
	handle := call.Target

	m.mu.Lock()
	w := m.windows[handle]
	switch call.Method {
	case types.EventInitialize:
		if w == nil {
			m.initialized[handle] = struct{}{}
		}
	case types.EventClose:
		delete(m.initialized, handle)
	}
	m.mu.Unlock()

	if w == nil {
		return nil, nil
	}

	switch call.Method {
	case types.EventInitialize:
		w.onInitialize()
	case types.EventClose:
		m.windowClosed(w)
		w.onClose()
	default:
		if err := w.onMessage(ctx, call); err != nil {
			m.logger.Warn("window event failed",
				zap.Int64("window", int64(handle)),
				zap.String("event", call.Method),
				zap.Error(err),
			)
		}
	}
	return nil, nil
}
