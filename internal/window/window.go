package window

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/event"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
)

// Window is this context's reference to a window, local or not.
type Window struct {
	handle  types.WindowHandle
	manager *Manager
	local   *LocalWindow

	mu          sync.Mutex
	state       State
	visibility  Visibility
	pendingShow *event.Gate
	initialized *event.Gate
	closed      *event.Gate

	visibilityChanged event.Bus[bool]
	closeRequested    event.Bus[struct{}]
	closedBus         event.Bus[struct{}]
}

func newWindow(m *Manager, handle types.WindowHandle, initialized bool) *Window {
	w := &Window{
		handle:      handle,
		manager:     m,
		initialized: event.NewGate(),
		closed:      event.NewGate(),
	}
	if initialized {
		w.state = StateInitialized
		w.initialized.Fire(nil)
	}
	return w
}

// Handle returns the window handle.
func (w *Window) Handle() types.WindowHandle {
	return w.handle
}

// State returns the lifecycle state.
func (w *Window) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Visibility returns the last known visibility.
func (w *Window) Visibility() Visibility {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visibility
}

// IsLocal reports whether the window belongs to this context.
func (w *Window) IsLocal() bool {
	return w.local != nil
}

// OnVisibilityChanged subscribes to visibility events.
func (w *Window) OnVisibilityChanged(fn func(visible bool)) (unsubscribe func()) {
	return w.visibilityChanged.Subscribe(fn)
}

// OnCloseRequested subscribes to close requests, such as the user clicking
// the close button. The window owner closes the window itself; others are
// only notified.
func (w *Window) OnCloseRequested(fn func()) (unsubscribe func()) {
	return w.closeRequested.Subscribe(func(struct{}) { fn() })
}

// OnClosed subscribes to the close event.
func (w *Window) OnClosed(fn func()) (unsubscribe func()) {
	return w.closedBus.Subscribe(func(struct{}) { fn() })
}

// Done is closed once the close event has been processed.
func (w *Window) Done() <-chan struct{} {
	return w.closed.Done()
}

// WaitUntilInitialized blocks until the shell reported the window
// initialized. It returns immediately afterwards.
func (w *Window) WaitUntilInitialized(ctx context.Context) error {
	return w.initialized.Wait(ctx)
}

// Show makes the window visible and waits until the shell reports it. It
// sends nothing when the window is already known to be visible. Concurrent
// callers share one request.
func (w *Window) Show(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		return ErrWindowClosed
	}
	if w.visibility == VisibilityVisible {
		w.mu.Unlock()
		return nil
	}
	gate := w.pendingShow
	first := gate == nil
	if first {
		gate = event.NewGate()
		w.pendingShow = gate
	}
	w.mu.Unlock()

	if first {
		if _, err := w.invoke(ctx, types.MethodShow, nil); err != nil {
			w.mu.Lock()
			if w.pendingShow == gate {
				w.pendingShow = nil
			}
			w.mu.Unlock()
			gate.Fire(err)
			return err
		}
	}
	return gate.Wait(ctx)
}

// Hide hides the window. Visibility becomes unknown until the shell reports
// the change; Hide does not wait for it.
func (w *Window) Hide(ctx context.Context) error {
	w.mu.Lock()
	w.visibility = VisibilityUnknown
	w.mu.Unlock()
	_, err := w.invoke(ctx, types.MethodHide, nil)
	return err
}

// Close asks the shell to close the window. The reference stays registered
// until the close event arrives.
func (w *Window) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		return nil
	}
	previous := w.state
	w.state = StateClosing
	w.mu.Unlock()
	if _, err := w.invoke(ctx, types.MethodClose, nil); err != nil {
		w.mu.Lock()
		if w.state == StateClosing {
			w.state = previous
		}
		w.mu.Unlock()
		return err
	}
	return nil
}

// SetGeometry requests geometry changes and reports which fields the shell
// applied.
func (w *Window) SetGeometry(ctx context.Context, req types.GeometryRequest) (types.GeometryFlags, error) {
	return dispatch.CallAs[types.GeometryFlags](ctx, w.manager.dispatcher, types.ChannelWindowManager, w.handle, types.MethodSetGeometry, req)
}

// Geometry returns the current geometry.
func (w *Window) Geometry(ctx context.Context) (types.Geometry, error) {
	return dispatch.CallAs[types.Geometry](ctx, w.manager.dispatcher, types.ChannelWindowManager, w.handle, types.MethodGetGeometry, nil)
}

// SupportedGeometry reports which geometry fields the shell can honor for
// the window right now.
func (w *Window) SupportedGeometry(ctx context.Context) (types.GeometryFlags, error) {
	return dispatch.CallAs[types.GeometryFlags](ctx, w.manager.dispatcher, types.ChannelWindowManager, w.handle, types.MethodSupportedGeometry, nil)
}

// SetTitle sets the window title.
func (w *Window) SetTitle(ctx context.Context, title string) error {
	_, err := w.invoke(ctx, types.MethodSetTitle, types.TitleMessage{Title: title})
	return err
}

// SetStyle sets the frame and capabilities.
func (w *Window) SetStyle(ctx context.Context, style types.WindowStyle) error {
	_, err := w.invoke(ctx, types.MethodSetStyle, style)
	return err
}

// ShowModal shows the window as a modal sheet of its parent and waits until
// it closes. The result is the value the window passed to CloseWithResult,
// or null.
func (w *Window) ShowModal(ctx context.Context) (json.RawMessage, error) {
	return w.invoke(dispatch.NoTimeout(ctx), types.MethodShowModal, nil)
}

// PerformWindowDrag starts a native window move.
func (w *Window) PerformWindowDrag(ctx context.Context) error {
	_, err := w.invoke(ctx, types.MethodPerformWindowDrag, nil)
	return err
}

// ShowSystemMenu opens the window's system menu where the platform has one.
func (w *Window) ShowSystemMenu(ctx context.Context) error {
	_, err := w.invoke(ctx, types.MethodShowSystemMenu, nil)
	return err
}

// CallMethod invokes a custom method on the context owning the window.
func (w *Window) CallMethod(ctx context.Context, method string, args any) (json.RawMessage, error) {
	return w.manager.dispatcher.Invoke(ctx, types.ChannelWindowMethod, w.handle, method, args)
}

func (w *Window) invoke(ctx context.Context, method string, args any) (json.RawMessage, error) {
	return w.manager.dispatcher.Invoke(ctx, types.ChannelWindowManager, w.handle, method, args)
}

// onInitialize fires the initialized gate.
func (w *Window) onInitialize() {
	w.mu.Lock()
	if w.state == StateCreated {
		w.state = StateInitialized
	}
	w.mu.Unlock()
	w.initialized.Fire(nil)
}

// onMessage handles the per-window events other than initialize and close.
func (w *Window) onMessage(ctx context.Context, call *dispatch.Call) error {
	switch call.Method {
	case types.EventVisibilityChanged:
		var visible bool
		if err := call.Decode(&visible); err != nil {
			return err
		}
		w.onVisibilityChanged(visible)
	case types.EventCloseRequest:
		if w.local != nil {
			return w.Close(ctx)
		}
		w.closeRequested.Publish(struct{}{})
	}
	return nil
}

func (w *Window) onVisibilityChanged(visible bool) {
	w.mu.Lock()
	var gate *event.Gate
	if visible {
		w.visibility = VisibilityVisible
		gate, w.pendingShow = w.pendingShow, nil
	} else {
		w.visibility = VisibilityHidden
	}
	if w.state != StateClosing && w.state != StateClosed {
		if visible {
			w.state = StateVisible
		} else {
			w.state = StateHidden
		}
	}
	w.mu.Unlock()

	if gate != nil {
		gate.Fire(nil)
	}
	w.visibilityChanged.Publish(visible)
}

func (w *Window) onClose() {
	w.mu.Lock()
	w.state = StateClosed
	w.visibility = VisibilityHidden
	gate := w.pendingShow
	w.pendingShow = nil
	w.mu.Unlock()

	if gate != nil {
		gate.Fire(ErrWindowClosed)
	}
	w.closed.Fire(nil)
	w.closedBus.Publish(struct{}{})
}
