package window

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

// LocalWindow is the window owned by this execution context.
type LocalWindow struct {
	*Window

	initData json.RawMessage
	parent   types.WindowHandle

	menuMu sync.Mutex
	menu   *Menu
}

// InitData returns the payload the window was created with.
func (l *LocalWindow) InitData() json.RawMessage {
	return l.initData
}

// DecodeInitData unmarshals the creation payload into v.
func (l *LocalWindow) DecodeInitData(v any) error {
	if err := transport.Unmarshal(l.initData, v); err != nil {
		return fmt.Errorf("init data: %w", err)
	}
	return nil
}

// Parent returns the handle of the window that created this one, or
// InvalidWindowHandle.
func (l *LocalWindow) Parent() types.WindowHandle {
	return l.parent
}

// ParentWindow returns the parent window, or nil when there is none or it
// has closed.
func (l *LocalWindow) ParentWindow() *Window {
	if !l.parent.IsValid() {
		return nil
	}
	return l.manager.GetWindow(l.parent)
}

// Show makes the window visible. Unlike Window.Show it returns as soon as
// the shell accepted the request; the shell defers the actual show until
// ReadyToShow.
func (l *LocalWindow) Show(ctx context.Context) error {
	if l.Visibility() == VisibilityVisible {
		return nil
	}
	_, err := l.invoke(ctx, types.MethodShow, nil)
	return err
}

// ReadyToShow tells the shell the first frame is ready. A show requested
// earlier happens now.
func (l *LocalWindow) ReadyToShow(ctx context.Context) error {
	_, err := l.invoke(ctx, types.MethodReadyToShow, nil)
	return err
}

// CloseWithResult closes the window, completing a pending ShowModal on the
// opener with value.
func (l *LocalWindow) CloseWithResult(ctx context.Context, value any) error {
	payload, err := transport.Marshal(value)
	if err != nil {
		return err
	}
	if payload == nil {
		payload = json.RawMessage("null")
	}
	_, err = l.invoke(ctx, types.MethodCloseWithResult, payload)
	return err
}

// WindowMenu returns the installed window menu.
func (l *LocalWindow) WindowMenu() *Menu {
	l.menuMu.Lock()
	defer l.menuMu.Unlock()
	return l.menu
}

// SetWindowMenu installs menu as the window menu and returns the menu it
// replaced. The previous menu is released before the new one is
// materialized. A nil menu removes the window menu.
func (l *LocalWindow) SetWindowMenu(ctx context.Context, menu *Menu) (*Menu, error) {
	l.menuMu.Lock()
	previous := l.menu
	l.menuMu.Unlock()

	if previous == menu && menu != nil && menu.IsMaterialized() {
		return previous, nil
	}
	if previous != nil {
		if err := previous.Unmaterialize(ctx); err != nil {
			return nil, fmt.Errorf("release previous window menu: %w", err)
		}
	}

	handle := types.InvalidMenuHandle
	if menu != nil {
		var err error
		if handle, err = menu.Materialize(ctx); err != nil {
			l.menuMu.Lock()
			l.menu = nil
			l.menuMu.Unlock()
			return previous, err
		}
	}

	l.menuMu.Lock()
	l.menu = menu
	l.menuMu.Unlock()

	if _, err := l.invoke(ctx, types.MethodSetWindowMenu, types.MenuHandleMessage{Handle: handle}); err != nil {
		return previous, err
	}
	return previous, nil
}
