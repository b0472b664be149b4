package window

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/runloop"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
)

// MenuItem is one entry of a Menu.
type MenuItem struct {
	ID        string
	Title     string
	Disabled  bool
	Checked   bool
	Separator bool
	Submenu   *Menu
	// Action runs in the context that showed the menu when the item is
	// chosen from a popup.
	Action func(ctx context.Context)
}

// Separator returns a separator item.
func Separator() MenuItem {
	return MenuItem{Separator: true}
}

// Menu is a menu owned by one context and materialized in the shell on
// demand. At most one materialization is live at a time.
type Menu struct {
	manager *Manager
	title   string
	items   []MenuItem

	mu       sync.Mutex
	handle   types.MenuHandle
	inflight *materialization
}

type materialization struct {
	done   chan struct{}
	handle types.MenuHandle
	err    error
}

// NewMenu creates an unmaterialized menu.
func (m *Manager) NewMenu(title string, items ...MenuItem) *Menu {
	return &Menu{manager: m, title: title, items: items}
}

// Title returns the menu title.
func (m *Menu) Title() string {
	return m.title
}

// Items returns the menu items.
func (m *Menu) Items() []MenuItem {
	return m.items
}

// Handle returns the shell handle, or InvalidMenuHandle when not
// materialized.
func (m *Menu) Handle() types.MenuHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// IsMaterialized reports whether the shell holds the menu.
func (m *Menu) IsMaterialized() bool {
	return m.Handle().IsValid()
}

// Description returns the serialized menu tree.
func (m *Menu) Description() types.MenuDescription {
	desc := types.MenuDescription{Title: m.title, Items: make([]types.MenuItemDescription, 0, len(m.items))}
	for _, item := range m.items {
		d := types.MenuItemDescription{
			ID:        item.ID,
			Title:     item.Title,
			Enabled:   !item.Disabled && !item.Separator,
			Checked:   item.Checked,
			Separator: item.Separator,
		}
		if item.Submenu != nil {
			sub := item.Submenu.Description()
			d.Submenu = &sub
		}
		desc.Items = append(desc.Items, d)
	}
	return desc
}

// Materialize creates the menu in the shell and returns its handle. Later
// calls return the same handle; concurrent calls share one request.
func (m *Menu) Materialize(ctx context.Context) (types.MenuHandle, error) {
	m.mu.Lock()
	if m.handle.IsValid() {
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}
	if op := m.inflight; op != nil {
		m.mu.Unlock()
		if err := runloop.Await(ctx, op.done); err != nil {
			return types.InvalidMenuHandle, err
		}
		return op.handle, op.err
	}
	op := &materialization{done: make(chan struct{})}
	m.inflight = op
	m.mu.Unlock()

	resp, err := dispatch.CallAs[types.MenuHandleMessage](dispatch.OnLateReply(ctx, m.releaseLate),
		m.manager.dispatcher, types.ChannelMenuManager, types.ShellHandle, types.MethodMenuCreate, m.Description())

	m.mu.Lock()
	m.inflight = nil
	if err == nil {
		m.handle = resp.Handle
	}
	op.handle, op.err = resp.Handle, err
	close(op.done)
	m.mu.Unlock()

	if err != nil {
		return types.InvalidMenuHandle, err
	}
	return resp.Handle, nil
}

// releaseLate destroys a menu the shell created after Materialize gave up.
func (m *Menu) releaseLate(result json.RawMessage) {
	msg, err := dispatch.Decode[types.MenuHandleMessage](result)
	if err != nil || !msg.Handle.IsValid() {
		return
	}
	d := m.manager.dispatcher
	if err := d.Post(context.Background(), types.ChannelMenuManager, types.ShellHandle, types.MethodMenuDestroy, msg); err != nil {
		m.manager.logger.Warn("late menu release failed", zap.Int64("menu", int64(msg.Handle)), zap.Error(err))
		return
	}
	m.manager.logger.Debug("released menu created after materialize gave up", zap.Int64("menu", int64(msg.Handle)))
}

// Unmaterialize releases the shell menu. It is a no-op when the menu is not
// materialized.
func (m *Menu) Unmaterialize(ctx context.Context) error {
	m.mu.Lock()
	if op := m.inflight; op != nil {
		m.mu.Unlock()
		if err := runloop.Await(ctx, op.done); err != nil {
			return err
		}
		m.mu.Lock()
	}
	h := m.handle
	m.handle = types.InvalidMenuHandle
	m.mu.Unlock()

	if !h.IsValid() {
		return nil
	}
	_, err := m.manager.dispatcher.Invoke(ctx, types.ChannelMenuManager, types.ShellHandle,
		types.MethodMenuDestroy, types.MenuHandleMessage{Handle: h})
	if err != nil {
		m.manager.logger.Warn("menu release failed", zap.Int64("menu", int64(h)), zap.Error(err))
	}
	return err
}

// action returns the action of the item with id, searching submenus.
func (m *Menu) action(id string) func(context.Context) {
	for _, item := range m.items {
		if item.Separator {
			continue
		}
		if item.ID == id && item.Action != nil {
			return item.Action
		}
		if item.Submenu != nil {
			if a := item.Submenu.action(id); a != nil {
				return a
			}
		}
	}
	return nil
}
