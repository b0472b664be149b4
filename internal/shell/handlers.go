package shell

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/runloop"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/utils"
)

var nullResult = json.RawMessage("null")

func (s *Shell) handleWindowManager(ctx context.Context, call *dispatch.Call) (any, error) {
	s.record(call)
	if call.Method == types.MethodCreateWindow {
		return s.createWindow(ctx, call)
	}

	w := s.window(call.Target)
	if w == nil {
		return nil, dispatch.NewError(dispatch.KindInvalidTarget, "no window %s", call.Target)
	}

	switch call.Method {
	case types.MethodShow:
		s.show(w)
		return nil, nil
	case types.MethodReadyToShow:
		s.readyToShow(w)
		return nil, nil
	case types.MethodHide:
		s.hide(w)
		return nil, nil
	case types.MethodShowModal:
		return s.showModal(w, call)
	case types.MethodClose:
		call.Defer()(nil, nil)
		s.closeWindow(w.handle, nil)
		return nil, nil
	case types.MethodCloseWithResult:
		result := call.Args
		if len(result) == 0 {
			result = nullResult
		}
		call.Defer()(nil, nil)
		s.closeWindow(w.handle, result)
		return nil, nil
	case types.MethodSetGeometry:
		var req types.GeometryRequest
		if err := call.Decode(&req); err != nil {
			return nil, err
		}
		s.mu.Lock()
		flags := w.apply(req.Filtered())
		s.mu.Unlock()
		return flags, nil
	case types.MethodGetGeometry:
		s.mu.Lock()
		defer s.mu.Unlock()
		return w.geometry(), nil
	case types.MethodSupportedGeometry:
		s.mu.Lock()
		defer s.mu.Unlock()
		return w.supported(), nil
	case types.MethodSetTitle:
		var msg types.TitleMessage
		if err := call.Decode(&msg); err != nil {
			return nil, err
		}
		if err := utils.ValidateTitle(msg.Title); err != nil {
			return nil, dispatch.NewError(dispatch.KindSerialization, "%v", err)
		}
		s.mu.Lock()
		w.title = msg.Title
		s.mu.Unlock()
		return nil, nil
	case types.MethodSetStyle:
		style := types.DefaultWindowStyle()
		if err := call.Decode(&style); err != nil {
			return nil, err
		}
		s.mu.Lock()
		w.style = style
		s.mu.Unlock()
		return nil, nil
	case types.MethodShowPopupMenu:
		return s.showPopupMenu(w, call)
	case types.MethodHidePopupMenu:
		var msg types.MenuHandleMessage
		if err := call.Decode(&msg); err != nil {
			return nil, err
		}
		s.dismissPopup(w, msg.Handle)
		return nil, nil
	case types.MethodSetWindowMenu:
		var msg types.MenuHandleMessage
		if err := call.Decode(&msg); err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if msg.Handle.IsValid() && s.menus[msg.Handle] == nil {
			return nil, dispatch.NewError(dispatch.KindInvalidTarget, "no menu %d", msg.Handle)
		}
		w.menu = msg.Handle
		return nil, nil
	case types.MethodPerformWindowDrag:
		s.logger.Debug("window drag", zap.Int64("window", int64(w.handle)))
		return nil, nil
	case types.MethodShowSystemMenu:
		return nil, dispatch.NewError(dispatch.KindNotAvailable, "no system menu on this platform")
	}
	return nil, dispatch.NewError(dispatch.KindNoHandler, "unknown method %q", call.Method)
}

func (s *Shell) handleMenuManager(_ context.Context, call *dispatch.Call) (any, error) {
	s.record(call)
	switch call.Method {
	case types.MethodMenuCreate:
		var desc types.MenuDescription
		if err := call.Decode(&desc); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.nextMenu++
		handle := s.nextMenu
		s.menus[handle] = &nativeMenu{desc: desc, owner: call.Source}
		count := len(s.menus)
		s.mu.Unlock()
		s.metrics.SetMenusMaterialized(count)
		return types.MenuHandleMessage{Handle: handle}, nil
	case types.MethodMenuDestroy:
		var msg types.MenuHandleMessage
		if err := call.Decode(&msg); err != nil {
			return nil, err
		}
		s.destroyMenus(func(h types.MenuHandle, _ *nativeMenu) bool { return h == msg.Handle })
		return nil, nil
	}
	return nil, dispatch.NewError(dispatch.KindNoHandler, "unknown method %q", call.Method)
}

func (s *Shell) createWindow(ctx context.Context, call *dispatch.Call) (any, error) {
	var req types.CreateWindowRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	if err := utils.InitDataValidator().ValidateJSON(req.InitData); err != nil {
		return nil, dispatch.NewError(dispatch.KindSerialization, "init data: %v", err)
	}

	s.mu.Lock()
	if req.Parent.IsValid() && s.windows[req.Parent] == nil {
		s.mu.Unlock()
		return nil, dispatch.NewError(dispatch.KindInvalidTarget, "parent %s is not open", req.Parent)
	}
	if s.cfg.MaxWindows > 0 && len(s.windows) >= s.cfg.MaxWindows {
		s.mu.Unlock()
		return nil, dispatch.NewError(dispatch.KindNotAvailable, "window limit %d reached", s.cfg.MaxWindows)
	}
	s.nextWindow++
	handle := s.nextWindow
	parent := req.Parent
	if !parent.IsValid() {
		parent = types.InvalidWindowHandle
	}
	s.windows[handle] = newNativeWindow(handle, parent, s.cfg)
	s.mu.Unlock()

	fail := func(err error) (any, error) {
		s.transport.Unbind(types.ChannelWindowManager, handle)
		s.mu.Lock()
		delete(s.windows, handle)
		s.mu.Unlock()
		return nil, err
	}

	if err := s.transport.Bind(types.ChannelWindowManager, handle, types.ShellHandle); err != nil {
		return fail(dispatch.NewError(dispatch.KindTransport, "route %s: %v", handle, err))
	}
	if s.launcher != nil {
		spec := LaunchSpec{Handle: handle, Parent: parent, InitData: req.InitData}
		if err := s.launcher.Launch(runloop.Detach(ctx), spec); err != nil {
			s.logger.Warn("launch failed", zap.Int64("window", int64(handle)), zap.Error(err))
			return fail(dispatch.NewError(dispatch.KindNotAvailable, "launch %s: %v", handle, err))
		}
	}

	_ = s.broadcast(handle, types.EventInitialize, nil)
	s.metrics.WindowOpened()
	s.logger.Info("window created",
		zap.Int64("window", int64(handle)),
		zap.Int64("parent", int64(parent)),
	)
	return types.CreateWindowResponse{Handle: handle}, nil
}

// show makes the window visible, or remembers the request until the window
// reports it is ready.
func (s *Shell) show(w *nativeWindow) {
	s.mu.Lock()
	if !w.ready {
		w.showPending = true
		s.mu.Unlock()
		return
	}
	w.visible = true
	s.mu.Unlock()
	_ = s.broadcast(w.handle, types.EventVisibilityChanged, true)
}

func (s *Shell) readyToShow(w *nativeWindow) {
	s.mu.Lock()
	w.ready = true
	pending := w.showPending
	w.showPending = false
	if pending {
		w.visible = true
	}
	s.mu.Unlock()
	if pending {
		_ = s.broadcast(w.handle, types.EventVisibilityChanged, true)
	}
}

func (s *Shell) hide(w *nativeWindow) {
	s.mu.Lock()
	w.showPending = false
	w.visible = false
	s.mu.Unlock()
	_ = s.broadcast(w.handle, types.EventVisibilityChanged, false)
}

func (s *Shell) showModal(w *nativeWindow, call *dispatch.Call) (any, error) {
	s.mu.Lock()
	if w.modal() {
		s.mu.Unlock()
		return nil, dispatch.NewError(dispatch.KindNotAvailable, "%s is already modal", w.handle)
	}
	w.modalReply = call.Defer()
	s.mu.Unlock()
	s.show(w)
	return nil, nil
}

func (s *Shell) showPopupMenu(w *nativeWindow, call *dispatch.Call) (any, error) {
	var req types.PopupMenuRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	menu := s.menus[req.Handle]
	if menu == nil {
		s.mu.Unlock()
		return nil, dispatch.NewError(dispatch.KindInvalidTarget, "no menu %d", req.Handle)
	}
	reply := call.Defer()
	previous := w.popup
	w.popup = &popup{menu: req.Handle, reply: reply}
	s.mu.Unlock()

	// Only one popup tracks per window.
	if previous != nil {
		previous.reply(types.PopupMenuResponse{}, nil)
	}

	if s.autoSelect == nil {
		return nil, nil
	}
	itemID, ok := s.autoSelect(w.handle, menu.desc)
	if ok {
		item, found := menu.desc.Find(itemID)
		ok = found && item.Enabled && item.Submenu == nil
	}
	s.mu.Lock()
	if w.popup != nil && w.popup.menu == req.Handle {
		w.popup = nil
	}
	s.mu.Unlock()
	if ok {
		reply(types.PopupMenuResponse{ItemSelected: true, ItemID: itemID}, nil)
	} else {
		reply(types.PopupMenuResponse{}, nil)
	}
	return nil, nil
}

// dismissPopup ends tracking without a selection. An invalid handle matches
// any popup.
func (s *Shell) dismissPopup(w *nativeWindow, menu types.MenuHandle) {
	s.mu.Lock()
	p := w.popup
	if p == nil || (menu.IsValid() && p.menu != menu) {
		s.mu.Unlock()
		return
	}
	w.popup = nil
	s.mu.Unlock()
	p.reply(types.PopupMenuResponse{}, nil)
}

// destroyMenus frees every menu for which match returns true, detaching it from window
// menus and dismissing popups that track it.
func (s *Shell) destroyMenus(match func(types.MenuHandle, *nativeMenu) bool) {
	var dismissed []*popup
	s.mu.Lock()
	for h, m := range s.menus {
		if !match(h, m) {
			continue
		}
		delete(s.menus, h)
		for _, w := range s.windows {
			if w.menu == h {
				w.menu = types.InvalidMenuHandle
			}
			if w.popup != nil && w.popup.menu == h {
				dismissed = append(dismissed, w.popup)
				w.popup = nil
			}
		}
	}
	count := len(s.menus)
	s.mu.Unlock()

	for _, p := range dismissed {
		p.reply(types.PopupMenuResponse{}, nil)
	}
	s.metrics.SetMenusMaterialized(count)
}

// closeWindow closes children first, then completes the window's modal and
// popup requests, frees its menus and broadcasts the close event.
func (s *Shell) closeWindow(handle types.WindowHandle, result json.RawMessage) {
	s.mu.Lock()
	w := s.windows[handle]
	if w == nil {
		s.mu.Unlock()
		return
	}
	var children []types.WindowHandle
	for h, child := range s.windows {
		if child.parent == handle {
			children = append(children, h)
		}
	}
	s.mu.Unlock()

	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
	for _, child := range children {
		s.closeWindow(child, nil)
	}

	s.mu.Lock()
	if s.windows[handle] != w {
		s.mu.Unlock()
		return
	}
	delete(s.windows, handle)
	modal, p := w.modalReply, w.popup
	w.modalReply, w.popup = nil, nil
	w.visible = false
	s.mu.Unlock()

	if modal != nil {
		if result == nil {
			result = nullResult
		}
		modal(result, nil)
	}
	if p != nil {
		p.reply(types.PopupMenuResponse{}, nil)
	}
	s.destroyMenus(func(_ types.MenuHandle, m *nativeMenu) bool { return m.owner == handle })
	s.transport.Unbind(types.ChannelWindowManager, handle)

	_ = s.broadcast(handle, types.EventClose, nil)
	s.metrics.WindowClosed()
	s.logger.Info("window closed", zap.Int64("window", int64(handle)))
}
