package window

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
)

// ShowPopupMenu materializes menu, shows it over the window and waits for
// the user. The menu is released on every exit path. When an item is chosen
// its Action runs before ShowPopupMenu returns.
//
// If ctx ends while the menu is tracking, the popup is hidden and released
// before the cancellation is returned.
func (w *Window) ShowPopupMenu(ctx context.Context, menu *Menu, req types.PopupMenuRequest) (types.PopupMenuResponse, error) {
	handle, err := menu.Materialize(ctx)
	if err != nil {
		w.manager.metrics.RecordPopup("failed")
		return types.PopupMenuResponse{}, err
	}

	req.Handle = handle
	resp, err := dispatch.CallAs[types.PopupMenuResponse](dispatch.NoTimeout(ctx), w.manager.dispatcher,
		types.ChannelWindowManager, w.handle, types.MethodShowPopupMenu, req)

	release := context.WithoutCancel(ctx)
	if err != nil && ctx.Err() != nil {
		if _, herr := w.invoke(release, types.MethodHidePopupMenu, types.MenuHandleMessage{Handle: handle}); herr != nil && !errors.Is(herr, dispatch.ErrInvalidTarget) {
			w.manager.logger.Debug("hide abandoned popup failed", zap.Error(herr))
		}
	}
	if uerr := menu.Unmaterialize(release); uerr != nil && err == nil {
		err = uerr
	}

	switch {
	case err != nil && ctx.Err() != nil:
		w.manager.metrics.RecordPopup("canceled")
		return types.PopupMenuResponse{}, err
	case err != nil:
		w.manager.metrics.RecordPopup("failed")
		return types.PopupMenuResponse{}, err
	case !resp.ItemSelected:
		w.manager.metrics.RecordPopup("dismissed")
		return resp, nil
	}

	w.manager.metrics.RecordPopup("selected")
	if action := menu.action(resp.ItemID); action != nil {
		action(ctx)
	}
	return resp, nil
}

// HidePopupMenu cancels tracking of a popup shown for menu. The pending
// ShowPopupMenu resolves without a selection.
func (w *Window) HidePopupMenu(ctx context.Context, menu *Menu) error {
	handle := menu.Handle()
	if !handle.IsValid() {
		return nil
	}
	_, err := w.invoke(ctx, types.MethodHidePopupMenu, types.MenuHandleMessage{Handle: handle})
	return err
}
