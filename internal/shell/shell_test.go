package shell_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/engine"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/event"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell/shelltest"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/window"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCreateWindowDefaults(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)

	first, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)
	second, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Less(t, first.Handle(), second.Handle())

	info, ok := h.Shell.Window(first.Handle())
	require.True(t, ok)
	assert.Equal(t, types.InvalidWindowHandle, info.Parent)
	assert.False(t, info.Visible)
	assert.Equal(t, types.Size{Width: 800, Height: 600}, *info.Geometry.ContentSize)
	assert.Equal(t, types.Size{Width: 800, Height: 628}, *info.Geometry.FrameSize)
	assert.Len(t, h.Shell.Windows(), 2)
}

func TestCreateWindowLimit(t *testing.T) {
	ctx := testContext(t)
	cfg := config.Default().Shell
	cfg.MaxWindows = 1
	h := shelltest.New(t, shelltest.WithConfig(cfg))

	_, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)
	_, err = h.CreateRoot(ctx, nil)
	assert.ErrorIs(t, err, dispatch.ErrNotAvailable)
}

func TestCreateWindowLaunchFailure(t *testing.T) {
	ctx := testContext(t)
	hub := transport.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)
	failing := shell.LauncherFunc(func(context.Context, shell.LaunchSpec) error {
		return errors.New("no runtime")
	})
	s, err := shell.New(hub, config.Default().Shell, shell.WithLauncher(failing))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.CreateWindow(ctx, types.InvalidWindowHandle, nil)
	assert.ErrorIs(t, err, dispatch.ErrNotAvailable)
	assert.Empty(t, s.Windows())
	assert.Equal(t, []types.WindowHandle{types.ShellHandle}, hub.Endpoints())
}

func TestShowWaitsForReadyToShow(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	err = c.Run(ctx, func(ctx context.Context) error {
		return c.Window().Show(ctx)
	})
	require.NoError(t, err)
	info, _ := h.Shell.Window(c.Handle())
	assert.False(t, info.Visible)

	err = c.Run(ctx, func(ctx context.Context) error {
		return c.Window().ReadyToShow(ctx)
	})
	require.NoError(t, err)
	info, _ = h.Shell.Window(c.Handle())
	assert.True(t, info.Visible)
	assert.True(t, info.ReadyToShow)

	assert.Eventually(t, func() bool {
		return c.Window().Visibility() == window.VisibilityVisible
	}, time.Second, 5*time.Millisecond)
}

func TestHideBeforeReadyCancelsShow(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	err = c.Run(ctx, func(ctx context.Context) error {
		w := c.Window()
		if err := w.Show(ctx); err != nil {
			return err
		}
		if err := w.Hide(ctx); err != nil {
			return err
		}
		return w.ReadyToShow(ctx)
	})
	require.NoError(t, err)

	info, _ := h.Shell.Window(c.Handle())
	assert.False(t, info.Visible)
}

func TestGeometry(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	var flags types.GeometryFlags
	var geometry types.Geometry
	err = c.Run(ctx, func(ctx context.Context) error {
		var err error
		flags, err = c.Window().SetGeometry(ctx, types.GeometryRequest{
			Geometry: types.Geometry{
				FrameSize:      &types.Size{Width: 1000, Height: 1000},
				ContentSize:    &types.Size{Width: 640, Height: 480},
				MinContentSize: &types.Size{Width: 700, Height: 100},
			},
			Preference: types.PreferContent,
		})
		if err != nil {
			return err
		}
		geometry, err = c.Window().Geometry(ctx)
		return err
	})
	require.NoError(t, err)

	assert.True(t, flags.Has(types.FlagContentSize|types.FlagMinContentSize))
	assert.False(t, flags.Has(types.FlagFrameSize))
	assert.Equal(t, types.Size{Width: 700, Height: 480}, *geometry.ContentSize, "clamped to the minimum")
	assert.Equal(t, types.Size{Width: 700, Height: 508}, *geometry.FrameSize)
}

func TestSetTitleAndStyle(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	err = c.Run(ctx, func(ctx context.Context) error {
		if err := c.Window().SetTitle(ctx, "Inbox"); err != nil {
			return err
		}
		return c.Window().SetStyle(ctx, types.WindowStyle{Frame: types.FrameNoTitle, CanClose: true})
	})
	require.NoError(t, err)

	info, _ := h.Shell.Window(c.Handle())
	assert.Equal(t, "Inbox", info.Title)
	assert.Equal(t, types.FrameNoTitle, info.Style.Frame)
	assert.False(t, info.Style.CanResize)
	assert.Equal(t, *info.Geometry.ContentSize, *info.Geometry.FrameSize, "no title bar")
}

func TestInvalidArgumentsRejected(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	err = c.Run(ctx, func(ctx context.Context) error {
		return c.Window().SetTitle(ctx, "bad\x00title")
	})
	assert.ErrorIs(t, err, dispatch.ErrSerialization)

	deep := json.RawMessage(strings.Repeat("[", 40) + strings.Repeat("]", 40))
	_, err = h.Shell.CreateWindow(ctx, types.InvalidWindowHandle, deep)
	assert.ErrorIs(t, err, dispatch.ErrSerialization)
	assert.Len(t, h.Shell.Windows(), 1)
}

func TestShowSystemMenuNotAvailable(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	err = c.Run(ctx, func(ctx context.Context) error {
		return c.Window().ShowSystemMenu(ctx)
	})
	assert.ErrorIs(t, err, dispatch.ErrNotAvailable)
}

func TestCloseCascadesToChildren(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)
	root, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	var child *window.Window
	err = root.Run(ctx, func(ctx context.Context) error {
		var err error
		child, err = root.Manager().CreateWindow(ctx, "child")
		return err
	})
	require.NoError(t, err)
	childCtx := h.Context(child.Handle())
	require.NotNil(t, childCtx)

	require.NoError(t, h.Shell.RequestClose(ctx, root.Handle()))

	for _, c := range []*engine.Context{root, childCtx} {
		select {
		case <-c.Done():
		case <-ctx.Done():
			t.Fatalf("context %s did not stop", c.Handle())
		}
	}
	assert.Empty(t, h.Shell.Windows())

	var closes []types.WindowHandle
	for _, call := range h.Shell.Calls() {
		if call.Method == types.MethodClose {
			closes = append(closes, call.Target)
		}
	}
	assert.Equal(t, []types.WindowHandle{root.Handle()}, closes)
}

func TestShowModalReturnsResult(t *testing.T) {
	ctx := testContext(t)
	entry := func(ctx context.Context, c *engine.Context) {
		var role string
		if err := c.Window().DecodeInitData(&role); err != nil || role != "dialog" {
			return
		}
		visible := event.NewGate()
		c.Window().OnVisibilityChanged(func(v bool) {
			if v {
				visible.Fire(nil)
			}
		})
		if err := c.Window().ReadyToShow(ctx); err != nil {
			return
		}
		if err := visible.Wait(ctx); err != nil {
			return
		}
		_ = c.Window().CloseWithResult(ctx, map[string]string{"answer": "ok"})
	}
	h := shelltest.New(t, shelltest.WithEntry(entry))
	root, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	var result json.RawMessage
	err = root.Run(ctx, func(ctx context.Context) error {
		dialog, err := root.Manager().CreateWindow(ctx, "dialog")
		if err != nil {
			return err
		}
		result, err = dialog.ShowModal(ctx)
		return err
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"ok"}`, string(result))
}

func TestAutoSelectPopup(t *testing.T) {
	ctx := testContext(t)
	pick := func(_ types.WindowHandle, desc types.MenuDescription) (string, bool) {
		return desc.Items[0].ID, true
	}
	h := shelltest.New(t, shelltest.WithShellOptions(shell.WithAutoSelect(pick)))
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	ran := false
	var resp types.PopupMenuResponse
	err = c.Run(ctx, func(ctx context.Context) error {
		menu := c.Manager().NewMenu("",
			window.MenuItem{ID: "copy", Title: "Copy", Action: func(context.Context) { ran = true }},
			window.MenuItem{ID: "paste", Title: "Paste"},
		)
		var err error
		resp, err = c.Window().ShowPopupMenu(ctx, menu, types.PopupMenuRequest{})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, types.PopupMenuResponse{ItemSelected: true, ItemID: "copy"}, resp)
	assert.True(t, ran)
	assert.Zero(t, h.Shell.MenuCount())
}

func TestSelectPopupItemErrors(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, h.Shell.SelectPopupItem(ctx, c.Handle(), "x"), shell.ErrNoPopup)
	assert.ErrorIs(t, h.Shell.DismissPopup(ctx, c.Handle()), shell.ErrNoPopup)
	assert.ErrorIs(t, h.Shell.RequestClose(ctx, 999), shell.ErrUnknownWindow)
}

func TestMenuDestroyIsIdempotent(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	err = c.Run(ctx, func(ctx context.Context) error {
		menu := c.Manager().NewMenu("File", window.MenuItem{ID: "open", Title: "Open"})
		handle, err := menu.Materialize(ctx)
		if err != nil {
			return err
		}
		desc, ok := h.Shell.Menu(handle)
		if !ok || desc.Title != "File" {
			return errors.New("menu not materialized in shell")
		}
		if err := menu.Unmaterialize(ctx); err != nil {
			return err
		}
		_, err = c.Dispatcher().Invoke(ctx, types.ChannelMenuManager, types.ShellHandle,
			types.MethodMenuDestroy, types.MenuHandleMessage{Handle: handle})
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, h.Shell.MenuCount())
}

func TestMenusFreedWithOwner(t *testing.T) {
	ctx := testContext(t)
	h := shelltest.New(t)
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	err = c.Run(ctx, func(ctx context.Context) error {
		_, err := c.Manager().NewMenu("Edit", window.MenuItem{ID: "undo", Title: "Undo"}).Materialize(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.Shell.MenuCount())

	require.NoError(t, h.Shell.RequestClose(ctx, c.Handle()))
	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("context did not stop")
	}
	assert.Zero(t, h.Shell.MenuCount())
}
