package shell

import (
	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
)

// nativeWindow is the shell-side state of a window. Geometry is kept in
// content coordinates; frame values are derived from the decorations.
type nativeWindow struct {
	handle types.WindowHandle
	parent types.WindowHandle

	title string
	style types.WindowStyle

	origin      types.Point
	size        types.Size
	minSize     *types.Size
	maxSize     *types.Size
	titleBar    float64
	visible     bool
	ready       bool
	showPending bool
	modalReply  dispatch.Reply
	menu        types.MenuHandle
	popup       *popup
}

type popup struct {
	menu  types.MenuHandle
	reply dispatch.Reply
}

func newNativeWindow(handle, parent types.WindowHandle, cfg config.ShellConfig) *nativeWindow {
	offset := float64((int64(handle)-1)%10) * 24
	return &nativeWindow{
		handle:   handle,
		parent:   parent,
		style:    types.DefaultWindowStyle(),
		origin:   types.Point{X: 80 + offset, Y: 80 + offset},
		size:     types.Size{Width: cfg.DefaultWidth, Height: cfg.DefaultHeight},
		titleBar: cfg.TitleBarHeight,
	}
}

func (w *nativeWindow) modal() bool {
	return w.modalReply != nil
}

// decoration is the height the frame adds above the content.
func (w *nativeWindow) decoration() float64 {
	if w.style.Frame == types.FrameRegular {
		return w.titleBar
	}
	return 0
}

func (w *nativeWindow) supported() types.GeometryFlags {
	if w.modal() {
		return types.AllGeometryFlags &^ (types.FlagFrameOrigin | types.FlagContentOrigin)
	}
	return types.AllGeometryFlags
}

// apply sets the fields of g, which must already be filtered by preference,
// and reports which were honored. Modal windows are positioned by their
// parent so origins are ignored.
func (w *nativeWindow) apply(g types.Geometry) types.GeometryFlags {
	var flags types.GeometryFlags
	deco := w.decoration()
	modal := w.modal()

	if g.FrameOrigin != nil && !modal {
		w.origin = types.Point{X: g.FrameOrigin.X, Y: g.FrameOrigin.Y + deco}
		flags |= types.FlagFrameOrigin
	}
	if g.FrameSize != nil {
		w.size = shrink(*g.FrameSize, deco)
		flags |= types.FlagFrameSize
	}
	if g.ContentOrigin != nil && !modal {
		w.origin = *g.ContentOrigin
		flags |= types.FlagContentOrigin
	}
	if g.ContentSize != nil {
		w.size = *g.ContentSize
		flags |= types.FlagContentSize
	}
	if g.MinFrameSize != nil {
		lo := shrink(*g.MinFrameSize, deco)
		w.minSize = &lo
		flags |= types.FlagMinFrameSize
	}
	if g.MaxFrameSize != nil {
		hi := shrink(*g.MaxFrameSize, deco)
		w.maxSize = &hi
		flags |= types.FlagMaxFrameSize
	}
	if g.MinContentSize != nil {
		lo := *g.MinContentSize
		w.minSize = &lo
		flags |= types.FlagMinContentSize
	}
	if g.MaxContentSize != nil {
		hi := *g.MaxContentSize
		w.maxSize = &hi
		flags |= types.FlagMaxContentSize
	}
	w.clamp()
	return flags
}

func (w *nativeWindow) clamp() {
	if w.minSize != nil {
		w.size.Width = max(w.size.Width, w.minSize.Width)
		w.size.Height = max(w.size.Height, w.minSize.Height)
	}
	if w.maxSize != nil {
		if w.maxSize.Width > 0 {
			w.size.Width = min(w.size.Width, w.maxSize.Width)
		}
		if w.maxSize.Height > 0 {
			w.size.Height = min(w.size.Height, w.maxSize.Height)
		}
	}
}

func (w *nativeWindow) geometry() types.Geometry {
	deco := w.decoration()
	contentOrigin := w.origin
	contentSize := w.size
	frameOrigin := types.Point{X: w.origin.X, Y: w.origin.Y - deco}
	frameSize := grow(w.size, deco)

	g := types.Geometry{
		FrameOrigin:   &frameOrigin,
		FrameSize:     &frameSize,
		ContentOrigin: &contentOrigin,
		ContentSize:   &contentSize,
	}
	if w.minSize != nil {
		minContent := *w.minSize
		minFrame := grow(minContent, deco)
		g.MinContentSize, g.MinFrameSize = &minContent, &minFrame
	}
	if w.maxSize != nil {
		maxContent := *w.maxSize
		maxFrame := grow(maxContent, deco)
		g.MaxContentSize, g.MaxFrameSize = &maxContent, &maxFrame
	}
	return g
}

func (w *nativeWindow) info() types.WindowInfo {
	return types.WindowInfo{
		Handle:      w.handle,
		Parent:      w.parent,
		Title:       w.title,
		Visible:     w.visible,
		ReadyToShow: w.ready,
		Modal:       w.modal(),
		Style:       w.style,
		Geometry:    w.geometry(),
		Menu:        w.menu,
	}
}

func shrink(s types.Size, deco float64) types.Size {
	return types.Size{Width: s.Width, Height: max(s.Height-deco, 0)}
}

func grow(s types.Size, deco float64) types.Size {
	return types.Size{Width: s.Width, Height: s.Height + deco}
}
