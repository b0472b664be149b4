package types

// WindowFrame selects the window decorations.
type WindowFrame string

const (
	FrameRegular WindowFrame = "regular"
	FrameNoTitle WindowFrame = "noTitle"
	FrameNoFrame WindowFrame = "noFrame"
)

// WindowStyle is the setStyle payload.
type WindowStyle struct {
	Frame         WindowFrame `json:"frame"`
	CanResize     bool        `json:"canResize"`
	CanClose      bool        `json:"canClose"`
	CanMinimize   bool        `json:"canMinimize"`
	CanFullScreen bool        `json:"canFullScreen"`
}

// DefaultWindowStyle matches a freshly created window.
func DefaultWindowStyle() WindowStyle {
	return WindowStyle{
		Frame:         FrameRegular,
		CanResize:     true,
		CanClose:      true,
		CanMinimize:   true,
		CanFullScreen: true,
	}
}
