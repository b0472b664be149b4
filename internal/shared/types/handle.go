package types

import "strconv"

// WindowHandle identifies a window within one shell process.
type WindowHandle int64

const (
	// InvalidWindowHandle denotes "no window".
	InvalidWindowHandle WindowHandle = -1
	// ShellHandle addresses the shell endpoint itself.
	ShellHandle WindowHandle = 0
)

// IsValid reports whether h can refer to a window.
func (h WindowHandle) IsValid() bool {
	return h > ShellHandle
}

func (h WindowHandle) String() string {
	switch h {
	case InvalidWindowHandle:
		return "window(invalid)"
	case ShellHandle:
		return "shell"
	}
	return "window(" + strconv.FormatInt(int64(h), 10) + ")"
}

// MenuHandle identifies a menu materialized by the shell.
type MenuHandle int64

// InvalidMenuHandle is never allocated by the shell.
const InvalidMenuHandle MenuHandle = 0

// IsValid reports whether h was allocated by the shell.
func (h MenuHandle) IsValid() bool {
	return h > InvalidMenuHandle
}
