package window

import "errors"

// State is a window lifecycle state as observed by one context.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateHidden
	StateVisible
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateHidden:
		return "hidden"
	case StateVisible:
		return "visible"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Visibility is what a context last learned about a window's visibility.
type Visibility int

const (
	VisibilityUnknown Visibility = iota
	VisibilityVisible
	VisibilityHidden
)

// ErrWindowClosed is returned by waits that can no longer complete because
// the window closed.
var ErrWindowClosed = errors.New("window closed")
