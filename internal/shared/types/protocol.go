package types

// Channel names.
const (
	// ChannelWindowManager carries calls from a context to the shell about a
	// window. createWindow is addressed to ShellHandle.
	ChannelWindowManager = "winshell/window-manager"
	// ChannelMenuManager carries menu materialization calls to the shell.
	ChannelMenuManager = "winshell/menu-manager"
	// ChannelWindowEvents carries shell broadcasts about a window.
	ChannelWindowEvents = "winshell/window-events"
	// ChannelWindowMethod carries custom calls between contexts.
	ChannelWindowMethod = "winshell/window-method"
)

// Window manager methods.
const (
	MethodCreateWindow      = "createWindow"
	MethodShow              = "show"
	MethodShowModal         = "showModal"
	MethodClose             = "close"
	MethodHide              = "hide"
	MethodSetGeometry       = "setGeometry"
	MethodGetGeometry       = "getGeometry"
	MethodSupportedGeometry = "supportedGeometry"
	MethodSetTitle          = "setTitle"
	MethodSetStyle          = "setStyle"
	MethodReadyToShow       = "readyToShow"
	MethodShowPopupMenu     = "showPopupMenu"
	MethodHidePopupMenu     = "hidePopupMenu"
	MethodShowSystemMenu    = "showSystemMenu"
	MethodSetWindowMenu     = "setWindowMenu"
	MethodPerformWindowDrag = "performWindowDrag"
	MethodCloseWithResult   = "closeWithResult"
)

// Menu manager methods.
const (
	MethodMenuCreate  = "menu.create"
	MethodMenuDestroy = "menu.destroy"
)

// Window events.
const (
	EventInitialize        = "initialize"
	EventVisibilityChanged = "visibilityChanged"
	EventCloseRequest      = "closeRequest"
	EventClose             = "close"
)

// MenuHandleMessage names a materialized menu. It is the menu.create reply
// and the menu.destroy, setWindowMenu and hidePopupMenu payload.
type MenuHandleMessage struct {
	Handle MenuHandle `json:"handle"`
}

// TitleMessage is the setTitle payload.
type TitleMessage struct {
	Title string `json:"title"`
}
