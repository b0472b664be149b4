// Package window is the client-facing API of an execution context: handles
// to windows anywhere in the shell, the window owned by the context, menus
// and custom method handlers.
//
// A Manager exists per execution context. It keeps exactly one Window per
// live handle and drives each Window's state from the shell's event
// broadcasts:
//
//	Created -> Initialized -> Visible/Hidden -> Closing -> Closed
//
// Every method may be called from any goroutine. Calls made on the context's
// run loop wait cooperatively, so the context keeps serving incoming calls
// while an operation is outstanding.
package window
