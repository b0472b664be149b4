// Package types defines the value types shared by every layer of the shell.
//
// Identity:
//   - WindowHandle: opaque window identity, InvalidWindowHandle means "no window"
//   - MenuHandle: identity of a menu materialized on the shell side
//
// Wire payloads:
//   - Geometry, GeometryRequest, GeometryFlags: geometry negotiation
//   - WindowStyle: frame and capability flags
//   - MenuDescription: declarative menu tree sent on materialization
//   - PopupMenuRequest, PopupMenuResponse: popup tracking
//   - CreateWindowRequest, CreateWindowResponse, WindowInfo
//
// All payloads are plain JSON-tagged structs so any codec in the transport
// layer can carry them.
package types
