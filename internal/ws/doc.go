// Package ws carries the window transport over websocket connections.
//
// The Bridge runs next to the in-process hub and lets remote execution
// contexts take part in routing: a connection attaches endpoints, binds
// channels and exchanges envelopes exactly like an in-process context.
// The Client is the remote half and implements transport.Transport, so an
// engine started on it cannot tell the difference.
//
// Every frame a peer sends that expects an answer carries a sequence number
// and is answered by an ack frame with the same number.
//
// Frame Types (Client → Bridge):
//   - attach, detach: endpoint registration
//   - bind, unbind: channel routes served by an attached endpoint
//   - send, broadcast: envelopes routed by the hub
//   - host: offer to start execution contexts for new windows
//
// Frame Types (Bridge → Client):
//   - welcome: connection id
//   - envelope: an envelope delivered to an endpoint of the connection
//   - launch: start a context for a window (host connections only)
//
// Example Usage:
//
//	bridge := ws.NewBridge(hub, cfg.Bridge, ws.WithLogger(logger))
//	router.GET("/stream", bridge.HandleConnection)
package ws
