// Package transport moves envelopes between execution contexts.
//
// A Transport connects endpoints (one per execution context, addressed by a
// window handle; the shell uses types.ShellHandle). Handlers are bound per
// (channel, target window) pair to the endpoint that serves them, so a call
// addressed to a window reaches whichever context answers that channel for
// it.
//
// Guarantees:
//   - envelopes from one sender to one endpoint are delivered in send order
//   - a call produces at most one reply
//   - receivers are invoked synchronously and must not block
//
// Hub is the in-process implementation. The ws subpackage carries the same
// envelopes over a websocket for contexts living in another OS process.
package transport
