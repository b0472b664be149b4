package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

// Call is an incoming call or event as seen by a handler.
type Call struct {
	Channel string
	Method  string
	Source  types.WindowHandle
	Target  types.WindowHandle
	Args    json.RawMessage
	// Event is set for broadcasts and posts, which get no reply.
	Event bool

	deferred bool
	once     sync.Once
	respond  func(result any, err error)
}

// Reply answers a deferred call. Only the first invocation has an effect.
type Reply func(result any, err error)

// Defer detaches the reply from the handler's return value. The handler's
// result is ignored and the caller keeps waiting until the returned Reply is
// invoked, from any goroutine. Deferring an event returns a no-op Reply.
func (c *Call) Defer() Reply {
	c.deferred = true
	return func(result any, err error) {
		c.once.Do(func() {
			if c.respond != nil {
				c.respond(result, err)
			}
		})
	}
}

// Decode unmarshals the call arguments into v.
func (c *Call) Decode(v any) error {
	if err := transport.Unmarshal(c.Args, v); err != nil {
		return &Error{Kind: KindSerialization, Channel: c.Channel, Method: c.Method, Err: err}
	}
	return nil
}

// Handler serves every call on one channel of an execution context. Its
// result is encoded as the reply payload.
type Handler func(ctx context.Context, call *Call) (any, error)

type noTimeoutKey struct{}

// NoTimeout marks ctx so the dispatcher's default timeout is not applied.
// Used for calls that wait on the user, such as modal windows and popups.
func NoTimeout(ctx context.Context) context.Context {
	return context.WithValue(ctx, noTimeoutKey{}, true)
}

func timeoutDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noTimeoutKey{}).(bool)
	return v
}

type lateReplyKey struct{}

// OnLateReply marks ctx so that fn receives the result of a call that the
// caller abandoned, if a successful reply still arrives. Callers use it to
// release what the remote side allocated on their behalf. fn runs on its own
// goroutine.
func OnLateReply(ctx context.Context, fn func(result json.RawMessage)) context.Context {
	return context.WithValue(ctx, lateReplyKey{}, fn)
}

func lateReplyHook(ctx context.Context) func(json.RawMessage) {
	fn, _ := ctx.Value(lateReplyKey{}).(func(json.RawMessage))
	return fn
}

// Decode unmarshals a reply payload into a T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := transport.Unmarshal(payload, &v); err != nil {
		return v, &Error{Kind: KindSerialization, Err: err}
	}
	return v, nil
}
