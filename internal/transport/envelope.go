package transport

import (
	"encoding/json"
	"errors"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
)

// Kind discriminates envelopes.
type Kind string

const (
	KindCall  Kind = "call"
	KindReply Kind = "reply"
	KindEvent Kind = "event"
)

// ErrorPayload is the wire form of a failed reply.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Envelope is the unit carried by every transport.
type Envelope struct {
	Kind    Kind               `json:"kind"`
	ID      uint64             `json:"id,omitempty"`
	Channel string             `json:"channel"`
	Source  types.WindowHandle `json:"source"`
	Target  types.WindowHandle `json:"target"`
	Method  string             `json:"method,omitempty"`
	Payload json.RawMessage    `json:"payload,omitempty"`
	Error   *ErrorPayload      `json:"error,omitempty"`
	Trace   string             `json:"trace,omitempty"`
	Span    string             `json:"span,omitempty"`
}

// Receiver consumes envelopes delivered to an endpoint. It must not block.
type Receiver func(env *Envelope)

// Transport errors. Dispatchers translate them into dispatch error kinds.
var (
	ErrUnknownTarget = errors.New("transport: unknown target")
	ErrNoRoute       = errors.New("transport: no handler bound for channel")
	ErrNotAttached   = errors.New("transport: endpoint not attached")
	ErrClosed        = errors.New("transport: closed")
)

// Transport is the bidirectional, ordered conduit between endpoints.
type Transport interface {
	// Attach registers the receiver for an endpoint.
	Attach(endpoint types.WindowHandle, recv Receiver) error
	// Detach removes an endpoint and every binding it serves.
	Detach(endpoint types.WindowHandle)
	// Bind routes calls on channel addressed to target to endpoint.
	Bind(channel string, target, endpoint types.WindowHandle) error
	// Unbind removes a route.
	Unbind(channel string, target types.WindowHandle)
	// Send delivers a call, reply or event to its target.
	Send(env *Envelope) error
	// Broadcast delivers an event to every endpoint serving its channel.
	Broadcast(env *Envelope) error
}
