package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

// Kind classifies a failed call.
type Kind string

const (
	KindNoHandler     Kind = "NoHandler"
	KindInvalidTarget Kind = "InvalidTarget"
	KindSerialization Kind = "SerializationError"
	KindTransport     Kind = "TransportError"
	KindCanceled      Kind = "Canceled"
	KindHandler       Kind = "HandlerError"
	KindNotAvailable  Kind = "NotAvailable"
)

// Error is returned by every failed call.
type Error struct {
	Kind    Kind
	Message string
	Channel string
	Method  string
	Err     error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNoHandler     = &Error{Kind: KindNoHandler}
	ErrInvalidTarget = &Error{Kind: KindInvalidTarget}
	ErrSerialization = &Error{Kind: KindSerialization}
	ErrTransport     = &Error{Kind: KindTransport}
	ErrCanceled      = &Error{Kind: KindCanceled}
	ErrHandler       = &Error{Kind: KindHandler}
	ErrNotAvailable  = &Error{Kind: KindNotAvailable}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Channel != "" || e.Method != "" {
		msg = fmt.Sprintf("%s %s.%s", msg, e.Channel, e.Method)
	}
	switch {
	case e.Message != "":
		msg += ": " + e.Message
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Channel == "" && t.Method == ""
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an error of the given kind. Handlers return it to answer a
// call with a specific kind instead of HandlerError.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err, or "" when err is not a dispatch error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "unknown"
}

// fromTransport maps a transport failure onto a dispatch error.
func fromTransport(err error, channel, method string) *Error {
	kind := KindTransport
	switch {
	case errors.Is(err, transport.ErrUnknownTarget):
		kind = KindInvalidTarget
	case errors.Is(err, transport.ErrNoRoute):
		kind = KindNoHandler
	}
	return &Error{Kind: kind, Channel: channel, Method: method, Err: err}
}

func fromContext(err error, channel, method string) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindCanceled, Channel: channel, Method: method, Message: "deadline exceeded", Err: err}
	}
	return &Error{Kind: KindCanceled, Channel: channel, Method: method, Err: err}
}

// fromPayload rebuilds a remote error.
func fromPayload(p *transport.ErrorPayload, channel, method string) *Error {
	kind := Kind(p.Kind)
	if kind == "" {
		kind = KindHandler
	}
	return &Error{Kind: kind, Channel: channel, Method: method, Message: p.Message}
}

// toPayload converts a handler error to its wire form.
func toPayload(err error) *transport.ErrorPayload {
	var de *Error
	if errors.As(err, &de) {
		msg := de.Message
		if msg == "" && de.Err != nil {
			msg = de.Err.Error()
		}
		return &transport.ErrorPayload{Kind: string(de.Kind), Message: msg}
	}
	return &transport.ErrorPayload{Kind: string(KindHandler), Message: err.Error()}
}
