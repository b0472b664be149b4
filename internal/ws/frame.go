package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

// FrameType discriminates frames.
type FrameType string

const (
	FrameWelcome   FrameType = "welcome"
	FrameAck       FrameType = "ack"
	FrameAttach    FrameType = "attach"
	FrameDetach    FrameType = "detach"
	FrameBind      FrameType = "bind"
	FrameUnbind    FrameType = "unbind"
	FrameSend      FrameType = "send"
	FrameBroadcast FrameType = "broadcast"
	FrameEnvelope  FrameType = "envelope"
	FrameHost      FrameType = "host"
	FrameLaunch    FrameType = "launch"
)

// Frame is one websocket message.
type Frame struct {
	Type       FrameType           `json:"type"`
	Seq        uint64              `json:"seq,omitempty"`
	Handle     types.WindowHandle  `json:"handle,omitempty"`
	Parent     types.WindowHandle  `json:"parent,omitempty"`
	Channel    string              `json:"channel,omitempty"`
	Target     types.WindowHandle  `json:"target,omitempty"`
	Envelope   *transport.Envelope `json:"envelope,omitempty"`
	InitData   json.RawMessage     `json:"initData,omitempty"`
	Connection string              `json:"connection,omitempty"`
	Code       string              `json:"code,omitempty"`
	Error      string              `json:"error,omitempty"`
}

var codec = sonic.ConfigStd

func encodeFrame(f *Frame) ([]byte, error) {
	data, err := codec.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := codec.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, errors.New("decode frame: missing type")
	}
	return &f, nil
}

// Error codes carried by acks so hub errors keep their identity across the
// connection.
const (
	codeUnknownTarget = "unknown_target"
	codeNoRoute       = "no_route"
	codeNotAttached   = "not_attached"
	codeClosed        = "closed"
	codeFailed        = "failed"
)

var codeErrors = map[string]error{
	codeUnknownTarget: transport.ErrUnknownTarget,
	codeNoRoute:       transport.ErrNoRoute,
	codeNotAttached:   transport.ErrNotAttached,
	codeClosed:        transport.ErrClosed,
}

func ackFor(seq uint64, err error) *Frame {
	ack := &Frame{Type: FrameAck, Seq: seq}
	if err == nil {
		return ack
	}
	ack.Code = codeFailed
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			ack.Code = code
			break
		}
	}
	ack.Error = err.Error()
	return ack
}

// ackError rebuilds the error an ack reports.
func ackError(ack *Frame) error {
	if ack.Code == "" {
		return nil
	}
	if sentinel, ok := codeErrors[ack.Code]; ok {
		return fmt.Errorf("remote: %w", sentinel)
	}
	return fmt.Errorf("remote: %s", ack.Error)
}
