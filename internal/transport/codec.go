package transport

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// Marshal encodes a payload. A nil value encodes to an empty payload and a
// json.RawMessage is passed through untouched.
func Marshal(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	data, err := api.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a payload into v. An empty payload leaves v untouched.
func Unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 || v == nil {
		return nil
	}
	if err := api.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// EncodeEnvelope serializes an envelope for stream transports.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	data, err := api.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses an envelope read from a stream transport.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := api.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}
