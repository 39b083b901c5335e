package messages

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gas/internal/services"
)

// envelope is the outer wrapper every message travels in. Publishers write
// the "default" form; fan-out topics deliver the same string under "Message".
type envelope struct {
	Default *string `json:"default,omitempty"`
	Message *string `json:"Message,omitempty"`
}

// maxUnwrap bounds how many envelope layers Decode peels off.
const maxUnwrap = 3

// Encode marshals payload and wraps it as {"default": "<payload json>"}.
func Encode(payload any) ([]byte, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	text := string(inner)
	return json.Marshal(envelope{Default: &text})
}

// Decode unwraps body and unmarshals the inner payload into out. Bodies that
// are not valid envelopes or whose payload does not decode are validation
// errors so the consumer dead-letters them.
func Decode(body []byte, out any) error {
	inner, err := Unwrap(body)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(inner))
	if err := dec.Decode(out); err != nil {
		return services.Wrap(services.ErrValidation, "messages", "decode", "payload is not valid JSON", err)
	}
	return nil
}

// Unwrap returns the inner payload bytes of an envelope. Envelopes nested by
// topic fan-out ({"Message": "{\"default\": ...}"}) are peeled until the
// payload itself is reached.
func Unwrap(body []byte) ([]byte, error) {
	current := bytes.TrimSpace(body)
	for depth := 0; ; depth++ {
		var env envelope
		if err := json.Unmarshal(current, &env); err != nil {
			if depth == 0 {
				return nil, services.Wrap(services.ErrValidation, "messages", "unwrap", "body is not a JSON object", err)
			}
			return current, nil
		}
		var next *string
		switch {
		case env.Default != nil:
			next = env.Default
		case env.Message != nil:
			next = env.Message
		}
		if next == nil {
			if depth == 0 {
				return nil, services.Wrap(services.ErrValidation, "messages", "unwrap", `envelope has no "default" field`, nil)
			}
			return current, nil
		}
		if depth == maxUnwrap {
			return nil, services.Wrap(services.ErrValidation, "messages", "unwrap", "envelope nested too deeply", nil)
		}
		current = bytes.TrimSpace([]byte(*next))
	}
}
