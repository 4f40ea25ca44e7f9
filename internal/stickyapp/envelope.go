// Package stickyapp drives one simulated user's session against the
// stickyapp encrypted-computation service.
package stickyapp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action names a session command.
type Action string

// Session actions understood by the service.
const (
	ActionEncrypt  Action = "encrypt"
	ActionMean     Action = "mean"
	ActionShutdown Action = "shutdown"
)

// Command is one unit of work sent to an open session.
type Command struct {
	Action Action  `json:"action"`
	Value  float64 `json:"value"`
}

// Envelope is the request body: the payload JSON-encoded as a string.
type Envelope struct {
	Message string `json:"message"`
}

// ServerEnvelope is the response body. Message holds the JSON of a Reply
// when Status is true, or an error text otherwise.
type ServerEnvelope struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"sessionid,omitempty"`
}

// Reply is the inner result of a command.
type Reply struct {
	Status        bool     `json:"status"`
	StatusMessage string   `json:"status_message"`
	Value         *float64 `json:"value,omitempty"`
}

// ErrNotObject is returned by Unwrap when the message is valid JSON but
// not an object.
var ErrNotObject = errors.New("message is not a JSON object")

// Wrap encodes payload into the two-layer request body
// {"message": "<json of payload>"}.
func Wrap(payload any) ([]byte, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return json.Marshal(Envelope{Message: string(inner)})
}

// UnwrapRequest decodes a request body produced by Wrap into v.
func UnwrapRequest(body []byte, v any) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	if err := json.Unmarshal([]byte(env.Message), v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// Unwrap decodes a response body: the outer JSON object, then its
// "message" string as a JSON object.
func Unwrap(body []byte) (map[string]any, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, err
	}

	raw, ok := outer["message"]
	if !ok {
		return nil, errors.New(`missing "message" field`)
	}

	var message string
	if err := json.Unmarshal(raw, &message); err != nil {
		return nil, fmt.Errorf(`"message" is not a string: %w`, err)
	}

	var inner any
	if err := json.Unmarshal([]byte(message), &inner); err != nil {
		return nil, err
	}
	obj, ok := inner.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}
