package stickyapp

import (
	"encoding/json"
)

// Result is the outcome of a command: either the decoded inner object, or
// the raw text (with a diagnostic appended when decoding failed).
type Result struct {
	object  map[string]any
	text    string
	decoded bool
}

// Decoded wraps a successfully decoded reply object.
func Decoded(obj map[string]any) Result {
	return Result{object: obj, decoded: true}
}

// Failed wraps raw response text that could not be decoded.
func Failed(text string) Result {
	return Result{text: text}
}

// IsDecoded reports whether the response decoded into an object.
func (r Result) IsDecoded() bool { return r.decoded }

// Object returns the decoded reply, or nil.
func (r Result) Object() map[string]any { return r.object }

// Text returns the raw failure text, or "" for decoded results.
func (r Result) Text() string { return r.text }

// OK reports whether the reply decoded and its status is true. A missing
// or non-boolean status counts as failure.
func (r Result) OK() bool {
	if !r.decoded {
		return false
	}
	status, _ := r.object["status"].(bool)
	return status
}

// StatusMessage returns the reply's status_message, if any.
func (r Result) StatusMessage() string {
	msg, _ := r.object["status_message"].(string)
	return msg
}

// Value returns the reply's numeric value, if present.
func (r Result) Value() (float64, bool) {
	v, ok := r.object["value"].(float64)
	return v, ok
}

// String renders the result for logs.
func (r Result) String() string {
	if !r.decoded {
		return r.text
	}
	b, err := json.Marshal(r.object)
	if err != nil {
		return "<unprintable reply>"
	}
	return string(b)
}
