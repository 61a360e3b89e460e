// Package events defines the chat events exchanged between connected clients
// and the broadcast hub, along with their JSON wire encoding.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire tags for the known event kinds.
const (
	TypeMessage = "Message"
)

// ErrUnknownType is wrapped by a DecodeError when the "type" tag names an
// event kind this build does not know about.
var ErrUnknownType = errors.New("unknown event type")

// ErrMissingField is wrapped by a DecodeError when a required field is absent.
var ErrMissingField = errors.New("missing required field")

// ChatEvent is a closed set of event kinds. Only types in this package
// implement it.
type ChatEvent interface {
	// EventType returns the wire tag of the event.
	EventType() string
	chatEvent()
}

// Message is a single chat line sent by a user.
type Message struct {
	User    string `json:"user"`
	Content string `json:"content"`
}

// EventType implements ChatEvent.
func (Message) EventType() string { return TypeMessage }

func (Message) chatEvent() {}

// String renders the message the way a chat log would show it.
func (m Message) String() string {
	return m.User + ": " + m.Content
}

// DecodeError reports a frame that could not be turned into a ChatEvent.
// The connection that produced it may or may not survive, depending on the
// relay's decode policy.
type DecodeError struct {
	// Raw is the offending frame, kept for logging.
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// envelope is the on-the-wire shape used by Encode.
type envelope struct {
	Type    string `json:"type"`
	User    string `json:"user"`
	Content string `json:"content"`
}

// Decode parses a raw text frame into a ChatEvent. Keys are matched exactly;
// a key that only differs in case counts as missing.
func Decode(raw []byte) (ChatEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}

	tag, err := stringField(fields, "type")
	if err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}

	switch tag {
	case TypeMessage:
		user, err := stringField(fields, "user")
		if err != nil {
			return nil, &DecodeError{Raw: raw, Err: err}
		}
		content, err := stringField(fields, "content")
		if err != nil {
			return nil, &DecodeError{Raw: raw, Err: err}
		}
		return Message{User: user, Content: content}, nil
	default:
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: %q", ErrUnknownType, tag)}
	}
}

// stringField returns the string stored under exactly key. Absent and null
// values are ErrMissingField.
func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	v, ok := fields[key]
	if !ok || string(v) == "null" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("field %s: %w", key, err)
	}
	return s, nil
}

// Encode serializes an event into its wire form.
func Encode(ev ChatEvent) ([]byte, error) {
	switch e := ev.(type) {
	case Message:
		return json.Marshal(envelope{Type: TypeMessage, User: e.User, Content: e.Content})
	case *Message:
		if e == nil {
			return nil, errors.New("encode event: nil *Message")
		}
		return Encode(*e)
	default:
		return nil, fmt.Errorf("encode event: unsupported type %T", ev)
	}
}
