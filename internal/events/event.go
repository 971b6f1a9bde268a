// Package events implements durable, segmented event storage and the engine
// that batches tracked events into sealed segments and uploads them.
package events

import (
	"strings"
	"time"

	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

const (
	definitionPrefix = "eventDefinitions/"
	// MessageKey is the payload field holding the caller's message.
	MessageKey = "message"
)

// Event is immutable once appended to storage.
type Event struct {
	Definition string       `json:"eventDefinition"`
	Time       time.Time    `json:"eventTime"`
	Payload    value.Struct `json:"payload"`
}

// NewEvent captures name, message and the evaluation context at emission
// time. The payload is the context with the message nested under "message",
// so keys inside the message never collide with context keys.
func NewEvent(name string, message, evalCtx value.Struct, at time.Time) Event {
	payload := evalCtx.Clone()
	payload[MessageKey] = value.FromStruct(message)

	return Event{
		Definition: definitionPrefix + name,
		Time:       at.UTC(),
		Payload:    payload,
	}
}

// Name strips the definition prefix.
func (e Event) Name() string {
	return strings.TrimPrefix(e.Definition, definitionPrefix)
}

// Message returns the nested message, or an empty struct.
func (e Event) Message() value.Struct {
	if v, ok := e.Payload.Get(MessageKey); ok {
		if s, ok := v.AsStruct(); ok {
			return s
		}
	}
	return value.Struct{}
}
