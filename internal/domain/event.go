package domain

import "encoding/json"

type EventType string

const (
	EventText  EventType = "text"
	EventDone  EventType = "done"
	EventError EventType = "error"
	EventAgent EventType = "agent"
)

// Event es la unidad canonica del stream NDJSON. Cada variante es un tipo
// propio; los consumidores usan un type switch.
type Event interface {
	Type() EventType
	isEvent()
}

type TextEvent struct {
	Delta string
}

type TokenUsage struct {
	Tokens *int `json:"tokens,omitempty"`
}

type DoneEvent struct {
	Usage *TokenUsage
}

// ErrorEvent es terminal salvo cuando Transient es true: el lector del
// cliente lo emite como aviso antes de reintentar y nunca viaja por la red.
type ErrorEvent struct {
	Code      ErrorCode
	Message   string
	Transient bool
}

type AgentEvent struct {
	Payload json.RawMessage
}

// UnknownEvent es JSON valido con un type desconocido o incompleto.
type UnknownEvent struct {
	Kind string
	Raw  []byte
}

// MalformedEvent es una linea que no es JSON.
type MalformedEvent struct {
	Line string
}

func (TextEvent) Type() EventType      { return EventText }
func (DoneEvent) Type() EventType      { return EventDone }
func (ErrorEvent) Type() EventType     { return EventError }
func (AgentEvent) Type() EventType     { return EventAgent }
func (e UnknownEvent) Type() EventType { return EventType(e.Kind) }
func (MalformedEvent) Type() EventType { return "" }

func (TextEvent) isEvent()      {}
func (DoneEvent) isEvent()      {}
func (ErrorEvent) isEvent()     {}
func (AgentEvent) isEvent()     {}
func (UnknownEvent) isEvent()   {}
func (MalformedEvent) isEvent() {}

// IsTerminal indica si ningun evento puede seguir a e.
func IsTerminal(e Event) bool {
	switch ev := e.(type) {
	case DoneEvent:
		return true
	case ErrorEvent:
		return !ev.Transient
	}
	return false
}

func (e TextEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  EventType `json:"type"`
		Delta string    `json:"delta"`
	}{EventText, e.Delta})
}

func (e DoneEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  EventType   `json:"type"`
		Usage *TokenUsage `json:"usage,omitempty"`
	}{EventDone, e.Usage})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Code    ErrorCode `json:"code"`
		Message string    `json:"message,omitempty"`
	}{EventError, e.Code, e.Message})
}

func (e AgentEvent) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Type    EventType       `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{EventAgent, payload})
}
