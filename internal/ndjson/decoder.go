package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"cariusb-relay/internal/domain"
)

type wireEvent struct {
	Type    json.RawMessage `json:"type"`
	Delta   json.RawMessage `json:"delta"`
	Code    json.RawMessage `json:"code"`
	Message json.RawMessage `json:"message"`
	Payload json.RawMessage `json:"payload"`
	Usage   json.RawMessage `json:"usage"`
}

// ParseLine convierte una linea en un evento. Nunca falla: una linea que no es
// JSON produce MalformedEvent y un JSON sin variante reconocible UnknownEvent.
func ParseLine(line []byte) domain.Event {
	line = bytes.TrimSpace(line)
	if !json.Valid(line) {
		return domain.MalformedEvent{Line: string(line)}
	}
	raw := append([]byte(nil), line...)

	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return domain.UnknownEvent{Raw: raw}
	}
	kind := stringField(w.Type)
	unknown := domain.UnknownEvent{Kind: kind, Raw: raw}

	switch domain.EventType(kind) {
	case domain.EventText:
		delta := stringField(w.Delta)
		if delta == "" {
			return unknown
		}
		return domain.TextEvent{Delta: delta}
	case domain.EventDone:
		var usage *domain.TokenUsage
		if len(w.Usage) > 0 {
			var u domain.TokenUsage
			if err := json.Unmarshal(w.Usage, &u); err == nil {
				usage = &u
			}
		}
		return domain.DoneEvent{Usage: usage}
	case domain.EventError:
		code := stringField(w.Code)
		if code == "" {
			code = string(domain.CodeUnknown)
		}
		return domain.ErrorEvent{Code: domain.ErrorCode(code), Message: stringField(w.Message)}
	case domain.EventAgent:
		p := bytes.TrimSpace(w.Payload)
		if len(p) == 0 || bytes.Equal(p, []byte("null")) {
			return unknown
		}
		return domain.AgentEvent{Payload: json.RawMessage(append([]byte(nil), p...))}
	}
	return unknown
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Decoder lee eventos de un stream NDJSON de forma incremental.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next devuelve el siguiente evento, saltando lineas en blanco. Al terminar el
// stream devuelve io.EOF; una ultima linea sin '\n' se entrega igualmente.
func (d *Decoder) Next() (domain.Event, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			return ParseLine(trimmed), nil
		}
		if err != nil {
			return nil, err
		}
	}
}
