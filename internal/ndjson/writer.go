package ndjson

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"cariusb-relay/internal/domain"
)

// ContentType es el content-type canonico del stream de eventos.
const ContentType = "application/x-ndjson; charset=utf-8"

// Encode serializa un evento como una linea NDJSON terminada en '\n'.
func Encode(e domain.Event) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	switch ev := e.(type) {
	case nil:
		return nil, fmt.Errorf("encode event: nil event")
	case domain.UnknownEvent:
		b = ev.Raw
	case domain.MalformedEvent:
		b, err = json.Marshal(domain.TextEvent{Delta: ev.Line})
	default:
		b, err = json.Marshal(ev)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type(), err)
	}
	return append(b, '\n'), nil
}

// Writer escribe eventos o bytes crudos y hace flush despues de cada escritura
// cuando el destino lo soporta.
type Writer struct {
	w        io.Writer
	flusher  http.Flusher
	written  int64
	lastByte byte
}

func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// WriteEvent escribe e en su propia linea.
func (w *Writer) WriteEvent(e domain.Event) error {
	line, err := Encode(e)
	if err != nil {
		return err
	}
	if err := w.EnsureLineBreak(); err != nil {
		return err
	}
	_, err = w.Write(line)
	return err
}

// Write reenvia bytes sin reencuadre (passthrough).
func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := w.w.Write(p)
	w.written += int64(n)
	if n > 0 {
		w.lastByte = p[n-1]
	}
	if err != nil {
		return n, err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return n, nil
}

// EnsureLineBreak cierra una linea parcial para que el proximo evento quede
// en una linea propia.
func (w *Writer) EnsureLineBreak() error {
	if w.written == 0 || w.lastByte == '\n' {
		return nil
	}
	_, err := w.Write([]byte{'\n'})
	return err
}

// Started indica si ya se escribio algun byte.
func (w *Writer) Started() bool {
	return w.written > 0
}
