package conversation

import (
	"context"
	"iter"

	"cariusb-relay/internal/domain"
)

// Recorder vuelca los eventos de un turno en la conversacion: crea el mensaje
// de asistente vacio y le va concatenando los deltas.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record consume events en orden hasta el primer evento terminal y lo
// devuelve. onEvent, si no es nil, ve cada evento antes de persistirlo. Si el
// stream termina sin evento terminal (turno abortado) devuelve nil. Un error
// del store corta el consumo.
func (r *Recorder) Record(ctx context.Context, convID string, events iter.Seq[domain.Event], onEvent func(domain.Event)) (domain.Event, error) {
	if err := r.store.BeginAssistant(ctx, convID); err != nil {
		return nil, err
	}
	for ev := range events {
		if onEvent != nil {
			onEvent(ev)
		}
		if text, ok := ev.(domain.TextEvent); ok {
			if err := r.store.AppendDelta(ctx, convID, text.Delta); err != nil {
				return nil, err
			}
			continue
		}
		if domain.IsTerminal(ev) {
			return ev, nil
		}
	}
	return nil, nil
}
