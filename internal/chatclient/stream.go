package chatclient

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"cariusb-relay/internal/domain"
	"cariusb-relay/internal/ndjson"
)

// Stream es un iterador pull sobre los eventos de un turno. Es finito y no se
// puede reiniciar. Close puede llamarse desde otra goroutine mientras Next
// esta bloqueado.
type Stream struct {
	client *Client
	body   []byte
	ctx    context.Context
	cancel context.CancelFunc

	// Solo los usa la goroutine que llama Next.
	state    state
	budget   int
	attempts int
	pending  []domain.Event
	finished bool
	dec      *ndjson.Decoder

	mu      sync.Mutex
	closed  bool
	resp    *http.Response
	release context.CancelCauseFunc
}

// Next devuelve el proximo evento en orden de llegada. Despues de un evento
// terminal, o de Close, devuelve false.
func (s *Stream) Next() (domain.Event, bool) {
	for {
		if s.isClosed() {
			s.finish()
			return nil, false
		}
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			if domain.IsTerminal(ev) {
				s.finish()
			}
			return ev, true
		}
		if s.finished {
			return nil, false
		}

		switch s.state {
		case stateAttempting:
			s.runAttempt()
		case stateRetrying:
			s.wait()
		case stateSucceeded:
			s.readEvent()
		case stateFailed:
			s.finish()
		}
	}
}

// All adapta el Stream a un range-over-func. Cortar el loop cierra el Stream.
func (s *Stream) All() iter.Seq[domain.Event] {
	return func(yield func(domain.Event) bool) {
		defer s.Close()
		for {
			ev, ok := s.Next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Close aborta el turno: cancela la llamada en curso y libera el body.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.releaseBody()
}

// Attempts devuelve cuantos POST se hicieron hasta ahora.
func (s *Stream) Attempts() int {
	return s.attempts
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) runAttempt() {
	s.attempts++
	res := s.client.attempt(s.ctx, s.body)
	if res.aborted {
		s.finish()
		return
	}

	next := transition(s.state, res.outcome, s.budget)
	switch next {
	case stateSucceeded:
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			res.resp.Body.Close()
			res.release(nil)
			s.finish()
			return
		}
		s.resp = res.resp
		s.release = res.release
		s.mu.Unlock()
		s.dec = ndjson.NewDecoder(res.resp.Body)
	case stateRetrying:
		s.budget--
		s.client.logger.Info("retrying chat request",
			zap.Int("attempt", s.attempts),
			zap.String("code", string(res.event.Code)),
			zap.String("reason", res.event.Message),
		)
		s.pending = append(s.pending, retryNotice(res.outcome))
	case stateFailed:
		s.pending = append(s.pending, res.event)
	}
	s.state = next
}

func (s *Stream) wait() {
	if d := s.client.cfg.RetryBackoff; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
			s.finish()
			return
		case <-t.C:
		}
	}
	if s.ctx.Err() != nil {
		s.finish()
		return
	}
	s.state = transition(s.state, outcomeBackoffDone, s.budget)
}

// readEvent decodifica una linea del body y la encola segun su variante.
func (s *Stream) readEvent() {
	ev, err := s.dec.Next()
	if errors.Is(err, io.EOF) {
		s.pending = append(s.pending, domain.DoneEvent{})
		return
	}
	if err != nil {
		if s.ctx.Err() != nil {
			s.finish()
			return
		}
		s.pending = append(s.pending, domain.ErrorEvent{Code: domain.CodeUnknown, Message: err.Error()})
		return
	}

	switch e := ev.(type) {
	case domain.TextEvent, domain.DoneEvent, domain.ErrorEvent, domain.AgentEvent:
		s.pending = append(s.pending, e)
	case domain.MalformedEvent:
		s.pending = append(s.pending, domain.TextEvent{Delta: e.Line + "\n"})
	case domain.UnknownEvent:
		s.client.logger.Debug("skipping unknown event", zap.String("type", e.Kind))
	}
}

func (s *Stream) finish() {
	if s.finished {
		return
	}
	s.finished = true
	s.pending = nil
	s.state = stateFailed
	s.releaseBody()
}

func (s *Stream) releaseBody() {
	s.mu.Lock()
	resp, release := s.resp, s.release
	s.resp, s.release = nil, nil
	s.mu.Unlock()
	if resp != nil {
		resp.Body.Close()
	}
	if release != nil {
		release(nil)
	}
}
