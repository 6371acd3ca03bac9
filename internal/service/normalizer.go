package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"cariusb-relay/internal/domain"
	"cariusb-relay/internal/ndjson"
)

// DefaultTokenDelay separa los deltas sintetizados a partir de una respuesta JSON.
const DefaultTokenDelay = 10 * time.Millisecond

const maxJSONBody = 8 << 20

// ErrBodyTooLarge indica una respuesta JSON que supera el limite de lectura.
var ErrBodyTooLarge = errors.New("upstream response body too large")

// Campos donde el webhook deja la respuesta del agente, en orden de prioridad.
var messageFields = []string{"messages_aiagent", "message", "text", "content"}

// NormalizeResult resume lo que se escribio al cliente.
type NormalizeResult struct {
	// Terminal es el evento terminal observado o emitido; nil si el cliente se
	// fue antes o si el upstream cerro un stream NDJSON sin terminal.
	Terminal    domain.Event
	Passthrough bool
	Tokens      int
	Err         error
}

// Normalizer convierte la respuesta exitosa del upstream al stream canonico.
type Normalizer struct {
	tokenDelay time.Duration
	maxBody    int64
	logger     *zap.Logger
}

func NewNormalizer(tokenDelay time.Duration, logger *zap.Logger) *Normalizer {
	if tokenDelay < 0 {
		tokenDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{tokenDelay: tokenDelay, maxBody: maxJSONBody, logger: logger}
}

// Normalize escribe en w los eventos de resp. Un fallo interno termina con
// stream_error y sin done; una cancelacion de ctx corta sin escribir nada mas.
func (n *Normalizer) Normalize(ctx context.Context, resp *http.Response, w *ndjson.Writer) (res NormalizeResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("normalizer panic: %v", r)
			n.logger.Error("normalizer panic", zap.Any("panic", r))
			res.Err = err
			if ctx.Err() == nil {
				ev := domain.ErrorEvent{Code: domain.CodeStreamError, Message: err.Error()}
				if w.WriteEvent(ev) == nil {
					res.Terminal = ev
				}
			}
		}
	}()

	if resp == nil || resp.Body == nil {
		return n.fail(ctx, w, res, errors.New("No reader available"))
	}
	if isNDJSON(resp.Header.Get("Content-Type")) {
		return n.passthrough(ctx, resp.Body, w)
	}
	return n.fromJSON(ctx, resp.Body, w)
}

func isNDJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "ndjson")
}

func (n *Normalizer) passthrough(ctx context.Context, body io.Reader, w *ndjson.Writer) NormalizeResult {
	res := NormalizeResult{Passthrough: true}
	var lines ndjson.LineBuffer
	observe := func(line []byte) {
		if res.Terminal != nil {
			return
		}
		if ev := ndjson.ParseLine(line); domain.IsTerminal(ev) {
			res.Terminal = ev
		}
	}

	buf := make([]byte, 32*1024)
	for {
		nr, err := body.Read(buf)
		if nr > 0 {
			if _, werr := w.Write(buf[:nr]); werr != nil {
				res.Err = werr
				return res
			}
			lines.Feed(buf[:nr], observe)
		}
		if errors.Is(err, io.EOF) {
			lines.Flush(observe)
			return res
		}
		if err != nil {
			return n.fail(ctx, w, res, err)
		}
	}
}

func (n *Normalizer) fromJSON(ctx context.Context, body io.Reader, w *ndjson.Writer) NormalizeResult {
	var res NormalizeResult
	raw, err := io.ReadAll(io.LimitReader(body, n.maxBody+1))
	if err != nil {
		return n.fail(ctx, w, res, err)
	}
	if int64(len(raw)) > n.maxBody {
		return n.fail(ctx, w, res, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, n.maxBody))
	}

	switch {
	case len(bytes.TrimSpace(raw)) == 0:
	case !gjson.ValidBytes(raw):
		if err := w.WriteEvent(domain.TextEvent{Delta: string(raw)}); err != nil {
			res.Err = err
			return res
		}
		res.Tokens = 1
	default:
		for i, tok := range SplitTokens(extractMessage(raw)) {
			if i > 0 && !sleepCtx(ctx, n.tokenDelay) {
				res.Err = ctx.Err()
				return res
			}
			if err := w.WriteEvent(domain.TextEvent{Delta: tok}); err != nil {
				res.Err = err
				return res
			}
			res.Tokens++
		}
	}

	done := domain.DoneEvent{}
	if err := w.WriteEvent(done); err != nil {
		res.Err = err
		return res
	}
	res.Terminal = done
	return res
}

func (n *Normalizer) fail(ctx context.Context, w *ndjson.Writer, res NormalizeResult, err error) NormalizeResult {
	res.Err = err
	if ctx.Err() != nil {
		return res
	}
	n.logger.Warn("upstream body read failed", zap.Error(err))
	ev := domain.ErrorEvent{Code: domain.CodeStreamError, Message: err.Error()}
	if w.WriteEvent(ev) == nil {
		res.Terminal = ev
	}
	return res
}

// extractMessage devuelve el primer string no vacio entre messageFields.
func extractMessage(raw []byte) string {
	for _, field := range messageFields {
		if r := gjson.GetBytes(raw, field); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}

// SplitTokens corta s en corridas alternadas de espacio y no espacio,
// conservando los separadores. Concatenar el resultado devuelve s.
func SplitTokens(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if i == start {
			continue
		}
		prev, _ := utf8.DecodeLastRuneInString(s[:i])
		if unicode.IsSpace(prev) != unicode.IsSpace(r) {
			out = append(out, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
