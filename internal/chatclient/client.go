package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cariusb-relay/internal/domain"
	"cariusb-relay/internal/ndjson"
)

const (
	DefaultTimeout      = 40 * time.Second
	DefaultRetryBackoff = time.Second
	DefaultMaxRetries   = 1
)

var errAttemptTimeout = errors.New("chat request deadline exceeded")

// Config configura el cliente de streaming.
type Config struct {
	Endpoint    string
	AccessToken string
	// Timeout cubre la espera de los headers de cada intento.
	Timeout      time.Duration
	RetryBackoff time.Duration
	MaxRetries   int
	HTTPClient   *http.Client
}

// DefaultConfig devuelve la configuración estandar para endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:     endpoint,
		Timeout:      DefaultTimeout,
		RetryBackoff: DefaultRetryBackoff,
		MaxRetries:   DefaultMaxRetries,
	}
}

// Client consume el endpoint de chat del relay.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Stream inicia un turno. Los eventos se obtienen con Next o All; el Stream
// debe cerrarse si no se consume hasta el final.
func (c *Client) Stream(ctx context.Context, req domain.ChatRequest) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		client: c,
		ctx:    ctx,
		cancel: cancel,
		state:  stateAttempting,
		budget: c.cfg.MaxRetries,
	}
	body, err := json.Marshal(req)
	if err != nil {
		s.state = stateFailed
		s.pending = append(s.pending, domain.ErrorEvent{Code: domain.CodeInvalidRequest, Message: err.Error()})
		return s
	}
	s.body = body
	return s
}

// attemptResult es lo que devuelve un intento al Stream.
type attemptResult struct {
	outcome outcome
	event   domain.ErrorEvent
	resp    *http.Response
	release context.CancelCauseFunc
	aborted bool
}

// attempt hace un POST desde cero. El timer se detiene al recibir headers.
func (c *Client) attempt(ctx context.Context, body []byte) attemptResult {
	callCtx, cancel := context.WithCancelCause(ctx)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		cancel(nil)
		return attemptResult{outcome: outcomeFatal, event: domain.ErrorEvent{Code: domain.CodeUnknown, Message: err.Error()}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	if c.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	timer := time.AfterFunc(c.cfg.Timeout, func() { cancel(errAttemptTimeout) })
	resp, err := c.http.Do(req)
	inTime := timer.Stop()
	if err != nil {
		timedOut := errors.Is(context.Cause(callCtx), errAttemptTimeout)
		cancel(nil)
		switch {
		case timedOut:
			return attemptResult{outcome: outcomeTimeout, event: c.timeoutEvent()}
		case ctx.Err() != nil:
			return attemptResult{aborted: true}
		default:
			return attemptResult{outcome: outcomeFatal, event: domain.ErrorEvent{Code: domain.CodeUnknown, Message: err.Error()}}
		}
	}
	if !inTime {
		resp.Body.Close()
		cancel(nil)
		return attemptResult{outcome: outcomeTimeout, event: c.timeoutEvent()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return attemptResult{outcome: outcomeAccepted, resp: resp, release: cancel}
	}
	defer func() {
		resp.Body.Close()
		cancel(nil)
	}()
	return classifyFailure(resp)
}

// classifyFailure busca un evento de error en el body de una respuesta no 2xx.
// Solo un upstream_failed explicito con 502 se reintenta.
func classifyFailure(resp *http.Response) attemptResult {
	dec := ndjson.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err != nil {
			break
		}
		errEv, ok := ev.(domain.ErrorEvent)
		if !ok {
			continue
		}
		if errEv.Message == "" {
			errEv.Message = "Unknown error"
		}
		if errEv.Code == domain.CodeUpstreamUnavailable && resp.StatusCode == http.StatusBadGateway {
			return attemptResult{outcome: outcomeUnavailable, event: errEv}
		}
		return attemptResult{outcome: outcomeFatal, event: errEv}
	}
	return attemptResult{outcome: outcomeFatal, event: statusEvent(resp.StatusCode)}
}

func statusEvent(status int) domain.ErrorEvent {
	code := domain.CodeUnknown
	switch status {
	case http.StatusBadRequest:
		code = domain.CodeInvalidRequest
	case http.StatusTooManyRequests:
		code = domain.CodeLimitExceeded
	case http.StatusBadGateway:
		code = domain.CodeUpstreamUnavailable
	}
	return domain.ErrorEvent{Code: code, Message: fmt.Sprintf("HTTP %d", status)}
}

func (c *Client) timeoutEvent() domain.ErrorEvent {
	return domain.ErrorEvent{Code: domain.CodeUpstreamTimeout, Message: "Request timed out after " + formatTimeout(c.cfg.Timeout)}
}

func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

func retryNotice(o outcome) domain.ErrorEvent {
	msg := "Request timed out, retrying..."
	if o == outcomeUnavailable {
		msg = "Service temporarily unavailable, retrying..."
	}
	return domain.ErrorEvent{Code: domain.CodeUpstreamTimeout, Message: msg, Transient: true}
}
