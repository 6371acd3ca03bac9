package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"cariusb-relay/internal/domain"
)

const (
	// DefaultTimeout aplica cuando REQUEST_TIMEOUT_MS no esta configurado.
	DefaultTimeout = 40 * time.Second
	// SecretHeader lleva el secreto compartido cuando no es usuario:password.
	SecretHeader = "x-webhook-secret"

	rateLimitMarker = "limit_exceeded"
	maxErrorBody    = 64 << 10
	errorPreviewLen = 500
)

// ErrTimeout es la causa de cancelacion cuando vence el deadline.
var ErrTimeout = errors.New("upstream deadline exceeded")

// Client reenvia turnos de chat al webhook upstream. No reintenta.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewClient construye el transporte. El timeout se aplica por llamada hasta
// recibir los headers; httpClient no debe tener Timeout propio porque cortaria
// el streaming del body.
func NewClient(httpClient *http.Client, timeout time.Duration, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{httpClient: httpClient, timeout: timeout, logger: logger}
}

// Timeout devuelve el deadline efectivo por llamada.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Forward envia req a target y clasifica el resultado. Siempre devuelve un
// Outcome; en caso de exito el llamador debe invocar Close.
func (c *Client) Forward(ctx context.Context, target domain.UpstreamTarget, req domain.ChatRequest) *Outcome {
	req.DomainMode = domain.NormalizeDomainMode(string(req.DomainMode))
	body, err := json.Marshal(req)
	if err != nil {
		return &Outcome{Kind: OutcomeEncodingFailure, Message: "Failed to serialize request body", Err: err}
	}

	callCtx, cancel := context.WithCancelCause(ctx)
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		cancel(nil)
		return &Outcome{Kind: OutcomeNetworkFailure, Message: "Failed to build upstream request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyAuth(httpReq, target.AuthSecret)

	c.logger.Debug("upstream request",
		zap.String("mode", string(req.DomainMode)),
		zap.String("host", hostOf(target.URL)),
		zap.Bool("basic_auth", target.UsesBasicAuth()),
		zap.Int("body_bytes", len(body)),
	)

	start := time.Now()
	timer := time.AfterFunc(c.timeout, func() { cancel(ErrTimeout) })
	resp, err := c.httpClient.Do(httpReq)
	inTime := timer.Stop()
	if err != nil {
		timedOut := errors.Is(context.Cause(callCtx), ErrTimeout)
		cancel(nil)
		if timedOut {
			return &Outcome{Kind: OutcomeTimeout, Message: "Request timed out", Err: err}
		}
		msg := "Failed to connect to upstream service"
		if ctx.Err() == nil {
			msg = err.Error()
		}
		return &Outcome{Kind: OutcomeNetworkFailure, Message: msg, Err: err}
	}
	if !inTime {
		resp.Body.Close()
		cancel(nil)
		return &Outcome{Kind: OutcomeTimeout, Message: "Request timed out", Err: ErrTimeout}
	}

	c.logger.Debug("upstream response",
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.Duration("latency", time.Since(start)),
	)

	release := func() {
		resp.Body.Close()
		cancel(nil)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Outcome{Kind: OutcomeSuccess, StatusCode: resp.StatusCode, Response: resp, release: release}
	}
	defer release()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return classifyStatus(resp.StatusCode, raw)
}

func classifyStatus(status int, raw []byte) *Outcome {
	text := string(raw)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Outcome{Kind: OutcomeAuthFailure, StatusCode: status, Body: text, Message: "Authorization failed - check webhook secret"}
	case status == http.StatusTooManyRequests || strings.Contains(text, rateLimitMarker):
		return &Outcome{Kind: OutcomeRateLimited, StatusCode: status, Body: text}
	default:
		msg := bodyPreview(raw, errorPreviewLen)
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", status)
		}
		return &Outcome{Kind: OutcomeHTTPError, StatusCode: status, Body: text, Message: msg}
	}
}

// applyAuth usa Basic si el secreto contiene ':' (se corta en el primero);
// si no, manda el secreto crudo en SecretHeader.
func applyAuth(req *http.Request, secret string) {
	if user, pass, ok := strings.Cut(secret, ":"); ok {
		req.SetBasicAuth(user, pass)
		return
	}
	req.Header.Set(SecretHeader, secret)
}

func bodyPreview(raw []byte, maxLen int) string {
	clean := strings.Join(strings.Fields(string(raw)), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
