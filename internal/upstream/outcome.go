package upstream

import (
	"net/http"

	"cariusb-relay/internal/domain"
)

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeAuthFailure
	OutcomeRateLimited
	OutcomeHTTPError
	OutcomeTimeout
	OutcomeNetworkFailure
	OutcomeEncodingFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeNetworkFailure:
		return "network_failure"
	case OutcomeEncodingFailure:
		return "encoding_failure"
	}
	return "unknown"
}

// Outcome es el resultado clasificado de una llamada upstream.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       string
	Message    string
	Err        error
	// Response solo esta presente en OutcomeSuccess y pertenece al Outcome
	// hasta que se llama Close.
	Response *http.Response
	release  func()
}

func (o *Outcome) OK() bool {
	return o != nil && o.Kind == OutcomeSuccess
}

// Close libera el body y el contexto de la llamada. Es idempotente.
func (o *Outcome) Close() {
	if o == nil || o.release == nil {
		return
	}
	o.release()
	o.release = nil
}

// ErrorEvent mapea la clasificacion a su codigo canonico.
func (o *Outcome) ErrorEvent() domain.ErrorEvent {
	switch o.Kind {
	case OutcomeAuthFailure:
		return domain.ErrorEvent{Code: domain.CodeUpstreamAuthError, Message: o.Message}
	case OutcomeRateLimited:
		return domain.ErrorEvent{Code: domain.CodeLimitExceeded, Message: o.Message}
	case OutcomeHTTPError:
		return domain.ErrorEvent{Code: domain.CodeUpstreamError, Message: o.Message}
	case OutcomeTimeout:
		return domain.ErrorEvent{Code: domain.CodeUpstreamTimeout, Message: o.Message}
	case OutcomeNetworkFailure:
		return domain.ErrorEvent{Code: domain.CodeUpstreamFailed, Message: o.Message}
	case OutcomeEncodingFailure:
		return domain.ErrorEvent{Code: domain.CodeInvalidRequest, Message: o.Message}
	}
	return domain.ErrorEvent{Code: domain.CodeUnknown, Message: o.Message}
}
