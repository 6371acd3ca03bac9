package service

import (
	"errors"
	"fmt"

	"cariusb-relay/internal/domain"
)

var (
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	ErrInvalidToken  = errors.New("invalid access token")
	ErrNoUpstream    = errors.New("upstream not configured")
)

// Error lleva un codigo canonico desde validacion, seleccion o uso hasta el
// handler, que lo emite como evento de error.
type Error struct {
	Code   domain.ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Event devuelve el evento terminal que representa al error.
func (e *Error) Event() domain.ErrorEvent {
	return domain.ErrorEvent{Code: e.Code, Message: e.Reason}
}

func newError(code domain.ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// ErrorEventFrom convierte cualquier error en un evento terminal. Los errores
// sin codigo se reportan como unknown.
func ErrorEventFrom(err error) domain.ErrorEvent {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Event()
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return domain.ErrorEvent{Code: domain.CodeUnknown, Message: msg}
}
