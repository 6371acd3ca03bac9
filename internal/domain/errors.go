package domain

// ErrorCode es el codigo canonico que viaja en los eventos de error.
type ErrorCode string

const (
	CodeInvalidRequest    ErrorCode = "invalid_request"
	CodeEnvMissing        ErrorCode = "ENV_MISSING"
	CodeUpstreamAuthError ErrorCode = "UPSTREAM_AUTH_ERROR"
	CodeLimitExceeded     ErrorCode = "limit_exceeded"
	CodeUpstreamError     ErrorCode = "upstream_error"
	CodeUpstreamFailed    ErrorCode = "UPSTREAM_FAILED"
	// CodeUpstreamUnavailable es la forma que ve el cliente cuando un proxy
	// intermedio responde 502.
	CodeUpstreamUnavailable ErrorCode = "upstream_failed"
	CodeUpstreamTimeout     ErrorCode = "upstream_timeout"
	CodeStreamError         ErrorCode = "stream_error"
	CodeUnknown             ErrorCode = "unknown"
)
