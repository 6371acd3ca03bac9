package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"cariusb-relay/internal/domain"
	"cariusb-relay/internal/ndjson"
	"cariusb-relay/internal/upstream"
)

// Forwarder es el transporte hacia el webhook; *upstream.Client lo implementa.
type Forwarder interface {
	Forward(ctx context.Context, target domain.UpstreamTarget, req domain.ChatRequest) *upstream.Outcome
}

// Turn es un turno validado y autorizado, listo para reenviar.
type Turn struct {
	Request  domain.ChatRequest
	Identity domain.Identity
	Plan     domain.Plan
	Target   domain.UpstreamTarget
}

func (t Turn) Deepsearch() bool {
	return t.Request.Deepsearch == domain.DeepsearchOn
}

// RelayResult describe como termino un turno.
type RelayResult struct {
	Turn     Turn
	Terminal domain.Event
	Outcome  upstream.OutcomeKind
	Err      error
}

// Completed indica si el turno termino en done.
func (r RelayResult) Completed() bool {
	_, ok := r.Terminal.(domain.DoneEvent)
	return ok
}

// RelayService orquesta validacion, identidad, limites, seleccion, transporte
// y normalizacion de un turno de chat.
type RelayService struct {
	logger     *zap.Logger
	selector   *UpstreamSelector
	transport  Forwarder
	normalizer *Normalizer
	identity   *JWTService
	limiter    RateLimiter
	usage      *UsageService
}

func NewRelayService(
	logger *zap.Logger,
	selector *UpstreamSelector,
	transport Forwarder,
	normalizer *Normalizer,
	identity *JWTService,
	limiter RateLimiter,
	usage *UsageService,
) *RelayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = NewNormalizer(DefaultTokenDelay, logger)
	}
	return &RelayService{
		logger:     logger,
		selector:   selector,
		transport:  transport,
		normalizer: normalizer,
		identity:   identity,
		limiter:    limiter,
		usage:      usage,
	}
}

// Prepare valida el cuerpo y aplica identidad, rate limit, cuota y seleccion
// de upstream. clientIP separa el cupo de las llamadas anonimas. Los errores
// son *Error con codigo canonico.
func (s *RelayService) Prepare(ctx context.Context, raw []byte, authorization, clientIP string) (Turn, error) {
	req, err := ValidateChatRequest(raw)
	if err != nil {
		return Turn{}, err
	}
	id, err := s.identity.ResolveIdentity(authorization, req)
	if err != nil {
		return Turn{}, err
	}
	if s.limiter != nil && !s.limiter.Allow(id.RateLimitKey(clientIP)) {
		return Turn{}, newError(domain.CodeLimitExceeded, ErrRateLimited.Error(), ErrRateLimited)
	}

	plan := s.usage.ResolvePlan(ctx, id, req.UserPlan)
	if id.Verified {
		req.UserID = id.UserID
		req.UserPlan = plan
	}
	turn := Turn{Request: req, Identity: id, Plan: plan}
	if err := s.usage.Check(ctx, id, plan, turn.Deepsearch()); err != nil {
		return Turn{}, err
	}

	if s.selector == nil {
		return Turn{}, newError(domain.CodeEnvMissing, "Environment variables are missing or invalid", ErrNoUpstream)
	}
	target, err := s.selector.Resolve(req.DomainMode)
	if err != nil {
		return Turn{}, err
	}
	turn.Target = target
	turn.Request.DomainMode = target.Mode
	return turn, nil
}

// Relay reenvia el turno y escribe el stream canonico en w. Siempre escribe
// exactamente un evento terminal salvo que el cliente se haya ido.
func (s *RelayService) Relay(ctx context.Context, turn Turn, w *ndjson.Writer) RelayResult {
	res := RelayResult{Turn: turn}
	out := s.transport.Forward(ctx, turn.Target, turn.Request)
	defer out.Close()
	res.Outcome = out.Kind

	if !out.OK() {
		ev := out.ErrorEvent()
		res.Err = out.Err
		if ctx.Err() != nil {
			return res
		}
		s.logger.Error("upstream call failed",
			zap.String("outcome", out.Kind.String()),
			zap.Int("status", out.StatusCode),
			zap.String("mode", string(turn.Target.Mode)),
			zap.Error(out.Err),
		)
		if err := w.WriteEvent(ev); err == nil {
			res.Terminal = ev
		}
		return res
	}

	norm := s.normalizer.Normalize(ctx, out.Response, w)
	res.Terminal = norm.Terminal
	res.Err = norm.Err
	if res.Completed() {
		s.usage.RecordAsync(turn.Identity, turn.Plan, turn.Deepsearch())
	}
	return res
}

// Handle ejecuta Prepare y Relay, escribiendo el error de preparacion como
// evento terminal.
func (s *RelayService) Handle(ctx context.Context, raw []byte, authorization, clientIP string, w *ndjson.Writer) RelayResult {
	turn, err := s.Prepare(ctx, raw, authorization, clientIP)
	if err != nil {
		ev := ErrorEventFrom(err)
		s.logPrepareError(ev, err)
		res := RelayResult{Err: err}
		if werr := w.WriteEvent(ev); werr == nil {
			res.Terminal = ev
		}
		return res
	}
	return s.Relay(ctx, turn, w)
}

func (s *RelayService) logPrepareError(ev domain.ErrorEvent, err error) {
	fields := []zap.Field{zap.String("code", string(ev.Code)), zap.String("reason", ev.Message), zap.Error(errors.Unwrap(err))}
	switch ev.Code {
	case domain.CodeInvalidRequest, domain.CodeLimitExceeded:
		s.logger.Warn("chat turn rejected", fields...)
	default:
		s.logger.Error("chat turn rejected", fields...)
	}
}
