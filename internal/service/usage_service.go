package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"cariusb-relay/internal/domain"
	"cariusb-relay/internal/repository"
)

const recordTimeout = 5 * time.Second

// UsageSnapshot es el estado de cuota que ve el cliente.
type UsageSnapshot struct {
	Plan           domain.Plan       `json:"plan"`
	Limits         domain.PlanLimits `json:"limits"`
	MessagesUsed   int               `json:"messages_used"`
	DeepsearchUsed int               `json:"deepsearch_used"`
	LastReset      *time.Time        `json:"last_reset,omitempty"`
	ResetsAt       *time.Time        `json:"resets_at,omitempty"`
	Enforced       bool              `json:"enforced"`
}

// UsageService aplica los limites por plan sobre user_usage. Un servicio nil
// (sin base de datos) permite todo y no registra nada.
type UsageService struct {
	usage    repository.UsageRepository
	profiles repository.ProfileRepository
	enforced bool
	logger   *zap.Logger
	now      func() time.Time
	pending  sync.WaitGroup
}

func NewUsageService(usage repository.UsageRepository, profiles repository.ProfileRepository, enforced bool, logger *zap.Logger) *UsageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageService{
		usage:    usage,
		profiles: profiles,
		enforced: enforced,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ResolvePlan decide el plan efectivo. Los usuarios verificados usan
// profiles.plan (free si falta o es invalido); los no verificados nunca
// superan free; los invitados siempre son guest.
func (s *UsageService) ResolvePlan(ctx context.Context, id domain.Identity, declared domain.Plan) domain.Plan {
	if id.IsGuest() {
		return domain.PlanGuest
	}
	if !id.Verified {
		if declared == domain.PlanPro || !declared.Valid() {
			return domain.PlanFree
		}
		return declared
	}
	if s == nil || s.profiles == nil {
		return domain.PlanFree
	}
	plan, err := s.profiles.GetPlan(ctx, id.UserID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("profile plan lookup failed", zap.String("user_id", id.UserID), zap.Error(err))
		}
		return domain.PlanFree
	}
	if !plan.Valid() {
		return domain.PlanFree
	}
	return plan
}

// Check rechaza el turno cuando la cuota diaria esta agotada. Errores de la
// base se registran y dejan pasar.
func (s *UsageService) Check(ctx context.Context, id domain.Identity, plan domain.Plan, deepsearch bool) error {
	if s == nil || !s.enforced || s.usage == nil {
		return nil
	}
	usage, ok := s.current(ctx, id)
	if !ok {
		return nil
	}
	limits := domain.LimitsFor(plan)
	if usage.MessagesUsed >= limits.MessagesPerDay {
		return newError(domain.CodeLimitExceeded, "messages", ErrQuotaExceeded)
	}
	if deepsearch && usage.DeepsearchUsed >= limits.DeepsearchPerDay {
		return newError(domain.CodeLimitExceeded, "deepsearch", ErrQuotaExceeded)
	}
	return nil
}

// current devuelve el uso vigente; una ventana vencida cuenta como cero.
func (s *UsageService) current(ctx context.Context, id domain.Identity) (domain.Usage, bool) {
	usage, err := s.usage.Find(ctx, id)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) && !errors.Is(err, repository.ErrNoOwner) {
			s.logger.Warn("usage lookup failed", zap.String("identity", id.Key()), zap.Error(err))
		}
		return domain.Usage{}, false
	}
	if usage.NeedsReset(s.now()) {
		return domain.Usage{}, false
	}
	return usage, true
}

// Record suma un turno completado, reiniciando la ventana si vencio.
func (s *UsageService) Record(ctx context.Context, id domain.Identity, plan domain.Plan, deepsearch bool) error {
	if s == nil || s.usage == nil {
		return nil
	}
	if strings.TrimSpace(id.UserID) == "" && strings.TrimSpace(id.GuestID) == "" {
		return nil
	}
	return s.usage.Increment(ctx, repository.UsageIncrement{
		UserID:     id.UserID,
		GuestID:    ownerGuestID(id),
		Plan:       plan,
		Deepsearch: deepsearch,
		At:         s.now(),
	})
}

// RecordAsync registra el turno sin bloquear la respuesta.
func (s *UsageService) RecordAsync(id domain.Identity, plan domain.Plan, deepsearch bool) {
	if s == nil || s.usage == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := s.Record(ctx, id, plan, deepsearch); err != nil {
			s.logger.Warn("usage record failed", zap.String("identity", id.Key()), zap.Error(err))
		}
	}()
}

// Wait espera los registros pendientes; se usa al apagar el servidor.
func (s *UsageService) Wait() {
	if s == nil {
		return
	}
	s.pending.Wait()
}

func (s *UsageService) Snapshot(ctx context.Context, id domain.Identity, plan domain.Plan) UsageSnapshot {
	snap := UsageSnapshot{Plan: plan, Limits: domain.LimitsFor(plan)}
	if s == nil || s.usage == nil {
		return snap
	}
	snap.Enforced = s.enforced
	usage, ok := s.current(ctx, id)
	if !ok {
		return snap
	}
	lastReset := usage.LastReset
	resetsAt := lastReset.Add(domain.UsageWindow)
	snap.MessagesUsed = usage.MessagesUsed
	snap.DeepsearchUsed = usage.DeepsearchUsed
	snap.LastReset = &lastReset
	snap.ResetsAt = &resetsAt
	return snap
}

// Las filas de usuarios no guardan guest_id: una fila pertenece a uno solo.
func ownerGuestID(id domain.Identity) string {
	if strings.TrimSpace(id.UserID) != "" {
		return ""
	}
	return id.GuestID
}
