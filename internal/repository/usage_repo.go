package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cariusb-relay/internal/domain"
)

// ErrNoOwner indica una identidad sin user_id ni guest_id.
var ErrNoOwner = errors.New("usage owner missing")

// UsageRepository persiste los contadores diarios de user_usage. Una fila
// pertenece a un user_id o a un guest_id.
type UsageRepository interface {
	Find(ctx context.Context, id domain.Identity) (domain.Usage, error)
	// Increment suma un turno en una sola sentencia: crea la fila si falta y
	// reinicia los contadores si la ventana vencio.
	Increment(ctx context.Context, inc UsageIncrement) error
}

// UsageIncrement es un turno completado. Deepsearch indica si sumar tambien
// al contador de deepsearch.
type UsageIncrement struct {
	UserID     string
	GuestID    string
	Plan       domain.Plan
	Deepsearch bool
	At         time.Time
}

type PgUsageRepository struct {
	pool *pgxpool.Pool
}

func NewPgUsageRepository(pool *pgxpool.Pool) *PgUsageRepository {
	return &PgUsageRepository{pool: pool}
}

// ownerColumn elige la columna de busqueda; los usuarios tienen prioridad.
func ownerColumn(userID, guestID string) (string, string, error) {
	if id := strings.TrimSpace(userID); id != "" {
		return "user_id", id, nil
	}
	if id := strings.TrimSpace(guestID); id != "" {
		return "guest_id", id, nil
	}
	return "", "", ErrNoOwner
}

// Find devuelve pgx.ErrNoRows si la identidad todavia no tiene fila.
func (r *PgUsageRepository) Find(ctx context.Context, id domain.Identity) (domain.Usage, error) {
	col, val, err := ownerColumn(id.UserID, id.GuestID)
	if err != nil {
		return domain.Usage{}, err
	}
	query := `
		SELECT user_id, guest_id, plan, messages_used, deepsearch_used, last_reset
		FROM user_usage
		WHERE ` + col + ` = $1
		LIMIT 1
	`
	var (
		u               domain.Usage
		userID, guestID *string
		plan            *string
		messages, deeps *int
		lastReset       *time.Time
	)
	err = r.pool.QueryRow(ctx, query, val).Scan(&userID, &guestID, &plan, &messages, &deeps, &lastReset)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Usage{}, err
	}
	if err != nil {
		return domain.Usage{}, err
	}
	u.UserID = deref(userID)
	u.GuestID = deref(guestID)
	u.Plan = domain.Plan(deref(plan))
	if messages != nil {
		u.MessagesUsed = *messages
	}
	if deeps != nil {
		u.DeepsearchUsed = *deeps
	}
	if lastReset != nil {
		u.LastReset = *lastReset
	}
	return u, nil
}

// Increment requiere UNIQUE sobre user_id y sobre guest_id. El reinicio usa
// la misma ventana que domain.Usage.NeedsReset.
func (r *PgUsageRepository) Increment(ctx context.Context, inc UsageIncrement) error {
	col, _, err := ownerColumn(inc.UserID, inc.GuestID)
	if err != nil {
		return err
	}
	deep := 0
	if inc.Deepsearch {
		deep = 1
	}
	query := `
		INSERT INTO user_usage (user_id, guest_id, plan, messages_used, deepsearch_used, last_reset)
		VALUES ($1, $2, $3, 1, $4, $5)
		ON CONFLICT (` + col + `)
		DO UPDATE SET
			messages_used = CASE WHEN user_usage.last_reset IS NULL OR user_usage.last_reset <= $6
				THEN 1 ELSE user_usage.messages_used + 1 END,
			deepsearch_used = CASE WHEN user_usage.last_reset IS NULL OR user_usage.last_reset <= $6
				THEN $4 ELSE user_usage.deepsearch_used + $4 END,
			last_reset = CASE WHEN user_usage.last_reset IS NULL OR user_usage.last_reset <= $6
				THEN $5 ELSE user_usage.last_reset END
	`
	_, err = r.pool.Exec(ctx, query,
		nullIfEmpty(inc.UserID),
		nullIfEmpty(inc.GuestID),
		string(inc.Plan),
		deep,
		inc.At,
		inc.At.Add(-domain.UsageWindow),
	)
	return err
}

func nullIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
