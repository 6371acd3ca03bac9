package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cariusb-relay/internal/domain"
)

type ProfileRepository interface {
	GetPlan(ctx context.Context, userID string) (domain.Plan, error)
}

type PgProfileRepository struct {
	pool *pgxpool.Pool
}

func NewPgProfileRepository(pool *pgxpool.Pool) *PgProfileRepository {
	return &PgProfileRepository{pool: pool}
}

// GetPlan devuelve el plan crudo de profiles; pgx.ErrNoRows si no hay perfil.
func (r *PgProfileRepository) GetPlan(ctx context.Context, userID string) (domain.Plan, error) {
	const query = `
		SELECT plan
		FROM profiles
		WHERE user_id = $1
	`
	var plan *string
	err := r.pool.QueryRow(ctx, query, userID).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	if err != nil || plan == nil {
		return "", err
	}
	return domain.Plan(*plan), nil
}
