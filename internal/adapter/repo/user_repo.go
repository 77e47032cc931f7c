package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
)

// UserRepositoryPG implements domain.UserRepository.
type UserRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a user repository backed by PostgreSQL.
func NewUserRepository(pool *pgxpool.Pool) *UserRepositoryPG {
	return &UserRepositoryPG{pool: pool}
}

// GetByID fetches a user by id.
func (r *UserRepositoryPG) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
SELECT id, email, tier, credits, created_at, updated_at
FROM users
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var user domain.User
	if err := row.Scan(&user.ID, &user.Email, &user.Tier, &user.Credits, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetTier returns the user's tier.
func (r *UserRepositoryPG) GetTier(ctx context.Context, id string) (domain.UserTier, error) {
	var tier domain.UserTier
	err := r.pool.QueryRow(ctx, `SELECT tier FROM users WHERE id = $1;`, id).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return tier, nil
}

// ConsumeCredits deducts n credits in one guarded update so concurrent
// requests cannot overdraw the balance.
func (r *UserRepositoryPG) ConsumeCredits(ctx context.Context, id string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	query := `
UPDATE users
SET credits = credits - $2,
    updated_at = NOW()
WHERE id = $1 AND credits >= $2
RETURNING credits;
`
	var remaining int
	err := r.pool.QueryRow(ctx, query, id, n).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	// Zero rows: either the user is unknown or the balance is short.
	var exists bool
	if probeErr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1);`, id).Scan(&exists); probeErr != nil {
		return 0, probeErr
	}
	if !exists {
		return 0, domain.ErrNotFound
	}
	return 0, domain.ErrInsufficientCredits
}
