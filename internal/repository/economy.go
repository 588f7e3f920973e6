package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"loyalty-engine/internal/model"
)

// EconomyRepository holds the two mutable counters per user plus the cached
// rank key. A row is created on the first write.
type EconomyRepository struct {
	db DBTX
}

// NewEconomyRepository creates a new EconomyRepository instance.
func NewEconomyRepository(db DBTX) *EconomyRepository {
	return &EconomyRepository{db: db}
}

// Get returns the user's economy record, or a zero record if none exists.
func (r *EconomyRepository) Get(ctx context.Context, userID int64) (*model.Economy, error) {
	const query = `
		SELECT user_id, balance, lifetime_earned, rank_key, updated_at
		FROM member_economy
		WHERE user_id = $1
	`

	var e model.Economy
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&e.UserID,
		&e.Balance,
		&e.LifetimeEarned,
		&e.RankKey,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.Economy{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get economy: %w", err)
	}
	return &e, nil
}

// SetBalanceAndLifetime writes both counters and the rank key in one
// statement.
func (r *EconomyRepository) SetBalanceAndLifetime(ctx context.Context, userID, balance, lifetime int64, rankKey string) error {
	const query = `
		INSERT INTO member_economy (user_id, balance, lifetime_earned, rank_key, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET balance = $2, lifetime_earned = $3, rank_key = $4, updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, userID, balance, lifetime, rankKey); err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

// DeductBalance subtracts amount only if the balance covers it. ok is false,
// with nothing written, when funds are insufficient.
func (r *EconomyRepository) DeductBalance(ctx context.Context, userID, amount int64) (newBalance int64, ok bool, err error) {
	const query = `
		UPDATE member_economy
		SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`

	err = r.db.QueryRow(ctx, query, userID, amount).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to deduct balance: %w", err)
	}
	return newBalance, true, nil
}
