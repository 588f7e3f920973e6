// Package repository provides the Postgres implementations of the ledger,
// rule, catalog and member stores.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"loyalty-engine/internal/model"
)

// Common errors for repository operations.
var (
	ErrMemberNotFound  = errors.New("member not found")
	ErrMemberExists    = errors.New("member already exists")
	ErrProductNotFound = errors.New("product not found")
	ErrCodeNotFound    = errors.New("scan code not found")
)

const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// MemberRepository handles member persistence.
type MemberRepository struct {
	db DBTX
}

// NewMemberRepository creates a new MemberRepository instance.
func NewMemberRepository(db DBTX) *MemberRepository {
	return &MemberRepository{db: db}
}

const memberColumns = `id, email, first_name, referrer_id, created_at, updated_at`

func scanMember(row pgx.Row) (*model.Member, error) {
	var m model.Member
	err := row.Scan(
		&m.ID,
		&m.Email,
		&m.FirstName,
		&m.ReferrerID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a member. Returns ErrMemberExists for a duplicate ID.
func (r *MemberRepository) Create(ctx context.Context, id int64, email, firstName string, referrerID *int64) (*model.Member, error) {
	const query = `
		INSERT INTO members (id, email, first_name, referrer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING ` + memberColumns

	m, err := scanMember(r.db.QueryRow(ctx, query, id, email, firstName, referrerID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrMemberExists
		}
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	return m, nil
}

// GetByID retrieves a member. Returns ErrMemberNotFound if absent.
func (r *MemberRepository) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	const query = `SELECT ` + memberColumns + ` FROM members WHERE id = $1`

	m, err := scanMember(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// UpdateProfile replaces the member's email and first name.
func (r *MemberRepository) UpdateProfile(ctx context.Context, id int64, email, firstName string) (*model.Member, error) {
	const query = `
		UPDATE members
		SET email = $2, first_name = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + memberColumns

	m, err := scanMember(r.db.QueryRow(ctx, query, id, email, firstName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return m, nil
}

// Exists checks if a member with the given ID exists.
func (r *MemberRepository) Exists(ctx context.Context, id int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM members WHERE id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check member existence: %w", err)
	}
	return exists, nil
}
