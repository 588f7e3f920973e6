package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"loyalty-engine/internal/model"
)

// ActionLogRepository is the append-only action log. Rows are never updated
// or deleted.
type ActionLogRepository struct {
	db DBTX
}

// NewActionLogRepository creates a new ActionLogRepository instance.
func NewActionLogRepository(db DBTX) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

func scanLogEntry(row pgx.Row) (*model.LogEntry, error) {
	var (
		e   model.LogEntry
		raw []byte
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.ActionType, &e.ObjectID, &raw, &e.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &e.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode log metadata: %w", err)
	}
	return &e, nil
}

// Append records an action.
func (r *ActionLogRepository) Append(ctx context.Context, userID int64, actionType string, objectID *int64, meta model.LogMetadata) (*model.LogEntry, error) {
	const query = `
		INSERT INTO action_log (user_id, action_type, object_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, user_id, action_type, object_id, metadata, created_at
	`

	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode log metadata: %w", err)
	}

	e, err := scanLogEntry(r.db.QueryRow(ctx, query, userID, actionType, objectID, raw))
	if err != nil {
		return nil, fmt.Errorf("failed to append log entry: %w", err)
	}
	return e, nil
}

// Count returns how many actions of actionType the user has performed.
func (r *ActionLogRepository) Count(ctx context.Context, userID int64, actionType string) (int64, error) {
	const query = `SELECT COUNT(*) FROM action_log WHERE user_id = $1 AND action_type = $2`

	var n int64
	if err := r.db.QueryRow(ctx, query, userID, actionType).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return n, nil
}

// Recent retrieves the user's latest actions, newest first.
func (r *ActionLogRepository) Recent(ctx context.Context, userID int64, limit int) ([]*model.LogEntry, error) {
	const query = `
		SELECT id, user_id, action_type, object_id, metadata, created_at
		FROM action_log
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get action log: %w", err)
	}
	defer rows.Close()

	var entries []*model.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action log: %w", err)
	}
	return entries, nil
}
