package repository

import (
	"context"
	"fmt"

	"loyalty-engine/internal/model"
)

// RuleRepository reads the rank, achievement and trigger catalogs and owns
// the unlock table.
type RuleRepository struct {
	db DBTX
}

// NewRuleRepository creates a new RuleRepository instance.
func NewRuleRepository(db DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

// ListRanks returns every rank definition in no particular order.
func (r *RuleRepository) ListRanks(ctx context.Context) ([]model.Rank, error) {
	const query = `SELECT key, name, points_required, point_multiplier FROM rank_definitions`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranks: %w", err)
	}
	defer rows.Close()

	var ranks []model.Rank
	for rows.Next() {
		var rk model.Rank
		if err := rows.Scan(&rk.Key, &rk.Name, &rk.PointsRequired, &rk.PointMultiplier); err != nil {
			return nil, fmt.Errorf("failed to scan rank: %w", err)
		}
		ranks = append(ranks, rk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ranks: %w", err)
	}
	return ranks, nil
}

// ListAchievementsByTrigger returns the active achievements for an event.
func (r *RuleRepository) ListAchievementsByTrigger(ctx context.Context, eventName string) ([]model.Achievement, error) {
	const query = `
		SELECT achievement_key, name, trigger_event, trigger_count, conditions, points_reward, is_active
		FROM achievement_definitions
		WHERE trigger_event = $1 AND is_active
		ORDER BY achievement_key
	`

	rows, err := r.db.Query(ctx, query, eventName)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var defs []model.Achievement
	for rows.Next() {
		var a model.Achievement
		err := rows.Scan(&a.Key, &a.Name, &a.TriggerEvent, &a.TriggerCount, &a.Conditions, &a.PointsReward, &a.IsActive)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		defs = append(defs, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating achievements: %w", err)
	}
	return defs, nil
}

// ListTriggerRules returns the trigger rules registered for eventKey.
func (r *RuleRepository) ListTriggerRules(ctx context.Context, eventKey string) ([]model.TriggerRule, error) {
	const query = `
		SELECT id, event_key, action_type, action_value
		FROM trigger_rules
		WHERE event_key = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, eventKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list trigger rules: %w", err)
	}
	defer rows.Close()

	var rules []model.TriggerRule
	for rows.Next() {
		var tr model.TriggerRule
		if err := rows.Scan(&tr.ID, &tr.EventKey, &tr.ActionType, &tr.ActionValue); err != nil {
			return nil, fmt.Errorf("failed to scan trigger rule: %w", err)
		}
		rules = append(rules, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trigger rules: %w", err)
	}
	return rules, nil
}

// UnlockedKeys returns the achievement keys the user has unlocked.
func (r *RuleRepository) UnlockedKeys(ctx context.Context, userID int64) (map[string]bool, error) {
	const query = `SELECT achievement_key FROM user_achievements WHERE user_id = $1`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocks: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		keys[key] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unlocks: %w", err)
	}
	return keys, nil
}

// InsertUnlock records an unlock. It returns false, without error, when the
// pair already exists.
func (r *RuleRepository) InsertUnlock(ctx context.Context, userID int64, achievementKey string) (bool, error) {
	const query = `
		INSERT INTO user_achievements (user_id, achievement_key, unlocked_at)
		VALUES ($1, $2, NOW())
	`

	if _, err := r.db.Exec(ctx, query, userID, achievementKey); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert unlock: %w", err)
	}
	return true, nil
}

// UpsertRank creates or replaces a rank definition.
func (r *RuleRepository) UpsertRank(ctx context.Context, rk model.Rank) error {
	const query = `
		INSERT INTO rank_definitions (key, name, points_required, point_multiplier)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key)
		DO UPDATE SET name = $2, points_required = $3, point_multiplier = $4
	`

	if _, err := r.db.Exec(ctx, query, rk.Key, rk.Name, rk.PointsRequired, rk.PointMultiplier); err != nil {
		return fmt.Errorf("failed to upsert rank: %w", err)
	}
	return nil
}

// UpsertAchievement creates or replaces an achievement definition.
func (r *RuleRepository) UpsertAchievement(ctx context.Context, a model.Achievement) error {
	const query = `
		INSERT INTO achievement_definitions
			(achievement_key, name, trigger_event, trigger_count, conditions, points_reward, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (achievement_key)
		DO UPDATE SET name = $2, trigger_event = $3, trigger_count = $4,
			conditions = $5, points_reward = $6, is_active = $7
	`

	_, err := r.db.Exec(ctx, query, a.Key, a.Name, a.TriggerEvent, a.TriggerCount, a.Conditions, a.PointsReward, a.IsActive)
	if err != nil {
		return fmt.Errorf("failed to upsert achievement: %w", err)
	}
	return nil
}

// CreateTriggerRule inserts a trigger rule and returns it with its ID.
func (r *RuleRepository) CreateTriggerRule(ctx context.Context, eventKey, actionType string, actionValue int64) (*model.TriggerRule, error) {
	const query = `
		INSERT INTO trigger_rules (event_key, action_type, action_value)
		VALUES ($1, $2, $3)
		RETURNING id, event_key, action_type, action_value
	`

	var tr model.TriggerRule
	err := r.db.QueryRow(ctx, query, eventKey, actionType, actionValue).Scan(
		&tr.ID, &tr.EventKey, &tr.ActionType, &tr.ActionValue,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger rule: %w", err)
	}
	return &tr, nil
}
