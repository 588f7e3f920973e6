package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "members",
		sql: `
			CREATE TABLE IF NOT EXISTS members (
				id BIGINT PRIMARY KEY,
				email VARCHAR(255) NOT NULL,
				first_name VARCHAR(255) NOT NULL DEFAULT '',
				referrer_id BIGINT REFERENCES members(id) ON DELETE SET NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "member_economy",
		sql: `
			CREATE TABLE IF NOT EXISTS member_economy (
				user_id BIGINT PRIMARY KEY,
				balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
				lifetime_earned BIGINT NOT NULL DEFAULT 0 CHECK (lifetime_earned >= 0),
				rank_key VARCHAR(64) NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "action_log",
		sql: `
			CREATE TABLE IF NOT EXISTS action_log (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL,
				action_type VARCHAR(64) NOT NULL,
				object_id BIGINT,
				metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_action_log_user_type ON action_log(user_id, action_type);
			CREATE INDEX IF NOT EXISTS idx_action_log_user_time ON action_log(user_id, created_at DESC);
		`,
	},
	{
		name: "rank_definitions",
		sql: `
			CREATE TABLE IF NOT EXISTS rank_definitions (
				key VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				points_required BIGINT NOT NULL CHECK (points_required >= 0),
				point_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1.0 CHECK (point_multiplier >= 1.0)
			);
		`,
	},
	{
		name: "achievement_definitions",
		sql: `
			CREATE TABLE IF NOT EXISTS achievement_definitions (
				achievement_key VARCHAR(128) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				trigger_event VARCHAR(64) NOT NULL,
				trigger_count INT NOT NULL DEFAULT 1 CHECK (trigger_count >= 1),
				conditions TEXT NOT NULL DEFAULT '',
				points_reward BIGINT NOT NULL DEFAULT 0 CHECK (points_reward >= 0),
				is_active BOOLEAN NOT NULL DEFAULT TRUE
			);
			CREATE INDEX IF NOT EXISTS idx_achievements_trigger ON achievement_definitions(trigger_event) WHERE is_active;
		`,
	},
	{
		name: "user_achievements",
		sql: `
			CREATE TABLE IF NOT EXISTS user_achievements (
				user_id BIGINT NOT NULL,
				achievement_key VARCHAR(128) NOT NULL,
				unlocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (user_id, achievement_key)
			);
		`,
	},
	{
		name: "trigger_rules",
		sql: `
			CREATE TABLE IF NOT EXISTS trigger_rules (
				id BIGSERIAL PRIMARY KEY,
				event_key VARCHAR(128) NOT NULL,
				action_type VARCHAR(64) NOT NULL,
				action_value BIGINT NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_trigger_rules_event ON trigger_rules(event_key);
		`,
	},
	{
		name: "products",
		sql: `
			CREATE TABLE IF NOT EXISTS products (
				id BIGINT PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				points_award BIGINT NOT NULL DEFAULT 0,
				points_cost BIGINT NOT NULL DEFAULT 0,
				required_rank VARCHAR(64) NOT NULL DEFAULT '',
				strain_type VARCHAR(64) NOT NULL DEFAULT '',
				category VARCHAR(64) NOT NULL DEFAULT ''
			);
		`,
	},
	{
		name: "scan_codes",
		sql: `
			CREATE TABLE IF NOT EXISTS scan_codes (
				code VARCHAR(64) PRIMARY KEY,
				product_id BIGINT NOT NULL REFERENCES products(id),
				used_by BIGINT,
				used_at TIMESTAMPTZ
			);
		`,
	},
}

// Migrate applies the schema in order. Every step is idempotent.
func Migrate(ctx context.Context, db Execer) error {
	log.Info().Int("steps", len(migrations)).Msg("Running database migrations")

	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
