// Package model defines the data models for the loyalty points economy.
package model

import "time"

// Member is a registered loyalty member as seen by the core.
type Member struct {
	ID         int64     `db:"id"`
	Email      string    `db:"email"`
	FirstName  string    `db:"first_name"`
	ReferrerID *int64    `db:"referrer_id"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Economy is the per-user points record. LifetimeEarned never decreases;
// Balance is reduced by spending.
type Economy struct {
	UserID         int64     `db:"user_id"`
	Balance        int64     `db:"balance"`
	LifetimeEarned int64     `db:"lifetime_earned"`
	RankKey        string    `db:"rank_key"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// LogEntry is an immutable action log row.
type LogEntry struct {
	ID         int64       `db:"id"`
	UserID     int64       `db:"user_id"`
	ActionType string      `db:"action_type"`
	ObjectID   *int64      `db:"object_id"`
	Metadata   LogMetadata `db:"metadata"`
	CreatedAt  time.Time   `db:"created_at"`
}

// LogMetadata is the structured payload stored with a log entry.
type LogMetadata struct {
	Description       string  `json:"description,omitempty"`
	BasePoints        int64   `json:"basePoints,omitempty"`
	PointsChange      int64   `json:"pointsChange"`
	NewBalance        int64   `json:"newBalance"`
	MultiplierApplied float64 `json:"multiplierApplied,omitempty"`
	OrderRef          string  `json:"orderRef,omitempty"`
	Code              string  `json:"code,omitempty"`
	AchievementKey    string  `json:"achievementKey,omitempty"`
	OldRankKey        string  `json:"oldRankKey,omitempty"`
	NewRankKey        string  `json:"newRankKey,omitempty"`
	IsFirstScan       bool    `json:"isFirstScan,omitempty"`
}

// Action types recorded in the action log.
const (
	ActionScan                = "scan"
	ActionRedeem              = "redeem"
	ActionPointsGranted       = "points_granted"
	ActionPointsDeducted      = "points_deducted"
	ActionProfileUpdated      = "profile_updated"
	ActionAchievementUnlocked = "achievement_unlocked"
	ActionRankChanged         = "rank_changed"
)

// Rank is a tier definition. Ranks are authored outside the core.
type Rank struct {
	Key             string  `db:"key"`
	Name            string  `db:"name"`
	PointsRequired  int64   `db:"points_required"`
	PointMultiplier float64 `db:"point_multiplier"`
}

// Achievement is an unlockable definition. Conditions holds the raw JSON
// condition list as authored.
type Achievement struct {
	Key          string `db:"achievement_key"`
	Name         string `db:"name"`
	TriggerEvent string `db:"trigger_event"`
	TriggerCount int    `db:"trigger_count"`
	Conditions   string `db:"conditions"`
	PointsReward int64  `db:"points_reward"`
	IsActive     bool   `db:"is_active"`
}

// Unlock records that a user has permanently unlocked an achievement.
type Unlock struct {
	UserID         int64     `db:"user_id"`
	AchievementKey string    `db:"achievement_key"`
	UnlockedAt     time.Time `db:"unlocked_at"`
}

// TriggerRule maps an event to a repeatable action.
type TriggerRule struct {
	ID          int64  `db:"id"`
	EventKey    string `db:"event_key"`
	ActionType  string `db:"action_type"`
	ActionValue int64  `db:"action_value"`
}

// Trigger rule action types.
const (
	TriggerGrantPoints = "grant_points"
)

// Product is a catalog item that can be scanned or redeemed.
type Product struct {
	ID           int64  `db:"id"`
	Name         string `db:"name"`
	PointsAward  int64  `db:"points_award"`
	PointsCost   int64  `db:"points_cost"`
	RequiredRank string `db:"required_rank"`
	StrainType   string `db:"strain_type"`
	Category     string `db:"category"`
}

// ScanCode is a single-use code attached to a product.
type ScanCode struct {
	Code      string     `db:"code"`
	ProductID int64      `db:"product_id"`
	UsedBy    *int64     `db:"used_by"`
	UsedAt    *time.Time `db:"used_at"`
}

// IsUsed reports whether the code has been consumed.
func (c *ScanCode) IsUsed() bool {
	return c.UsedBy != nil
}
