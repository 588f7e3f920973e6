package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"loyalty-engine/internal/event"
	"loyalty-engine/internal/model"
	"loyalty-engine/internal/pkg/cache"
	"loyalty-engine/internal/rule"
)

// AchievementService is the achievement rule engine. It listens to every
// event an achievement may reference and unlocks each definition at most
// once per user.
type AchievementService struct {
	rules     RuleStore
	actions   ActionLog
	economy   *EconomyService
	bus       *event.Bus
	snapshots *SnapshotBuilder
	defs      *cache.Catalog[[]model.Achievement]
	recorder  Recorder
}

// NewAchievementService creates a new AchievementService instance.
func NewAchievementService(
	rules RuleStore,
	actions ActionLog,
	economy *EconomyService,
	bus *event.Bus,
	snapshots *SnapshotBuilder,
	cacheSize int,
	ttl time.Duration,
	recorder Recorder,
) *AchievementService {
	return &AchievementService{
		rules:     rules,
		actions:   actions,
		economy:   economy,
		bus:       bus,
		snapshots: snapshots,
		defs:      cache.New[[]model.Achievement]("achievements", cacheSize, ttl, rules.ListAchievementsByTrigger),
		recorder:  orNop(recorder),
	}
}

// Register subscribes the engine to every achievement trigger event.
func (s *AchievementService) Register(bus *event.Bus) []event.Subscription {
	names := model.AchievementEvents()
	subs := make([]event.Subscription, 0, len(names))
	for _, name := range names {
		subs = append(subs, bus.Listen(name, s.handle))
	}
	return subs
}

func (s *AchievementService) handle(ctx context.Context, name string, p *event.Payload) error {
	userID := p.UserID()
	if userID <= 0 {
		return nil
	}
	_, err := s.Evaluate(ctx, name, userID, p)
	return err
}

// Evaluate unlocks every eligible definition for eventName and returns the
// keys unlocked by this call. A definition is eligible when the user has at
// least TriggerCount matching actions and all of its conditions hold against
// src.
func (s *AchievementService) Evaluate(ctx context.Context, eventName string, userID int64, src rule.Source) ([]string, error) {
	defs, err := s.defs.Get(ctx, eventName)
	if err != nil {
		return nil, fmt.Errorf("failed to load achievements: %w", err)
	}
	if len(defs) == 0 {
		return nil, nil
	}

	unlocked, err := s.rules.UnlockedKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unlocks: %w", err)
	}

	actionType := model.ActionTypeForEvent(eventName)
	count := int64(-1)

	var (
		keys []string
		errs []error
	)
	for _, def := range defs {
		if !def.IsActive || unlocked[def.Key] {
			continue
		}

		if count < 0 {
			if count, err = s.actions.Count(ctx, userID, actionType); err != nil {
				return keys, fmt.Errorf("failed to count actions: %w", err)
			}
		}
		if count < int64(max(def.TriggerCount, 1)) {
			continue
		}

		conds, err := rule.ParseConditions(def.Conditions)
		if err != nil {
			log.Error().
				Err(err).
				Str("achievement", def.Key).
				Msg("Achievement has malformed conditions, skipping")
			continue
		}
		if !rule.AllHold(conds, src) {
			continue
		}

		ok, err := s.unlock(ctx, userID, def)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			keys = append(keys, def.Key)
			unlocked[def.Key] = true
		}
	}

	return keys, errors.Join(errs...)
}

// unlock inserts the unlock row and, only when it is new, pays the reward,
// records the unlock and announces it.
func (s *AchievementService) unlock(ctx context.Context, userID int64, def model.Achievement) (bool, error) {
	inserted, err := s.rules.InsertUnlock(ctx, userID, def.Key)
	if err != nil {
		return false, fmt.Errorf("failed to unlock %s: %w", def.Key, err)
	}
	if !inserted {
		log.Debug().
			Int64("user_id", userID).
			Str("achievement", def.Key).
			Msg("Achievement already unlocked")
		return false, nil
	}

	var errs []error
	if def.PointsReward > 0 {
		if _, err := s.economy.GrantPoints(ctx, userID, def.PointsReward, "Achievement: "+displayName(def), 1.0); err != nil {
			errs = append(errs, fmt.Errorf("failed to grant reward for %s: %w", def.Key, err))
		}
	}

	_, err = s.actions.Append(ctx, userID, model.ActionAchievementUnlocked, nil, model.LogMetadata{
		Description:    displayName(def),
		AchievementKey: def.Key,
		PointsChange:   def.PointsReward,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to log unlock of %s: %w", def.Key, err))
	}

	s.recorder.AchievementUnlocked(def.Key)
	log.Info().
		Int64("user_id", userID).
		Str("achievement", def.Key).
		Int64("points", def.PointsReward).
		Msg("Achievement unlocked")

	unlockedDef := def
	publish(ctx, s.bus, s.snapshots, model.EventAchievementUnlocked, userID, event.EventContext{}, func(p *event.Payload) {
		p.Achievement = &unlockedDef
		p.ObjectRef = def.Key
		p.SourceAction = model.ActionAchievementUnlocked
	})

	return true, errors.Join(errs...)
}

// Invalidate drops cached definitions for eventName, or all of them when
// eventName is empty.
func (s *AchievementService) Invalidate(eventName string) {
	if eventName == "" {
		s.defs.InvalidateAll()
	} else {
		s.defs.Invalidate(eventName)
	}
	log.Info().Str("event", eventName).Msg("Achievement catalog invalidated")
}

func displayName(def model.Achievement) string {
	if def.Name != "" {
		return def.Name
	}
	return def.Key
}
