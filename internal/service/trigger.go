package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"loyalty-engine/internal/event"
	"loyalty-engine/internal/model"
)

// TriggerPriority runs trigger rules after the achievement engine.
const TriggerPriority = event.DefaultPriority + 10

// TriggerService turns trigger rules into grant instructions. Rules fire on
// every matching event; there is no idempotency gate.
type TriggerService struct {
	rules RuleStore
	bus   *event.Bus
}

// NewTriggerService creates a new TriggerService instance.
func NewTriggerService(rules RuleStore, bus *event.Bus) *TriggerService {
	return &TriggerService{rules: rules, bus: bus}
}

// Register subscribes the executor to the trigger events.
func (s *TriggerService) Register(bus *event.Bus) []event.Subscription {
	names := model.TriggerEvents()
	subs := make([]event.Subscription, 0, len(names))
	for _, name := range names {
		subs = append(subs, bus.ListenPriority(name, TriggerPriority, s.handle))
	}
	return subs
}

// ruleKeys returns the rule keys matched by an event. Rank changes also
// match the key of the rank reached.
func ruleKeys(name string, p *event.Payload) []string {
	keys := []string{name}
	if name == model.EventRankChanged && p.RankChange != nil {
		keys = append(keys, model.RankTriggerKey(p.RankChange.New.Key))
	}
	return keys
}

func (s *TriggerService) handle(ctx context.Context, name string, p *event.Payload) error {
	userID := p.UserID()
	if userID <= 0 {
		return nil
	}

	var errs []error
	for _, key := range ruleKeys(name, p) {
		rules, err := s.rules.ListTriggerRules(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load trigger rules for %s: %w", key, err))
			continue
		}

		for _, tr := range rules {
			if tr.ActionType != model.TriggerGrantPoints {
				log.Warn().
					Int64("rule_id", tr.ID).
					Str("action_type", tr.ActionType).
					Msg("Unsupported trigger action")
				continue
			}
			if tr.ActionValue <= 0 {
				continue
			}

			instruction := *p
			instruction.Grant = &event.GrantInstruction{
				UserID: userID,
				Points: tr.ActionValue,
				Reason: "Trigger: " + key,
			}
			log.Debug().
				Int64("user_id", userID).
				Int64("rule_id", tr.ID).
				Int64("points", tr.ActionValue).
				Str("event", key).
				Msg("Trigger rule fired")
			if err := s.bus.Broadcast(ctx, model.EventPointsGrantRequested, &instruction); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
