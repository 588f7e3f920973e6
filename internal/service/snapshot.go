package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"loyalty-engine/internal/event"
	"loyalty-engine/internal/model"
)

// SnapshotBuilder assembles the per-broadcast context snapshot from current
// data.
type SnapshotBuilder struct {
	members MemberStore
	economy EconomyStore
	actions ActionLog
	ranks   *RankService
	now     func() time.Time
}

// NewSnapshotBuilder creates a new SnapshotBuilder instance.
func NewSnapshotBuilder(members MemberStore, economy EconomyStore, actions ActionLog, ranks *RankService) *SnapshotBuilder {
	return &SnapshotBuilder{
		members: members,
		economy: economy,
		actions: actions,
		ranks:   ranks,
		now:     time.Now,
	}
}

// Build returns a snapshot of userID. Users without a member record get an
// identity holding only the ID. A zero ec.Time is set to now.
func (b *SnapshotBuilder) Build(ctx context.Context, userID int64, ec event.EventContext) (*event.Payload, error) {
	p := &event.Payload{Context: ec}
	if p.Context.Time.IsZero() {
		p.Context.Time = b.now()
	}
	p.User.Identity.ID = userID

	m, err := b.members.GetByID(ctx, userID)
	switch {
	case err == nil:
		p.User.Identity.Email = m.Email
		p.User.Identity.FirstName = m.FirstName
		p.User.Identity.CreatedAt = m.CreatedAt
	case errors.Is(err, ErrMemberNotFound):
	default:
		return nil, fmt.Errorf("failed to load member: %w", err)
	}

	econ, err := b.economy.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load economy: %w", err)
	}
	p.User.Economy = event.EconomyView{
		Balance:        econ.Balance,
		LifetimeEarned: econ.LifetimeEarned,
	}

	rank, ok, err := b.ranks.RankByKey(ctx, econ.RankKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		if rank, err = b.ranks.ResolveRank(ctx, econ.LifetimeEarned); err != nil {
			return nil, err
		}
	}
	p.User.Status = event.Status{RankKey: rank.Key, RankName: rank.Name}

	scans, err := b.actions.Count(ctx, userID, model.ActionScan)
	if err != nil {
		return nil, fmt.Errorf("failed to count scans: %w", err)
	}
	p.User.Engagement.TotalScans = scans

	return p, nil
}

// publish builds a snapshot for userID, lets decorate fill event specific
// sections and broadcasts it. The primary operation has already succeeded,
// so failures are logged and not returned.
func publish(ctx context.Context, bus *event.Bus, snapshots *SnapshotBuilder, name string, userID int64, ec event.EventContext, decorate func(*event.Payload)) {
	p, err := snapshots.Build(ctx, userID, ec)
	if err != nil {
		log.Error().
			Err(err).
			Str("event", name).
			Int64("user_id", userID).
			Msg("Failed to build event snapshot, broadcast skipped")
		return
	}
	if decorate != nil {
		decorate(p)
	}

	if err := bus.Broadcast(ctx, name, p); err != nil {
		log.Warn().
			Err(err).
			Str("event", name).
			Int64("user_id", userID).
			Msg("Event side effects failed")
	}
}
