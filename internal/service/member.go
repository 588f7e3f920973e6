package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"loyalty-engine/internal/event"
	"loyalty-engine/internal/model"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// MemberService handles registration, profile updates and history.
type MemberService struct {
	members   MemberStore
	actions   ActionLog
	bus       *event.Bus
	snapshots *SnapshotBuilder
}

// NewMemberService creates a new MemberService instance.
func NewMemberService(members MemberStore, actions ActionLog, bus *event.Bus, snapshots *SnapshotBuilder) *MemberService {
	return &MemberService{
		members:   members,
		actions:   actions,
		bus:       bus,
		snapshots: snapshots,
	}
}

// RegisterMember creates a member. When a referrer is given it must exist,
// and referral_signup is broadcast on the referrer's behalf.
func (s *MemberService) RegisterMember(ctx context.Context, req RegisterRequest) (*model.Member, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.ReferrerID != nil {
		if *req.ReferrerID == req.ID {
			return nil, ErrSelfReferral
		}
		if _, err := s.members.GetByID(ctx, *req.ReferrerID); err != nil {
			return nil, fmt.Errorf("referrer %d: %w", *req.ReferrerID, err)
		}
	}

	m, err := s.members.Create(ctx, req.ID, req.Email, req.FirstName, req.ReferrerID)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("user_id", m.ID).Msg("Member registered")

	if m.ReferrerID != nil {
		referrerID := *m.ReferrerID
		_, err := s.actions.Append(ctx, referrerID, model.EventReferralSignup, &m.ID, model.LogMetadata{
			Description: fmt.Sprintf("Referred member %d", m.ID),
		})
		if err != nil {
			log.Error().
				Err(err).
				Int64("user_id", referrerID).
				Int64("referee_id", m.ID).
				Msg("Failed to record referral signup")
		}
		publish(ctx, s.bus, s.snapshots, model.EventReferralSignup, referrerID, event.EventContext{}, func(p *event.Payload) {
			p.Referral = &event.Referral{RefereeID: m.ID}
		})
	}

	return m, nil
}

// UpdateProfile replaces the member's profile fields, logs the change and
// broadcasts profile_updated.
func (s *MemberService) UpdateProfile(ctx context.Context, req ProfileRequest) (*model.Member, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	m, err := s.members.UpdateProfile(ctx, req.UserID, req.Email, req.FirstName)
	if err != nil {
		return nil, err
	}

	if _, err := s.actions.Append(ctx, m.ID, model.ActionProfileUpdated, nil, model.LogMetadata{
		Description: "Profile updated",
	}); err != nil {
		return nil, fmt.Errorf("failed to log profile update: %w", err)
	}

	publish(ctx, s.bus, s.snapshots, model.EventProfileUpdated, m.ID, event.EventContext{}, func(p *event.Payload) {
		p.SourceAction = model.ActionProfileUpdated
	})
	return m, nil
}

// GetMember retrieves a member by ID.
func (s *MemberService) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	return s.members.GetByID(ctx, id)
}

// History returns the member's latest actions, newest first. limit is
// clamped to [1, 100]; zero selects the default.
func (s *MemberService) History(ctx context.Context, userID int64, limit int) ([]*model.LogEntry, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", ErrInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	entries, err := s.actions.Recent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return entries, nil
}
