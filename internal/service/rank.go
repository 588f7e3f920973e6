package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"loyalty-engine/internal/model"
	"loyalty-engine/internal/pkg/cache"
	"loyalty-engine/internal/rule"
)

const rankCatalogKey = "ranks"

// RankService resolves tiers from lifetime points. The rank catalog is
// cached until its TTL expires or Invalidate is called.
type RankService struct {
	economy EconomyStore
	floor   model.Rank
	catalog *cache.Catalog[[]model.Rank]
}

// NewRankService creates a new RankService instance. floor is added to the
// catalog when no zero-threshold rank is defined.
func NewRankService(rules RuleStore, economy EconomyStore, floor model.Rank, ttl time.Duration) *RankService {
	s := &RankService{
		economy: economy,
		floor:   floor,
	}
	s.catalog = cache.New[[]model.Rank]("ranks", 1, ttl, func(ctx context.Context, _ string) ([]model.Rank, error) {
		ranks, err := rules.ListRanks(ctx)
		if err != nil {
			return nil, err
		}
		sorted := rule.SortRanks(ranks, s.floor)
		log.Debug().Int("ranks", len(sorted)).Msg("Rank catalog loaded")
		return sorted, nil
	})
	return s
}

// Ranks returns the catalog sorted by threshold, highest first.
func (s *RankService) Ranks(ctx context.Context) ([]model.Rank, error) {
	ranks, err := s.catalog.Get(ctx, rankCatalogKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load rank catalog: %w", err)
	}
	return ranks, nil
}

// ResolveRank returns the highest rank whose threshold lifetime meets.
func (s *RankService) ResolveRank(ctx context.Context, lifetime int64) (model.Rank, error) {
	ranks, err := s.Ranks(ctx)
	if err != nil {
		return model.Rank{}, err
	}
	return rule.ResolveRank(ranks, lifetime), nil
}

// ResolveUserRank reads the user's lifetime points and resolves their rank.
func (s *RankService) ResolveUserRank(ctx context.Context, userID int64) (model.Rank, error) {
	econ, err := s.economy.Get(ctx, userID)
	if err != nil {
		return model.Rank{}, fmt.Errorf("failed to resolve user rank: %w", err)
	}
	return s.ResolveRank(ctx, econ.LifetimeEarned)
}

// RankByKey looks a rank up by key. Unknown keys report ok=false.
func (s *RankService) RankByKey(ctx context.Context, key string) (model.Rank, bool, error) {
	ranks, err := s.Ranks(ctx)
	if err != nil {
		return model.Rank{}, false, err
	}
	r, ok := rule.FindRank(ranks, key)
	return r, ok, nil
}

// Invalidate drops the cached catalog so the next read reloads it.
func (s *RankService) Invalidate() {
	s.catalog.InvalidateAll()
	log.Info().Msg("Rank catalog invalidated")
}
