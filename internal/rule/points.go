// Package rule implements the pure parts of the points economy: tier
// resolution, multiplier arithmetic and achievement condition evaluation.
package rule

import (
	"math"
	"sort"

	"loyalty-engine/internal/model"
)

// EffectiveMultiplier picks the larger of the rank multiplier and a temporary
// promotional multiplier. Multipliers never reduce a grant below its base.
func EffectiveMultiplier(rankMultiplier, tempMultiplier float64) float64 {
	m := math.Max(rankMultiplier, tempMultiplier)
	if math.IsNaN(m) || m < 1.0 {
		return 1.0
	}
	return m
}

// PointsEarned returns floor(base * multiplier), saturating at
// math.MaxInt64. Non-positive bases and products earn nothing.
func PointsEarned(base int64, multiplier float64) int64 {
	if base <= 0 {
		return 0
	}
	product := math.Floor(float64(base) * multiplier)
	switch {
	case math.IsNaN(product) || product <= 0:
		return 0
	case product >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(product)
}

// AddPoints returns total + earned, or false when the sum would overflow.
func AddPoints(total, earned int64) (int64, bool) {
	if earned > 0 && total > math.MaxInt64-earned {
		return 0, false
	}
	return total + earned, true
}

// FloorRank builds the synthetic zero-threshold rank.
func FloorRank(key, name string) model.Rank {
	return model.Rank{Key: key, Name: name, PointsRequired: 0, PointMultiplier: 1.0}
}

// SortRanks returns a copy of ranks ordered by threshold, highest first,
// with floor appended when no rank has a zero (or lower) threshold.
// Ranks sharing a threshold keep their catalog order.
func SortRanks(ranks []model.Rank, floor model.Rank) []model.Rank {
	sorted := make([]model.Rank, 0, len(ranks)+1)
	hasFloor := false
	for _, r := range ranks {
		if r.PointsRequired <= 0 {
			hasFloor = true
		}
		sorted = append(sorted, r)
	}
	if !hasFloor {
		sorted = append(sorted, floor)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PointsRequired > sorted[j].PointsRequired
	})
	return sorted
}

// ResolveRank returns the first rank in a descending catalog whose threshold
// is met by lifetime (>=). sorted must come from SortRanks.
func ResolveRank(sorted []model.Rank, lifetime int64) model.Rank {
	for _, r := range sorted {
		if lifetime >= r.PointsRequired {
			return r
		}
	}
	// Only reachable for negative lifetimes against a zero floor.
	return sorted[len(sorted)-1]
}

// FindRank returns the rank with the given key.
func FindRank(sorted []model.Rank, key string) (model.Rank, bool) {
	for _, r := range sorted {
		if r.Key == key {
			return r, true
		}
	}
	return model.Rank{}, false
}
