// Property-based tests for multiplier arithmetic and rank resolution.
package rule

import (
	"math"
	"testing"

	"pgregory.net/rapid"

	"loyalty-engine/internal/model"
)

var testFloor = FloorRank("member", "Member")

func catalog() []model.Rank {
	return []model.Rank{
		{Key: "silver", Name: "Silver", PointsRequired: 5000, PointMultiplier: 1.25},
		{Key: "bronze", Name: "Bronze", PointsRequired: 1000, PointMultiplier: 1.1},
		{Key: "gold", Name: "Gold", PointsRequired: 10000, PointMultiplier: 1.5},
	}
}

// TestPointsEarnedFloorProperty checks that a grant is floor(base*multiplier):
// never negative, never above the exact product, and less than one point
// below it.
func TestPointsEarnedFloorProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Int64Range(0, 1_000_000).Draw(t, "base")
		mult := rapid.Float64Range(1.0, 5.0).Draw(t, "multiplier")

		earned := PointsEarned(base, mult)
		exact := float64(base) * mult

		if earned < 0 {
			t.Fatalf("earned %d is negative", earned)
		}
		if float64(earned) > exact {
			t.Fatalf("earned %d exceeds base*multiplier %f", earned, exact)
		}
		if exact-float64(earned) >= 1 {
			t.Fatalf("earned %d truncated more than one point from %f", earned, exact)
		}
		if earned < base {
			t.Fatalf("multiplier >= 1 must not reduce base %d (got %d)", base, earned)
		}
	})
}

// TestEffectiveMultiplierProperty checks the max() rule and the 1.0 floor.
func TestEffectiveMultiplierProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rankMult := rapid.Float64Range(0, 4).Draw(t, "rank")
		tempMult := rapid.Float64Range(0, 4).Draw(t, "temp")

		got := EffectiveMultiplier(rankMult, tempMult)
		want := math.Max(1.0, math.Max(rankMult, tempMult))
		if got != want {
			t.Fatalf("EffectiveMultiplier(%f, %f) = %f, want %f", rankMult, tempMult, got, want)
		}
	})
}

// TestResolveRankMonotonicProperty checks that a higher lifetime never
// resolves to a lower tier.
func TestResolveRankMonotonicProperty(t *testing.T) {
	sorted := SortRanks(catalog(), testFloor)
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(0, 20000).Draw(t, "a")
		b := rapid.Int64Range(0, 20000).Draw(t, "b")
		if a > b {
			a, b = b, a
		}

		ra := ResolveRank(sorted, a)
		rb := ResolveRank(sorted, b)
		if ra.PointsRequired > rb.PointsRequired {
			t.Fatalf("lifetime %d resolved %s above lifetime %d resolved %s", a, ra.Key, b, rb.Key)
		}
		if a < ra.PointsRequired {
			t.Fatalf("lifetime %d resolved %s with threshold %d", a, ra.Key, ra.PointsRequired)
		}
	})
}

func TestResolveRank_Thresholds(t *testing.T) {
	sorted := SortRanks(catalog(), testFloor)

	tests := []struct {
		name     string
		lifetime int64
		expected string
	}{
		{"zero lands on floor", 0, "member"},
		{"just below bronze", 999, "member"},
		{"exact bronze", 1000, "bronze"},
		{"just below silver", 4999, "bronze"},
		{"exact silver resolves silver not bronze", 5000, "silver"},
		{"exact gold", 10000, "gold"},
		{"far above gold", 1_000_000, "gold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveRank(sorted, tt.lifetime)
			if got.Key != tt.expected {
				t.Errorf("ResolveRank(%d) = %s, want %s", tt.lifetime, got.Key, tt.expected)
			}
		})
	}
}

func TestSortRanks_KeepsExistingFloor(t *testing.T) {
	ranks := append(catalog(), model.Rank{Key: "starter", Name: "Starter", PointsRequired: 0, PointMultiplier: 1})
	sorted := SortRanks(ranks, testFloor)

	if len(sorted) != 4 {
		t.Fatalf("expected 4 ranks, got %d", len(sorted))
	}
	if sorted[len(sorted)-1].Key != "starter" {
		t.Errorf("expected authored zero rank as floor, got %s", sorted[len(sorted)-1].Key)
	}
	if _, ok := FindRank(sorted, "member"); ok {
		t.Error("synthetic floor must not be added when the catalog has one")
	}
}

func TestSortRanks_EmptyCatalog(t *testing.T) {
	sorted := SortRanks(nil, testFloor)
	if got := ResolveRank(sorted, 123456); got.Key != "member" {
		t.Errorf("empty catalog should resolve to floor, got %s", got.Key)
	}
}

func TestPointsEarned(t *testing.T) {
	tests := []struct {
		name     string
		base     int64
		mult     float64
		expected int64
	}{
		{"identity", 100, 1.0, 100},
		{"truncates fraction", 10, 1.15, 11},
		{"exact product", 100, 1.5, 150},
		{"floor not round", 3, 1.5, 4},
		{"zero base", 0, 2.0, 0},
		{"negative base earns nothing", -50, 2.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PointsEarned(tt.base, tt.mult); got != tt.expected {
				t.Errorf("PointsEarned(%d, %f) = %d, want %d", tt.base, tt.mult, got, tt.expected)
			}
		})
	}
}

// TestPointsEarnedFullRangeProperty checks that no base in the int64 range
// turns into a negative grant, whatever the multiplier.
func TestPointsEarnedFullRangeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Int64().Draw(t, "base")
		mult := rapid.Float64Range(1.0, 10.0).Draw(t, "multiplier")

		earned := PointsEarned(base, mult)
		if earned < 0 {
			t.Fatalf("PointsEarned(%d, %f) = %d is negative", base, mult, earned)
		}
		if base > 0 && float64(earned) < float64(base) {
			t.Fatalf("PointsEarned(%d, %f) = %d fell below base", base, mult, earned)
		}
	})
}

// TestAddPointsProperty checks that a successful add never decreases the
// total and an overflowing add is refused.
func TestAddPointsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.Int64Range(0, math.MaxInt64).Draw(t, "total")
		earned := rapid.Int64Range(0, math.MaxInt64).Draw(t, "earned")

		sum, ok := AddPoints(total, earned)
		overflows := total > math.MaxInt64-earned
		if ok == overflows {
			t.Fatalf("AddPoints(%d, %d) ok=%v, overflow=%v", total, earned, ok, overflows)
		}
		if ok && sum < total {
			t.Fatalf("AddPoints(%d, %d) = %d decreased the total", total, earned, sum)
		}
	})
}

func TestPointsEarned_Saturates(t *testing.T) {
	if got := PointsEarned(math.MaxInt64/2, 3.0); got != math.MaxInt64 {
		t.Errorf("PointsEarned(MaxInt64/2, 3) = %d, want MaxInt64", got)
	}
	if got := PointsEarned(100, math.NaN()); got != 0 {
		t.Errorf("PointsEarned(100, NaN) = %d, want 0", got)
	}
}
