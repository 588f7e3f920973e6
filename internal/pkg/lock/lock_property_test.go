// Property-based tests for per-user balance serialization.
package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestConcurrentBalanceSafetyProperty: concurrent read-modify-write sequences
// on one user produce the same balance as sequential execution.
func TestConcurrentBalanceSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(1000, 100000).Draw(t, "initial")
		amounts := rapid.SliceOfN(rapid.Int64Range(-500, 500), 2, 20).Draw(t, "amounts")
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		expected := initial
		for _, a := range amounts {
			expected += a
		}

		ul := NewUserLock()
		balance := initial

		var wg sync.WaitGroup
		wg.Add(len(amounts))
		for _, a := range amounts {
			go func(amount int64) {
				defer wg.Done()
				_ = ul.WithLock(userID, func() error {
					current := balance
					balance = current + amount
					return nil
				})
			}(a)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("balance mismatch: expected %d, got %d", expected, balance)
		}
		if ul.Len() != 0 {
			t.Fatalf("expected no retained slots, got %d", ul.Len())
		}
	})
}

// TestGuardedDeductionNeverOverspendsProperty: an affordability check and the
// deduction under one lock never let the balance go negative.
func TestGuardedDeductionNeverOverspendsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(0, 2000).Draw(t, "initial")
		costs := rapid.SliceOfN(rapid.Int64Range(1, 800), 2, 25).Draw(t, "costs")

		ul := NewUserLock()
		balance := initial
		var accepted atomic.Int64

		var wg sync.WaitGroup
		wg.Add(len(costs))
		for _, c := range costs {
			go func(cost int64) {
				defer wg.Done()
				_ = ul.WithLock(1, func() error {
					if balance < cost {
						return nil
					}
					balance -= cost
					accepted.Add(cost)
					return nil
				})
			}(c)
		}
		wg.Wait()

		if balance < 0 {
			t.Fatalf("balance went negative: %d", balance)
		}
		if initial-accepted.Load() != balance {
			t.Fatalf("accepted %d from %d but balance is %d", accepted.Load(), initial, balance)
		}
	})
}

// TestMultipleUsersIndependentLocksProperty: per-user locks do not interfere.
func TestMultipleUsersIndependentLocksProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numUsers := rapid.IntRange(2, 10).Draw(t, "numUsers")
		opsPerUser := rapid.IntRange(5, 20).Draw(t, "opsPerUser")

		ul := NewUserLock()
		balances := make([]int64, numUsers)

		var wg sync.WaitGroup
		wg.Add(numUsers * opsPerUser)
		for u := 0; u < numUsers; u++ {
			for j := 0; j < opsPerUser; j++ {
				go func(idx int) {
					defer wg.Done()
					ul.Lock(int64(idx))
					defer ul.Unlock(int64(idx))
					balances[idx] += 10
				}(u)
			}
		}
		wg.Wait()

		for u, b := range balances {
			if b != int64(opsPerUser)*10 {
				t.Fatalf("user %d: expected %d, got %d", u, opsPerUser*10, b)
			}
		}
	})
}

// TestLockUnlockSymmetryProperty: after balanced cycles the lock is free.
func TestLockUnlockSymmetryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")
		cycles := rapid.IntRange(1, 50).Draw(t, "cycles")

		ul := NewUserLock()
		for i := 0; i < cycles; i++ {
			ul.Lock(userID)
			ul.Unlock(userID)
		}

		if !ul.TryLock(userID) {
			t.Fatal("lock should be available after symmetric cycles")
		}
		ul.Unlock(userID)
	})
}

func TestTryLock_HeldLock(t *testing.T) {
	ul := NewUserLock()
	ul.Lock(5)

	assert.True(t, ul.IsLocked(5))
	assert.False(t, ul.TryLock(5))
	assert.True(t, ul.TryLock(6))

	ul.Unlock(5)
	ul.Unlock(6)
	assert.False(t, ul.IsLocked(5))
	assert.Equal(t, 0, ul.Len())
}

func TestWithLockContext_Timeout(t *testing.T) {
	ul := NewUserLock()
	ul.Lock(9)
	defer ul.Unlock(9)

	called := false
	err := ul.WithLockContext(context.Background(), 9, 20*time.Millisecond, func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, called)
}

func TestWithLockContext_Cancelled(t *testing.T) {
	ul := NewUserLock()
	ul.Lock(9)
	defer ul.Unlock(9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ul.WithLockContext(ctx, 9, time.Second, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithLockContext_AcquiresAfterRelease(t *testing.T) {
	ul := NewUserLock()
	ul.Lock(3)

	go func() {
		time.Sleep(10 * time.Millisecond)
		ul.Unlock(3)
	}()

	err := ul.WithLockContext(context.Background(), 3, time.Second, func() error { return nil })
	require.NoError(t, err)
	assert.False(t, ul.IsLocked(3))
}

func TestUnlock_NotHeldPanics(t *testing.T) {
	ul := NewUserLock()
	assert.Panics(t, func() { ul.Unlock(1) })
}
