// Package lock provides the per-user serialization point for balance
// read-modify-write sequences.
package lock

import (
	"context"
	"sync"
	"time"
)

// slot is a one-token semaphore; holding the token means holding the lock.
type slot struct {
	token chan struct{}
	users int
}

// UserLock serializes work per user ID. Different users never block each
// other. Locks are not reentrant.
type UserLock struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{slots: make(map[int64]*slot)}
}

// acquireSlot returns the slot for userID, registering interest so the slot
// outlives this caller's wait.
func (ul *UserLock) acquireSlot(userID int64) *slot {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	s, ok := ul.slots[userID]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		ul.slots[userID] = s
	}
	s.users++
	return s
}

// releaseSlot drops interest and forgets idle slots.
func (ul *UserLock) releaseSlot(userID int64, s *slot) {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	s.users--
	if s.users == 0 {
		delete(ul.slots, userID)
	}
}

// Lock blocks until the user's lock is held.
func (ul *UserLock) Lock(userID int64) {
	s := ul.acquireSlot(userID)
	s.token <- struct{}{}
}

// Unlock releases the user's lock. Unlocking a lock that is not held panics.
func (ul *UserLock) Unlock(userID int64) {
	ul.mu.Lock()
	s, ok := ul.slots[userID]
	ul.mu.Unlock()
	if !ok {
		panic("lock: unlock of unlocked user")
	}

	select {
	case <-s.token:
	default:
		panic("lock: unlock of unlocked user")
	}
	ul.releaseSlot(userID, s)
}

// TryLock acquires the lock only if it is free.
func (ul *UserLock) TryLock(userID int64) bool {
	s := ul.acquireSlot(userID)
	select {
	case s.token <- struct{}{}:
		return true
	default:
		ul.releaseSlot(userID, s)
		return false
	}
}

// LockContext waits for the lock until ctx is done or timeout elapses.
// A zero timeout waits only on ctx.
func (ul *UserLock) LockContext(ctx context.Context, userID int64, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s := ul.acquireSlot(userID)
	select {
	case s.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		ul.releaseSlot(userID, s)
		if ctx.Err() == context.DeadlineExceeded {
			return ErrLockTimeout
		}
		return ctx.Err()
	}
}

// WithLock executes fn while holding the user's lock.
func (ul *UserLock) WithLock(userID int64, fn func() error) error {
	ul.Lock(userID)
	defer ul.Unlock(userID)
	return fn()
}

// WithLockContext executes fn while holding the user's lock, giving up with
// ErrLockTimeout after timeout.
func (ul *UserLock) WithLockContext(ctx context.Context, userID int64, timeout time.Duration, fn func() error) error {
	if err := ul.LockContext(ctx, userID, timeout); err != nil {
		return err
	}
	defer ul.Unlock(userID)
	return fn()
}

// IsLocked is a point-in-time check.
func (ul *UserLock) IsLocked(userID int64) bool {
	ul.mu.Lock()
	s, ok := ul.slots[userID]
	ul.mu.Unlock()
	return ok && len(s.token) == 1
}

// Len returns the number of users with a held or awaited lock.
func (ul *UserLock) Len() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.slots)
}
