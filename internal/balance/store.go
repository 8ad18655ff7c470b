// Package balance holds the cash domain's authoritative balances behind a Store interface.
package balance

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/karolcichosz/investment-plans-design/internal/model"
)

// Snapshot is a user's balance at the time it was last written.
type Snapshot struct {
	UserID    string          `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Stale reports whether the snapshot is older than maxAge at now. A non-positive maxAge disables the check.
func (s Snapshot) Stale(maxAge time.Duration, now time.Time) bool {
	return maxAge > 0 && now.Sub(s.UpdatedAt) > maxAge
}

// UpdateFunc computes a new balance from the current snapshot. exists is false for unknown users.
// Returning an error leaves the stored balance unchanged.
type UpdateFunc func(current Snapshot, exists bool) (decimal.Decimal, error)

// Store reads and atomically updates balances.
type Store interface {
	Get(ctx context.Context, userID string) (Snapshot, error)
	// Update runs fn while holding the user's lock and stores its result.
	Update(ctx context.Context, userID string, fn UpdateFunc) (Snapshot, error)
	All(ctx context.Context) ([]Snapshot, error)
}

// MemoryStore is a process-local Store with one lock per user.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]Snapshot
	locks    map[string]*sync.Mutex
	now      func() time.Time
}

// NewMemoryStore returns a store seeded with the given balances.
func NewMemoryStore(seed map[string]decimal.Decimal, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}

	s := &MemoryStore{
		balances: make(map[string]Snapshot, len(seed)),
		locks:    make(map[string]*sync.Mutex),
		now:      now,
	}

	at := now()
	for userID, amount := range seed {
		s.balances[userID] = Snapshot{UserID: userID, Balance: amount, UpdatedAt: at}
	}

	return s
}

// ParseSeed converts configured "user:amount" pairs into balances.
func ParseSeed(raw map[string]string) (map[string]decimal.Decimal, error) {
	seed := make(map[string]decimal.Decimal, len(raw))

	for userID, amount := range raw {
		dec, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			return nil, fmt.Errorf("invalid seed balance for %s: %w", userID, err)
		}

		seed[strings.TrimSpace(userID)] = dec
	}

	return seed, nil
}

// Get returns the user's snapshot or model.ErrBalanceNotFound.
func (s *MemoryStore) Get(_ context.Context, userID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.balances[userID]
	if !ok {
		return Snapshot{}, model.ErrBalanceNotFound
	}

	return snap, nil
}

// Update applies fn under the user's lock.
func (s *MemoryStore) Update(_ context.Context, userID string, fn UpdateFunc) (Snapshot, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, exists := s.balances[userID]
	s.mu.RUnlock()

	if !exists {
		current = Snapshot{UserID: userID, Balance: decimal.Zero}
	}

	next, err := fn(current, exists)
	if err != nil {
		return current, err
	}

	snap := Snapshot{UserID: userID, Balance: next, UpdatedAt: s.now()}

	s.mu.Lock()
	s.balances[userID] = snap
	s.mu.Unlock()

	return snap, nil
}

// All returns every snapshot ordered by user id.
func (s *MemoryStore) All(_ context.Context) ([]Snapshot, error) {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.balances))

	for _, snap := range s.balances {
		out = append(out, snap)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Snapshot) int { return strings.Compare(a.UserID, b.UserID) })

	return out, nil
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}

	return lock
}
