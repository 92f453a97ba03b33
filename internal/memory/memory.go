// ABOUTME: Core types and store contract for conversational session memory.
// ABOUTME: Defines the (memoryID, actorID, sessionID) key, turns, and an in-memory store.

package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Key identifies one conversation's memory stream.
type Key struct {
	MemoryID  string
	ActorID   string
	SessionID string
}

// Turn is one stored exchange entry. Expired turns are excluded from reads
// even before they are physically purged.
type Turn struct {
	Role      string
	Content   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists turns. Implementations provide their own concurrency
// control; callers perform no client-side locking.
type Store interface {
	// AppendTurn appends one turn to the session's stream.
	AppendTurn(ctx context.Context, key Key, turn Turn) error

	// LastTurns returns up to k most recent unexpired turns, oldest first.
	LastTurns(ctx context.Context, key Key, k int) ([]Turn, error)

	// PurgeExpired physically removes expired turns, returning the count.
	PurgeExpired(ctx context.Context) (int64, error)

	// Close releases store resources.
	Close() error
}

// InMemoryStore is a map-backed Store used in tests and as a fallback when
// no database path is configured.
type InMemoryStore struct {
	mu    sync.Mutex
	turns map[Key][]Turn
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[Key][]Turn)}
}

// AppendTurn appends one turn.
func (s *InMemoryStore) AppendTurn(_ context.Context, key Key, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[key] = append(s.turns[key], turn)
	return nil
}

// LastTurns returns up to k most recent unexpired turns, oldest first.
func (s *InMemoryStore) LastTurns(_ context.Context, key Key, k int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	live := make([]Turn, 0, len(s.turns[key]))
	for _, turn := range s.turns[key] {
		if turn.ExpiresAt.After(now) {
			live = append(live, turn)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
	if len(live) > k {
		live = live[len(live)-k:]
	}
	return live, nil
}

// PurgeExpired removes expired turns.
func (s *InMemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var purged int64
	for key, turns := range s.turns {
		kept := turns[:0]
		for _, turn := range turns {
			if turn.ExpiresAt.After(now) {
				kept = append(kept, turn)
			} else {
				purged++
			}
		}
		if len(kept) == 0 {
			delete(s.turns, key)
		} else {
			s.turns[key] = kept
		}
	}
	return purged, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
