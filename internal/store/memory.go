package store

import (
	"context"
	"sync"

	"github.com/atmx/vault-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	state     *model.VaultState
	positions map[string]*model.UserPosition
	history   []model.NavSnapshot
	events    []model.VaultEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*model.UserPosition),
	}
}

func (s *MemoryStore) GetVaultState(_ context.Context) (*model.VaultState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, ErrNotFound
	}
	copy := *s.state
	return &copy, nil
}

func (s *MemoryStore) SaveVaultState(_ context.Context, state *model.VaultState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *state
	s.state = &copy
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID string) (*model.UserPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *pos
	return &copy, nil
}

func (s *MemoryStore) SavePosition(_ context.Context, pos *model.UserPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *pos
	s.positions[pos.UserID] = &copy
	return nil
}

// AppendNavSnapshot appends with shift-and-drop eviction at capacity.
// O(capacity) per append is acceptable at the fixed bound of 100.
func (s *MemoryStore) AppendNavSnapshot(_ context.Context, snap model.NavSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) >= model.NavHistoryCapacity {
		s.history = append(s.history[:0], s.history[1:]...)
	}
	s.history = append(s.history, snap)
	return nil
}

func (s *MemoryStore) GetNavHistory(_ context.Context, limit, offset int) ([]model.NavSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.history) {
		return []model.NavSnapshot{}, nil
	}
	end := len(s.history)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]model.NavSnapshot, end-offset)
	copy(out, s.history[offset:end])
	return out, nil
}

func (s *MemoryStore) InsertVaultEvent(_ context.Context, event *model.VaultEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) GetEventsByUser(_ context.Context, userID string) ([]model.VaultEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.VaultEvent
	for _, e := range s.events {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}
