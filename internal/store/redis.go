package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/vault-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveVaultState(ctx context.Context, state *model.VaultState) error {
	if err := s.primary.SaveVaultState(ctx, state); err != nil {
		return err
	}
	s.cacheJSON(ctx, vaultStateKey(), state)
	return nil
}

func (s *CachedStore) SavePosition(ctx context.Context, pos *model.UserPosition) error {
	if err := s.primary.SavePosition(ctx, pos); err != nil {
		return err
	}
	s.cacheJSON(ctx, positionKey(pos.UserID), pos)
	return nil
}

func (s *CachedStore) AppendNavSnapshot(ctx context.Context, snap model.NavSnapshot) error {
	if err := s.primary.AppendNavSnapshot(ctx, snap); err != nil {
		return err
	}
	// History pagination is served from the primary; nothing to refresh.
	return nil
}

func (s *CachedStore) InsertVaultEvent(ctx context.Context, event *model.VaultEvent) error {
	return s.primary.InsertVaultEvent(ctx, event)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetVaultState(ctx context.Context) (*model.VaultState, error) {
	data, err := s.rdb.Get(ctx, vaultStateKey()).Bytes()
	if err == nil {
		var state model.VaultState
		if json.Unmarshal(data, &state) == nil {
			return &state, nil
		}
	}

	state, err := s.primary.GetVaultState(ctx)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, vaultStateKey(), state)
	return state, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, userID string) (*model.UserPosition, error) {
	data, err := s.rdb.Get(ctx, positionKey(userID)).Bytes()
	if err == nil {
		var pos model.UserPosition
		if json.Unmarshal(data, &pos) == nil {
			return &pos, nil
		}
	}

	pos, err := s.primary.GetPosition(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, positionKey(userID), pos)
	return pos, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetNavHistory(ctx context.Context, limit, offset int) ([]model.NavSnapshot, error) {
	return s.primary.GetNavHistory(ctx, limit, offset)
}

func (s *CachedStore) GetEventsByUser(ctx context.Context, userID string) ([]model.VaultEvent, error) {
	return s.primary.GetEventsByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func vaultStateKey() string { return "vault:state" }

func positionKey(uid string) string { return fmt.Sprintf("vault:position:%s", uid) }
