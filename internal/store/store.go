// Package store defines the persistence interface for the vault engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and dev mode).
package store

import (
	"context"
	"errors"

	"github.com/atmx/vault-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Vault state (single aggregate row) ---

	// GetVaultState retrieves the vault aggregate. ErrNotFound before the
	// first save.
	GetVaultState(ctx context.Context) (*model.VaultState, error)

	// SaveVaultState persists the vault aggregate.
	SaveVaultState(ctx context.Context, state *model.VaultState) error

	// --- User positions ---

	// GetPosition retrieves one user's position. ErrNotFound if the user
	// has never deposited.
	GetPosition(ctx context.Context, userID string) (*model.UserPosition, error)

	// SavePosition upserts a user's position.
	SavePosition(ctx context.Context, pos *model.UserPosition) error

	// --- NAV history (bounded, chronological) ---

	// AppendNavSnapshot appends a snapshot, evicting the oldest entry once
	// model.NavHistoryCapacity is reached.
	AppendNavSnapshot(ctx context.Context, snap model.NavSnapshot) error

	// GetNavHistory returns snapshots in chronological order, paginated.
	// limit <= 0 means no limit.
	GetNavHistory(ctx context.Context, limit, offset int) ([]model.NavSnapshot, error)

	// --- Immutable event log ---

	// InsertVaultEvent appends an immutable operation record.
	InsertVaultEvent(ctx context.Context, event *model.VaultEvent) error

	// GetEventsByUser returns all events for a user, oldest first.
	GetEventsByUser(ctx context.Context, userID string) ([]model.VaultEvent, error)
}
