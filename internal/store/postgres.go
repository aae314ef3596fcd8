package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/vault-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// The vault aggregate is a single row keyed id = 1.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetVaultState(ctx context.Context) (*model.VaultState, error) {
	var st model.VaultState
	var stable, volatile, shares, nav string

	err := s.pool.QueryRow(ctx,
		`SELECT stable_balance::TEXT, volatile_balance::TEXT,
		        total_shares::TEXT, nav_per_share::TEXT,
		        last_nav_update, total_users, active_users
		 FROM vault_state WHERE id = 1`).
		Scan(&stable, &volatile, &shares, &nav,
			&st.LastNavUpdate, &st.TotalUsers, &st.ActiveUsers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vault state: %w", err)
	}

	st.StableBalance, _ = decimal.NewFromString(stable)
	st.VolatileBalance, _ = decimal.NewFromString(volatile)
	st.TotalShares, _ = decimal.NewFromString(shares)
	st.NavPerShare, _ = decimal.NewFromString(nav)

	return &st, nil
}

func (s *PostgresStore) SaveVaultState(ctx context.Context, st *model.VaultState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_state (id, stable_balance, volatile_balance, total_shares, nav_per_share, last_nav_update, total_users, active_users)
		 VALUES (1, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   stable_balance = EXCLUDED.stable_balance,
		   volatile_balance = EXCLUDED.volatile_balance,
		   total_shares = EXCLUDED.total_shares,
		   nav_per_share = EXCLUDED.nav_per_share,
		   last_nav_update = EXCLUDED.last_nav_update,
		   total_users = EXCLUDED.total_users,
		   active_users = EXCLUDED.active_users`,
		st.StableBalance.String(), st.VolatileBalance.String(),
		st.TotalShares.String(), st.NavPerShare.String(),
		st.LastNavUpdate, st.TotalUsers, st.ActiveUsers,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID string) (*model.UserPosition, error) {
	var p model.UserPosition
	var shares, stableC, volatileC string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, shares::TEXT, stable_contributed::TEXT,
		        volatile_contributed::TEXT, active, first_deposit_at, last_deposit_at
		 FROM vault_positions WHERE user_id = $1`, userID).
		Scan(&p.UserID, &shares, &stableC, &volatileC,
			&p.Active, &p.FirstDepositAt, &p.LastDepositAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", userID, err)
	}

	p.Shares, _ = decimal.NewFromString(shares)
	p.StableContributed, _ = decimal.NewFromString(stableC)
	p.VolatileContributed, _ = decimal.NewFromString(volatileC)

	return &p, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.UserPosition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_positions (user_id, shares, stable_contributed, volatile_contributed, active, first_deposit_at, last_deposit_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
		   shares = EXCLUDED.shares,
		   stable_contributed = EXCLUDED.stable_contributed,
		   volatile_contributed = EXCLUDED.volatile_contributed,
		   active = EXCLUDED.active,
		   first_deposit_at = EXCLUDED.first_deposit_at,
		   last_deposit_at = EXCLUDED.last_deposit_at`,
		p.UserID, p.Shares.String(), p.StableContributed.String(),
		p.VolatileContributed.String(), p.Active, p.FirstDepositAt, p.LastDepositAt,
	)
	return err
}

// AppendNavSnapshot inserts the snapshot and trims rows beyond the newest
// NavHistoryCapacity, preserving chronological order for readers.
func (s *PostgresStore) AppendNavSnapshot(ctx context.Context, snap model.NavSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO nav_history (timestamp, nav_per_share, total_value)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC)`,
		snap.Timestamp, snap.NavPerShare.String(), snap.TotalValue.String(),
	)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`DELETE FROM nav_history
		 WHERE id NOT IN (SELECT id FROM nav_history ORDER BY id DESC LIMIT $1)`,
		model.NavHistoryCapacity,
	)
	return err
}

func (s *PostgresStore) GetNavHistory(ctx context.Context, limit, offset int) ([]model.NavSnapshot, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = model.NavHistoryCapacity
	}

	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, nav_per_share::TEXT, total_value::TEXT
		 FROM nav_history ORDER BY id ASC OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []model.NavSnapshot{}
	for rows.Next() {
		var snap model.NavSnapshot
		var nav, total string
		if err := rows.Scan(&snap.Timestamp, &nav, &total); err != nil {
			return nil, err
		}
		snap.NavPerShare, _ = decimal.NewFromString(nav)
		snap.TotalValue, _ = decimal.NewFromString(total)
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func (s *PostgresStore) InsertVaultEvent(ctx context.Context, e *model.VaultEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_events (id, kind, user_id, asset, amount, value, shares, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		e.ID, e.Kind, e.UserID, string(e.Asset),
		e.Amount.String(), e.Value.String(), e.Shares.String(),
		e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetEventsByUser(ctx context.Context, userID string) ([]model.VaultEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, user_id, asset, amount::TEXT, value::TEXT, shares::TEXT, timestamp
		 FROM vault_events WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.VaultEvent
	for rows.Next() {
		var e model.VaultEvent
		var asset, amount, value, shares string

		if err := rows.Scan(&e.ID, &e.Kind, &e.UserID, &asset,
			&amount, &value, &shares, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Asset = model.AssetKind(asset)
		e.Amount, _ = decimal.NewFromString(amount)
		e.Value, _ = decimal.NewFromString(value)
		e.Shares, _ = decimal.NewFromString(shares)

		events = append(events, e)
	}
	return events, rows.Err()
}
