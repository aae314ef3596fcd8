package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticSource serves a fixed raw price. Used in tests and in dev mode when
// no feed URL is configured. Set lets callers move the price and publish
// time; FailReads simulates a feed outage.
type StaticSource struct {
	mu        sync.RWMutex
	raw       RawPrice
	hasPrice  bool
	failReads bool
	fee       decimal.Decimal
	updates   int
}

// NewStaticSource creates a source with no reading (reads fail until Set).
func NewStaticSource() *StaticSource {
	return &StaticSource{}
}

// Set installs a reading.
func (s *StaticSource) Set(mantissa int64, expo int32, publishTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = RawPrice{Mantissa: mantissa, Expo: expo, PublishTime: publishTime}
	s.hasPrice = true
}

// SetFailReads toggles simulated read failure on both paths.
func (s *StaticSource) SetFailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = fail
}

// SetFee sets the quoted update fee.
func (s *StaticSource) SetFee(fee decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fee = fee
}

// Updates reports how many updates have been applied.
func (s *StaticSource) Updates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}

func (s *StaticSource) GetUpdateFee(_ []byte) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fee
}

func (s *StaticSource) ApplyUpdate(_ context.Context, _ []byte, _ decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	return nil
}

func (s *StaticSource) ReadPrice(_ context.Context, maxStaleness time.Duration) (RawPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failReads || !s.hasPrice {
		return RawPrice{}, ErrPriceUnavailable
	}
	if time.Since(s.raw.PublishTime) > maxStaleness {
		return RawPrice{}, ErrStalePrice
	}
	return s.raw, nil
}

func (s *StaticSource) ReadPriceUnsafe(_ context.Context) (RawPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failReads || !s.hasPrice {
		return RawPrice{}, ErrPriceUnavailable
	}
	return s.raw, nil
}

// Refresh returns the installed reading; the static source has no feed to
// contact.
func (s *StaticSource) Refresh(ctx context.Context) (RawPrice, error) {
	return s.ReadPriceUnsafe(ctx)
}
