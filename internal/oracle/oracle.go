// Package oracle adapts an external price feed into the vault's 6-decimal
// USD price precision.
//
// Two read modes exist on one adapter, and the policy difference matters:
//   - GetPrice is the fresh path: optionally pushes update data (paying the
//     feed's fee), then rejects any reading older than the configured
//     staleness bound. Used for every money-moving conversion.
//   - GetPriceView is the cached path: never fails. On any read failure it
//     returns a 1.0 price so valuation queries stay live through an oracle
//     outage — availability over precision, for reporting only.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/vault-engine/internal/fixedpoint"
)

var (
	// ErrStalePrice is returned by the fresh read path when the feed's
	// latest publish time is older than the allowed staleness.
	ErrStalePrice = errors.New("oracle: price reading is stale")

	// ErrPriceUnavailable is returned when the feed has no reading at all.
	ErrPriceUnavailable = errors.New("oracle: no price reading available")
)

// DefaultMaxStaleness bounds the age of readings accepted by the fresh path.
const DefaultMaxStaleness = 60 * time.Second

// maxScaleExponent caps the magnitude of the exponent applied while
// rescaling a raw mantissa, so a corrupt feed exponent cannot produce an
// absurd scale factor.
const maxScaleExponent = 59

// MaxScaledPrice saturates the up-scale path. Matches the largest value a
// 64-bit unsigned feed could carry.
var MaxScaledPrice = decimal.RequireFromString("18446744073709551615")

// fallbackPrice is 1.0 in 6-decimal price units, used by the cached path
// when the feed cannot be read.
var fallbackPrice = fixedpoint.Pow10(fixedpoint.PriceDecimals)

// RawPrice is the feed-native (mantissa, exponent, publish time) triple.
// Ephemeral; read per call and never stored outside the source's cache.
type RawPrice struct {
	Mantissa    int64
	Expo        int32
	PublishTime time.Time
}

// Reading is a price converted to vault precision (6 decimals, USD terms).
type Reading struct {
	Price       decimal.Decimal `json:"price"`
	PublishTime time.Time       `json:"publish_time"`
}

// Source is the external price feed the adapter consumes. Implementations:
// HTTPSource (live feed) and StaticSource (tests, dev mode).
type Source interface {
	// GetUpdateFee quotes the fee for pushing the given update data.
	GetUpdateFee(update []byte) decimal.Decimal

	// ApplyUpdate pushes update data to the feed, paying fee. Must complete
	// before any state mutation in the calling operation.
	ApplyUpdate(ctx context.Context, update []byte, fee decimal.Decimal) error

	// ReadPrice returns the latest reading, failing with ErrStalePrice if
	// its publish time is older than maxStaleness.
	ReadPrice(ctx context.Context, maxStaleness time.Duration) (RawPrice, error)

	// ReadPriceUnsafe returns the last known reading regardless of age.
	// It is a pure cache read and never contacts the feed beyond an
	// initial cold fetch.
	ReadPriceUnsafe(ctx context.Context) (RawPrice, error)

	// Refresh fetches the latest reading from the feed regardless of age,
	// replacing the cached reading served by ReadPriceUnsafe.
	Refresh(ctx context.Context) (RawPrice, error)
}

// ScalePrice converts a feed-native (mantissa, exponent) pair into 6-decimal
// price units. A negative mantissa is an invalid price and maps to zero so
// sign errors never reach downstream math.
func ScalePrice(mantissa int64, expo int32) decimal.Decimal {
	if mantissa < 0 {
		return decimal.Zero
	}
	adjusted := fixedpoint.PriceDecimals + expo
	switch {
	case adjusted > 0:
		if adjusted > maxScaleExponent {
			adjusted = maxScaleExponent
		}
		scaled := decimal.New(mantissa, adjusted)
		if scaled.GreaterThan(MaxScaledPrice) {
			return MaxScaledPrice
		}
		return scaled
	case adjusted < 0:
		if adjusted < -maxScaleExponent {
			adjusted = -maxScaleExponent
		}
		return decimal.New(mantissa, 0).Shift(adjusted).Truncate(0)
	default:
		return decimal.New(mantissa, 0)
	}
}

// Adapter wraps a Source with the two vault read modes. Owns no funds.
type Adapter struct {
	src          Source
	maxStaleness time.Duration
}

// NewAdapter creates an adapter over src. A non-positive maxStaleness
// selects DefaultMaxStaleness.
func NewAdapter(src Source, maxStaleness time.Duration) *Adapter {
	if maxStaleness <= 0 {
		maxStaleness = DefaultMaxStaleness
	}
	return &Adapter{src: src, maxStaleness: maxStaleness}
}

// MaxStaleness returns the freshness bound applied by GetPrice.
func (a *Adapter) MaxStaleness() time.Duration {
	return a.maxStaleness
}

// SetMaxStaleness replaces the freshness bound. Admin parameter change.
func (a *Adapter) SetMaxStaleness(d time.Duration) {
	if d > 0 {
		a.maxStaleness = d
	}
}

// GetPrice is the fresh read path. If update data is supplied it is pushed
// to the feed first (paying the quoted fee), then the reading is accepted
// only if published within the staleness bound.
func (a *Adapter) GetPrice(ctx context.Context, update []byte) (Reading, error) {
	if len(update) > 0 {
		fee := a.src.GetUpdateFee(update)
		if err := a.src.ApplyUpdate(ctx, update, fee); err != nil {
			return Reading{}, err
		}
	}
	raw, err := a.src.ReadPrice(ctx, a.maxStaleness)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		Price:       ScalePrice(raw.Mantissa, raw.Expo),
		PublishTime: raw.PublishTime,
	}, nil
}

// RefreshView forces a feed fetch and returns the resulting view. Like
// GetPriceView it never fails: a fetch error falls back to the cached
// reading, then to a 1.0 price. The poller drives this so the cached view
// keeps tracking the feed between money-moving fresh reads.
func (a *Adapter) RefreshView(ctx context.Context) Reading {
	raw, err := a.src.Refresh(ctx)
	if err != nil {
		return a.GetPriceView(ctx)
	}
	return Reading{
		Price:       ScalePrice(raw.Mantissa, raw.Expo),
		PublishTime: raw.PublishTime,
	}
}

// GetPriceView is the cached read path. It never fails: any read error
// yields a 1.0 price so downstream valuation stays available during an
// oracle outage. Callers must not size payouts off this reading.
func (a *Adapter) GetPriceView(ctx context.Context) Reading {
	raw, err := a.src.ReadPriceUnsafe(ctx)
	if err != nil {
		return Reading{Price: fallbackPrice}
	}
	return Reading{
		Price:       ScalePrice(raw.Mantissa, raw.Expo),
		PublishTime: raw.PublishTime,
	}
}
