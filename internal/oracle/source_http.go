package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPSource reads a Hermes-style price document from a configured feed
// endpoint and caches the last good reading for the unsafe path.
type HTTPSource struct {
	Client *http.Client
	URL    string

	mu   sync.RWMutex
	last *RawPrice
}

// NewHTTPSource creates a source polling the given feed URL.
func NewHTTPSource(feedURL string) *HTTPSource {
	return &HTTPSource{
		Client: &http.Client{Timeout: 10 * time.Second},
		URL:    feedURL,
	}
}

// priceDoc is the feed response shape: a mantissa string, a signed decimal
// exponent, and a unix publish time.
type priceDoc struct {
	Price struct {
		Price       string `json:"price"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

// GetUpdateFee returns zero: the HTTP feed charges no update fee.
func (s *HTTPSource) GetUpdateFee(_ []byte) decimal.Decimal {
	return decimal.Zero
}

// ApplyUpdate refreshes the cached reading from the feed endpoint. The
// update payload is ignored — the HTTP feed is pull-based.
func (s *HTTPSource) ApplyUpdate(ctx context.Context, _ []byte, _ decimal.Decimal) error {
	_, err := s.refresh(ctx)
	return err
}

// ReadPrice refreshes from the feed and rejects the reading if its publish
// time is older than maxStaleness.
func (s *HTTPSource) ReadPrice(ctx context.Context, maxStaleness time.Duration) (RawPrice, error) {
	raw, err := s.refresh(ctx)
	if err != nil {
		// A fetch failure still leaves a possibly usable cached reading,
		// but the fresh path must not serve it silently.
		return RawPrice{}, err
	}
	if time.Since(raw.PublishTime) > maxStaleness {
		return RawPrice{}, fmt.Errorf("%w: published %s ago", ErrStalePrice, time.Since(raw.PublishTime).Truncate(time.Second))
	}
	return raw, nil
}

// ReadPriceUnsafe returns the cached reading regardless of age, fetching
// once if nothing has been cached yet.
func (s *HTTPSource) ReadPriceUnsafe(ctx context.Context) (RawPrice, error) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last != nil {
		return *last, nil
	}
	raw, err := s.refresh(ctx)
	if err != nil {
		return RawPrice{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	return raw, nil
}

// Refresh fetches the latest reading from the feed and replaces the cache.
func (s *HTTPSource) Refresh(ctx context.Context) (RawPrice, error) {
	return s.refresh(ctx)
}

func (s *HTTPSource) refresh(ctx context.Context) (RawPrice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return RawPrice{}, fmt.Errorf("oracle: build feed request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return RawPrice{}, fmt.Errorf("oracle: fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RawPrice{}, fmt.Errorf("oracle: feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RawPrice{}, fmt.Errorf("oracle: read feed body: %w", err)
	}

	var doc priceDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return RawPrice{}, fmt.Errorf("oracle: parse feed body: %w", err)
	}

	mantissa, err := strconv.ParseInt(doc.Price.Price, 10, 64)
	if err != nil {
		return RawPrice{}, fmt.Errorf("oracle: parse feed mantissa %q: %w", doc.Price.Price, err)
	}

	raw := RawPrice{
		Mantissa:    mantissa,
		Expo:        doc.Price.Expo,
		PublishTime: time.Unix(doc.Price.PublishTime, 0).UTC(),
	}

	s.mu.Lock()
	s.last = &raw
	s.mu.Unlock()

	return raw, nil
}
