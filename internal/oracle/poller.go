package oracle

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Poller periodically fetches the feed so the cached view served to
// valuation queries and the price gauge keep tracking the market between
// requests. It only rewrites the source's cache — the accounting core never
// depends on the poller having run.
type Poller struct {
	cron    *cron.Cron
	adapter *Adapter
	onPrice func(Reading)
}

// NewPoller creates a poller over the adapter. onPrice, if non-nil, is
// invoked with each refreshed reading (used to update the price gauge).
func NewPoller(adapter *Adapter, onPrice func(Reading)) *Poller {
	return &Poller{
		cron:    cron.New(),
		adapter: adapter,
		onPrice: onPrice,
	}
}

// Start registers the refresh job with the given cron spec (e.g. "@every 15s")
// and starts the scheduler.
func (p *Poller) Start(spec string) error {
	_, err := p.cron.AddFunc(spec, func() {
		reading := p.adapter.RefreshView(context.Background())
		slog.Debug("oracle price refreshed",
			"price", reading.Price.String(),
			"publish_time", reading.PublishTime,
		)
		if p.onPrice != nil {
			p.onPrice(reading)
		}
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the scheduler without waiting for a running job.
func (p *Poller) Stop() {
	p.cron.Stop()
}
