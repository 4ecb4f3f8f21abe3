package market

import (
	"context"
	"time"

	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/oracle"

	"github.com/rs/zerolog/log"
)

// Relay polls an external oracle and republishes its quotes on the bus so
// websocket clients see the same prices the program reads.
type Relay struct {
	Source   oracle.Feed
	Bus      *events.Bus
	Feeds    []string
	Interval time.Duration
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if r.Source == nil || r.Bus == nil {
		log.Warn().Msg("price relay not fully configured; skipping start")
		return nil
	}
	if r.Interval == 0 {
		r.Interval = 5 * time.Second
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Relay) poll(ctx context.Context) {
	for _, id := range r.Feeds {
		q, err := r.Source.ReadPrice(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("feed", id).Msg("price relay read failed")
			continue
		}
		r.Bus.Publish(events.EventPriceTick, events.PriceTick{
			Feed:        id,
			Price:       q.Price,
			Expo:        q.Expo,
			Conf:        q.Conf,
			PublishTime: q.PublishTime,
		})
	}
}
