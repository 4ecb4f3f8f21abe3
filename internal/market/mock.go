package market

import (
	"context"
	"math/rand"
	"time"

	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/oracle"

	"github.com/rs/zerolog/log"
)

// MockFeed random-walks seeded prices and republishes them with a fresh
// publish time. A zero StepBps keeps prices static but still current.
type MockFeed struct {
	Feed     *oracle.MemoryFeed
	Bus      *events.Bus
	StepBps  uint64
	Interval time.Duration
	Rand     *rand.Rand
}

// Run blocks until ctx is done.
func (m *MockFeed) Run(ctx context.Context) error {
	if m.Feed == nil {
		log.Warn().Msg("mock feed: no price store configured")
		return nil
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	if m.Rand == nil {
		m.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			m.Tick(now)
		}
	}
}

// Tick moves every feed by at most StepBps and stamps it with now.
func (m *MockFeed) Tick(now time.Time) {
	for _, id := range m.Feed.Feeds() {
		q, err := m.Feed.ReadPrice(context.Background(), id)
		if err != nil {
			continue
		}
		if m.StepBps > 0 && m.Rand != nil {
			// simple random walk in whole bps
			bps := m.Rand.Int63n(int64(2*m.StepBps+1)) - int64(m.StepBps)
			next := q.Price + q.Price*bps/10_000
			if next > 0 {
				q.Price = next
			}
		}
		q.PublishTime = now.Unix()
		m.Feed.Set(id, q)
		if m.Bus != nil {
			m.Bus.Publish(events.EventPriceTick, events.PriceTick{
				Feed:        id,
				Price:       q.Price,
				Expo:        q.Expo,
				Conf:        q.Conf,
				PublishTime: q.PublishTime,
			})
		}
	}
}
