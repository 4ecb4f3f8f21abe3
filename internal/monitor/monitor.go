package monitor

import (
	"context"
	"fmt"
	"time"

	"asset-rebalancer/internal/events"

	"github.com/rs/zerolog/log"
)

// Monitor watches the event bus and forwards notable outcomes to a sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Warn().Msg("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.SubscribeMany([]events.Event{events.EventOrderRejected, events.EventAssetsBalanced}, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				text, alert := formatAlert(msg)
				if !alert {
					continue
				}
				if err := m.Sink.Send(text); err != nil {
					log.Warn().Err(err).Msg("alert delivery failed")
				}
			}
		}
	}()
}

// formatAlert reports whether msg deserves an alert. Rejections always do;
// rebalances only when no order could be placed while the portfolio is off
// target.
func formatAlert(msg any) (string, bool) {
	ts := "[" + time.Now().Format(time.RFC3339) + "] "
	switch t := msg.(type) {
	case events.OrderUpdate:
		return ts + fmt.Sprintf("order rejected on %s (%s %d lots): %s", t.Symbol, t.Side, t.BaseLots, t.Reason), true
	case events.AssetsBalanced:
		if t.NoOp || t.OrdersPlaced > 0 {
			return "", false
		}
		return ts + fmt.Sprintf("portfolio %s rebalanced without orders at %d/%d", t.Portfolio, t.TokenAPercentage, t.TokenBPercentage), true
	default:
		return "", false
	}
}
