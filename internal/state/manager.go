// Package state persists committed runtime transactions into the SQL read
// model and keeps the latest rebalance outcome of each portfolio in memory.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/internal/vault"
	"asset-rebalancer/pkg/db"

	"github.com/rs/zerolog/log"
)

// Manager is the runtime's commit store. Every runtime transaction becomes
// one SQL transaction: portfolio rows, order and fill rows, rebalance events
// and the raw outbox are written together or not at all.
type Manager struct {
	mu       sync.RWMutex
	balanced map[string]events.AssetsBalanced // by owner
	db       *db.Database
}

func NewManager(database *db.Database) *Manager {
	return &Manager{
		db:       database,
		balanced: make(map[string]events.AssetsBalanced),
	}
}

var _ chain.Store = (*Manager)(nil)

// Load seeds the in-memory view from the newest stored event per owner.
func (m *Manager) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	rows, err := m.db.Queries().ListPortfolios(ctx, "")
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range rows {
		evs, err := m.db.Queries().GetRebalanceEventsByOwner(ctx, p.Owner, 1)
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			continue
		}
		e := evs[0]
		m.balanced[p.Owner] = events.AssetsBalanced{
			Portfolio:        e.Portfolio,
			Owner:            e.Owner,
			Sequence:         e.Sequence,
			NewTokenAWorth:   e.WorthA,
			NewTokenBWorth:   e.WorthB,
			QuoteWorth:       e.WorthQuote,
			TokenAPercentage: e.PctA,
			TokenBPercentage: e.PctB,
			OrdersPlaced:     e.OrdersPlaced,
			NoOp:             e.NoOp,
			At:               e.CreatedAt.Unix(),
		}
	}
	log.Info().Int("portfolios", len(rows)).Int("with_events", len(m.balanced)).Msg("state loaded")
	return nil
}

// LastBalanced returns the newest AssetsBalanced of owner.
func (m *Manager) LastBalanced(owner string) (events.AssetsBalanced, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.balanced[owner]
	return e, ok
}

// Commit writes c in one SQL transaction. A failure aborts the runtime
// transaction.
func (m *Manager) Commit(ctx context.Context, c chain.Commit) error {
	if m.db == nil {
		return nil
	}
	var balanced []events.AssetsBalanced
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		for addr, acct := range c.Accounts {
			switch a := acct.(type) {
			case nil:
				if err := db.DeletePortfolio(ctx, tx, addr.String()); err != nil {
					return err
				}
			case vault.Portfolio:
				if err := upsertPortfolio(ctx, tx, a); err != nil {
					return err
				}
			}
		}
		for _, ev := range c.Events {
			if err := writeEvent(ctx, tx, ev); err != nil {
				return fmt.Errorf("%s: %w", ev.Topic, err)
			}
			if b, ok := ev.Payload.(events.AssetsBalanced); ok {
				balanced = append(balanced, b)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(balanced) > 0 {
		m.mu.Lock()
		for _, b := range balanced {
			m.balanced[b.Owner] = b
		}
		m.mu.Unlock()
	}
	return nil
}

func upsertPortfolio(ctx context.Context, tx *sql.Tx, pf vault.Portfolio) error {
	data, err := json.Marshal(pf)
	if err != nil {
		return err
	}
	return db.UpsertPortfolio(ctx, tx, db.PortfolioRow{
		Address:       pf.Address.String(),
		Owner:         pf.Owner.String(),
		State:         string(pf.State),
		PctA:          pf.A.TargetPct,
		PctB:          pf.B.TargetPct,
		AutoRebalance: pf.AutoRebalance,
		Sequence:      pf.Sequence,
		Data:          string(data),
		CreatedAt:     time.Unix(pf.CreatedAt, 0).UTC(),
		UpdatedAt:     time.Unix(pf.UpdatedAt, 0).UTC(),
	})
}

func writeEvent(ctx context.Context, tx *sql.Tx, ev events.Envelope) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	if err := db.InsertOutboxEvent(ctx, tx, db.OutboxEvent{
		ID:        ev.ID,
		TxID:      ev.TxID,
		Topic:     string(ev.Topic),
		Payload:   string(payload),
		CreatedAt: ev.CreatedAt,
	}); err != nil {
		return err
	}

	switch p := ev.Payload.(type) {
	case events.AssetsBalanced:
		return db.InsertRebalanceEvent(ctx, tx, db.RebalanceEvent{
			ID:           ev.ID,
			TxID:         ev.TxID,
			Portfolio:    p.Portfolio,
			Owner:        p.Owner,
			Sequence:     p.Sequence,
			WorthA:       p.NewTokenAWorth,
			WorthB:       p.NewTokenBWorth,
			WorthQuote:   p.QuoteWorth,
			PctA:         p.TokenAPercentage,
			PctB:         p.TokenBPercentage,
			OrdersPlaced: p.OrdersPlaced,
			NoOp:         p.NoOp,
			CreatedAt:    ev.CreatedAt,
		})
	case events.OrderUpdate:
		return writeOrder(ctx, tx, ev, p)
	}
	return nil
}

func writeOrder(ctx context.Context, tx *sql.Tx, ev events.Envelope, o events.OrderUpdate) error {
	switch ev.Topic {
	case events.EventOrderCanceled:
		return db.MarkOrderStatus(ctx, tx, o.Market, o.OrderID, o.Status, ev.CreatedAt)
	case events.EventOrderFilled:
		return db.InsertVenueFill(ctx, tx, db.VenueFill{
			ID:          ev.ID,
			TxID:        ev.TxID,
			Portfolio:   o.Portfolio,
			Market:      o.Market,
			Symbol:      o.Symbol,
			OrderID:     o.OrderID,
			Side:        o.Side,
			FilledBase:  o.FilledBase,
			FilledQuote: o.FilledQuote,
			Fee:         o.Fee,
			CreatedAt:   ev.CreatedAt,
		})
	}
	id := o.ClientID
	if id == "" {
		id = ev.ID
	}
	return db.UpsertVenueOrder(ctx, tx, db.VenueOrder{
		ID:         id,
		TxID:       ev.TxID,
		Portfolio:  o.Portfolio,
		Market:     o.Market,
		Symbol:     o.Symbol,
		OrderID:    o.OrderID,
		Side:       o.Side,
		Type:       o.Type,
		Status:     o.Status,
		PriceLots:  o.PriceLots,
		BaseLots:   o.BaseLots,
		FilledLots: o.FilledLots,
		Reason:     o.Reason,
		CreatedAt:  ev.CreatedAt,
	})
}
