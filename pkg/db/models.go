package db

import (
	"context"
	"database/sql"
	"strconv"
	"time"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PortfolioRow is the read model of one portfolio account. Data holds the
// full account as JSON.
type PortfolioRow struct {
	Address       string    `json:"address"`
	Owner         string    `json:"owner"`
	State         string    `json:"state"`
	PctA          uint16    `json:"pct_a"`
	PctB          uint16    `json:"pct_b"`
	AutoRebalance bool      `json:"auto_rebalance"`
	Sequence      uint64    `json:"sequence"`
	Data          string    `json:"data"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RebalanceEvent is one emitted AssetsBalanced record.
type RebalanceEvent struct {
	ID           string    `json:"id"`
	TxID         string    `json:"tx_id"`
	Portfolio    string    `json:"portfolio"`
	Owner        string    `json:"owner"`
	Sequence     uint64    `json:"sequence"`
	WorthA       uint64    `json:"worth_a"`
	WorthB       uint64    `json:"worth_b"`
	WorthQuote   uint64    `json:"worth_quote"`
	PctA         uint16    `json:"pct_a"`
	PctB         uint16    `json:"pct_b"`
	OrdersPlaced int       `json:"orders_placed"`
	NoOp         bool      `json:"no_op"`
	CreatedAt    time.Time `json:"created_at"`
}

// VenueOrder is one order sent to a market on behalf of a portfolio.
type VenueOrder struct {
	ID         string    `json:"id"` // client order id
	TxID       string    `json:"tx_id"`
	Portfolio  string    `json:"portfolio"`
	Market     string    `json:"market"`
	Symbol     string    `json:"symbol"`
	OrderID    uint64    `json:"order_id"`
	Side       string    `json:"side"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	PriceLots  uint64    `json:"price_lots"`
	BaseLots   uint64    `json:"base_lots"`
	FilledLots uint64    `json:"filled_lots"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// VenueFill is the immediate match of a taking order.
type VenueFill struct {
	ID          string    `json:"id"`
	TxID        string    `json:"tx_id"`
	Portfolio   string    `json:"portfolio"`
	Market      string    `json:"market"`
	Symbol      string    `json:"symbol"`
	OrderID     uint64    `json:"order_id"`
	Side        string    `json:"side"`
	FilledBase  uint64    `json:"filled_base"`
	FilledQuote uint64    `json:"filled_quote"`
	Fee         uint64    `json:"fee"`
	CreatedAt   time.Time `json:"created_at"`
}

// OutboxEvent is one committed event in commit order.
type OutboxEvent struct {
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	TxID      string    `json:"tx_id"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

// UpsertPortfolio stores the latest portfolio account.
func UpsertPortfolio(ctx context.Context, x Execer, p PortfolioRow) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO portfolios (address, owner, state, pct_a, pct_b, auto_rebalance, sequence, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			owner = excluded.owner,
			state = excluded.state,
			pct_a = excluded.pct_a,
			pct_b = excluded.pct_b,
			auto_rebalance = excluded.auto_rebalance,
			sequence = excluded.sequence,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, p.Address, p.Owner, p.State, p.PctA, p.PctB, p.AutoRebalance, int64(p.Sequence), p.Data, p.CreatedAt, p.UpdatedAt)
	return err
}

// DeletePortfolio removes a closed account; other addresses are ignored.
func DeletePortfolio(ctx context.Context, x Execer, address string) error {
	_, err := x.ExecContext(ctx, `DELETE FROM portfolios WHERE address = ?`, address)
	return err
}

// InsertRebalanceEvent appends one AssetsBalanced record.
func InsertRebalanceEvent(ctx context.Context, x Execer, e RebalanceEvent) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO rebalance_events (
			id, tx_id, portfolio, owner, sequence, worth_a, worth_b, worth_quote,
			pct_a, pct_b, orders_placed, no_op, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TxID, e.Portfolio, e.Owner, int64(e.Sequence), u64(e.WorthA), u64(e.WorthB), u64(e.WorthQuote),
		e.PctA, e.PctB, e.OrdersPlaced, e.NoOp, e.CreatedAt)
	return err
}

// UpsertVenueOrder records a placed or rejected order.
func UpsertVenueOrder(ctx context.Context, x Execer, o VenueOrder) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO venue_orders (
			id, tx_id, portfolio, market, symbol, order_id, side, type, status,
			price_lots, base_lots, filled_lots, reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			filled_lots = excluded.filled_lots,
			reason = excluded.reason,
			updated_at = excluded.updated_at
	`, o.ID, o.TxID, o.Portfolio, o.Market, o.Symbol, int64(o.OrderID), o.Side, o.Type, o.Status,
		u64(o.PriceLots), u64(o.BaseLots), u64(o.FilledLots), o.Reason, o.CreatedAt, o.CreatedAt)
	return err
}

// MarkOrderStatus updates an order identified by market and venue order id.
func MarkOrderStatus(ctx context.Context, x Execer, market string, orderID uint64, status string, at time.Time) error {
	_, err := x.ExecContext(ctx, `
		UPDATE venue_orders SET status = ?, updated_at = ?
		WHERE market = ? AND order_id = ?
	`, status, at, market, int64(orderID))
	return err
}

// InsertVenueFill appends a fill.
func InsertVenueFill(ctx context.Context, x Execer, f VenueFill) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO venue_fills (
			id, tx_id, portfolio, market, symbol, order_id, side, filled_base, filled_quote, fee, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.TxID, f.Portfolio, f.Market, f.Symbol, int64(f.OrderID), f.Side,
		u64(f.FilledBase), u64(f.FilledQuote), u64(f.Fee), f.CreatedAt)
	return err
}

// InsertOutboxEvent appends an event to the outbox.
func InsertOutboxEvent(ctx context.Context, x Execer, e OutboxEvent) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO outbox_events (id, tx_id, topic, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.TxID, e.Topic, e.Payload, e.CreatedAt)
	return err
}
