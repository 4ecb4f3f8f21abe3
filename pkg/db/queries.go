// Package db persists the rebalancer's read model and event outbox in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrOwnerRequired = errors.New("owner is required for data isolation")
	ErrNotFound      = errors.New("record not found")
)

// OwnerQueries provides owner-isolated reads.
type OwnerQueries struct {
	db *sql.DB
}

// NewOwnerQueries creates a new OwnerQueries instance.
func NewOwnerQueries(db *sql.DB) *OwnerQueries {
	return &OwnerQueries{db: db}
}

// ----------------------------------------
// Portfolio Queries
// ----------------------------------------

const portfolioColumns = `address, owner, state, pct_a, pct_b, COALESCE(auto_rebalance, 0), sequence, data, created_at, updated_at`

func scanPortfolio(s interface{ Scan(...any) error }) (PortfolioRow, error) {
	var (
		p   PortfolioRow
		seq int64
	)
	err := s.Scan(&p.Address, &p.Owner, &p.State, &p.PctA, &p.PctB, &p.AutoRebalance, &seq, &p.Data, &p.CreatedAt, &p.UpdatedAt)
	p.Sequence = uint64(seq)
	return p, err
}

// GetPortfolioByOwner returns the portfolio row of owner.
func (q *OwnerQueries) GetPortfolioByOwner(ctx context.Context, owner string) (*PortfolioRow, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	p, err := scanPortfolio(q.db.QueryRowContext(ctx, `
		SELECT `+portfolioColumns+`
		FROM portfolios WHERE owner = ?
		ORDER BY updated_at DESC LIMIT 1
	`, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query portfolio: %w", err)
	}
	return &p, nil
}

// ListPortfolios returns every stored portfolio, optionally filtered by state.
func (q *OwnerQueries) ListPortfolios(ctx context.Context, state string) ([]PortfolioRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+portfolioColumns+`
		FROM portfolios
		WHERE (? = '' OR state = ?)
		ORDER BY address
	`, state, state)
	if err != nil {
		return nil, fmt.Errorf("query portfolios: %w", err)
	}
	defer rows.Close()

	var res []PortfolioRow
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Rebalance Event Queries
// ----------------------------------------

// GetRebalanceEventsByOwner returns the newest events of owner first.
func (q *OwnerQueries) GetRebalanceEventsByOwner(ctx context.Context, owner string, limit int) ([]RebalanceEvent, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tx_id, portfolio, owner, sequence, worth_a, worth_b, worth_quote,
		       pct_a, pct_b, orders_placed, no_op, created_at
		FROM rebalance_events
		WHERE owner = ?
		ORDER BY created_at DESC, sequence DESC
		LIMIT ?
	`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("query rebalance events: %w", err)
	}
	defer rows.Close()

	var res []RebalanceEvent
	for rows.Next() {
		var (
			e              RebalanceEvent
			seq            int64
			wa, wb, wquote string
		)
		if err := rows.Scan(&e.ID, &e.TxID, &e.Portfolio, &e.Owner, &seq, &wa, &wb, &wquote,
			&e.PctA, &e.PctB, &e.OrdersPlaced, &e.NoOp, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rebalance event: %w", err)
		}
		e.Sequence = uint64(seq)
		e.WorthA, e.WorthB, e.WorthQuote = parseU64(wa), parseU64(wb), parseU64(wquote)
		res = append(res, e)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Venue Order Queries
// ----------------------------------------

// GetOrdersByPortfolio returns orders of a portfolio, newest first.
func (q *OwnerQueries) GetOrdersByPortfolio(ctx context.Context, portfolio string, limit int) ([]VenueOrder, error) {
	if portfolio == "" {
		return nil, ErrOwnerRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tx_id, portfolio, market, symbol, order_id, side, type, status,
		       price_lots, base_lots, COALESCE(filled_lots, '0'), COALESCE(reason, ''), created_at, updated_at
		FROM venue_orders
		WHERE portfolio = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, portfolio, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var res []VenueOrder
	for rows.Next() {
		var (
			o                   VenueOrder
			orderID             int64
			price, base, filled string
		)
		if err := rows.Scan(&o.ID, &o.TxID, &o.Portfolio, &o.Market, &o.Symbol, &orderID, &o.Side, &o.Type, &o.Status,
			&price, &base, &filled, &o.Reason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.OrderID = uint64(orderID)
		o.PriceLots, o.BaseLots, o.FilledLots = parseU64(price), parseU64(base), parseU64(filled)
		res = append(res, o)
	}
	return res, rows.Err()
}

// GetFillsByPortfolio returns fills of a portfolio, newest first.
func (q *OwnerQueries) GetFillsByPortfolio(ctx context.Context, portfolio string, limit int) ([]VenueFill, error) {
	if portfolio == "" {
		return nil, ErrOwnerRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tx_id, portfolio, market, symbol, order_id, side, filled_base, filled_quote, fee, created_at
		FROM venue_fills
		WHERE portfolio = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, portfolio, limit)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var res []VenueFill
	for rows.Next() {
		var (
			f                VenueFill
			orderID          int64
			base, quote, fee string
		)
		if err := rows.Scan(&f.ID, &f.TxID, &f.Portfolio, &f.Market, &f.Symbol, &orderID, &f.Side,
			&base, &quote, &fee, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.OrderID = uint64(orderID)
		f.FilledBase, f.FilledQuote, f.Fee = parseU64(base), parseU64(quote), parseU64(fee)
		res = append(res, f)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Outbox Queries
// ----------------------------------------

// ListOutboxAfter pages through committed events in commit order.
func (q *OwnerQueries) ListOutboxAfter(ctx context.Context, after int64, limit int) ([]OutboxEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT seq, id, tx_id, topic, payload, created_at
		FROM outbox_events
		WHERE seq > ?
		ORDER BY seq
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var res []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.Seq, &e.ID, &e.TxID, &e.Topic, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
