package order

import (
	"context"
	"fmt"
	"math/big"

	"asset-rebalancer/internal/allocation"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/oracle"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Executor translates trade legs into venue requests and interprets the
// venue's answer.
type Executor struct {
	cfg Config
}

func NewExecutor(cfg Config) *Executor {
	if cfg.Style == "" {
		cfg.Style = StylePostOnly
	}
	if cfg.SelfTrade == "" {
		cfg.SelfTrade = common.SelfTradeAbortTransaction
	}
	return &Executor{cfg: cfg}
}

func (e *Executor) Config() Config { return e.cfg }

// PriceLots converts an oracle quote into venue units (quote lots per base
// lot), rounded to the nearest tick.
func PriceLots(q oracle.PriceQuote, baseDecimals, quoteDecimals uint8, m common.MarketBundle) (uint64, error) {
	if q.Price <= 0 || !q.ExpoInRange() || m.QuoteLotSize == 0 {
		return 0, ErrPriceConversion
	}
	num := big.NewInt(q.Price)
	num.Mul(num, new(big.Int).SetUint64(m.BaseLotSize))
	den := new(big.Int).SetUint64(m.QuoteLotSize)
	exp := int64(q.Expo) + int64(quoteDecimals) - int64(baseDecimals)
	ten := big.NewInt(10)
	if exp >= 0 {
		num.Mul(num, new(big.Int).Exp(ten, big.NewInt(exp), nil))
	} else {
		den.Mul(den, new(big.Int).Exp(ten, big.NewInt(-exp), nil))
	}
	// round half up: (2*num + den) / (2*den)
	num.Mul(num, big.NewInt(2)).Add(num, den)
	den.Mul(den, big.NewInt(2))
	lots := num.Quo(num, den)
	if !lots.IsUint64() {
		return 0, ErrPriceConversion
	}
	return lots.Uint64(), nil
}

// quotePrice picks the limit price for a leg.
func (e *Executor) quotePrice(side common.Side, oracleLots uint64, depth common.Depth) (uint64, common.OrderType, error) {
	bid, hasBid := depth.BestBid()
	ask, hasAsk := depth.BestAsk()

	if e.cfg.Style == StyleIOC {
		slip := e.cfg.MaxSlippageBps
		if side == common.SideSell {
			if !hasBid {
				return 0, "", ErrNoLiquidity
			}
			p := scaleBps(oracleLots, 10_000-min(slip, 9_999), false)
			return max(p, 1), common.OrderTypeIOC, nil
		}
		if !hasAsk {
			return 0, "", ErrNoLiquidity
		}
		return scaleBps(oracleLots, 10_000+slip, true), common.OrderTypeIOC, nil
	}

	if !hasBid && !hasAsk {
		return 0, "", ErrNoLiquidity
	}
	if side == common.SideSell {
		p := max(oracleLots, 1)
		if hasBid && p <= bid {
			p = bid + 1
		}
		return p, common.OrderTypePostOnly, nil
	}
	p := oracleLots
	if hasAsk && p >= ask {
		p = ask - 1
	}
	return p, common.OrderTypePostOnly, nil
}

func scaleBps(v, bps uint64, roundUp bool) uint64 {
	n := new(big.Int).SetUint64(v)
	n.Mul(n, new(big.Int).SetUint64(bps))
	d := big.NewInt(10_000)
	if roundUp {
		n.Add(n, big.NewInt(9_999))
	}
	n.Quo(n, d)
	if !n.IsUint64() {
		return ^uint64(0)
	}
	return n.Uint64()
}

// Place sends one leg. For sells amount is the native base to sell; for buys
// it is the most native base to acquire and budget caps the quote spent.
func (e *Executor) Place(ctx context.Context, venue common.Gateway, em Emitter, r Route, side common.Side, amount, budget uint64, now int64) (Result, error) {
	m := r.Market
	res := Result{Side: side, Symbol: m.Symbol}

	oracleLots, err := PriceLots(r.Price, r.BaseDecimals, r.QuoteDecimals, m)
	if err != nil {
		return res, err
	}
	depth, err := venue.Depth(m.MarketID, 1)
	if err != nil {
		return res, err
	}
	price, typ, err := e.quotePrice(side, oracleLots, depth)
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", m.Symbol, side, err)
	}
	res.PriceLots = price

	lots := amount / m.BaseLotSize
	var maxQuote uint64
	payer := r.BaseWallet
	if side == common.SideBuy {
		payer = r.QuoteWallet
		maxQuote = budget
		if typ == common.OrderTypePostOnly && price > 0 {
			unit := price * m.QuoteLotSize
			lots = min(lots, budget/unit)
			maxQuote = lots * unit
		}
		if budget == 0 {
			lots = 0
		}
	}
	res.BaseLots = lots
	if lots == 0 || price == 0 {
		res.Outcome = OutcomeSkipped
		return res, nil
	}

	clientID := uuid.New()
	req := common.OrderRequest{
		Market:      m.MarketID,
		OpenOrders:  r.OpenOrders,
		Owner:       r.Owner,
		Payer:       payer,
		Side:        side,
		Type:        typ,
		SelfTrade:   e.cfg.SelfTrade,
		LimitPrice:  price,
		MaxBaseQty:  lots,
		MaxQuoteQty: maxQuote,
		ClientID:    clientIDBits(clientID),
	}
	ack, err := venue.PlaceOrder(ctx, req)
	if err != nil {
		return res, fmt.Errorf("place %s %s: %w", m.Symbol, side, err)
	}
	res.Order = ack

	update := events.OrderUpdate{
		Portfolio:   r.Portfolio.String(),
		Market:      m.MarketID.String(),
		Symbol:      m.Symbol,
		OrderID:     ack.OrderID,
		ClientID:    clientID.String(),
		Side:        string(side),
		Type:        string(typ),
		Status:      string(ack.Status),
		PriceLots:   price,
		BaseLots:    lots,
		FilledLots:  ack.FilledBaseLots,
		FilledBase:  ack.FilledBaseNative,
		FilledQuote: ack.FilledQuoteNative,
		Fee:         ack.FeeNative,
		Reason:      ack.Reason,
		At:          now,
	}

	switch ack.Status {
	case common.StatusRejected:
		em.Emit(events.EventOrderRejected, update)
		log.Info().Str("market", m.Symbol).Str("side", string(side)).Uint64("price_lots", price).
			Str("reason", ack.Reason).Msg("post-only leg rejected, retry next cycle")
		res.Outcome = OutcomeRejected
		return res, nil
	case common.StatusCanceled:
		return res, fmt.Errorf("%s %s: nothing matched within limit %d: %w", m.Symbol, side, price, ErrNoLiquidity)
	}

	em.Emit(events.EventOrderPlaced, update)
	if ack.FilledBaseLots > 0 {
		em.Emit(events.EventOrderFilled, update)
		if err := e.checkSlippage(r, side, ack); err != nil {
			return res, err
		}
	}
	switch ack.Status {
	case common.StatusFilled:
		res.Outcome = OutcomeFilled
	case common.StatusPartial:
		res.Outcome = OutcomePartiallyFilled
	default:
		res.Outcome = OutcomeResting
	}
	return res, nil
}

// checkSlippage compares the realized rate, fees included, with the oracle.
func (e *Executor) checkSlippage(r Route, side common.Side, ack common.OrderResult) error {
	tolerance := e.cfg.MaxSlippageBps + r.Market.TakerFeeBps + 1
	if tolerance >= 10_000 {
		return nil
	}
	fair, err := allocation.Worth(ack.FilledBaseNative, r.BaseDecimals, r.Price, r.QuoteDecimals)
	if err != nil {
		return err
	}
	floor := func(v uint64) *big.Int {
		n := new(big.Int).SetUint64(v)
		n.Mul(n, big.NewInt(int64(10_000-tolerance)))
		return n.Quo(n, big.NewInt(10_000))
	}
	if side == common.SideSell {
		got := new(big.Int).SetUint64(ack.FilledQuoteNative - ack.FeeNative)
		if got.Cmp(floor(fair)) < 0 {
			return fmt.Errorf("%w: sold %d base for %d quote, fair %d", ErrSlippageExceeded, ack.FilledBaseNative, got, fair)
		}
		return nil
	}
	paid := ack.FilledQuoteNative + ack.FeeNative
	if new(big.Int).SetUint64(fair).Cmp(floor(paid)) < 0 {
		return fmt.Errorf("%w: paid %d quote for base worth %d", ErrSlippageExceeded, paid, fair)
	}
	return nil
}

// Settle moves free escrow back into the vault wallets.
func (e *Executor) Settle(ctx context.Context, venue common.Gateway, em Emitter, r Route, now int64) (common.Settlement, error) {
	s, err := venue.SettleFunds(ctx, r.OpenOrders, r.Owner, r.BaseWallet, r.QuoteWallet)
	if err != nil {
		return s, fmt.Errorf("settle %s: %w", r.Market.Symbol, err)
	}
	if s.BaseNative > 0 || s.QuoteNative > 0 {
		em.Emit(events.EventFundsSettled, events.Settled{
			Portfolio: r.Portfolio.String(),
			Market:    r.Market.MarketID.String(),
			Base:      s.BaseNative,
			Quote:     s.QuoteNative,
			At:        now,
		})
	}
	return s, nil
}

// CancelAll pulls every resting order of the route's open-orders account.
func (e *Executor) CancelAll(ctx context.Context, venue common.Gateway, em Emitter, r Route, now int64) (int, error) {
	oo, err := venue.OpenOrders(r.OpenOrders)
	if err != nil {
		return 0, err
	}
	n, err := venue.CancelAll(ctx, r.OpenOrders, r.Owner)
	if err != nil {
		return n, fmt.Errorf("cancel %s: %w", r.Market.Symbol, err)
	}
	for _, o := range oo.Orders {
		em.Emit(events.EventOrderCanceled, events.OrderUpdate{
			Portfolio: r.Portfolio.String(),
			Market:    r.Market.MarketID.String(),
			Symbol:    r.Market.Symbol,
			OrderID:   o.OrderID,
			Side:      string(o.Side),
			Status:    string(common.StatusCanceled),
			PriceLots: o.PriceLots,
			BaseLots:  o.BaseLots,
			At:        now,
		})
	}
	return n, nil
}

// Crank drains the market's event queue so maker fills reach escrow.
func (e *Executor) Crank(ctx context.Context, venue common.Gateway, r Route) (int, error) {
	n, err := venue.ConsumeEvents(ctx, r.Market.MarketID, 0)
	if err != nil {
		return n, fmt.Errorf("crank %s: %w", r.Market.Symbol, err)
	}
	return n, nil
}

func clientIDBits(id uuid.UUID) uint64 {
	var v uint64
	for _, b := range id[:8] {
		v = v<<8 | uint64(b)
	}
	return v
}
