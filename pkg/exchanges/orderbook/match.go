package orderbook

import (
	"context"
	"fmt"
	"math/bits"

	"asset-rebalancer/pkg/exchanges/common"
)

// PlaceOrder runs one new-order request: funds are pulled from the payer into
// escrow, the order matches against the book and any remainder rests (limit,
// post-only) or is released (IOC). Post-only orders that would cross are
// rejected without touching any balance.
func (e *Exchange) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return common.OrderResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	bk, ok := e.markets[req.Market]
	if !ok {
		return common.OrderResult{}, fmt.Errorf("%w: %s", common.ErrMarketNotFound, req.Market)
	}
	oo, err := e.ownedLocked(req.OpenOrders, req.Owner)
	if err != nil {
		return common.OrderResult{}, err
	}
	if oo.market != req.Market {
		return common.OrderResult{}, fmt.Errorf("%w: open orders belong to another market", common.ErrInvalidOrder)
	}
	if req.LimitPrice == 0 || req.MaxBaseQty == 0 {
		return common.OrderResult{}, fmt.Errorf("%w: zero price or size", common.ErrInvalidOrder)
	}
	if req.Side != common.SideBuy && req.Side != common.SideSell {
		return common.OrderResult{}, fmt.Errorf("%w: side %q", common.ErrInvalidOrder, req.Side)
	}

	bk.requests++
	e.nextOrderID++
	res := common.OrderResult{OrderID: e.nextOrderID, ClientID: req.ClientID}

	if req.Type == common.OrderTypePostOnly && bk.crosses(req.Side, req.LimitPrice) {
		res.Status = common.StatusRejected
		res.Reason = "post-only order would cross the book"
		return res, nil
	}
	if req.SelfTrade == common.SelfTradeAbortTransaction &&
		bk.wouldSelfTrade(req.Side, req.LimitPrice, req.MaxBaseQty, oo.addr) {
		return common.OrderResult{}, common.ErrWouldSelfTrade
	}

	if req.Side == common.SideSell {
		err = e.matchSell(bk, oo, req, &res)
	} else {
		err = e.matchBuy(bk, oo, req, &res)
	}
	if err != nil {
		return common.OrderResult{}, err
	}

	switch {
	case res.FilledBaseLots == req.MaxBaseQty:
		res.Status = common.StatusFilled
	case res.FilledBaseLots > 0:
		res.Status = common.StatusPartial
	case res.RestingBaseLots > 0:
		res.Status = common.StatusNew
	default:
		res.Status = common.StatusCanceled
	}
	return res, nil
}

// fund moves whatever the escrow lacks from the payer into the market vault
// and locks base/quote for the order.
func (e *Exchange) fund(bk *book, oo *escrow, req common.OrderRequest, base, quote uint64) error {
	b := bk.bundle
	if base > oo.baseFree {
		need := base - oo.baseFree
		if err := e.ledger.Transfer(req.Payer, b.BaseVault, req.Owner, need); err != nil {
			return fmt.Errorf("fund order: %w", err)
		}
		oo.deposit(need, 0)
	}
	if quote > oo.quoteFree {
		need := quote - oo.quoteFree
		if err := e.ledger.Transfer(req.Payer, b.QuoteVault, req.Owner, need); err != nil {
			return fmt.Errorf("fund order: %w", err)
		}
		oo.deposit(0, need)
	}
	return oo.lock(base, quote)
}

func (e *Exchange) matchSell(bk *book, oo *escrow, req common.OrderRequest, res *common.OrderResult) error {
	b := bk.bundle
	lockBase, ok := mul(req.MaxBaseQty, b.BaseLotSize)
	if !ok {
		return fmt.Errorf("%w: size overflow", common.ErrInvalidOrder)
	}
	if err := e.fund(bk, oo, req, lockBase, 0); err != nil {
		return err
	}

	remaining := req.MaxBaseQty
	var decremented uint64
	for remaining > 0 && len(bk.bids) > 0 {
		best := bk.bids[0]
		if best.price < req.LimitPrice {
			break
		}
		n := min(remaining, best.qty)
		quote, ok := lotsToQuote(n, best.price, b.QuoteLotSize)
		if !ok {
			return fmt.Errorf("%w: notional overflow", common.ErrInvalidOrder)
		}

		if best.owner == oo.addr {
			switch req.SelfTrade {
			case common.SelfTradeCancelProvide:
				bk.bids = bk.bids[1:]
				if err := bk.release(oo, best); err != nil {
					return err
				}
			default:
				best.qty -= n
				remaining -= n
				decremented += n
				oo.unlock(0, quote)
				if best.qty == 0 {
					bk.bids = bk.bids[1:]
				}
			}
			continue
		}

		fee := takerFee(quote, b.TakerFeeBps)
		if err := oo.deduct(n*b.BaseLotSize, 0); err != nil {
			return err
		}
		oo.credit(0, quote-fee)
		bk.fees += fee
		bk.events = append(bk.events, fillEvent{
			maker: best.owner, orderID: best.id, side: common.SideBuy,
			baseLots: n, quote: quote, price: best.price,
		})
		best.qty -= n
		if best.qty == 0 {
			bk.bids = bk.bids[1:]
		}
		remaining -= n
		res.FilledBaseLots += n
		res.FilledQuoteNative += quote
		res.FeeNative += fee
	}
	res.FilledBaseNative = res.FilledBaseLots * b.BaseLotSize

	if remaining > 0 && req.Type != common.OrderTypeIOC {
		bk.insert(&order{id: res.OrderID, clientID: req.ClientID, owner: oo.addr, side: common.SideSell, price: req.LimitPrice, qty: remaining})
		res.RestingBaseLots = remaining
		remaining = 0
	}
	oo.unlock((remaining+decremented)*b.BaseLotSize, 0)
	return nil
}

func (e *Exchange) matchBuy(bk *book, oo *escrow, req common.OrderRequest, res *common.OrderResult) error {
	b := bk.bundle
	budget := req.MaxQuoteQty
	if budget == 0 {
		notional, ok := lotsToQuote(req.MaxBaseQty, req.LimitPrice, b.QuoteLotSize)
		if !ok {
			return fmt.Errorf("%w: notional overflow", common.ErrInvalidOrder)
		}
		budget = notional + takerFee(notional, b.TakerFeeBps)
	}
	if err := e.fund(bk, oo, req, 0, budget); err != nil {
		return err
	}

	remaining := req.MaxBaseQty
	var spent uint64
	for remaining > 0 && len(bk.asks) > 0 {
		best := bk.asks[0]
		if best.price > req.LimitPrice {
			break
		}
		unit, ok := lotsToQuote(1, best.price, b.QuoteLotSize)
		if !ok {
			return fmt.Errorf("%w: notional overflow", common.ErrInvalidOrder)
		}
		n := min(remaining, best.qty, affordableLots(budget-spent, unit, b.TakerFeeBps))
		if n == 0 {
			break
		}
		quote := n * unit

		if best.owner == oo.addr {
			switch req.SelfTrade {
			case common.SelfTradeCancelProvide:
				bk.asks = bk.asks[1:]
				if err := bk.release(oo, best); err != nil {
					return err
				}
			default:
				best.qty -= n
				remaining -= n
				oo.unlock(n*b.BaseLotSize, 0)
				if best.qty == 0 {
					bk.asks = bk.asks[1:]
				}
			}
			continue
		}

		fee := takerFee(quote, b.TakerFeeBps)
		if err := oo.deduct(0, quote+fee); err != nil {
			return err
		}
		oo.credit(n*b.BaseLotSize, 0)
		spent += quote + fee
		bk.fees += fee
		bk.events = append(bk.events, fillEvent{
			maker: best.owner, orderID: best.id, side: common.SideSell,
			baseLots: n, quote: quote, price: best.price,
		})
		best.qty -= n
		if best.qty == 0 {
			bk.asks = bk.asks[1:]
		}
		remaining -= n
		res.FilledBaseLots += n
		res.FilledQuoteNative += quote
		res.FeeNative += fee
	}
	res.FilledBaseNative = res.FilledBaseLots * b.BaseLotSize

	left := budget - spent
	var restLocked uint64
	if remaining > 0 && req.Type != common.OrderTypeIOC {
		unit, ok := lotsToQuote(1, req.LimitPrice, b.QuoteLotSize)
		var rest uint64
		if ok {
			rest = min(remaining, left/unit)
		}
		if rest > 0 {
			bk.insert(&order{id: res.OrderID, clientID: req.ClientID, owner: oo.addr, side: common.SideBuy, price: req.LimitPrice, qty: rest})
			res.RestingBaseLots = rest
			restLocked = rest * unit
		}
	}
	oo.unlock(0, left-restLocked)
	return nil
}

// lotsToQuote returns the native quote value of lots at price.
func lotsToQuote(lots, price, quoteLot uint64) (uint64, bool) {
	q, ok := mul(lots, price)
	if !ok {
		return 0, false
	}
	return mul(q, quoteLot)
}

// affordableLots is the largest n with n*unit + fee(n*unit) <= budget.
func affordableLots(budget, unit, feeBps uint64) uint64 {
	if unit == 0 {
		return 0
	}
	hi, lo := bits.Mul64(budget, 10_000)
	den, ok := mul(unit, 10_000+feeBps)
	if !ok || hi >= den {
		return budget / unit
	}
	n, _ := bits.Div64(hi, lo, den)
	for n > 0 && n*unit+takerFee(n*unit, feeBps) > budget {
		n--
	}
	return n
}
