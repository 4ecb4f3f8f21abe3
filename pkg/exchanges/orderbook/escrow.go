package orderbook

import (
	"errors"
	"fmt"
	"math/bits"

	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
)

var errEscrowUnderflow = errors.New("orderbook: escrow underflow")

// escrow is the venue-side open-orders account: totals include locked funds.
type escrow struct {
	addr       address.Address
	market     address.Address
	owner      address.Address
	baseFree   uint64
	baseTotal  uint64
	quoteFree  uint64
	quoteTotal uint64
}

func (o *escrow) view() common.OpenOrders {
	return common.OpenOrders{
		Address:    o.addr,
		Market:     o.market,
		Owner:      o.owner,
		BaseFree:   o.baseFree,
		BaseTotal:  o.baseTotal,
		QuoteFree:  o.quoteFree,
		QuoteTotal: o.quoteTotal,
	}
}

func (o *escrow) empty() bool {
	return o.baseTotal == 0 && o.quoteTotal == 0
}

// deposit records funds moved into the market vault.
func (o *escrow) deposit(base, quote uint64) {
	o.baseTotal += base
	o.baseFree += base
	o.quoteTotal += quote
	o.quoteFree += quote
}

// lock reserves free funds for an order.
func (o *escrow) lock(base, quote uint64) error {
	if base > o.baseFree || quote > o.quoteFree {
		return fmt.Errorf("%w: lock base=%d quote=%d free base=%d quote=%d",
			errEscrowUnderflow, base, quote, o.baseFree, o.quoteFree)
	}
	o.baseFree -= base
	o.quoteFree -= quote
	return nil
}

// unlock returns locked funds to free.
func (o *escrow) unlock(base, quote uint64) {
	o.baseFree += base
	o.quoteFree += quote
}

// deduct removes locked funds consumed by a match.
func (o *escrow) deduct(base, quote uint64) error {
	if base > o.baseTotal-o.baseFree || quote > o.quoteTotal-o.quoteFree {
		return fmt.Errorf("%w: deduct base=%d quote=%d", errEscrowUnderflow, base, quote)
	}
	o.baseTotal -= base
	o.quoteTotal -= quote
	return nil
}

// credit adds match proceeds as free funds.
func (o *escrow) credit(base, quote uint64) {
	o.deposit(base, quote)
}

func (o *escrow) applyMakerFill(ev fillEvent, b common.MarketBundle) error {
	base := ev.baseLots * b.BaseLotSize
	if ev.side == common.SideBuy {
		if err := o.deduct(0, ev.quote); err != nil {
			return err
		}
		o.credit(base, 0)
		return nil
	}
	if err := o.deduct(base, 0); err != nil {
		return err
	}
	o.credit(0, ev.quote)
	return nil
}

// mul returns a*b and whether it fits in 64 bits.
func mul(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// mulDiv returns floor(a*b/d) and whether it fits in 64 bits.
func mulDiv(a, b, d uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, true
}

// takerFee rounds up so the venue never under-collects.
func takerFee(quote, bps uint64) uint64 {
	if bps == 0 || quote == 0 {
		return 0
	}
	hi, lo := bits.Mul64(quote, bps)
	if hi >= 10_000 {
		return quote
	}
	f, rem := bits.Div64(hi, lo, 10_000)
	if rem > 0 {
		f++
	}
	return f
}
