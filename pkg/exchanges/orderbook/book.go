package orderbook

import (
	"sort"

	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
)

func (bk *book) side(s common.Side) *[]*order {
	if s == common.SideBuy {
		return &bk.bids
	}
	return &bk.asks
}

// better reports whether a has priority over b on the same side.
func better(a, b *order) bool {
	if a.price != b.price {
		if a.side == common.SideBuy {
			return a.price > b.price
		}
		return a.price < b.price
	}
	return a.id < b.id
}

func (bk *book) insert(o *order) {
	s := bk.side(o.side)
	i := sort.Search(len(*s), func(i int) bool { return better(o, (*s)[i]) })
	*s = append(*s, nil)
	copy((*s)[i+1:], (*s)[i:])
	(*s)[i] = o
}

func (bk *book) remove(orderID uint64) *order {
	for _, s := range []*[]*order{&bk.bids, &bk.asks} {
		for i, o := range *s {
			if o.id == orderID {
				*s = append((*s)[:i], (*s)[i+1:]...)
				return o
			}
		}
	}
	return nil
}

// restingOf lists orders on the book owned by an open-orders account.
func (bk *book) restingOf(owner address.Address) []common.RestingOrder {
	var out []common.RestingOrder
	for _, s := range [][]*order{bk.bids, bk.asks} {
		for _, o := range s {
			if o.owner == owner {
				out = append(out, common.RestingOrder{
					OrderID:   o.id,
					ClientID:  o.clientID,
					Side:      o.side,
					PriceLots: o.price,
					BaseLots:  o.qty,
				})
			}
		}
	}
	return out
}

func (bk *book) pendingFor(owner address.Address) bool {
	for _, ev := range bk.events {
		if ev.maker == owner {
			return true
		}
	}
	return false
}

// release unlocks the funds backing a removed resting order.
func (bk *book) release(oo *escrow, o *order) error {
	if o.side == common.SideBuy {
		q, ok := mul(o.qty, o.price)
		if !ok {
			return errEscrowUnderflow
		}
		q, ok = mul(q, bk.bundle.QuoteLotSize)
		if !ok {
			return errEscrowUnderflow
		}
		oo.unlock(0, q)
		return nil
	}
	oo.unlock(o.qty*bk.bundle.BaseLotSize, 0)
	return nil
}

// crosses reports whether a limit price on side would match immediately.
func (bk *book) crosses(s common.Side, price uint64) bool {
	if s == common.SideBuy {
		return len(bk.asks) > 0 && bk.asks[0].price <= price
	}
	return len(bk.bids) > 0 && bk.bids[0].price >= price
}

// wouldSelfTrade walks the crossing part of the opposite side, up to qty
// lots, looking for orders of owner.
func (bk *book) wouldSelfTrade(s common.Side, price, qty uint64, owner address.Address) bool {
	opp := *bk.side(s.Opposite())
	for _, o := range opp {
		if qty == 0 {
			return false
		}
		if s == common.SideBuy && o.price > price || s == common.SideSell && o.price < price {
			return false
		}
		if o.owner == owner {
			return true
		}
		if o.qty >= qty {
			return false
		}
		qty -= o.qty
	}
	return false
}
