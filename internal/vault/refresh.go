package vault

import (
	"context"

	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/address"
)

// RefreshRequest identifies the portfolio whose prices are refreshed.
type RefreshRequest struct {
	Owner     address.Address
	Portfolio address.Address
}

// RefreshPrices reads both feeds and stores them on the portfolio. It fails
// with ErrStalePrice when either quote is rejected by the policy.
func (p *Program) RefreshPrices(ctx context.Context, req RefreshRequest) (Portfolio, error) {
	q := p.readQuotes(ctx)
	var out Portfolio
	_, err := p.execute(ctx, OpRefreshPrices, func(tx *chain.Tx) error {
		pf, err := p.authorize(tx, req.Owner, req.Portfolio, OpRefreshPrices)
		if err != nil {
			return err
		}
		if err := q.check(p.cfg.Policy, tx.Now()); err != nil {
			return err
		}
		now := tx.Now().Unix()
		pf.A.LastPrice, pf.B.LastPrice = q.a, q.b
		pf.LastPriceUpdate, pf.UpdatedAt = now, now
		tx.SetAccount(pf.Address, pf)
		tx.Emit(events.EventPricesRefreshed, events.PortfolioChanged{
			Portfolio: pf.Address.String(),
			Owner:     pf.Owner.String(),
			State:     string(pf.State),
			At:        now,
		})
		out = pf
		return nil
	})
	return out, err
}
