package vault

import (
	"context"
	"time"

	"asset-rebalancer/internal/allocation"
	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/internal/order"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"

	"github.com/rs/zerolog/log"
)

// RebalanceRequest identifies the portfolio to rebalance.
type RebalanceRequest struct {
	Owner     address.Address
	Portfolio address.Address
}

// RebalanceResult describes one rebalance cycle.
type RebalanceResult struct {
	Event events.AssetsBalanced `json:"event"`
	Plan  allocation.Plan       `json:"plan"`
	Legs  []order.Result        `json:"legs"`
	TxID  string                `json:"tx_id"`
}

// Rebalance runs one cycle: refresh resting quotes, value the portfolio,
// sell the overweight side, buy the underweight side with the quote vault,
// settle and emit AssetsBalanced with the recomputed worths. A cycle with
// nothing to trade still emits.
func (p *Program) Rebalance(ctx context.Context, req RebalanceRequest) (RebalanceResult, error) {
	start := time.Now()
	q := p.readQuotes(ctx)

	var res RebalanceResult
	rcpt, err := p.execute(ctx, OpRebalance, func(tx *chain.Tx) error {
		res = RebalanceResult{}
		pf, err := p.authorize(tx, req.Owner, req.Portfolio, OpRebalance)
		if err != nil {
			return err
		}
		if err := q.check(p.cfg.Policy, tx.Now()); err != nil {
			return err
		}

		ctx, venue, ledger, now := tx.Context(), tx.Venue(), tx.Ledger(), tx.Now().Unix()
		routes := [2]order.Route{
			p.route(pf, allocation.AssetA, q.a),
			p.route(pf, allocation.AssetB, q.b),
		}

		// last cycle's resting quotes are pulled and re-priced
		for _, r := range routes {
			if _, err := p.exec.Crank(ctx, venue, r); err != nil {
				return err
			}
			if _, err := p.exec.CancelAll(ctx, venue, tx, r, now); err != nil {
				return err
			}
			if _, err := p.exec.Settle(ctx, venue, tx, r, now); err != nil {
				return err
			}
		}

		before, err := snapshot(ledger, venue, pf)
		if err != nil {
			return err
		}
		plan, err := allocation.Compute(p.input(pf, before, q.a, q.b))
		if err != nil {
			return err
		}
		res.Plan = plan

		for _, leg := range plan.Sells {
			r := routes[leg.Asset]
			out, err := p.exec.Place(ctx, venue, tx, r, common.SideSell, leg.Amount, 0, now)
			if err != nil {
				return err
			}
			res.Legs = append(res.Legs, out)
			if _, err := p.exec.Settle(ctx, venue, tx, r, now); err != nil {
				return err
			}
		}
		for _, leg := range plan.Buys {
			r := routes[leg.Asset]
			avail, err := ledger.Balance(pf.QuoteVault)
			if err != nil {
				return err
			}
			out, err := p.exec.Place(ctx, venue, tx, r, common.SideBuy, leg.Amount, min(leg.Worth, avail), now)
			if err != nil {
				return err
			}
			res.Legs = append(res.Legs, out)
			if _, err := p.exec.Settle(ctx, venue, tx, r, now); err != nil {
				return err
			}
		}

		after, err := snapshot(ledger, venue, pf)
		if err != nil {
			return err
		}
		val, err := allocation.Value(p.input(pf, after, q.a, q.b))
		if err != nil {
			return err
		}

		pf.State = afterRebalance(after.Resting() > 0)
		pf.Sequence++
		pf.A.LastPrice, pf.B.LastPrice = q.a, q.b
		pf.LastPriceUpdate, pf.UpdatedAt = now, now
		tx.SetAccount(pf.Address, pf)

		res.Event = events.AssetsBalanced{
			Portfolio:        pf.Address.String(),
			Owner:            pf.Owner.String(),
			Sequence:         pf.Sequence,
			NewTokenAWorth:   val.WorthA,
			NewTokenBWorth:   val.WorthB,
			QuoteWorth:       val.WorthQuote,
			TokenAPercentage: pf.A.TargetPct,
			TokenBPercentage: pf.B.TargetPct,
			OrdersPlaced:     placed(res.Legs),
			NoOp:             plan.NoOp(),
			At:               now,
		}
		tx.Emit(events.EventAssetsBalanced, res.Event)
		return nil
	})
	if err != nil {
		return RebalanceResult{}, err
	}
	res.TxID = rcpt.TxID

	if p.metrics != nil {
		p.metrics.ObserveRebalance(res.Event.NoOp, res.Event.OrdersPlaced)
	}
	log.Info().
		Str("portfolio", res.Event.Portfolio).
		Uint64("sequence", res.Event.Sequence).
		Uint64("worth_a", res.Event.NewTokenAWorth).
		Uint64("worth_b", res.Event.NewTokenBWorth).
		Uint64("worth_quote", res.Event.QuoteWorth).
		Int("orders", res.Event.OrdersPlaced).
		Bool("no_op", res.Event.NoOp).
		Dur("took", time.Since(start)).
		Msg("assets balanced")
	return res, nil
}

func placed(legs []order.Result) int {
	n := 0
	for _, l := range legs {
		switch l.Outcome {
		case order.OutcomeFilled, order.OutcomePartiallyFilled, order.OutcomeResting:
			n++
		}
	}
	return n
}
