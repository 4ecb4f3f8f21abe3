package vault

import (
	"context"
	"errors"
	"fmt"

	"asset-rebalancer/internal/allocation"
	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/oracle"

	"github.com/rs/zerolog/log"
)

// InitAccountsRequest creates the two open-orders accounts. Zero bumps are
// derived; non-zero bumps must match the canonical derivation.
type InitAccountsRequest struct {
	Owner     address.Address
	Portfolio address.Address
	BumpA     uint8
	BumpB     uint8
}

// InitAccounts registers the vault signer at both markets.
func (p *Program) InitAccounts(ctx context.Context, req InitAccountsRequest) (Portfolio, error) {
	var out Portfolio
	_, err := p.execute(ctx, OpInitAccounts, func(tx *chain.Tx) error {
		pf, err := p.authorize(tx, req.Owner, req.Portfolio, OpInitAccounts)
		if err != nil {
			return err
		}
		for _, leg := range []struct {
			which allocation.Which
			seed  string
			bump  uint8
			h     *Holding
		}{
			{allocation.AssetA, SeedOpenOrdersA, req.BumpA, &pf.A},
			{allocation.AssetB, SeedOpenOrdersB, req.BumpB, &pf.B},
		} {
			addr, bump, err := address.FindProgramAddress(seeds(leg.seed, pf.VaultSigner), p.cfg.ProgramID)
			if err != nil {
				return err
			}
			if leg.bump != 0 && leg.bump != bump {
				return fmt.Errorf("%w: %s bump %d, expected %d", ErrInvalidDerivation, leg.seed, leg.bump, bump)
			}
			err = tx.Venue().InitOpenOrders(p.markets[leg.which].bundle.MarketID, addr, pf.VaultSigner)
			if errors.Is(err, common.ErrOpenOrdersExists) {
				return fmt.Errorf("%w: %s", ErrAlreadyInitialized, addr.Short())
			}
			if err != nil {
				return fmt.Errorf("init %s: %w", leg.seed, err)
			}
			leg.h.OpenOrders, leg.h.OpenOrdersBump = addr, bump
		}

		pf.State = StateOrdersInitialized
		pf.UpdatedAt = tx.Now().Unix()
		tx.SetAccount(pf.Address, pf)
		tx.Emit(events.EventOpenOrdersInitialized, events.PortfolioChanged{
			Portfolio: pf.Address.String(),
			Owner:     pf.Owner.String(),
			State:     string(pf.State),
			At:        pf.UpdatedAt,
		})
		out = pf
		return nil
	})
	if err != nil {
		return Portfolio{}, err
	}
	log.Info().Str("portfolio", out.Address.String()).
		Str("open_orders_a", out.A.OpenOrders.String()).
		Str("open_orders_b", out.B.OpenOrders.String()).
		Msg("open orders initialized")
	return out, nil
}

// CloseAccountsRequest identifies the portfolio whose venue accounts close.
type CloseAccountsRequest struct {
	Owner     address.Address
	Portfolio address.Address
}

// CloseAccounts cancels resting orders, settles and closes both open-orders
// accounts, returning the portfolio to Funded.
func (p *Program) CloseAccounts(ctx context.Context, req CloseAccountsRequest) (Portfolio, error) {
	var out Portfolio
	_, err := p.execute(ctx, OpCloseAccounts, func(tx *chain.Tx) error {
		pf, err := p.authorize(tx, req.Owner, req.Portfolio, OpCloseAccounts)
		if err != nil {
			return err
		}
		if _, err := p.unwind(tx, pf); err != nil {
			return err
		}
		pf.A.OpenOrders, pf.A.OpenOrdersBump = address.Zero, 0
		pf.B.OpenOrders, pf.B.OpenOrdersBump = address.Zero, 0
		pf.State = StateFunded
		pf.UpdatedAt = tx.Now().Unix()
		tx.SetAccount(pf.Address, pf)
		tx.Emit(events.EventOpenOrdersClosed, events.PortfolioChanged{
			Portfolio: pf.Address.String(),
			Owner:     pf.Owner.String(),
			State:     string(pf.State),
			At:        pf.UpdatedAt,
		})
		out = pf
		return nil
	})
	if err != nil {
		return Portfolio{}, err
	}
	log.Info().Str("portfolio", out.Address.String()).Msg("open orders closed")
	return out, nil
}

// unwind cranks, cancels, settles and closes both open-orders accounts.
// It returns the number of orders canceled.
func (p *Program) unwind(tx *chain.Tx, pf Portfolio) (int, error) {
	ctx, venue, now := tx.Context(), tx.Venue(), tx.Now().Unix()
	canceled := 0
	for _, w := range []allocation.Which{allocation.AssetA, allocation.AssetB} {
		r := p.route(pf, w, oracle.PriceQuote{})
		if _, err := p.exec.Crank(ctx, venue, r); err != nil {
			return canceled, err
		}
		n, err := p.exec.CancelAll(ctx, venue, tx, r, now)
		if err != nil {
			return canceled, err
		}
		canceled += n
		if _, err := p.exec.Settle(ctx, venue, tx, r, now); err != nil {
			return canceled, err
		}
		if err := venue.CloseOpenOrders(r.OpenOrders, r.Owner); err != nil {
			return canceled, fmt.Errorf("close %s: %w", r.Market.Symbol, err)
		}
	}
	return canceled, nil
}
