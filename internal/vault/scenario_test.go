package vault

import (
	"context"
	"testing"
	"time"

	"asset-rebalancer/internal/chain"
	mkt "asset-rebalancer/internal/market"
	"asset-rebalancer/internal/order"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/config"
	"asset-rebalancer/pkg/oracle"

	"github.com/stretchr/testify/require"
)

// TestSolWethScenario funds 1000 SOL and 1000 WETH at 30/70 on the default
// seeded books and checks that value is conserved up to fees and slippage.
func TestSolWethScenario(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	feed := oracle.NewMemoryFeed()
	fx, err := mkt.Setup(config.DefaultMarkets(), feed, now)
	require.NoError(t, err)
	rt := chain.NewRuntime(fx.Bank, fx.Exchange, chain.WithClock(func() time.Time { return now }))

	sol, weth := fx.Assets[0], fx.Assets[1]
	prog, err := NewProgram(Config{
		ProgramID: address.NewUnique(),
		MarketA:   sol.Market.MarketID,
		MarketB:   weth.Market.MarketID,
		FeedA:     sol.Config.Feed,
		FeedB:     weth.Config.Feed,
		Orders:    order.Config{Style: order.StyleIOC, MaxSlippageBps: 100},
	}, rt, feed)
	require.NoError(t, err)

	owner := address.NewUnique()
	userA, err := fx.Faucet(ctx, rt, owner, sol.Mint, 1_000_000_000_000)
	require.NoError(t, err)
	userB, err := fx.Faucet(ctx, rt, owner, weth.Mint, 100_000_000_000)
	require.NoError(t, err)

	_, err = prog.Deposit(ctx, DepositRequest{Owner: owner, PctA: 300, PctB: 700, UserA: userA, UserB: userB})
	require.NoError(t, err)
	_, err = prog.InitAccounts(ctx, InitAccountsRequest{Owner: owner})
	require.NoError(t, err)

	before, err := prog.Position(owner)
	require.NoError(t, err)
	// 24,500 USDC of SOL and 1,800,000 USDC of WETH
	require.EqualValues(t, 24_500_000_000, before.Valuation.WorthA)
	require.EqualValues(t, 1_800_000_000_000, before.Valuation.WorthB)

	res, err := prog.Rebalance(ctx, RebalanceRequest{Owner: owner})
	require.NoError(t, err)
	require.False(t, res.Event.NoOp)
	require.Len(t, res.Plan.Sells, 1)
	require.Len(t, res.Plan.Buys, 1)

	after, err := prog.Position(owner)
	require.NoError(t, err)
	require.Equal(t, StateIdle, after.Portfolio.State)
	require.LessOrEqual(t, after.Valuation.Total, before.Valuation.Total)
	// fees are 10 bps a side and the books step 10 bps a level
	require.GreaterOrEqual(t, after.Valuation.Total, before.Valuation.Total*995/1000)
	require.InDelta(t, 300, int(after.PctA), 10)
	require.InDelta(t, 700, int(after.PctB), 10)
	require.Equal(t, res.Event.NewTokenAWorth, after.Valuation.WorthA)
	require.Equal(t, res.Event.NewTokenBWorth, after.Valuation.WorthB)

	out, err := prog.Withdraw(ctx, WithdrawRequest{Owner: owner})
	require.NoError(t, err)
	require.Equal(t, after.Balances.A, out.AmountA)
	require.Equal(t, after.Balances.B, out.AmountB)
	require.Equal(t, after.Balances.Quote, out.AmountQuote)
}
