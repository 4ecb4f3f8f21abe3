package orderbook

import (
	"context"
	"testing"

	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/token"

	"github.com/stretchr/testify/require"
)

type trader struct {
	owner       address.Address
	oo          address.Address
	baseWallet  address.Address
	quoteWallet address.Address
}

type fixture struct {
	bank   *token.Bank
	ex     *Exchange
	market common.MarketBundle
}

func newFixture(t *testing.T, feeBps uint64) *fixture {
	t.Helper()
	bank := token.NewBank()
	authority := address.NewUnique()
	base, quote := address.NewUnique(), address.NewUnique()
	require.NoError(t, bank.CreateMint(base, authority, 0))
	require.NoError(t, bank.CreateMint(quote, authority, 0))
	ex := New(bank)
	m, err := ex.ListMarket(MarketParams{
		Symbol: "BASE/QUOTE", BaseMint: base, QuoteMint: quote,
		BaseLotSize: 1, QuoteLotSize: 1, TakerFeeBps: feeBps,
	})
	require.NoError(t, err)
	return &fixture{bank: bank, ex: ex, market: m}
}

func (f *fixture) newTrader(t *testing.T, base, quote uint64) trader {
	t.Helper()
	mints := map[address.Address]uint64{f.market.BaseMint: base, f.market.QuoteMint: quote}
	tr := trader{owner: address.NewUnique(), oo: address.NewUnique()}
	for mint, amount := range mints {
		acct, err := f.bank.CreateAssociatedAccount(tr.owner, mint)
		require.NoError(t, err)
		m, err := f.bank.Mint(mint)
		require.NoError(t, err)
		require.NoError(t, f.bank.MintTo(mint, acct, m.Authority, amount))
		if mint == f.market.BaseMint {
			tr.baseWallet = acct
		} else {
			tr.quoteWallet = acct
		}
	}
	require.NoError(t, f.ex.InitOpenOrders(f.market.MarketID, tr.oo, tr.owner))
	return tr
}

func (f *fixture) place(t *testing.T, tr trader, side common.Side, typ common.OrderType, price, qty uint64) common.OrderResult {
	t.Helper()
	payer := tr.quoteWallet
	if side == common.SideSell {
		payer = tr.baseWallet
	}
	res, err := f.ex.PlaceOrder(context.Background(), common.OrderRequest{
		Market: f.market.MarketID, OpenOrders: tr.oo, Owner: tr.owner, Payer: payer,
		Side: side, Type: typ, SelfTrade: common.SelfTradeAbortTransaction,
		LimitPrice: price, MaxBaseQty: qty,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) balance(t *testing.T, acct address.Address) uint64 {
	t.Helper()
	b, err := f.bank.Balance(acct)
	require.NoError(t, err)
	return b
}

func TestPostOnlyCrossingIsRejected(t *testing.T) {
	f := newFixture(t, 0)
	maker := f.newTrader(t, 0, 1_000)
	taker := f.newTrader(t, 100, 0)

	res := f.place(t, maker, common.SideBuy, common.OrderTypeLimit, 10, 50)
	require.Equal(t, common.StatusNew, res.Status)

	res = f.place(t, taker, common.SideSell, common.OrderTypePostOnly, 10, 5)
	require.Equal(t, common.StatusRejected, res.Status)
	require.EqualValues(t, 100, f.balance(t, taker.baseWallet))

	oo, err := f.ex.OpenOrders(taker.oo)
	require.NoError(t, err)
	require.Zero(t, oo.BaseTotal)

	res = f.place(t, taker, common.SideSell, common.OrderTypePostOnly, 11, 5)
	require.Equal(t, common.StatusNew, res.Status)
	require.EqualValues(t, 5, res.RestingBaseLots)
}

func TestIOCSellAgainstBidsAndSettle(t *testing.T) {
	f := newFixture(t, 100) // 1%
	maker := f.newTrader(t, 0, 10_000)
	taker := f.newTrader(t, 1_000, 0)

	f.place(t, maker, common.SideBuy, common.OrderTypeLimit, 10, 300)
	f.place(t, maker, common.SideBuy, common.OrderTypeLimit, 9, 300)

	res := f.place(t, taker, common.SideSell, common.OrderTypeIOC, 9, 400)
	require.Equal(t, common.StatusFilled, res.Status)
	require.EqualValues(t, 400, res.FilledBaseLots)
	require.EqualValues(t, 300*10+100*9, res.FilledQuoteNative)
	require.EqualValues(t, 30+9, res.FeeNative)

	// taker proceeds are free immediately; maker waits for the crank
	oo, err := f.ex.OpenOrders(maker.oo)
	require.NoError(t, err)
	require.Zero(t, oo.BaseFree)
	require.Equal(t, 2, f.ex.PendingEvents(f.market.MarketID))

	n, err := f.ex.ConsumeEvents(context.Background(), f.market.MarketID, 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	oo, err = f.ex.OpenOrders(maker.oo)
	require.NoError(t, err)
	require.EqualValues(t, 400, oo.BaseFree)
	require.EqualValues(t, 200*9, oo.QuoteLocked())

	s, err := f.ex.SettleFunds(context.Background(), taker.oo, taker.owner, taker.baseWallet, taker.quoteWallet)
	require.NoError(t, err)
	require.EqualValues(t, 3_900-39, s.QuoteNative)
	require.EqualValues(t, 600, f.balance(t, taker.baseWallet))
	require.EqualValues(t, 3_861, f.balance(t, taker.quoteWallet))

	_, err = f.ex.SettleFunds(context.Background(), maker.oo, maker.owner, maker.baseWallet, maker.quoteWallet)
	require.NoError(t, err)
	require.EqualValues(t, 400, f.balance(t, maker.baseWallet))

	// vault holds exactly the maker's remaining locked quote plus fees
	require.EqualValues(t, 200*9+39, f.balance(t, f.market.QuoteVault))
	require.EqualValues(t, 39, f.ex.FeesAccrued(f.market.MarketID))
}

func TestBuyRespectsQuoteBudget(t *testing.T) {
	f := newFixture(t, 0)
	maker := f.newTrader(t, 1_000, 0)
	taker := f.newTrader(t, 0, 1_000)

	f.place(t, maker, common.SideSell, common.OrderTypeLimit, 20, 1_000)

	res, err := f.ex.PlaceOrder(context.Background(), common.OrderRequest{
		Market: f.market.MarketID, OpenOrders: taker.oo, Owner: taker.owner, Payer: taker.quoteWallet,
		Side: common.SideBuy, Type: common.OrderTypeIOC, LimitPrice: 20, MaxBaseQty: 1_000, MaxQuoteQty: 510,
	})
	require.NoError(t, err)
	require.Equal(t, common.StatusPartial, res.Status)
	require.EqualValues(t, 25, res.FilledBaseLots)

	oo, err := f.ex.OpenOrders(taker.oo)
	require.NoError(t, err)
	require.EqualValues(t, 25, oo.BaseFree)
	require.EqualValues(t, 10, oo.QuoteFree)
	require.Zero(t, oo.QuoteLocked())
}

func TestCancelAllReleasesAndCloseRequiresEmpty(t *testing.T) {
	f := newFixture(t, 0)
	tr := f.newTrader(t, 100, 1_000)

	f.place(t, tr, common.SideBuy, common.OrderTypePostOnly, 5, 100)
	f.place(t, tr, common.SideSell, common.OrderTypePostOnly, 7, 50)

	err := f.ex.CloseOpenOrders(tr.oo, tr.owner)
	require.ErrorIs(t, err, common.ErrOpenOrdersNotEmpty)

	_, err = f.ex.CancelAll(context.Background(), tr.oo, address.NewUnique())
	require.ErrorIs(t, err, common.ErrWrongOwner)

	n, err := f.ex.CancelAll(context.Background(), tr.oo, tr.owner)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	oo, err := f.ex.OpenOrders(tr.oo)
	require.NoError(t, err)
	require.Empty(t, oo.Orders)
	require.EqualValues(t, 500, oo.QuoteFree)
	require.EqualValues(t, 50, oo.BaseFree)

	_, err = f.ex.SettleFunds(context.Background(), tr.oo, tr.owner, tr.baseWallet, tr.quoteWallet)
	require.NoError(t, err)
	require.NoError(t, f.ex.CloseOpenOrders(tr.oo, tr.owner))
	require.EqualValues(t, 100, f.balance(t, tr.baseWallet))
	require.EqualValues(t, 1_000, f.balance(t, tr.quoteWallet))
}

func TestSelfTradeAbort(t *testing.T) {
	f := newFixture(t, 0)
	tr := f.newTrader(t, 100, 1_000)
	f.place(t, tr, common.SideBuy, common.OrderTypeLimit, 5, 10)

	_, err := f.ex.PlaceOrder(context.Background(), common.OrderRequest{
		Market: f.market.MarketID, OpenOrders: tr.oo, Owner: tr.owner, Payer: tr.baseWallet,
		Side: common.SideSell, Type: common.OrderTypeIOC, SelfTrade: common.SelfTradeAbortTransaction,
		LimitPrice: 5, MaxBaseQty: 10,
	})
	require.ErrorIs(t, err, common.ErrWouldSelfTrade)
	require.EqualValues(t, 100, f.balance(t, tr.baseWallet))
}

func TestForkDoesNotLeak(t *testing.T) {
	f := newFixture(t, 0)
	tr := f.newTrader(t, 100, 0)

	forkLedger := f.bank.Fork()
	fork := f.ex.Fork(forkLedger)
	_, err := fork.PlaceOrder(context.Background(), common.OrderRequest{
		Market: f.market.MarketID, OpenOrders: tr.oo, Owner: tr.owner, Payer: tr.baseWallet,
		Side: common.SideSell, Type: common.OrderTypeLimit, LimitPrice: 3, MaxBaseQty: 10,
	})
	require.NoError(t, err)

	d, err := f.ex.Depth(f.market.MarketID, 5)
	require.NoError(t, err)
	require.Empty(t, d.Asks)
	require.EqualValues(t, 100, f.balance(t, tr.baseWallet))

	d, err = fork.Depth(f.market.MarketID, 5)
	require.NoError(t, err)
	require.Equal(t, []common.Level{{PriceLots: 3, BaseLots: 10}}, d.Asks)
	b, err := forkLedger.Balance(tr.baseWallet)
	require.NoError(t, err)
	require.EqualValues(t, 90, b)
}
