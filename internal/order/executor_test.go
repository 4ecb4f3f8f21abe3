package order

import (
	"context"
	"testing"

	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/exchanges/orderbook"
	"asset-rebalancer/pkg/oracle"
	"asset-rebalancer/pkg/token"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	topics []events.Event
}

func (r *recorder) Emit(topic events.Event, _ any) { r.topics = append(r.topics, topic) }

type env struct {
	bank  *token.Bank
	ex    *orderbook.Exchange
	route Route
	maker Route
}

func newEnv(t *testing.T, feeBps uint64, base, quote uint64) *env {
	t.Helper()
	bank := token.NewBank()
	authority := address.NewUnique()
	baseMint, quoteMint := address.NewUnique(), address.NewUnique()
	require.NoError(t, bank.CreateMint(baseMint, authority, 0))
	require.NoError(t, bank.CreateMint(quoteMint, authority, 0))
	ex := orderbook.New(bank)
	m, err := ex.ListMarket(orderbook.MarketParams{
		Symbol: "A/Q", BaseMint: baseMint, QuoteMint: quoteMint,
		BaseLotSize: 1, QuoteLotSize: 1, TakerFeeBps: feeBps,
	})
	require.NoError(t, err)

	account := func(owner, mint address.Address, amount uint64) address.Address {
		acct, err := bank.CreateAssociatedAccount(owner, mint)
		require.NoError(t, err)
		require.NoError(t, bank.MintTo(mint, acct, authority, amount))
		return acct
	}
	route := func(b, q uint64) Route {
		owner, oo := address.NewUnique(), address.NewUnique()
		require.NoError(t, ex.InitOpenOrders(m.MarketID, oo, owner))
		return Route{
			Portfolio:   address.NewUnique(),
			Market:      m,
			OpenOrders:  oo,
			Owner:       owner,
			BaseWallet:  account(owner, baseMint, b),
			QuoteWallet: account(owner, quoteMint, q),
			Price:       oracle.PriceQuote{Price: 10},
		}
	}
	return &env{bank: bank, ex: ex, route: route(base, quote), maker: route(10_000, 100_000)}
}

func (e *env) rest(t *testing.T, side common.Side, price, lots uint64) {
	t.Helper()
	payer := e.maker.QuoteWallet
	if side == common.SideSell {
		payer = e.maker.BaseWallet
	}
	_, err := e.ex.PlaceOrder(context.Background(), common.OrderRequest{
		Market: e.maker.Market.MarketID, OpenOrders: e.maker.OpenOrders, Owner: e.maker.Owner, Payer: payer,
		Side: side, Type: common.OrderTypeLimit, SelfTrade: common.SelfTradeAbortTransaction,
		LimitPrice: price, MaxBaseQty: lots,
	})
	require.NoError(t, err)
}

func TestPriceLots(t *testing.T) {
	sol := common.MarketBundle{BaseLotSize: 100_000_000, QuoteLotSize: 100}
	tests := []struct {
		name     string
		quote    oracle.PriceQuote
		base     uint8
		quoteDec uint8
		market   common.MarketBundle
		want     uint64
	}{
		{"unit lots", oracle.PriceQuote{Price: 10}, 0, 0, common.MarketBundle{BaseLotSize: 1, QuoteLotSize: 1}, 10},
		// 0.1 SOL at $24.50 is 2.45 USDC, i.e. 24500 lots of 100 native
		{"sol usdc", oracle.PriceQuote{Price: 2450, Expo: -2}, 9, 6, sol, 24_500},
		{"rounds half up", oracle.PriceQuote{Price: 25, Expo: -1}, 0, 0, common.MarketBundle{BaseLotSize: 1, QuoteLotSize: 1}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PriceLots(tc.quote, tc.base, tc.quoteDec, tc.market)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := PriceLots(oracle.PriceQuote{}, 0, 0, sol)
	require.ErrorIs(t, err, ErrPriceConversion)
	_, err = PriceLots(oracle.PriceQuote{Price: 2450, Expo: -1_000_000_000}, 9, 6, sol)
	require.ErrorIs(t, err, ErrPriceConversion)
}

func TestIOCSellWithinSlippage(t *testing.T) {
	e := newEnv(t, 0, 1_000, 0)
	e.rest(t, common.SideBuy, 10, 300)
	e.rest(t, common.SideBuy, 9, 300)

	ex := NewExecutor(Config{Style: StyleIOC, MaxSlippageBps: 1_000})
	rec := &recorder{}
	res, err := ex.Place(context.Background(), e.ex, rec, e.route, common.SideSell, 400, 0, 0)
	require.NoError(t, err)
	require.Equal(t, OutcomeFilled, res.Outcome)
	require.EqualValues(t, 9, res.PriceLots)
	require.EqualValues(t, 3_900, res.Order.FilledQuoteNative)
	require.Equal(t, []events.Event{events.EventOrderPlaced, events.EventOrderFilled}, rec.topics)

	s, err := ex.Settle(context.Background(), e.ex, rec, e.route, 0)
	require.NoError(t, err)
	require.EqualValues(t, 3_900, s.QuoteNative)
	bal, err := e.bank.Balance(e.route.QuoteWallet)
	require.NoError(t, err)
	require.EqualValues(t, 3_900, bal)
	require.Equal(t, events.EventFundsSettled, rec.topics[len(rec.topics)-1])
}

func TestIOCSellSlippageExceeded(t *testing.T) {
	e := newEnv(t, 0, 1_000, 0)
	e.rest(t, common.SideBuy, 10, 300)
	e.rest(t, common.SideBuy, 9, 300)

	// limit is floor(10 * 0.99) = 9 so the second level fills, but the
	// average rate is 2.5% under the oracle
	ex := NewExecutor(Config{Style: StyleIOC, MaxSlippageBps: 100})
	_, err := ex.Place(context.Background(), e.ex, &recorder{}, e.route, common.SideSell, 400, 0, 0)
	require.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestIOCBuySpendsBudget(t *testing.T) {
	e := newEnv(t, 0, 0, 1_000)
	e.rest(t, common.SideSell, 10, 500)

	ex := NewExecutor(Config{Style: StyleIOC, MaxSlippageBps: 100})
	res, err := ex.Place(context.Background(), e.ex, &recorder{}, e.route, common.SideBuy, 500, 505, 0)
	require.NoError(t, err)
	require.Equal(t, OutcomePartiallyFilled, res.Outcome)
	require.EqualValues(t, 50, res.Order.FilledBaseLots)
	require.EqualValues(t, 11, res.PriceLots)
}

func TestNoLiquidity(t *testing.T) {
	tests := []struct {
		name  string
		style Style
		side  common.Side
	}{
		{"ioc sell", StyleIOC, common.SideSell},
		{"ioc buy", StyleIOC, common.SideBuy},
		{"post only", StylePostOnly, common.SideSell},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, 0, 100, 1_000)
			ex := NewExecutor(Config{Style: tc.style})
			rec := &recorder{}
			_, err := ex.Place(context.Background(), e.ex, rec, e.route, tc.side, 10, 100, 0)
			require.ErrorIs(t, err, ErrNoLiquidity)
			require.Empty(t, rec.topics)
		})
	}
}

func TestIOCZeroFillIsNoLiquidity(t *testing.T) {
	e := newEnv(t, 0, 100, 0)
	e.rest(t, common.SideBuy, 5, 100)

	ex := NewExecutor(Config{Style: StyleIOC, MaxSlippageBps: 100})
	_, err := ex.Place(context.Background(), e.ex, &recorder{}, e.route, common.SideSell, 50, 0, 0)
	require.ErrorIs(t, err, ErrNoLiquidity)
}

func TestPostOnlyQuotesInsideSpread(t *testing.T) {
	e := newEnv(t, 0, 100, 1_000)
	// bid above the oracle: the sell must stay one tick above it
	e.rest(t, common.SideBuy, 12, 10)
	ex := NewExecutor(DefaultConfig())
	res, err := ex.Place(context.Background(), e.ex, &recorder{}, e.route, common.SideSell, 20, 0, 0)
	require.NoError(t, err)
	require.Equal(t, OutcomeResting, res.Outcome)
	require.EqualValues(t, 13, res.PriceLots)

	rec := &recorder{}
	n, err := ex.CancelAll(context.Background(), e.ex, rec, e.route, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []events.Event{events.EventOrderCanceled}, rec.topics)

	// ask below the oracle: the buy must stay one tick below it
	_, err = e.ex.CancelAll(context.Background(), e.maker.OpenOrders, e.maker.Owner)
	require.NoError(t, err)
	e.rest(t, common.SideSell, 8, 10)
	res, err = ex.Place(context.Background(), e.ex, &recorder{}, e.route, common.SideBuy, 50, 70, 0)
	require.NoError(t, err)
	require.Equal(t, OutcomeResting, res.Outcome)
	require.EqualValues(t, 7, res.PriceLots)
	require.EqualValues(t, 10, res.BaseLots)
}

func TestSkipBelowOneLot(t *testing.T) {
	e := newEnv(t, 0, 100, 0)
	e.rest(t, common.SideBuy, 10, 100)
	ex := NewExecutor(Config{Style: StyleIOC, MaxSlippageBps: 100})

	rec := &recorder{}
	res, err := ex.Place(context.Background(), e.ex, rec, e.route, common.SideSell, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, res.Outcome)

	e.rest(t, common.SideSell, 11, 100)
	res, err = ex.Place(context.Background(), e.ex, rec, e.route, common.SideBuy, 10, 0, 0)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Empty(t, rec.topics)
}

// rejectingVenue answers every order with a post-only rejection.
type rejectingVenue struct {
	common.Gateway
}

func (rejectingVenue) Depth(address.Address, int) (common.Depth, error) {
	return common.Depth{Bids: []common.Level{{PriceLots: 9, BaseLots: 1}}}, nil
}

func (rejectingVenue) PlaceOrder(context.Context, common.OrderRequest) (common.OrderResult, error) {
	return common.OrderResult{Status: common.StatusRejected, Reason: "would cross"}, nil
}

func TestRejectedIsNoOp(t *testing.T) {
	e := newEnv(t, 0, 100, 0)
	rec := &recorder{}
	res, err := NewExecutor(DefaultConfig()).Place(context.Background(), rejectingVenue{}, rec, e.route, common.SideSell, 10, 0, 0)
	require.NoError(t, err)
	require.Equal(t, OutcomeRejected, res.Outcome)
	require.Equal(t, []events.Event{events.EventOrderRejected}, rec.topics)
}

func TestParseStyle(t *testing.T) {
	s, err := ParseStyle("")
	require.NoError(t, err)
	require.Equal(t, StylePostOnly, s)
	s, err = ParseStyle("ioc")
	require.NoError(t, err)
	require.Equal(t, StyleIOC, s)
	_, err = ParseStyle("market")
	require.Error(t, err)
}
