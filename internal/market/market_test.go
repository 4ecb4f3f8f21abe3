package market

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/config"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/oracle"

	"github.com/stretchr/testify/require"
)

func TestSetupSeedsEveryLevel(t *testing.T) {
	feed := oracle.NewMemoryFeed()
	now := time.Unix(1_700_000_000, 0)
	fx, err := Setup(config.DefaultMarkets(), feed, now)
	require.NoError(t, err)

	for _, a := range fx.Assets {
		d, err := fx.Exchange.Depth(a.Market.MarketID, 100)
		require.NoError(t, err)
		require.Len(t, d.Bids, 10, a.Market.Symbol)
		require.Len(t, d.Asks, 10, a.Market.Symbol)
		bid, _ := d.BestBid()
		ask, _ := d.BestAsk()
		require.Less(t, bid, ask)

		q, err := feed.ReadPrice(context.Background(), a.Config.Feed)
		require.NoError(t, err)
		require.Equal(t, a.Price, q)
		require.Equal(t, now.Unix(), q.PublishTime)
	}

	sol := fx.Assets[0].Market
	d, err := fx.Exchange.Depth(sol.MarketID, 1)
	require.NoError(t, err)
	require.Equal(t, []common.Level{{PriceLots: 24_476, BaseLots: 50_000}}, d.Bids)
	require.Equal(t, []common.Level{{PriceLots: 24_525, BaseLots: 50_000}}, d.Asks)
}

func TestSetupRejectsCrossedLevels(t *testing.T) {
	m := config.DefaultMarkets()
	m.Assets[1].Bids = []config.LevelConfig{{Price: "1810", Size: "1"}}
	m.Assets[1].Asks = []config.LevelConfig{{Price: "1800", Size: "1"}}
	_, err := Setup(m, nil, time.Now())
	require.Error(t, err)
}

func TestUnits(t *testing.T) {
	n, err := Native("1.5", 9)
	require.NoError(t, err)
	require.EqualValues(t, 1_500_000_000, n)
	require.Equal(t, "1.5", Format(1_500_000_000, 9))
	require.Equal(t, "0.000001", Format(1, 6))

	_, err = Native("-1", 6)
	require.Error(t, err)

	q, err := OracleQuote("1800.12345678", 10, time.Unix(5, 0))
	require.NoError(t, err)
	require.Equal(t, oracle.PriceQuote{Price: 180_012_345_678, Expo: -8, Conf: 180_012_345, PublishTime: 5}, q)
	require.Equal(t, "1800.12345678", DisplayPrice(q))

	weth := common.MarketBundle{BaseLotSize: 1_000_000, QuoteLotSize: 10}
	lots, err := PriceLots("1800", 8, 6, weth)
	require.NoError(t, err)
	require.EqualValues(t, 1_800_000, lots)
	size, err := SizeLots("0.025", 8, weth)
	require.NoError(t, err)
	require.EqualValues(t, 2, size)
	require.Equal(t, "1800", LotsPrice(lots, 8, 6, weth))
	require.Equal(t, "0.02", LotsSize(size, 8, weth))
}

func TestLadderLevels(t *testing.T) {
	bids, asks, err := Levels(config.AssetConfig{
		Price:  "100",
		Ladder: config.LadderConfig{Levels: 2, StepBps: 50, Size: "3"},
	})
	require.NoError(t, err)
	require.Equal(t, []config.LevelConfig{{Price: "99.5", Size: "3"}, {Price: "99", Size: "3"}}, bids)
	require.Equal(t, []config.LevelConfig{{Price: "100.5", Size: "3"}, {Price: "101", Size: "3"}}, asks)
}

func TestMockFeedTick(t *testing.T) {
	feed := oracle.NewMemoryFeed()
	feed.SetPrice("x", 1_000_000, -4, time.Unix(0, 0))
	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 1)
	defer unsub()

	m := &MockFeed{Feed: feed, Bus: bus, StepBps: 5, Rand: rand.New(rand.NewSource(1))}
	m.Tick(time.Unix(100, 0))

	q, err := feed.ReadPrice(context.Background(), "x")
	require.NoError(t, err)
	require.EqualValues(t, 100, q.PublishTime)
	require.InDelta(t, 1_000_000, q.Price, 500)

	tick := (<-ticks).(events.PriceTick)
	require.Equal(t, "x", tick.Feed)
	require.Equal(t, q.Price, tick.Price)
}

func TestFaucetGoesThroughRuntime(t *testing.T) {
	fx, err := Setup(config.DefaultMarkets(), nil, time.Now())
	require.NoError(t, err)
	rt := chain.NewRuntime(fx.Bank, fx.Exchange)

	owner := address.NewUnique()
	mint, _, ok := fx.MintBySymbol("USDC")
	require.True(t, ok)
	acct, err := fx.Faucet(context.Background(), rt, owner, mint, 42)
	require.NoError(t, err)

	rt.View(func(v *chain.View) {
		bal, err := v.Ledger().Balance(acct)
		require.NoError(t, err)
		require.EqualValues(t, 42, bal)
	})
	_, err = fx.Bank.Balance(acct)
	require.Error(t, err, "the setup bank is superseded by the runtime fork")
}
