package vault

import (
	"context"
	"testing"
	"time"

	"asset-rebalancer/internal/allocation"
	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/internal/order"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/exchanges/orderbook"
	"asset-rebalancer/pkg/oracle"
	"asset-rebalancer/pkg/token"

	"github.com/stretchr/testify/require"
)

// level is one maker order seeded before the runtime starts.
type level struct {
	which allocation.Which
	side  common.Side
	price uint64
	lots  uint64
}

type env struct {
	t       *testing.T
	now     time.Time
	rt      *chain.Runtime
	bus     *events.Bus
	feed    *oracle.MemoryFeed
	prog    *Program
	program address.Address

	mints   [2]address.Address
	quote   address.Address
	markets [2]common.MarketBundle

	owner address.Address
	userA address.Address
	userB address.Address
}

// newEnv lists A/Q and B/Q with unit lots and zero decimals, funds the owner
// with a and b, seeds the maker levels and prices A at 10 and B at 20.
func newEnv(t *testing.T, cfg order.Config, a, b uint64, levels ...level) *env {
	t.Helper()
	e := &env{t: t, now: time.Unix(1_700_000_000, 0), program: address.NewUnique(), owner: address.NewUnique()}

	bank := token.NewBank()
	authority := address.NewUnique()
	e.quote = address.NewUnique()
	require.NoError(t, bank.CreateMint(e.quote, authority, 0))
	ex := orderbook.New(bank)
	for i, sym := range []string{"A", "B"} {
		e.mints[i] = address.NewUnique()
		require.NoError(t, bank.CreateMint(e.mints[i], authority, 0))
		m, err := ex.ListMarket(orderbook.MarketParams{
			Symbol: sym + "/Q", BaseMint: e.mints[i], QuoteMint: e.quote,
			BaseLotSize: 1, QuoteLotSize: 1,
		})
		require.NoError(t, err)
		e.markets[i] = m
	}

	fund := func(owner, mint address.Address, amount uint64) address.Address {
		acct, err := bank.CreateAssociatedAccount(owner, mint)
		require.NoError(t, err)
		if amount > 0 {
			require.NoError(t, bank.MintTo(mint, acct, authority, amount))
		}
		return acct
	}
	e.userA = fund(e.owner, e.mints[0], a)
	e.userB = fund(e.owner, e.mints[1], b)

	maker := address.NewUnique()
	makerQuote := fund(maker, e.quote, 1_000_000)
	for i := range e.markets {
		base := fund(maker, e.mints[i], 100_000)
		oo := address.NewUnique()
		require.NoError(t, ex.InitOpenOrders(e.markets[i].MarketID, oo, maker))
		for _, lv := range levels {
			if lv.which != allocation.Which(i) {
				continue
			}
			payer := makerQuote
			if lv.side == common.SideSell {
				payer = base
			}
			_, err := ex.PlaceOrder(context.Background(), common.OrderRequest{
				Market: e.markets[i].MarketID, OpenOrders: oo, Owner: maker, Payer: payer,
				Side: lv.side, Type: common.OrderTypePostOnly, SelfTrade: common.SelfTradeAbortTransaction,
				LimitPrice: lv.price, MaxBaseQty: lv.lots,
			})
			require.NoError(t, err)
		}
	}

	e.feed = oracle.NewMemoryFeed()
	e.feed.SetPrice("a", 10, 0, e.now)
	e.feed.SetPrice("b", 20, 0, e.now)
	e.bus = events.NewBus()
	e.rt = chain.NewRuntime(bank, ex, chain.WithBus(e.bus), chain.WithClock(func() time.Time { return e.now }))

	prog, err := NewProgram(Config{
		ProgramID: e.program,
		MarketA:   e.markets[0].MarketID,
		MarketB:   e.markets[1].MarketID,
		FeedA:     "a",
		FeedB:     "b",
		Orders:    cfg,
	}, e.rt, e.feed)
	require.NoError(t, err)
	e.prog = prog
	return e
}

var ioc = order.Config{Style: order.StyleIOC, MaxSlippageBps: 100}

// liquid seeds a bid for A at 10 and an ask for B at 20.
var liquid = []level{
	{allocation.AssetA, common.SideBuy, 10, 1_000},
	{allocation.AssetB, common.SideSell, 20, 1_000},
}

func (e *env) deposit(pctA, pctB uint16) Portfolio {
	e.t.Helper()
	pf, err := e.prog.Deposit(context.Background(), DepositRequest{
		Owner: e.owner, PctA: pctA, PctB: pctB, UserA: e.userA, UserB: e.userB,
	})
	require.NoError(e.t, err)
	return pf
}

func (e *env) initAccounts() Portfolio {
	e.t.Helper()
	pf, err := e.prog.InitAccounts(context.Background(), InitAccountsRequest{Owner: e.owner})
	require.NoError(e.t, err)
	return pf
}

func (e *env) balance(acct address.Address) uint64 {
	e.t.Helper()
	var (
		bal uint64
		err error
	)
	e.rt.View(func(v *chain.View) { bal, err = v.Ledger().Balance(acct) })
	require.NoError(e.t, err)
	return bal
}

func (e *env) portfolio() Portfolio {
	e.t.Helper()
	pf, ok := e.prog.Portfolio(e.owner)
	require.True(e.t, ok)
	return pf
}

func TestDepositMovesBalances(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 50)
	pf := e.deposit(300, 700)

	require.Equal(t, StateFunded, pf.State)
	require.EqualValues(t, 300, pf.A.TargetPct)
	require.EqualValues(t, 700, pf.B.TargetPct)
	require.Equal(t, "A", pf.A.Symbol)
	require.EqualValues(t, 10, pf.A.LastPrice.Price)
	require.EqualValues(t, 0, e.balance(e.userA))
	require.EqualValues(t, 0, e.balance(e.userB))
	require.EqualValues(t, 1_000, e.balance(pf.A.Vault))
	require.EqualValues(t, 50, e.balance(pf.B.Vault))
	require.EqualValues(t, 0, e.balance(pf.QuoteVault))

	addrs, err := Derive(e.program, e.owner)
	require.NoError(t, err)
	require.Equal(t, addrs.Portfolio, pf.Address)
	require.Equal(t, addrs.VaultSigner, pf.VaultSigner)
	require.NoError(t, pf.verify(e.program))
}

func TestDepositValidation(t *testing.T) {
	tests := []struct {
		name    string
		a, b    uint64
		mutate  func(e *env, r *DepositRequest)
		wantErr error
	}{
		{"percentages", 10, 10, func(_ *env, r *DepositRequest) { r.PctA = 500; r.PctB = 400 }, ErrInvalidPercentages},
		{"both empty", 0, 0, nil, ErrInsufficientFunds},
		{"amount over balance", 10, 10, func(_ *env, r *DepositRequest) { r.AmountA = 11 }, ErrInsufficientFunds},
		{"swapped mints", 10, 10, func(e *env, r *DepositRequest) { r.UserA, r.UserB = e.userB, e.userA }, ErrInvalidAccount},
		{"foreign account", 10, 10, func(e *env, r *DepositRequest) { r.Owner = address.NewUnique() }, ErrInvalidAccount},
		{"missing account", 10, 10, func(_ *env, r *DepositRequest) { r.UserA = address.NewUnique() }, ErrInvalidAccount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, ioc, tc.a, tc.b)
			req := DepositRequest{Owner: e.owner, PctA: 300, PctB: 700, UserA: e.userA, UserB: e.userB}
			if tc.mutate != nil {
				tc.mutate(e, &req)
			}
			_, err := e.prog.Deposit(context.Background(), req)
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, KindValidation, KindOf(err))
			_, ok := e.prog.Portfolio(req.Owner)
			require.False(t, ok)
			require.EqualValues(t, tc.a, e.balance(e.userA))
		})
	}
}

func TestDepositIsAllOrNothing(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 500)
	addrs, err := Derive(e.program, e.owner)
	require.NoError(t, err)

	// someone squats the B vault address so the second vault cannot be created
	_, err = e.rt.Execute(context.Background(), "squat", func(tx *chain.Tx) error {
		return tx.Ledger().CreateAccount(addrs.VaultB, e.mints[1], address.NewUnique())
	})
	require.NoError(t, err)

	_, err = e.prog.Deposit(context.Background(), DepositRequest{
		Owner: e.owner, PctA: 500, PctB: 500, UserA: e.userA, UserB: e.userB,
	})
	require.ErrorIs(t, err, token.ErrAccountExists)

	require.EqualValues(t, 1_000, e.balance(e.userA))
	require.EqualValues(t, 500, e.balance(e.userB))
	_, ok := e.prog.Portfolio(e.owner)
	require.False(t, ok)
	e.rt.View(func(v *chain.View) {
		_, err := v.Ledger().Account(addrs.VaultA)
		require.ErrorIs(t, err, token.ErrAccountNotFound)
	})
}

func TestDepositTwiceIsWrongLifecycle(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 500)
	e.deposit(500, 500)
	_, err := e.prog.Deposit(context.Background(), DepositRequest{
		Owner: e.owner, PctA: 500, PctB: 500, UserA: e.userA, UserB: e.userB,
	})
	require.ErrorIs(t, err, ErrWrongLifecycle)
	require.Equal(t, "WRONG_LIFECYCLE_STATE", CodeOf(err))
}

func TestInitAccounts(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0)
	pf := e.deposit(300, 700)

	_, bump, err := address.FindProgramAddress(seeds(SeedOpenOrdersA, pf.VaultSigner), e.program)
	require.NoError(t, err)
	wrong := bump - 1
	if wrong == 0 {
		wrong = bump + 1
	}
	_, err = e.prog.InitAccounts(context.Background(), InitAccountsRequest{Owner: e.owner, BumpA: wrong})
	require.ErrorIs(t, err, ErrInvalidDerivation)
	require.Equal(t, StateFunded, e.portfolio().State)

	pf = e.initAccounts()
	require.Equal(t, StateOrdersInitialized, pf.State)
	require.Equal(t, bump, pf.A.OpenOrdersBump)
	e.rt.View(func(v *chain.View) {
		oo, err := v.Venue().OpenOrders(pf.A.OpenOrders)
		require.NoError(t, err)
		require.Equal(t, pf.VaultSigner, oo.Owner)
	})

	_, err = e.prog.InitAccounts(context.Background(), InitAccountsRequest{Owner: e.owner})
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	_, err = e.prog.InitAccounts(context.Background(), InitAccountsRequest{Owner: address.NewUnique(), Portfolio: pf.Address})
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestRebalanceBeforeInitAccounts(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0, liquid...)
	e.deposit(300, 700)
	// prices are irrelevant when the lifecycle check fails first
	e.now = e.now.Add(time.Hour)

	_, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: e.owner})
	require.ErrorIs(t, err, ErrWrongLifecycle)
	require.Equal(t, KindValidation, KindOf(err))
}

func TestRebalanceToTargets(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0, liquid...)
	e.deposit(300, 700)
	e.initAccounts()

	balanced, unsub := e.bus.Subscribe(events.EventAssetsBalanced, 4)
	defer unsub()

	res, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: e.owner})
	require.NoError(t, err)
	require.Equal(t, []allocation.Leg{{Asset: allocation.AssetA, Side: common.SideSell, Amount: 700, Worth: 7_000}}, res.Plan.Sells)
	require.Equal(t, []allocation.Leg{{Asset: allocation.AssetB, Side: common.SideBuy, Amount: 350, Worth: 7_000}}, res.Plan.Buys)
	require.Len(t, res.Legs, 2)
	require.Equal(t, order.OutcomeFilled, res.Legs[0].Outcome)
	require.Equal(t, order.OutcomeFilled, res.Legs[1].Outcome)

	pf := e.portfolio()
	require.Equal(t, StateIdle, pf.State)
	require.EqualValues(t, 1, pf.Sequence)
	require.EqualValues(t, 300, e.balance(pf.A.Vault))
	require.EqualValues(t, 350, e.balance(pf.B.Vault))
	require.EqualValues(t, 0, e.balance(pf.QuoteVault))

	require.Equal(t, events.AssetsBalanced{
		Portfolio:        pf.Address.String(),
		Owner:            e.owner.String(),
		Sequence:         1,
		NewTokenAWorth:   3_000,
		NewTokenBWorth:   7_000,
		TokenAPercentage: 300,
		TokenBPercentage: 700,
		OrdersPlaced:     2,
		At:               e.now.Unix(),
	}, res.Event)

	select {
	case ev := <-balanced:
		require.Equal(t, res.Event, ev)
	default:
		t.Fatal("AssetsBalanced was not published before Rebalance returned")
	}

	pos, err := e.prog.Position(e.owner)
	require.NoError(t, err)
	require.EqualValues(t, 300, pos.PctA)
	require.EqualValues(t, 700, pos.PctB)
}

func TestNoOpRebalanceIsIdempotent(t *testing.T) {
	e := newEnv(t, ioc, 300, 350, liquid...)
	e.deposit(300, 700)
	e.initAccounts()

	first, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: e.owner})
	require.NoError(t, err)
	e.now = e.now.Add(time.Second)
	second, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: e.owner})
	require.NoError(t, err)

	require.True(t, first.Event.NoOp)
	require.True(t, second.Event.NoOp)
	require.Zero(t, first.Event.OrdersPlaced)
	require.Equal(t, first.Event.NewTokenAWorth, second.Event.NewTokenAWorth)
	require.Equal(t, first.Event.NewTokenBWorth, second.Event.NewTokenBWorth)
	require.Equal(t, first.Event.QuoteWorth, second.Event.QuoteWorth)
	require.EqualValues(t, 2, second.Event.Sequence)
	require.Equal(t, StateIdle, e.portfolio().State)
}

func TestRebalanceStalePriceLeavesState(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0, liquid...)
	e.deposit(300, 700)
	before := e.initAccounts()

	e.feed.SetPrice("b", 20, 0, e.now.Add(-2*time.Minute))
	_, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: e.owner})
	require.ErrorIs(t, err, ErrStalePrice)
	require.Equal(t, KindMarket, KindOf(err))

	require.Equal(t, before, e.portfolio())
	require.EqualValues(t, 1_000, e.balance(before.A.Vault))
	require.EqualValues(t, 0, e.balance(before.QuoteVault))
}

func TestRebalanceWithoutBidsIsNoLiquidity(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0, level{allocation.AssetB, common.SideSell, 20, 1_000})
	e.deposit(300, 700)
	before := e.initAccounts()

	_, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: e.owner})
	require.ErrorIs(t, err, ErrNoLiquidity)
	require.Equal(t, before, e.portfolio())
	require.EqualValues(t, 1_000, e.balance(before.A.Vault))
}

func TestRefreshPrices(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0)
	e.deposit(300, 700)

	e.now = e.now.Add(30 * time.Second)
	e.feed.SetPrice("a", 11, 0, e.now)
	e.feed.SetPrice("b", 19, 0, e.now)
	pf, err := e.prog.RefreshPrices(context.Background(), RefreshRequest{Owner: e.owner})
	require.NoError(t, err)
	require.EqualValues(t, 11, pf.A.LastPrice.Price)
	require.EqualValues(t, 19, pf.B.LastPrice.Price)
	require.Equal(t, e.now.Unix(), pf.LastPriceUpdate)

	e.now = e.now.Add(5 * time.Minute)
	_, err = e.prog.RefreshPrices(context.Background(), RefreshRequest{Owner: e.owner})
	require.ErrorIs(t, err, ErrStalePrice)
	require.EqualValues(t, 11, e.portfolio().A.LastPrice.Price)
}

func TestWithdrawRefusesRestingOrders(t *testing.T) {
	// maker bid under the oracle price keeps the post-only sell resting
	e := newEnv(t, order.Config{Style: order.StylePostOnly}, 1_000, 0,
		level{allocation.AssetA, common.SideBuy, 9, 1_000},
		level{allocation.AssetB, common.SideSell, 21, 1_000},
	)
	e.deposit(300, 700)
	e.initAccounts()

	res, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: e.owner})
	require.NoError(t, err)
	require.Equal(t, order.OutcomeResting, res.Legs[0].Outcome)
	require.Equal(t, order.OutcomeSkipped, res.Legs[1].Outcome)
	require.EqualValues(t, 1, res.Event.OrdersPlaced)
	pf := e.portfolio()
	require.Equal(t, StateRebalancing, pf.State)
	require.EqualValues(t, 300, e.balance(pf.A.Vault))

	_, err = e.prog.Withdraw(context.Background(), WithdrawRequest{Owner: e.owner})
	require.ErrorIs(t, err, ErrOrdersStillOpen)
	require.Equal(t, pf, e.portfolio())
	require.EqualValues(t, 0, e.balance(e.userA))

	out, err := e.prog.Withdraw(context.Background(), WithdrawRequest{Owner: e.owner, ForceCancel: true})
	require.NoError(t, err)
	require.Equal(t, 1, out.Canceled)
	require.EqualValues(t, 1_000, out.AmountA)
	require.EqualValues(t, 1_000, e.balance(e.userA))
	e.rt.View(func(v *chain.View) {
		_, err := v.Venue().OpenOrders(pf.A.OpenOrders)
		require.ErrorIs(t, err, common.ErrOpenOrdersNotFound)
	})
}

func TestWithdrawTwice(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0, liquid...)
	e.deposit(300, 700)
	e.initAccounts()
	_, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: e.owner})
	require.NoError(t, err)

	withdrawn, unsub := e.bus.Subscribe(events.EventWithdrawn, 1)
	defer unsub()
	out, err := e.prog.Withdraw(context.Background(), WithdrawRequest{Owner: e.owner})
	require.NoError(t, err)
	require.EqualValues(t, 300, out.AmountA)
	require.EqualValues(t, 350, out.AmountB)
	require.EqualValues(t, 300, e.balance(e.userA))
	require.EqualValues(t, 350, e.balance(e.userB))
	require.EqualValues(t, StateWithdrawn, (<-withdrawn).(events.PortfolioChanged).State)

	pf := e.portfolio()
	require.Equal(t, StateWithdrawn, pf.State)
	e.rt.View(func(v *chain.View) {
		_, err := v.Ledger().Account(pf.A.Vault)
		require.ErrorIs(t, err, token.ErrAccountNotFound)
	})

	_, err = e.prog.Withdraw(context.Background(), WithdrawRequest{Owner: e.owner})
	require.ErrorIs(t, err, ErrNothingToWithdraw)
	_, err = e.prog.Withdraw(context.Background(), WithdrawRequest{Owner: address.NewUnique()})
	require.ErrorIs(t, err, ErrNothingToWithdraw)

	// the tombstone can be funded again
	_, err = e.prog.Deposit(context.Background(), DepositRequest{
		Owner: e.owner, PctA: 500, PctB: 500, UserA: e.userA, UserB: e.userB,
	})
	require.NoError(t, err)
}

func TestWithdrawFromFunded(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 40)
	e.deposit(300, 700)

	dest, err := func() (address.Address, error) {
		var acct address.Address
		_, err := e.rt.Execute(context.Background(), "dest", func(tx *chain.Tx) error {
			acct = address.NewUnique()
			return tx.Ledger().CreateAccount(acct, e.mints[1], e.owner)
		})
		return acct, err
	}()
	require.NoError(t, err)

	_, err = e.prog.Withdraw(context.Background(), WithdrawRequest{Owner: e.owner, UserB: e.userA})
	require.ErrorIs(t, err, ErrInvalidAccount)

	out, err := e.prog.Withdraw(context.Background(), WithdrawRequest{Owner: e.owner, UserB: dest})
	require.NoError(t, err)
	require.Zero(t, out.Canceled)
	require.EqualValues(t, 40, e.balance(dest))
	require.EqualValues(t, 0, e.balance(e.userB))
}

func TestWithdrawCreatesAssociatedQuoteAccount(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0, liquid...)
	e.deposit(300, 700)
	e.initAccounts()
	_, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: e.owner})
	require.NoError(t, err)

	userQuote, err := token.AssociatedAddress(e.owner, e.quote)
	require.NoError(t, err)
	e.rt.View(func(v *chain.View) {
		_, err := v.Ledger().Account(userQuote)
		require.ErrorIs(t, err, token.ErrAccountNotFound)
	})

	out, err := e.prog.Withdraw(context.Background(), WithdrawRequest{
		Owner: e.owner, UserA: e.userA, UserB: e.userB, UserQuote: userQuote,
	})
	require.NoError(t, err)
	require.EqualValues(t, 300, e.balance(e.userA))
	require.EqualValues(t, 350, e.balance(e.userB))
	require.Equal(t, out.AmountQuote, e.balance(userQuote))
}

func TestCloseAccounts(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0)
	e.deposit(300, 700)
	e.initAccounts()

	pf, err := e.prog.CloseAccounts(context.Background(), CloseAccountsRequest{Owner: e.owner})
	require.NoError(t, err)
	require.Equal(t, StateFunded, pf.State)
	require.True(t, pf.A.OpenOrders.IsZero())

	_, err = e.prog.CloseAccounts(context.Background(), CloseAccountsRequest{Owner: e.owner})
	require.ErrorIs(t, err, ErrWrongLifecycle)

	pf = e.initAccounts()
	require.Equal(t, StateOrdersInitialized, pf.State)
}

func TestNotOwner(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0, liquid...)
	pf := e.deposit(300, 700)
	e.initAccounts()
	intruder := address.NewUnique()

	_, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: intruder, Portfolio: pf.Address})
	require.ErrorIs(t, err, ErrNotOwner)
	_, err = e.prog.Withdraw(context.Background(), WithdrawRequest{Owner: intruder, Portfolio: pf.Address})
	require.ErrorIs(t, err, ErrNotOwner)
	_, err = e.prog.CloseAccounts(context.Background(), CloseAccountsRequest{Owner: intruder, Portfolio: pf.Address})
	require.ErrorIs(t, err, ErrNotOwner)
	require.EqualValues(t, 1_000, e.balance(pf.A.Vault))
}

func TestCrankMarkets(t *testing.T) {
	e := newEnv(t, ioc, 1_000, 0, liquid...)
	e.deposit(300, 700)
	e.initAccounts()
	_, err := e.prog.Rebalance(context.Background(), RebalanceRequest{Owner: e.owner})
	require.NoError(t, err)

	// the vault's takes left maker fill events on both books
	n, err := e.prog.CrankMarkets(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = e.prog.CrankMarkets(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLifecycleTable(t *testing.T) {
	states := []State{StateUninitialized, StateFunded, StateOrdersInitialized, StateRebalancing, StateIdle, StateWithdrawn}
	want := map[Op][]bool{
		OpDeposit:       {true, false, false, false, false, true},
		OpInitAccounts:  {false, true, false, false, false, false},
		OpRefreshPrices: {false, true, true, true, true, false},
		OpRebalance:     {false, false, true, true, true, false},
		OpCloseAccounts: {false, false, true, true, true, false},
		OpWithdraw:      {false, true, true, true, true, false},
	}
	for op, row := range want {
		for i, s := range states {
			require.Equal(t, row[i], s.Allows(op), "%s from %s", op, s)
		}
	}

	require.ErrorIs(t, guard(StateIdle, OpInitAccounts), ErrAlreadyInitialized)
	require.ErrorIs(t, guard(StateWithdrawn, OpWithdraw), ErrNothingToWithdraw)
	require.ErrorIs(t, guard(StateFunded, OpRebalance), ErrWrongLifecycle)
	require.Equal(t, StateRebalancing, afterRebalance(true))
	require.Equal(t, StateIdle, afterRebalance(false))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
		code string
	}{
		{ErrNotOwner, KindValidation, "NOT_OWNER"},
		{classify(allocation.ErrOverflow), KindArithmetic, "ARITHMETIC_OVERFLOW"},
		{classify(oracle.ErrStale), KindMarket, "STALE_PRICE"},
		{classify(order.ErrSlippageExceeded), KindMarket, "SLIPPAGE_EXCEEDED"},
		{classify(common.ErrWouldSelfTrade), KindMarket, "ORDER_REJECTED"},
		{classify(token.ErrInsufficientFunds), KindValidation, "INSUFFICIENT_FUNDS"},
		{token.ErrAccountExists, KindInternal, "INTERNAL"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			require.Equal(t, tc.kind, KindOf(tc.err))
			require.Equal(t, tc.code, CodeOf(tc.err))
		})
	}
	require.ErrorIs(t, classify(oracle.ErrStale), oracle.ErrStale)
}
