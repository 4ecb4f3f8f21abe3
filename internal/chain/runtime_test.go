package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/orderbook"
	"asset-rebalancer/pkg/token"

	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	commits []Commit
	fail    error
}

func (s *recordingStore) Commit(_ context.Context, c Commit) error {
	if s.fail != nil {
		return s.fail
	}
	s.commits = append(s.commits, c)
	return nil
}

type counter struct{ N int }

func setup(t *testing.T, store Store, bus *events.Bus) (*Runtime, address.Address, address.Address, address.Address) {
	t.Helper()
	bank := token.NewBank()
	mint, owner := address.NewUnique(), address.NewUnique()
	require.NoError(t, bank.CreateMint(mint, owner, 0))
	from, err := bank.CreateAssociatedAccount(owner, mint)
	require.NoError(t, err)
	to, err := bank.CreateAssociatedAccount(address.NewUnique(), mint)
	require.NoError(t, err)
	require.NoError(t, bank.MintTo(mint, from, owner, 100))

	clock := func() time.Time { return time.Unix(1_700_000_000, 0) }
	rt := NewRuntime(bank, orderbook.New(bank), WithStore(store), WithBus(bus), WithClock(clock))
	return rt, owner, from, to
}

func balanceOf(rt *Runtime, acct address.Address) uint64 {
	var b uint64
	rt.View(func(v *View) { b, _ = v.Ledger().Balance(acct) })
	return b
}

func TestExecuteCommitsAndPublishes(t *testing.T) {
	store := &recordingStore{}
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.EventDeposited, 1)
	defer unsub()

	rt, owner, from, to := setup(t, store, bus)
	key := address.NewUnique()

	rcpt, err := rt.Execute(context.Background(), "move", func(tx *Tx) error {
		if err := tx.Ledger().Transfer(from, to, owner, 40); err != nil {
			return err
		}
		tx.SetAccount(key, counter{N: 1})
		tx.Emit(events.EventDeposited, events.PortfolioChanged{AmountA: 40})
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, rcpt.Slot)
	require.Len(t, store.commits, 1)
	require.Equal(t, counter{N: 1}, store.commits[0].Accounts[key])
	require.Equal(t, events.PortfolioChanged{AmountA: 40}, <-ch)

	require.EqualValues(t, 60, balanceOf(rt, from))
	rt.View(func(v *View) {
		a, ok := v.Account(key)
		require.True(t, ok)
		require.Equal(t, counter{N: 1}, a)
	})
}

func TestExecuteRollsBackOnError(t *testing.T) {
	store := &recordingStore{}
	rt, owner, from, to := setup(t, store, nil)
	key := address.NewUnique()
	boom := errors.New("boom")

	_, err := rt.Execute(context.Background(), "fail", func(tx *Tx) error {
		require.NoError(t, tx.Ledger().Transfer(from, to, owner, 40))
		tx.SetAccount(key, counter{N: 2})
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, store.commits)
	require.EqualValues(t, 100, balanceOf(rt, from))
	require.Zero(t, rt.Slot())
	rt.View(func(v *View) {
		_, ok := v.Account(key)
		require.False(t, ok)
	})
}

func TestExecuteRollsBackWhenStoreFails(t *testing.T) {
	store := &recordingStore{fail: errors.New("disk full")}
	rt, owner, from, to := setup(t, store, nil)

	_, err := rt.Execute(context.Background(), "move", func(tx *Tx) error {
		return tx.Ledger().Transfer(from, to, owner, 40)
	})
	require.ErrorIs(t, err, ErrStoreCommit)
	require.EqualValues(t, 100, balanceOf(rt, from))
}

func TestTxSeesOwnWritesAndClose(t *testing.T) {
	rt, _, _, _ := setup(t, nil, nil)
	key := address.NewUnique()
	_, err := rt.Execute(context.Background(), "create", func(tx *Tx) error {
		tx.SetAccount(key, counter{N: 1})
		return nil
	})
	require.NoError(t, err)

	_, err = rt.Execute(context.Background(), "close", func(tx *Tx) error {
		v, ok := tx.Account(key)
		require.True(t, ok)
		require.Equal(t, counter{N: 1}, v)
		tx.CloseAccount(key)
		_, ok = tx.Account(key)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
	rt.View(func(v *View) {
		_, ok := v.Account(key)
		require.False(t, ok)
	})
}
