package token

import (
	"testing"

	"asset-rebalancer/pkg/address"

	"github.com/stretchr/testify/require"
)

func newFundedBank(t *testing.T) (*Bank, address.Address, address.Address, address.Address) {
	t.Helper()
	b := NewBank()
	authority := address.NewUnique()
	mint := address.NewUnique()
	owner := address.NewUnique()
	require.NoError(t, b.CreateMint(mint, authority, 6))
	acct, err := b.CreateAssociatedAccount(owner, mint)
	require.NoError(t, err)
	require.NoError(t, b.MintTo(mint, acct, authority, 1_000))
	return b, mint, owner, acct
}

func TestTransferChecks(t *testing.T) {
	b, mint, owner, src := newFundedBank(t)
	other := address.NewUnique()
	dst, err := b.CreateAssociatedAccount(other, mint)
	require.NoError(t, err)

	otherMint := address.NewUnique()
	require.NoError(t, b.CreateMint(otherMint, owner, 0))
	foreign, err := b.CreateAssociatedAccount(other, otherMint)
	require.NoError(t, err)

	tests := []struct {
		name      string
		from, to  address.Address
		authority address.Address
		amount    uint64
		wantErr   error
	}{
		{"wrong authority", src, dst, other, 10, ErrOwnerMismatch},
		{"insufficient", src, dst, owner, 1_001, ErrInsufficientFunds},
		{"mint mismatch", src, foreign, owner, 1, ErrMintMismatch},
		{"missing account", address.NewUnique(), dst, owner, 1, ErrAccountNotFound},
		{"ok", src, dst, owner, 400, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := b.Transfer(tc.from, tc.to, tc.authority, tc.amount)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	bal, err := b.Balance(src)
	require.NoError(t, err)
	require.EqualValues(t, 600, bal)
	bal, err = b.Balance(dst)
	require.NoError(t, err)
	require.EqualValues(t, 400, bal)
}

func TestForkIsolation(t *testing.T) {
	b, mint, owner, src := newFundedBank(t)
	dst, err := b.CreateAssociatedAccount(address.NewUnique(), mint)
	require.NoError(t, err)

	fork := b.Fork()
	require.NoError(t, fork.Transfer(src, dst, owner, 250))

	live, _ := b.Balance(src)
	forked, _ := fork.Balance(src)
	require.EqualValues(t, 1_000, live)
	require.EqualValues(t, 750, forked)
}

func TestCloseAccountRequiresEmpty(t *testing.T) {
	b, mint, owner, src := newFundedBank(t)
	require.ErrorIs(t, b.CloseAccount(src, owner), ErrNonZeroBalance)

	dst, err := b.CreateAssociatedAccount(address.NewUnique(), mint)
	require.NoError(t, err)
	require.NoError(t, b.Transfer(src, dst, owner, 1_000))
	require.ErrorIs(t, b.CloseAccount(src, address.NewUnique()), ErrOwnerMismatch)
	require.NoError(t, b.CloseAccount(src, owner))

	_, err = b.Account(src)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAssociatedAccountIsIdempotent(t *testing.T) {
	b, mint, owner, acct := newFundedBank(t)
	again, err := b.CreateAssociatedAccount(owner, mint)
	require.NoError(t, err)
	require.Equal(t, acct, again)

	expected, err := AssociatedAddress(owner, mint)
	require.NoError(t, err)
	require.Equal(t, expected, acct)
	require.Len(t, b.AccountsByOwner(owner), 1)
}
