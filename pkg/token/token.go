// Package token implements an in-memory SPL-style token custody bank:
// mints, token accounts owned by an authority, associated-account
// derivation and authority-checked transfers.
package token

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"asset-rebalancer/pkg/address"
)

var (
	ProgramID           = address.MustParse("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedProgramID = address.MustParse("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

var (
	ErrAccountNotFound   = errors.New("token: account not found")
	ErrAccountExists     = errors.New("token: account already exists")
	ErrMintNotFound      = errors.New("token: mint not found")
	ErrMintMismatch      = errors.New("token: mint mismatch")
	ErrOwnerMismatch     = errors.New("token: owner does not match authority")
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrNonZeroBalance    = errors.New("token: account balance is not zero")
	ErrOverflow          = errors.New("token: amount overflow")
)

// Mint describes a token type.
type Mint struct {
	Address   address.Address `json:"address"`
	Decimals  uint8           `json:"decimals"`
	Authority address.Address `json:"authority"`
	Supply    uint64          `json:"supply"`
}

// Account is a token balance held for one mint by one owner.
type Account struct {
	Address address.Address `json:"address"`
	Mint    address.Address `json:"mint"`
	Owner   address.Address `json:"owner"`
	Amount  uint64          `json:"amount"`
}

// Ledger is the custody surface used by the vault program and the venue.
type Ledger interface {
	CreateMint(addr, authority address.Address, decimals uint8) error
	CreateAccount(addr, mint, owner address.Address) error
	CreateAssociatedAccount(owner, mint address.Address) (address.Address, error)
	MintTo(mint, to, authority address.Address, amount uint64) error
	Transfer(from, to, authority address.Address, amount uint64) error
	CloseAccount(addr, authority address.Address) error
	Account(addr address.Address) (Account, error)
	Mint(addr address.Address) (Mint, error)
	Balance(addr address.Address) (uint64, error)
	AccountsByOwner(owner address.Address) []Account
	Fork() Ledger
}

// AssociatedAddress derives the canonical token account of owner for mint.
func AssociatedAddress(owner, mint address.Address) (address.Address, error) {
	a, _, err := address.FindProgramAddress(
		[][]byte{owner[:], ProgramID[:], mint[:]},
		AssociatedProgramID,
	)
	return a, err
}

// Bank is the in-memory Ledger.
type Bank struct {
	mu       sync.RWMutex
	mints    map[address.Address]Mint
	accounts map[address.Address]Account
}

func NewBank() *Bank {
	return &Bank{
		mints:    make(map[address.Address]Mint),
		accounts: make(map[address.Address]Account),
	}
}

// Fork returns an independent copy; writes to the copy never reach b.
func (b *Bank) Fork() Ledger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	nb := &Bank{
		mints:    make(map[address.Address]Mint, len(b.mints)),
		accounts: make(map[address.Address]Account, len(b.accounts)),
	}
	for k, v := range b.mints {
		nb.mints[k] = v
	}
	for k, v := range b.accounts {
		nb.accounts[k] = v
	}
	return nb
}

func (b *Bank) CreateMint(addr, authority address.Address, decimals uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mints[addr]; ok {
		return fmt.Errorf("%w: mint %s", ErrAccountExists, addr)
	}
	b.mints[addr] = Mint{Address: addr, Decimals: decimals, Authority: authority}
	return nil
}

func (b *Bank) CreateAccount(addr, mint, owner address.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createAccountLocked(addr, mint, owner)
}

func (b *Bank) createAccountLocked(addr, mint, owner address.Address) error {
	if _, ok := b.mints[mint]; !ok {
		return fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	if _, ok := b.accounts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	b.accounts[addr] = Account{Address: addr, Mint: mint, Owner: owner}
	return nil
}

// CreateAssociatedAccount creates (or returns the existing) associated
// account of owner for mint.
func (b *Bank) CreateAssociatedAccount(owner, mint address.Address) (address.Address, error) {
	addr, err := AssociatedAddress(owner, mint)
	if err != nil {
		return address.Zero, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.accounts[addr]; ok {
		if existing.Mint != mint || existing.Owner != owner {
			return address.Zero, ErrMintMismatch
		}
		return addr, nil
	}
	return addr, b.createAccountLocked(addr, mint, owner)
}

func (b *Bank) MintTo(mint, to, authority address.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.mints[mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	if m.Authority != authority {
		return ErrOwnerMismatch
	}
	dst, ok := b.accounts[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, to)
	}
	if dst.Mint != mint {
		return ErrMintMismatch
	}
	if dst.Amount > math.MaxUint64-amount || m.Supply > math.MaxUint64-amount {
		return ErrOverflow
	}
	dst.Amount += amount
	m.Supply += amount
	b.accounts[to] = dst
	b.mints[mint] = m
	return nil
}

// Transfer moves amount from one account to another of the same mint.
// authority must own the source account.
func (b *Bank) Transfer(from, to, authority address.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, from)
	}
	dst, ok := b.accounts[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, to)
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if src.Owner != authority {
		return ErrOwnerMismatch
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if from == to || amount == 0 {
		return nil
	}
	if dst.Amount > math.MaxUint64-amount {
		return ErrOverflow
	}
	src.Amount -= amount
	dst.Amount += amount
	b.accounts[from] = src
	b.accounts[to] = dst
	return nil
}

// CloseAccount removes an empty account.
func (b *Bank) CloseAccount(addr, authority address.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if acct.Owner != authority {
		return ErrOwnerMismatch
	}
	if acct.Amount != 0 {
		return ErrNonZeroBalance
	}
	delete(b.accounts, addr)
	return nil
}

func (b *Bank) Account(addr address.Address) (Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acct, ok := b.accounts[addr]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return acct, nil
}

func (b *Bank) Mint(addr address.Address) (Mint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.mints[addr]
	if !ok {
		return Mint{}, fmt.Errorf("%w: %s", ErrMintNotFound, addr)
	}
	return m, nil
}

func (b *Bank) Balance(addr address.Address) (uint64, error) {
	acct, err := b.Account(addr)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

// AccountsByOwner lists owner's accounts ordered by address.
func (b *Bank) AccountsByOwner(owner address.Address) []Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Account
	for _, a := range b.accounts {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}
