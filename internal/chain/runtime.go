// Package chain runs program instructions as all-or-nothing transactions
// over the custody ledger, the venue and program-owned accounts.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/token"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrStoreCommit = errors.New("chain: store commit failed")

// Commit is everything a successful transaction changed.
type Commit struct {
	TxID     string
	Name     string
	At       time.Time
	Accounts map[address.Address]any // nil value means the account was closed
	Events   []events.Envelope
}

// Store persists commits before they become visible. A failing Commit aborts
// the transaction.
type Store interface {
	Commit(ctx context.Context, c Commit) error
}

// Receipt is returned for committed transactions.
type Receipt struct {
	TxID   string
	Slot   uint64
	Events []events.Envelope
}

// Runtime serializes transactions. Each one runs against forks of the live
// ledger, venue and accounts; forks replace the live state only after fn and
// the store commit both succeed.
type Runtime struct {
	mu       sync.RWMutex
	ledger   token.Ledger
	venue    common.Gateway
	accounts map[address.Address]any
	slot     uint64

	store Store
	bus   *events.Bus
	clock func() time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

func WithStore(s Store) Option { return func(r *Runtime) { r.store = s } }

func WithBus(b *events.Bus) Option { return func(r *Runtime) { r.bus = b } }

func WithClock(c func() time.Time) Option { return func(r *Runtime) { r.clock = c } }

func NewRuntime(ledger token.Ledger, venue common.Gateway, opts ...Option) *Runtime {
	r := &Runtime{
		ledger:   ledger,
		venue:    venue,
		accounts: make(map[address.Address]any),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs fn atomically. Events emitted by fn are persisted with the
// commit and then published to the bus before Execute returns.
func (r *Runtime) Execute(ctx context.Context, name string, fn func(tx *Tx) error) (*Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ledger := r.ledger.Fork()
	tx := &Tx{
		ctx:    ctx,
		id:     uuid.NewString(),
		name:   name,
		now:    r.clock(),
		ledger: ledger,
		venue:  r.venue.Fork(ledger),
		base:   r.accounts,
		writes: make(map[address.Address]any),
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	commit := Commit{TxID: tx.id, Name: name, At: tx.now, Accounts: tx.writes, Events: tx.events}
	if r.store != nil {
		if err := r.store.Commit(ctx, commit); err != nil {
			log.Error().Err(err).Str("tx", tx.id).Str("instruction", name).Msg("commit rejected")
			return nil, fmt.Errorf("%w: %s: %v", ErrStoreCommit, name, err)
		}
	}

	accounts := make(map[address.Address]any, len(r.accounts)+len(tx.writes))
	for k, v := range r.accounts {
		accounts[k] = v
	}
	for k, v := range tx.writes {
		if v == nil {
			delete(accounts, k)
			continue
		}
		accounts[k] = v
	}
	r.ledger, r.venue, r.accounts = ledger, tx.venue, accounts
	r.slot++

	if r.bus != nil {
		for _, ev := range tx.events {
			r.bus.Publish(ev.Topic, ev.Payload)
		}
	}
	return &Receipt{TxID: tx.id, Slot: r.slot, Events: tx.events}, nil
}

// View runs a read-only callback against committed state.
func (r *Runtime) View(fn func(v *View)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(&View{ledger: r.ledger, venue: r.venue, accounts: r.accounts, now: r.clock()})
}

// Slot returns the number of committed transactions.
func (r *Runtime) Slot() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slot
}

// Now returns the runtime clock.
func (r *Runtime) Now() time.Time { return r.clock() }
