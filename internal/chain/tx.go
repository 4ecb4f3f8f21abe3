package chain

import (
	"context"
	"time"

	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/token"

	"github.com/google/uuid"
)

// Tx is the working set of one transaction.
type Tx struct {
	ctx    context.Context
	id     string
	name   string
	now    time.Time
	ledger token.Ledger
	venue  common.Gateway
	base   map[address.Address]any
	writes map[address.Address]any
	events []events.Envelope
}

func (tx *Tx) Context() context.Context { return tx.ctx }
func (tx *Tx) ID() string                { return tx.id }
func (tx *Tx) Name() string              { return tx.name }
func (tx *Tx) Now() time.Time            { return tx.now }
func (tx *Tx) Ledger() token.Ledger      { return tx.ledger }
func (tx *Tx) Venue() common.Gateway     { return tx.venue }

// Account returns the current value of a program account, including writes
// made earlier in this transaction.
func (tx *Tx) Account(addr address.Address) (any, bool) {
	if v, ok := tx.writes[addr]; ok {
		return v, v != nil
	}
	v, ok := tx.base[addr]
	return v, ok
}

// SetAccount stages a program account write. Values must be plain structs
// without shared references.
func (tx *Tx) SetAccount(addr address.Address, v any) {
	tx.writes[addr] = v
}

// CloseAccount stages deletion of a program account.
func (tx *Tx) CloseAccount(addr address.Address) {
	tx.writes[addr] = nil
}

// Emit appends an event to the transaction outbox.
func (tx *Tx) Emit(topic events.Event, payload any) {
	tx.events = append(tx.events, events.Envelope{
		ID:        uuid.NewString(),
		TxID:      tx.id,
		Topic:     topic,
		Payload:   payload,
		CreatedAt: tx.now,
	})
}

// Events returns the outbox so far.
func (tx *Tx) Events() []events.Envelope { return tx.events }

// View is read-only access to committed state.
type View struct {
	ledger   token.Ledger
	venue    common.Gateway
	accounts map[address.Address]any
	now      time.Time
}

func (v *View) Ledger() token.Ledger  { return v.ledger }
func (v *View) Venue() common.Gateway { return v.venue }
func (v *View) Now() time.Time        { return v.now }

func (v *View) Account(addr address.Address) (any, bool) {
	a, ok := v.accounts[addr]
	return a, ok
}

// Accounts calls fn for every program account.
func (v *View) Accounts(fn func(addr address.Address, a any)) {
	for k, a := range v.accounts {
		fn(k, a)
	}
}
