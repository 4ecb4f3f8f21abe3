package vault

import "fmt"

// State is the lifecycle position of a portfolio.
type State string

const (
	StateUninitialized     State = "UNINITIALIZED"
	StateFunded            State = "FUNDED"
	StateOrdersInitialized State = "ORDERS_INITIALIZED"
	// StateRebalancing means the last cycle left orders resting at a venue.
	StateRebalancing State = "REBALANCING"
	StateIdle        State = "IDLE"
	StateWithdrawn   State = "WITHDRAWN"
)

// Op names a program instruction.
type Op string

const (
	OpDeposit       Op = "deposit"
	OpInitAccounts  Op = "init_accounts"
	OpRefreshPrices Op = "refresh_prices"
	OpRebalance     Op = "rebalance"
	OpCloseAccounts Op = "close_accounts"
	OpWithdraw      Op = "withdraw"
)

var allowed = map[Op][]State{
	OpDeposit:       {StateUninitialized, StateWithdrawn},
	OpInitAccounts:  {StateFunded},
	OpRefreshPrices: {StateFunded, StateOrdersInitialized, StateRebalancing, StateIdle},
	OpRebalance:     {StateOrdersInitialized, StateRebalancing, StateIdle},
	OpCloseAccounts: {StateOrdersInitialized, StateRebalancing, StateIdle},
	OpWithdraw:      {StateFunded, StateOrdersInitialized, StateRebalancing, StateIdle},
}

// Allows reports whether op may run from s.
func (s State) Allows(op Op) bool {
	for _, from := range allowed[op] {
		if from == s {
			return true
		}
	}
	return false
}

func (s State) hasOpenOrders() bool {
	return s == StateOrdersInitialized || s == StateRebalancing || s == StateIdle
}

// guard returns the error for running op from s, or nil.
func guard(s State, op Op) error {
	if s.Allows(op) {
		return nil
	}
	switch {
	case op == OpInitAccounts && s.hasOpenOrders():
		return ErrAlreadyInitialized
	case op == OpWithdraw && (s == StateWithdrawn || s == StateUninitialized):
		return ErrNothingToWithdraw
	}
	return fmt.Errorf("%w: %s from %s", ErrWrongLifecycle, op, s)
}

// afterRebalance picks the state a rebalance leaves behind.
func afterRebalance(resting bool) State {
	if resting {
		return StateRebalancing
	}
	return StateIdle
}
