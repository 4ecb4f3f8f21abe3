package vault

import (
	"errors"
	"fmt"

	"asset-rebalancer/internal/allocation"
	"asset-rebalancer/internal/order"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/oracle"
	"asset-rebalancer/pkg/token"
)

// Kind separates bad input from market conditions and system limits.
type Kind string

const (
	KindValidation Kind = "validation"
	KindMarket     Kind = "market"
	KindArithmetic Kind = "arithmetic"
	KindInternal   Kind = "internal"
)

// Error is a program failure with a stable code.
type Error struct {
	Code string
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(code string, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: "vault: " + msg}
}

var (
	ErrInvalidPercentages = newError("INVALID_PERCENTAGES", KindValidation, "target percentages must sum to 1000")
	ErrInsufficientFunds  = newError("INSUFFICIENT_FUNDS", KindValidation, "insufficient funds")
	ErrWrongLifecycle     = newError("WRONG_LIFECYCLE_STATE", KindValidation, "operation not allowed in current state")
	ErrAlreadyInitialized = newError("ALREADY_INITIALIZED", KindValidation, "open orders accounts already initialized")
	ErrNotOwner           = newError("NOT_OWNER", KindValidation, "caller does not own the portfolio")
	ErrOrdersStillOpen    = newError("ORDERS_STILL_OPEN", KindValidation, "orders are still resting")
	ErrNothingToWithdraw  = newError("NOTHING_TO_WITHDRAW", KindValidation, "nothing to withdraw")
	ErrInvalidDerivation  = newError("INVALID_DERIVATION", KindValidation, "derived address does not match")
	ErrInvalidAccount     = newError("INVALID_ACCOUNT", KindValidation, "account mint or owner mismatch")

	ErrStalePrice       = newError("STALE_PRICE", KindMarket, "oracle price rejected")
	ErrInvalidPrice     = newError("INVALID_PRICE", KindMarket, "oracle price not usable")
	ErrNoLiquidity      = newError("NO_LIQUIDITY", KindMarket, "no liquidity")
	ErrOrderRejected    = newError("ORDER_REJECTED", KindMarket, "order rejected by venue")
	ErrSlippageExceeded = newError("SLIPPAGE_EXCEEDED", KindMarket, "slippage exceeded")

	ErrArithmeticOverflow = newError("ARITHMETIC_OVERFLOW", KindArithmetic, "arithmetic overflow")
)

// KindOf classifies err; unknown errors are internal.
func KindOf(err error) Kind {
	if e, ok := asError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or INTERNAL.
func CodeOf(err error) string {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return "INTERNAL"
}

func asError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	if s := sentinelFor(err); s != nil {
		return s, true
	}
	return nil, false
}

// classify tags errors from collaborators with the matching program error
// so callers can use errors.Is against this package only.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if s := sentinelFor(err); s != nil {
		return fmt.Errorf("%w: %w", s, err)
	}
	return err
}

func sentinelFor(err error) *Error {
	switch {
	case errors.Is(err, allocation.ErrOverflow), errors.Is(err, token.ErrOverflow):
		return ErrArithmeticOverflow
	case errors.Is(err, allocation.ErrInvalidPercentages):
		return ErrInvalidPercentages
	case errors.Is(err, allocation.ErrInvalidPrice), errors.Is(err, oracle.ErrNonPositive),
		errors.Is(err, oracle.ErrBadExponent), errors.Is(err, order.ErrPriceConversion):
		return ErrInvalidPrice
	case errors.Is(err, oracle.ErrStale), errors.Is(err, oracle.ErrWideConfidence),
		errors.Is(err, oracle.ErrFutureTimestamp), errors.Is(err, oracle.ErrUnknownFeed):
		return ErrStalePrice
	case errors.Is(err, order.ErrNoLiquidity):
		return ErrNoLiquidity
	case errors.Is(err, order.ErrSlippageExceeded):
		return ErrSlippageExceeded
	case errors.Is(err, common.ErrWouldSelfTrade), errors.Is(err, common.ErrInvalidOrder):
		return ErrOrderRejected
	case errors.Is(err, token.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, token.ErrMintMismatch), errors.Is(err, token.ErrOwnerMismatch):
		return ErrInvalidAccount
	case errors.Is(err, address.ErrDerivationMismatch), errors.Is(err, address.ErrOnCurve):
		return ErrInvalidDerivation
	}
	return nil
}
