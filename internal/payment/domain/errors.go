package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrAuthentication       = errors.New("authentication_failed")
	ErrMissingSignature     = fmt.Errorf("%w: missing signature", ErrAuthentication)
	ErrInvalidSignature     = fmt.Errorf("%w: invalid signature", ErrAuthentication)
	ErrValidation           = errors.New("invalid_payload")
	ErrUnknownAccount       = errors.New("unknown account format")
	ErrLeaseNotFound        = errors.New("lease_not_found")
	ErrDuplicateTransaction = errors.New("duplicate_transaction")
	ErrPersistence          = errors.New("persistence_error")
	ErrPaymentNotFound      = errors.New("payment_not_found")
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidMonthYear     = errors.New("invalid_month_year")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidID            = errors.New("invalid_id")
	ErrReplayInProgress     = errors.New("replay_in_progress")
)

// ValidationError names the field and the check that rejected a payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// LeaseNotFoundError keeps the branch that failed to find an active lease.
type LeaseNotFoundError struct {
	Reason string
}

func (e *LeaseNotFoundError) Error() string { return e.Reason }

func (e *LeaseNotFoundError) Unwrap() error { return ErrLeaseNotFound }

// maxAmount is the largest value a numeric(12,2) column holds.
var maxAmount = decimal.RequireFromString("9999999999.99")

// CheckAmount rejects amounts the ledger cannot store exactly: non-positive,
// finer than cents, or beyond the column range.
func CheckAmount(field string, amount decimal.Decimal) error {
	switch {
	case !amount.IsPositive():
		return NewValidationError(field, "must be positive")
	case !amount.Equal(amount.Truncate(2)):
		return NewValidationError(field, "must have at most 2 decimal places")
	case amount.GreaterThan(maxAmount):
		return NewValidationError(field, "exceeds "+maxAmount.StringFixed(2))
	}
	return nil
}
