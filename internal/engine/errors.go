package engine

import "errors"

var (
	// ErrInvalidInput is returned for zero amounts, nil amounts, and
	// malformed identifiers. Nothing is charged and no state changes.
	ErrInvalidInput = errors.New("invalid input")

	// ErrExceedsBorrowLimit is returned when the requested borrow would push
	// the total loan past what the collateral supports.
	ErrExceedsBorrowLimit = errors.New("borrow exceeds collateral limit")

	// ErrNoOutstandingLoan is returned when liquidation targets an account
	// with a zero loan balance.
	ErrNoOutstandingLoan = errors.New("no outstanding loan")

	// ErrRepaymentExceedsLoan is returned when a repayment is larger than the
	// outstanding loan. Over-repayment is rejected, not clamped.
	ErrRepaymentExceedsLoan = errors.New("repayment exceeds outstanding loan")

	// ErrCollateralSufficient is returned when liquidation is attempted
	// against a position still at or above the liquidation threshold.
	ErrCollateralSufficient = errors.New("collateral sufficient, not liquidatable")
)
