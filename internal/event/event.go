package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventType discriminator for event payloads.
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCollateralDeposited
	EventTypeLoanBorrowed
	EventTypeLoanRepaid
	EventTypeCollateralWithdrawn
	EventTypeBorrowerLiquidated
)

func (et EventType) String() string {
	switch et {
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeLoanBorrowed:
		return "LoanBorrowed"
	case EventTypeLoanRepaid:
		return "LoanRepaid"
	case EventTypeCollateralWithdrawn:
		return "CollateralWithdrawn"
	case EventTypeBorrowerLiquidated:
		return "BorrowerLiquidated"
	default:
		return "Unknown"
	}
}

// Event is the interface all emitted event payloads implement.
type Event interface {
	EventType() EventType

	// User returns the account the event is about (the borrower for
	// liquidations).
	User() uuid.UUID
}

// Envelope carries the emission context of a single event. Events are
// observable by external subscribers in emission order; Sequence is the
// engine's monotonic operation sequence.
type Envelope struct {
	EventID   uuid.UUID
	Sequence  int64
	EventType EventType
	UserID    uuid.UUID
	Timestamp time.Time
	Payload   Event
}

// CollateralDeposited is emitted after a deposit credits collateral.
type CollateralDeposited struct {
	UserID uuid.UUID
	Amount *uint256.Int
}

func (e *CollateralDeposited) EventType() EventType { return EventTypeCollateralDeposited }
func (e *CollateralDeposited) User() uuid.UUID      { return e.UserID }

// LoanBorrowed is emitted after a borrow credits the loan and pushes funds.
type LoanBorrowed struct {
	UserID uuid.UUID
	Amount *uint256.Int
}

func (e *LoanBorrowed) EventType() EventType { return EventTypeLoanBorrowed }
func (e *LoanBorrowed) User() uuid.UUID      { return e.UserID }

// LoanRepaid is emitted after a repayment debits the loan.
type LoanRepaid struct {
	UserID uuid.UUID
	Amount *uint256.Int
}

func (e *LoanRepaid) EventType() EventType { return EventTypeLoanRepaid }
func (e *LoanRepaid) User() uuid.UUID      { return e.UserID }

// CollateralWithdrawn is emitted when full repayment releases the entire
// collateral balance. Downstream custody settles the native-asset movement.
type CollateralWithdrawn struct {
	UserID uuid.UUID
	Amount *uint256.Int
}

func (e *CollateralWithdrawn) EventType() EventType { return EventTypeCollateralWithdrawn }
func (e *CollateralWithdrawn) User() uuid.UUID      { return e.UserID }

// BorrowerLiquidated is emitted when an under-collateralized position is
// closed. The seized collateral is settled to the liquidator downstream.
type BorrowerLiquidated struct {
	Borrower         uuid.UUID
	Liquidator       uuid.UUID
	CollateralSeized *uint256.Int
	LoanAmount       *uint256.Int
}

func (e *BorrowerLiquidated) EventType() EventType { return EventTypeBorrowerLiquidated }
func (e *BorrowerLiquidated) User() uuid.UUID      { return e.Borrower }
