package ledger

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// OpType discriminates the four ledger operations.
type OpType int32

const (
	OpTypeDeposit OpType = iota
	OpTypeBorrow
	OpTypeRepay
	OpTypeLiquidate
)

func (t OpType) String() string {
	switch t {
	case OpTypeDeposit:
		return "Deposit"
	case OpTypeBorrow:
		return "Borrow"
	case OpTypeRepay:
		return "Repay"
	case OpTypeLiquidate:
		return "Liquidate"
	default:
		return "Unknown"
	}
}

// Operation is the audit record of one successfully applied operation.
// Records carry enough detail to rebuild the Book by replay:
//   - Deposit: Amount = collateral credited.
//   - Borrow: Amount = stable credited to the loan, Price = oracle reading.
//   - Repay: Amount = stable debited from the loan, Released = collateral
//     returned on full repayment (zero otherwise).
//   - Liquidate: Amount = loan zeroed, Released = collateral seized,
//     Price = oracle reading, Caller = liquidator.
type Operation struct {
	OpID      uuid.UUID
	Sequence  int64
	Type      OpType
	User      uuid.UUID    // account the operation applies to
	Caller    uuid.UUID    // equals User except for liquidations
	Amount    *uint256.Int
	Released  *uint256.Int // nil when no collateral moved
	Price     *uint256.Int // nil when no oracle read was involved
	Timestamp int64        // epoch microseconds
}

// Replay applies a recorded operation to the book. Used on startup to
// rebuild in-memory state from the audit log; records are trusted, so a
// failing debit here means the log itself is inconsistent.
func (b *Book) Replay(op Operation) error {
	switch op.Type {
	case OpTypeDeposit:
		b.CreditCollateral(op.User, op.Amount)

	case OpTypeBorrow:
		b.CreditLoan(op.User, op.Amount)

	case OpTypeRepay:
		if err := b.DebitLoan(op.User, op.Amount); err != nil {
			return err
		}
		if op.Released != nil && !op.Released.IsZero() {
			if err := b.DebitCollateral(op.User, op.Released); err != nil {
				return err
			}
		}

	case OpTypeLiquidate:
		if err := b.DebitLoan(op.User, op.Amount); err != nil {
			return err
		}
		if op.Released != nil && !op.Released.IsZero() {
			if err := b.DebitCollateral(op.User, op.Released); err != nil {
				return err
			}
		}
	}
	return nil
}
