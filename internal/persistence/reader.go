package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"LendLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// LoadOperations streams audit.operations in sequence order starting after
// fromSequence, invoking fn for each. Used on startup to rebuild the
// in-memory book, and by the query service for history pages.
func LoadOperations(ctx context.Context, db *sql.DB, fromSequence int64, fn func(ledger.Operation) error) error {
	rows, err := db.QueryContext(ctx, `
		SELECT op_id, sequence, op_type, user_id, caller_id, amount, released, price, timestamp_us
		FROM audit.operations
		WHERE sequence > $1
		ORDER BY sequence ASC`, fromSequence)
	if err != nil {
		return fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return err
		}
		if err := fn(op); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UserOperations returns the most recent operations touching a user, newest
// first, capped at limit.
func UserOperations(ctx context.Context, db *sql.DB, user uuid.UUID, limit int) ([]ledger.Operation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT op_id, sequence, op_type, user_id, caller_id, amount, released, price, timestamp_us
		FROM audit.operations
		WHERE user_id = $1 OR caller_id = $1
		ORDER BY sequence DESC
		LIMIT $2`, user.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query user operations: %w", err)
	}
	defer rows.Close()

	var ops []ledger.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// LastSequence returns the highest persisted sequence, or 0 when the audit
// log is empty.
func LastSequence(ctx context.Context, db *sql.DB) (int64, error) {
	var seq sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM audit.operations`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	return seq.Int64, nil
}

func scanOperation(rows *sql.Rows) (ledger.Operation, error) {
	var (
		opID, opType, userID, callerID, amount string
		released, price                        sql.NullString
		op                                     ledger.Operation
	)
	if err := rows.Scan(&opID, &op.Sequence, &opType, &userID, &callerID,
		&amount, &released, &price, &op.Timestamp); err != nil {
		return ledger.Operation{}, fmt.Errorf("scan operation: %w", err)
	}

	var err error
	if op.OpID, err = uuid.Parse(opID); err != nil {
		return ledger.Operation{}, fmt.Errorf("parse op_id %q: %w", opID, err)
	}
	if op.User, err = uuid.Parse(userID); err != nil {
		return ledger.Operation{}, fmt.Errorf("parse user_id %q: %w", userID, err)
	}
	if op.Caller, err = uuid.Parse(callerID); err != nil {
		return ledger.Operation{}, fmt.Errorf("parse caller_id %q: %w", callerID, err)
	}
	if op.Type, err = parseOpType(opType); err != nil {
		return ledger.Operation{}, err
	}
	if op.Amount, err = uint256.FromDecimal(amount); err != nil {
		return ledger.Operation{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if released.Valid {
		if op.Released, err = uint256.FromDecimal(released.String); err != nil {
			return ledger.Operation{}, fmt.Errorf("parse released %q: %w", released.String, err)
		}
	}
	if price.Valid {
		if op.Price, err = uint256.FromDecimal(price.String); err != nil {
			return ledger.Operation{}, fmt.Errorf("parse price %q: %w", price.String, err)
		}
	}
	return op, nil
}

func parseOpType(s string) (ledger.OpType, error) {
	switch s {
	case "Deposit":
		return ledger.OpTypeDeposit, nil
	case "Borrow":
		return ledger.OpTypeBorrow, nil
	case "Repay":
		return ledger.OpTypeRepay, nil
	case "Liquidate":
		return ledger.OpTypeLiquidate, nil
	default:
		return 0, fmt.Errorf("unknown op type %q", s)
	}
}
