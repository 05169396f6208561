package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
)

// AuditWriter writes applied operations and their events to Postgres using
// multi-row INSERTs. Writes are idempotent: replays of an already-persisted
// sequence are no-ops via ON CONFLICT DO NOTHING.
type AuditWriter struct {
	db *sql.DB
}

// OperationRow is a row in audit.operations. Amounts are decimal strings
// destined for NUMERIC(78,0) columns; Released and Price are nil when the
// operation carried neither.
type OperationRow struct {
	OpID        string
	Sequence    int64
	OpType      string
	UserID      string
	CallerID    string
	Amount      string
	Released    *string
	Price       *string
	TimestampUs int64
}

// EventRow is a row in audit.events.
type EventRow struct {
	EventID     string
	Sequence    int64
	EventType   string
	UserID      string
	Payload     []byte
	TimestampUs int64
}

// Record is one operation plus its events, ready to persist.
type Record struct {
	Op     OperationRow
	Events []EventRow
}

// NewRecord converts an applied operation and its event envelopes into rows.
func NewRecord(op ledger.Operation, events []event.Envelope) (Record, error) {
	row := OperationRow{
		OpID:        op.OpID.String(),
		Sequence:    op.Sequence,
		OpType:      op.Type.String(),
		UserID:      op.User.String(),
		CallerID:    op.Caller.String(),
		Amount:      op.Amount.Dec(),
		TimestampUs: op.Timestamp,
	}
	if op.Released != nil {
		s := op.Released.Dec()
		row.Released = &s
	}
	if op.Price != nil {
		s := op.Price.Dec()
		row.Price = &s
	}

	eventRows := make([]EventRow, 0, len(events))
	for _, env := range events {
		payload, err := event.MarshalPayload(env.Payload)
		if err != nil {
			return Record{}, fmt.Errorf("marshal %s payload: %w", env.EventType, err)
		}
		eventRows = append(eventRows, EventRow{
			EventID:     env.EventID.String(),
			Sequence:    env.Sequence,
			EventType:   env.EventType.String(),
			UserID:      env.UserID.String(),
			Payload:     payload,
			TimestampUs: env.Timestamp.UnixMicro(),
		})
	}
	return Record{Op: row, Events: eventRows}, nil
}

func NewAuditWriter(db *sql.DB) *AuditWriter {
	return &AuditWriter{db: db}
}

// WriteBatch persists a batch of records in a single transaction.
func (w *AuditWriter) WriteBatch(ctx context.Context, records []Record) (time.Duration, error) {
	if len(records) == 0 {
		return 0, nil
	}
	start := time.Now()

	ops := make([]OperationRow, 0, len(records))
	var events []EventRow
	for _, r := range records {
		ops = append(ops, r.Op)
		events = append(events, r.Events...)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := writeOperations(ctx, tx, ops); err != nil {
		return 0, fmt.Errorf("write operations: %w", err)
	}
	if err := writeEvents(ctx, tx, events); err != nil {
		return 0, fmt.Errorf("write events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return time.Since(start), nil
}

func writeOperations(ctx context.Context, tx *sql.Tx, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO audit.operations
		(op_id, sequence, op_type, user_id, caller_id, amount, released, price, timestamp_us)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*9)
	for i, o := range ops {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			o.OpID, o.Sequence, o.OpType, o.UserID, o.CallerID,
			o.Amount, o.Released, o.Price, o.TimestampUs,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func writeEvents(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO audit.events
		(event_id, sequence, event_type, user_id, payload, timestamp_us)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)
	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			e.EventID, e.Sequence, e.EventType, e.UserID, e.Payload, e.TimestampUs,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (event_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
