package query

import (
	"context"
	"database/sql"
	"fmt"

	"LendLedger/internal/engine"
	"LendLedger/internal/ledger"
	"LendLedger/internal/persistence"

	"github.com/google/uuid"
)

// Service provides read access to account state and operation history.
// Balances come from the engine's in-memory book (authoritative, current);
// history comes from the audit log in Postgres. All responses carry
// as_of_sequence for freshness semantics.
type Service struct {
	engine *engine.LendingEngine
	db     *sql.DB
}

func NewService(eng *engine.LendingEngine, db *sql.DB) *Service {
	return &Service{engine: eng, db: db}
}

// AccountResponse is the API view of one account.
type AccountResponse struct {
	UserID          uuid.UUID
	Collateral      string
	Loan            string
	CollateralValue *string // absent when no oracle price was available
	MaxBorrow       *string
	Liquidatable    bool
	AsOfSequence    int64
}

// GetAccount returns the balances and derived risk state for one user.
func (s *Service) GetAccount(ctx context.Context, userID uuid.UUID) (*AccountResponse, error) {
	st := s.engine.Account(ctx, userID)

	resp := &AccountResponse{
		UserID:       userID,
		Collateral:   st.Collateral.Dec(),
		Loan:         st.Loan.Dec(),
		Liquidatable: st.Liquidatable,
		AsOfSequence: s.engine.Sequence(),
	}
	if st.CollateralValue != nil {
		v := st.CollateralValue.Dec()
		resp.CollateralValue = &v
	}
	if st.MaxBorrow != nil {
		v := st.MaxBorrow.Dec()
		resp.MaxBorrow = &v
	}
	return resp, nil
}

// OperationResponse is the API view of one audit-log operation.
type OperationResponse struct {
	OpID        string  `json:"op_id"`
	Sequence    int64   `json:"sequence"`
	OpType      string  `json:"op_type"`
	UserID      string  `json:"user_id"`
	CallerID    string  `json:"caller_id"`
	Amount      string  `json:"amount"`
	Released    *string `json:"released,omitempty"`
	Price       *string `json:"price,omitempty"`
	TimestampUs int64   `json:"timestamp_us"`
}

// GetHistory returns the most recent operations involving a user, newest
// first, capped at limit.
func (s *Service) GetHistory(ctx context.Context, userID uuid.UUID, limit int) ([]OperationResponse, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	ops, err := persistence.UserOperations(ctx, s.db, userID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("load history: %w", err)
	}

	out := make([]OperationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperationResponse(op))
	}
	return out, s.engine.Sequence(), nil
}

// LastPersistedSequence returns the highest sequence in the audit log.
func (s *Service) LastPersistedSequence(ctx context.Context) (int64, error) {
	return persistence.LastSequence(ctx, s.db)
}

func toOperationResponse(op ledger.Operation) OperationResponse {
	r := OperationResponse{
		OpID:        op.OpID.String(),
		Sequence:    op.Sequence,
		OpType:      op.Type.String(),
		UserID:      op.User.String(),
		CallerID:    op.Caller.String(),
		Amount:      op.Amount.Dec(),
		TimestampUs: op.Timestamp,
	}
	if op.Released != nil {
		v := op.Released.Dec()
		r.Released = &v
	}
	if op.Price != nil {
		v := op.Price.Dec()
		r.Price = &v
	}
	return r
}
