package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/risk"
	"LendLedger/internal/transfer"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// LendingEngine owns the ledger book and applies the four operations one at a
// time. Operations follow checks-effects ordering: all validation first, then
// the single external transfer, then the ledger commit. Because the commit
// happens after the transfer and cannot itself fail validation, there is
// never a partial state to roll back.
type LendingEngine struct {
	mu sync.Mutex

	book     *ledger.Book
	params   risk.Params
	oracle   oracle.PriceOracle
	stable   transfer.StableAssetTransfer
	sequence int64

	// engineAccount is the stable-asset account loans are paid out of and
	// repayments are collected into.
	engineAccount uuid.UUID

	persistChan chan<- Output
	publishChan chan<- Output

	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// Output is one applied operation together with the events it emitted, sent
// to the persistence and publish workers.
type Output struct {
	Op     ledger.Operation
	Events []event.Envelope
}

func New(
	params risk.Params,
	priceOracle oracle.PriceOracle,
	stable transfer.StableAssetTransfer,
	engineAccount uuid.UUID,
	persistChan, publishChan chan<- Output,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *LendingEngine {
	return &LendingEngine{
		book:          ledger.NewBook(),
		params:        params,
		oracle:        priceOracle,
		stable:        stable,
		engineAccount: engineAccount,
		persistChan:   persistChan,
		publishChan:   publishChan,
		metrics:       metrics,
		log:           log,
		now:           time.Now,
	}
}

// Restore replays a recorded operation into the book and advances the
// sequence. Used on startup before the engine starts serving; no events are
// re-emitted.
func (e *LendingEngine) Restore(op ledger.Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if op.Sequence != e.sequence+1 {
		return fmt.Errorf("replay gap: expected sequence %d, got %d", e.sequence+1, op.Sequence)
	}
	if err := e.book.Replay(op); err != nil {
		return fmt.Errorf("replay sequence %d: %w", op.Sequence, err)
	}
	e.sequence = op.Sequence
	return nil
}

// Sequence returns the sequence of the last applied operation.
func (e *LendingEngine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// CollateralBalance returns a copy of the user's collateral balance.
func (e *LendingEngine) CollateralBalance(user uuid.UUID) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.CollateralBalance(user)
}

// LoanBalance returns a copy of the user's loan balance.
func (e *LendingEngine) LoanBalance(user uuid.UUID) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.LoanBalance(user)
}

// AccountState is a point-in-time view of one account, including the derived
// risk quantities at the current oracle price when one is available.
type AccountState struct {
	Collateral      *uint256.Int
	Loan            *uint256.Int
	CollateralValue *uint256.Int // nil if no price was available
	MaxBorrow       *uint256.Int // nil if no price was available
	Liquidatable    bool
}

// Account returns the user's balances plus derived risk quantities. The
// oracle read is best-effort: balance fields are always populated.
func (e *LendingEngine) Account(ctx context.Context, user uuid.UUID) AccountState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := AccountState{
		Collateral: e.book.CollateralBalance(user),
		Loan:       e.book.LoanBalance(user),
	}

	price, err := e.readPrice(ctx)
	if err != nil {
		return st
	}
	value, err := e.params.CollateralValue(st.Collateral, price)
	if err != nil {
		return st
	}
	st.CollateralValue = value
	st.MaxBorrow = e.params.MaxBorrow(value)
	if !st.Loan.IsZero() {
		st.Liquidatable = e.params.Liquidatable(st.Loan, value)
	}
	return st
}

// Deposit credits collateral to the user's account. The native-asset custody
// leg is settled by the collateral custodian reacting to the emitted event.
func (e *LendingEngine) Deposit(ctx context.Context, user uuid.UUID, amount *uint256.Int) (ledger.Operation, error) {
	start := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateAmount(amount); err != nil {
		return ledger.Operation{}, e.reject("Deposit", err)
	}
	if user == uuid.Nil {
		return ledger.Operation{}, e.reject("Deposit", fmt.Errorf("nil user: %w", ErrInvalidInput))
	}

	e.book.CreditCollateral(user, amount)

	op := e.newOperation(ledger.OpTypeDeposit, user, user, amount)
	e.commit(op, []event.Event{
		&event.CollateralDeposited{UserID: user, Amount: clone(amount)},
	})
	e.observe("Deposit", start)
	return op, nil
}

// Borrow credits stable debt to the user and pushes the funds out. The new
// total loan must stay within the collateralization limit at the current
// oracle price.
func (e *LendingEngine) Borrow(ctx context.Context, user uuid.UUID, amount *uint256.Int) (ledger.Operation, error) {
	start := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateAmount(amount); err != nil {
		return ledger.Operation{}, e.reject("Borrow", err)
	}
	if user == uuid.Nil {
		return ledger.Operation{}, e.reject("Borrow", fmt.Errorf("nil user: %w", ErrInvalidInput))
	}

	price, err := e.readPrice(ctx)
	if err != nil {
		return ledger.Operation{}, e.reject("Borrow", err)
	}

	collateral := e.book.CollateralBalance(user)
	value, err := e.params.CollateralValue(collateral, price)
	if err != nil {
		return ledger.Operation{}, e.reject("Borrow", fmt.Errorf("%v: %w", err, ErrInvalidInput))
	}

	newLoan, overflow := new(uint256.Int).AddOverflow(e.book.LoanBalance(user), amount)
	if overflow {
		return ledger.Operation{}, e.reject("Borrow", fmt.Errorf("loan overflows: %w", ErrInvalidInput))
	}
	if !e.params.BorrowAllowed(newLoan, value) {
		return ledger.Operation{}, e.reject("Borrow", fmt.Errorf(
			"total loan %s against collateral value %s: %w",
			newLoan.Dec(), value.Dec(), ErrExceedsBorrowLimit))
	}

	// External leg before the commit: if the payout fails, nothing was
	// recorded and the account is untouched.
	if err := e.transferOut(ctx, user, amount); err != nil {
		return ledger.Operation{}, e.reject("Borrow", err)
	}

	e.book.CreditLoan(user, amount)

	op := e.newOperation(ledger.OpTypeBorrow, user, user, amount)
	op.Price = clone(price)
	e.commit(op, []event.Event{
		&event.LoanBorrowed{UserID: user, Amount: clone(amount)},
	})
	e.observe("Borrow", start)
	return op, nil
}

// Repay pulls stable funds from the user and reduces the loan. Repaying the
// final unit releases the entire collateral balance in the same operation.
func (e *LendingEngine) Repay(ctx context.Context, user uuid.UUID, amount *uint256.Int) (ledger.Operation, error) {
	start := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateAmount(amount); err != nil {
		return ledger.Operation{}, e.reject("Repay", err)
	}
	if user == uuid.Nil {
		return ledger.Operation{}, e.reject("Repay", fmt.Errorf("nil user: %w", ErrInvalidInput))
	}

	// A zero loan falls through here too: any positive amount exceeds it.
	loan := e.book.LoanBalance(user)
	if amount.Gt(loan) {
		return ledger.Operation{}, e.reject("Repay", fmt.Errorf(
			"repay %s against loan %s: %w", amount.Dec(), loan.Dec(), ErrRepaymentExceedsLoan))
	}

	if err := e.transferIn(ctx, user, amount); err != nil {
		return ledger.Operation{}, e.reject("Repay", err)
	}

	if err := e.book.DebitLoan(user, amount); err != nil {
		panic(fmt.Sprintf("FATAL: repay debit failed after validation: %v", err))
	}

	op := e.newOperation(ledger.OpTypeRepay, user, user, amount)
	events := []event.Event{
		&event.LoanRepaid{UserID: user, Amount: clone(amount)},
	}

	// Full repayment releases all collateral atomically with the final
	// loan debit. The account ends at zero loan AND zero collateral.
	if e.book.LoanBalance(user).IsZero() {
		released := e.book.CollateralBalance(user)
		if !released.IsZero() {
			if err := e.book.DebitCollateral(user, released); err != nil {
				panic(fmt.Sprintf("FATAL: collateral release failed: %v", err))
			}
			op.Released = clone(released)
			events = append(events, &event.CollateralWithdrawn{UserID: user, Amount: clone(released)})
		}
	}

	e.commit(op, events)
	e.observe("Repay", start)
	return op, nil
}

// Liquidate closes an under-collateralized position: the loan is written off
// and the entire collateral balance is seized for the liquidator. Partial
// liquidation is not supported, and any caller may trigger it.
func (e *LendingEngine) Liquidate(ctx context.Context, liquidator, borrower uuid.UUID) (ledger.Operation, error) {
	start := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if liquidator == uuid.Nil || borrower == uuid.Nil {
		return ledger.Operation{}, e.reject("Liquidate", fmt.Errorf("nil user: %w", ErrInvalidInput))
	}

	loan := e.book.LoanBalance(borrower)
	if loan.IsZero() {
		return ledger.Operation{}, e.reject("Liquidate", fmt.Errorf("borrower %s: %w", borrower, ErrNoOutstandingLoan))
	}

	price, err := e.readPrice(ctx)
	if err != nil {
		return ledger.Operation{}, e.reject("Liquidate", err)
	}

	collateral := e.book.CollateralBalance(borrower)
	value, err := e.params.CollateralValue(collateral, price)
	if err != nil {
		return ledger.Operation{}, e.reject("Liquidate", fmt.Errorf("%v: %w", err, ErrInvalidInput))
	}
	if !e.params.Liquidatable(loan, value) {
		return ledger.Operation{}, e.reject("Liquidate", fmt.Errorf(
			"collateral value %s covers loan %s at threshold %d: %w",
			value.Dec(), loan.Dec(), e.params.LiquidationThreshold, ErrCollateralSufficient))
	}

	// No stable-asset leg: the loan is written off. The seized collateral
	// is settled to the liquidator by the custodian reacting to the
	// BorrowerLiquidated event.
	if err := e.book.DebitLoan(borrower, loan); err != nil {
		panic(fmt.Sprintf("FATAL: liquidation loan debit failed after validation: %v", err))
	}
	if err := e.book.DebitCollateral(borrower, collateral); err != nil {
		panic(fmt.Sprintf("FATAL: liquidation collateral seize failed: %v", err))
	}

	op := e.newOperation(ledger.OpTypeLiquidate, borrower, liquidator, loan)
	op.Released = clone(collateral)
	op.Price = clone(price)
	e.commit(op, []event.Event{
		&event.BorrowerLiquidated{
			Borrower:         borrower,
			Liquidator:       liquidator,
			CollateralSeized: clone(collateral),
			LoanAmount:       clone(loan),
		},
	})

	if e.metrics != nil {
		e.metrics.LiquidationsTotal.Inc()
	}
	e.observe("Liquidate", start)
	return op, nil
}

func (e *LendingEngine) newOperation(t ledger.OpType, user, caller uuid.UUID, amount *uint256.Int) ledger.Operation {
	return ledger.Operation{
		OpID:      uuid.New(),
		Sequence:  e.sequence + 1,
		Type:      t,
		User:      user,
		Caller:    caller,
		Amount:    clone(amount),
		Timestamp: e.now().UnixMicro(),
	}
}

// commit assigns the operation its sequence and emits it. The persist send is
// blocking so no applied operation is ever lost; the publish send is
// non-blocking and drops on a full channel, since subscribers can rebuild
// from the audit log.
func (e *LendingEngine) commit(op ledger.Operation, events []event.Event) {
	e.sequence = op.Sequence

	envelopes := make([]event.Envelope, 0, len(events))
	ts := time.UnixMicro(op.Timestamp)
	for _, ev := range events {
		envelopes = append(envelopes, event.Envelope{
			EventID:   uuid.New(),
			Sequence:  op.Sequence,
			EventType: ev.EventType(),
			UserID:    ev.User(),
			Timestamp: ts,
			Payload:   ev,
		})
	}

	out := Output{Op: op, Events: envelopes}

	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
			e.log.Warn().Int64("sequence", op.Sequence).Msg("publish channel full, dropping")
		}
	}

	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
		e.metrics.OpenLoans.Set(float64(e.book.OpenLoanCount()))
	}
}

func (e *LendingEngine) readPrice(ctx context.Context) (*uint256.Int, error) {
	price, err := e.oracle.LatestPrice(ctx)
	if e.metrics != nil {
		e.metrics.OracleReads.WithLabelValues(outcome(err)).Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("oracle read: %w", err)
	}
	return price, nil
}

func (e *LendingEngine) transferOut(ctx context.Context, to uuid.UUID, amount *uint256.Int) error {
	err := e.stable.Transfer(ctx, to, amount)
	if e.metrics != nil {
		e.metrics.TransferCalls.WithLabelValues("transfer", outcome(err)).Inc()
	}
	return err
}

func (e *LendingEngine) transferIn(ctx context.Context, from uuid.UUID, amount *uint256.Int) error {
	err := e.stable.TransferFrom(ctx, from, e.engineAccount, amount)
	if e.metrics != nil {
		e.metrics.TransferCalls.WithLabelValues("transfer_from", outcome(err)).Inc()
	}
	return err
}

func (e *LendingEngine) reject(opName string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(opName, rejectReason(err)).Inc()
	}
	e.log.Debug().Str("op", opName).Err(err).Msg("operation rejected")
	return err
}

func (e *LendingEngine) observe(opName string, start time.Time) {
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(opName).Inc()
		e.metrics.OpDuration.WithLabelValues(opName).Observe(e.now().Sub(start).Seconds())
	}
}

func validateAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("amount must be positive: %w", ErrInvalidInput)
	}
	return nil
}

func clone(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(v)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrExceedsBorrowLimit):
		return "exceeds_limit"
	case errors.Is(err, ErrNoOutstandingLoan):
		return "no_loan"
	case errors.Is(err, ErrRepaymentExceedsLoan):
		return "over_repay"
	case errors.Is(err, ErrCollateralSufficient):
		return "healthy"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, oracle.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, transfer.ErrTransferFailed):
		return "transfer_failed"
	default:
		return "other"
	}
}
