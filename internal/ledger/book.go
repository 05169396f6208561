package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned when a debit would drive a balance
// negative. Balances live in the unsigned domain, so the check is a
// precondition: the debit amount must not exceed the current balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Account holds the two per-user balances tracked by the ledger.
// Collateral is in native collateral base units, Loan in stable base units.
type Account struct {
	Collateral *uint256.Int
	Loan       *uint256.Int
}

// Book maintains the per-account collateral and loan balances.
// It is pure state: every account conceptually exists with zero balances,
// and the only mutations are the four credit/debit operations below.
// The Book is exclusively owned by the lending engine; it performs no
// locking of its own.
type Book struct {
	accounts map[uuid.UUID]*Account
}

func NewBook() *Book {
	return &Book{
		accounts: make(map[uuid.UUID]*Account),
	}
}

// account returns the live record for a user, creating the zero/zero entry
// on first touch. Accounts are never deleted, only driven back to zero.
func (b *Book) account(user uuid.UUID) *Account {
	acct, ok := b.accounts[user]
	if !ok {
		acct = &Account{
			Collateral: new(uint256.Int),
			Loan:       new(uint256.Int),
		}
		b.accounts[user] = acct
	}
	return acct
}

// CreditCollateral increases a user's collateral balance.
func (b *Book) CreditCollateral(user uuid.UUID, amount *uint256.Int) {
	acct := b.account(user)
	acct.Collateral.Add(acct.Collateral, amount)
}

// DebitCollateral decreases a user's collateral balance.
func (b *Book) DebitCollateral(user uuid.UUID, amount *uint256.Int) error {
	acct := b.account(user)
	if acct.Collateral.Lt(amount) {
		return fmt.Errorf("debit collateral %s from user %s (have %s): %w",
			amount.Dec(), user, acct.Collateral.Dec(), ErrInsufficientBalance)
	}
	acct.Collateral.Sub(acct.Collateral, amount)
	return nil
}

// CreditLoan increases a user's loan balance.
func (b *Book) CreditLoan(user uuid.UUID, amount *uint256.Int) {
	acct := b.account(user)
	acct.Loan.Add(acct.Loan, amount)
}

// DebitLoan decreases a user's loan balance.
func (b *Book) DebitLoan(user uuid.UUID, amount *uint256.Int) error {
	acct := b.account(user)
	if acct.Loan.Lt(amount) {
		return fmt.Errorf("debit loan %s from user %s (have %s): %w",
			amount.Dec(), user, acct.Loan.Dec(), ErrInsufficientBalance)
	}
	acct.Loan.Sub(acct.Loan, amount)
	return nil
}

// CollateralBalance returns a copy of the user's collateral balance.
func (b *Book) CollateralBalance(user uuid.UUID) *uint256.Int {
	if acct, ok := b.accounts[user]; ok {
		return new(uint256.Int).Set(acct.Collateral)
	}
	return new(uint256.Int)
}

// LoanBalance returns a copy of the user's loan balance.
func (b *Book) LoanBalance(user uuid.UUID) *uint256.Int {
	if acct, ok := b.accounts[user]; ok {
		return new(uint256.Int).Set(acct.Loan)
	}
	return new(uint256.Int)
}

// OpenLoanCount returns the number of accounts with a nonzero loan balance.
func (b *Book) OpenLoanCount() int {
	n := 0
	for _, acct := range b.accounts {
		if !acct.Loan.IsZero() {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy of all touched accounts.
func (b *Book) Snapshot() map[uuid.UUID]Account {
	snapshot := make(map[uuid.UUID]Account, len(b.accounts))
	for user, acct := range b.accounts {
		snapshot[user] = Account{
			Collateral: new(uint256.Int).Set(acct.Collateral),
			Loan:       new(uint256.Int).Set(acct.Loan),
		}
	}
	return snapshot
}
