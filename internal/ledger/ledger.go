// Package ledger owns user balances and the append-only transaction history.
// Every balance mutation anywhere in the core goes through it.
//
// Funds follow a reservation-and-commit protocol: a buy order first reserves
// its worst-case cost (checked against the available balance atomically),
// matching then debits actual costs out of the hold, and whatever was not
// consumed is released. There is no time-of-check/time-of-use gap between
// validation and matching.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dumarket/trading-engine/internal/model"
)

var (
	// ErrInsufficientBalance means the available balance (balance minus
	// holds) cannot cover the requested reservation or adjustment.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnknownAccount means no account exists for the user id.
	ErrUnknownAccount = errors.New("unknown account")
)

type account struct {
	user model.User
	held decimal.Decimal // reserved for resting/working orders
}

// Ledger is the in-process authority for balances. A single mutex guards all
// accounts so a reservation and the check backing it are atomic.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*account
	journal  []model.Transaction
	houseID  string
	sink     func(model.Transaction) // optional persistence hook
}

// New creates a ledger with the given house account. The house account is the
// market maker's liquidity backstop: it passes every sufficiency check and may
// run a negative balance, but its transactions are recorded like anyone
// else's so its P&L stays observable.
func New(houseID string) *Ledger {
	l := &Ledger{
		accounts: make(map[string]*account),
		houseID:  houseID,
	}
	l.accounts[houseID] = &account{user: model.User{
		ID:          houseID,
		DisplayName: "Market Maker",
		Balance:     decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}}
	return l
}

// SetSink installs a callback invoked (under the ledger lock) for every
// recorded transaction, used to persist the audit trail.
func (l *Ledger) SetSink(fn func(model.Transaction)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = fn
}

// IsHouse reports whether userID is the liquidity backstop account.
func (l *Ledger) IsHouse(userID string) bool { return userID == l.houseID }

// CreateAccount registers a user with a starting balance, recording a
// signup-bonus transaction. Creating an existing account is a no-op that
// returns the current state.
func (l *Ledger) CreateAccount(userID, displayName string, startingBalance decimal.Decimal) model.User {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acct, ok := l.accounts[userID]; ok {
		return acct.user
	}
	acct := &account{user: model.User{
		ID:          userID,
		DisplayName: displayName,
		Balance:     startingBalance,
		CreatedAt:   time.Now().UTC(),
	}}
	l.accounts[userID] = acct
	if startingBalance.IsPositive() {
		l.record(acct, model.TxSignupBonus, startingBalance,
			fmt.Sprintf("Welcome to DuMarket! Here's %s DC to get started.", startingBalance.StringFixed(0)), "")
	}
	return acct.user
}

// Account returns the user's current state.
func (l *Ledger) Account(userID string) (model.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return model.User{}, ErrUnknownAccount
	}
	return acct.user, nil
}

// Available returns balance minus held funds.
func (l *Ledger) Available(userID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return decimal.Zero, ErrUnknownAccount
	}
	return acct.user.Balance.Sub(acct.held), nil
}

// Reserve places a hold on amount. Fails with ErrInsufficientBalance when the
// available balance cannot cover it; the house account always succeeds.
func (l *Ledger) Reserve(userID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return ErrUnknownAccount
	}
	if userID != l.houseID && acct.user.Balance.Sub(acct.held).LessThan(amount) {
		return fmt.Errorf("%w: available %s, need %s", ErrInsufficientBalance,
			acct.user.Balance.Sub(acct.held).StringFixed(2), amount.StringFixed(2))
	}
	acct.held = acct.held.Add(amount)
	return nil
}

// Release returns held funds to the available balance. The balance itself
// never moved, so no transaction is recorded.
func (l *Ledger) Release(userID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return ErrUnknownAccount
	}
	acct.held = acct.held.Sub(amount)
	if acct.held.IsNegative() {
		acct.held = decimal.Zero
	}
	return nil
}

// Debit consumes amount out of the user's hold and balance, recording a
// transaction. Used for the buyer's side of a fill.
func (l *Ledger) Debit(userID string, amount decimal.Decimal, typ model.TransactionType, description, referenceID string) (model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return model.Transaction{}, ErrUnknownAccount
	}
	acct.held = acct.held.Sub(amount)
	if acct.held.IsNegative() {
		acct.held = decimal.Zero
	}
	acct.user.Balance = acct.user.Balance.Sub(amount)
	return l.record(acct, typ, amount.Neg(), description, referenceID), nil
}

// Credit adds amount to the user's balance, recording a transaction. Used for
// the seller's side of a fill and for settlement payouts. Amount may be
// negative only for the house account (a short payout at settlement).
func (l *Ledger) Credit(userID string, amount decimal.Decimal, typ model.TransactionType, description, referenceID string) (model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return model.Transaction{}, ErrUnknownAccount
	}
	acct.user.Balance = acct.user.Balance.Add(amount)
	return l.record(acct, typ, amount, description, referenceID), nil
}

// Adjust applies a signed administrative balance change. It bypasses holds
// but still refuses to leave a non-house balance negative, and always records
// a transaction.
func (l *Ledger) Adjust(userID string, amount decimal.Decimal, reason string) (model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return model.Transaction{}, ErrUnknownAccount
	}
	next := acct.user.Balance.Add(amount)
	if userID != l.houseID && next.IsNegative() {
		return model.Transaction{}, fmt.Errorf("%w: balance %s, adjustment %s",
			ErrInsufficientBalance, acct.user.Balance.StringFixed(2), amount.StringFixed(2))
	}
	acct.user.Balance = next
	return l.record(acct, model.TxAdminAdjustment, amount, "Admin adjustment: "+reason, ""), nil
}

// Transactions returns the user's transaction history, oldest first.
func (l *Ledger) Transactions(userID string) []model.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Transaction
	for _, tx := range l.journal {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out
}

// record appends a journal entry. Caller holds l.mu.
func (l *Ledger) record(acct *account, typ model.TransactionType, amount decimal.Decimal, description, referenceID string) model.Transaction {
	tx := model.Transaction{
		ID:           uuid.New().String(),
		UserID:       acct.user.ID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: acct.user.Balance,
		Description:  description,
		ReferenceID:  referenceID,
		CreatedAt:    time.Now().UTC(),
	}
	l.journal = append(l.journal, tx)
	if l.sink != nil {
		l.sink(tx)
	}
	return tx
}
