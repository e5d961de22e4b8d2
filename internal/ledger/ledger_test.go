package ledger_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dumarket/trading-engine/internal/ledger"
	"github.com/dumarket/trading-engine/internal/model"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestCreateAccountRecordsSignupBonus(t *testing.T) {
	l := ledger.New("HOUSE")
	u := l.CreateAccount("alice", "Alice", d(1000))

	if !u.Balance.Equal(d(1000)) {
		t.Errorf("balance = %s, want 1000", u.Balance)
	}
	txs := l.Transactions("alice")
	if len(txs) != 1 || txs[0].Type != model.TxSignupBonus {
		t.Fatalf("expected one signup bonus transaction, got %v", txs)
	}

	// Re-creating is a no-op returning current state.
	l.CreateAccount("alice", "Alice", d(1000))
	if len(l.Transactions("alice")) != 1 {
		t.Error("duplicate create must not record another bonus")
	}
}

func TestReserveBlocksDoubleSpend(t *testing.T) {
	l := ledger.New("HOUSE")
	l.CreateAccount("alice", "Alice", d(100))

	if err := l.Reserve("alice", d(60)); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	err := l.Reserve("alice", d(60))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("second reserve should fail with ErrInsufficientBalance, got %v", err)
	}
	avail, _ := l.Available("alice")
	if !avail.Equal(d(40)) {
		t.Errorf("available = %s, want 40", avail)
	}
}

func TestDebitConsumesHold(t *testing.T) {
	l := ledger.New("HOUSE")
	l.CreateAccount("alice", "Alice", d(100))
	l.Reserve("alice", d(60))

	if _, err := l.Debit("alice", d(25), model.TxTradeBuy, "Bought 50 YES @ 50¢", "t1"); err != nil {
		t.Fatalf("debit: %v", err)
	}
	u, _ := l.Account("alice")
	if !u.Balance.Equal(d(75)) {
		t.Errorf("balance = %s, want 75", u.Balance)
	}
	// 60 held, 25 consumed → 35 still held, 40 free.
	avail, _ := l.Available("alice")
	if !avail.Equal(d(40)) {
		t.Errorf("available = %s, want 40", avail)
	}
	l.Release("alice", d(35))
	avail, _ = l.Available("alice")
	if !avail.Equal(d(75)) {
		t.Errorf("available after release = %s, want 75", avail)
	}
}

func TestHouseBypassesChecks(t *testing.T) {
	l := ledger.New("HOUSE")

	if err := l.Reserve("HOUSE", d(1e9)); err != nil {
		t.Fatalf("house reserve should never fail: %v", err)
	}
	if _, err := l.Debit("HOUSE", d(500), model.TxTradeBuy, "", ""); err != nil {
		t.Fatalf("house debit: %v", err)
	}
	u, _ := l.Account("HOUSE")
	if !u.Balance.Equal(d(-500)) {
		t.Errorf("house balance = %s, want -500", u.Balance)
	}
}

func TestAdjustRejectsNegativeResult(t *testing.T) {
	l := ledger.New("HOUSE")
	l.CreateAccount("alice", "Alice", d(100))

	if _, err := l.Adjust("alice", d(-150), "oops"); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	tx, err := l.Adjust("alice", d(-40), "penalty")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if tx.Type != model.TxAdminAdjustment || !tx.BalanceAfter.Equal(d(60)) {
		t.Errorf("tx = %+v, want admin adjustment leaving 60", tx)
	}
}

func TestUnknownAccount(t *testing.T) {
	l := ledger.New("HOUSE")
	if err := l.Reserve("ghost", d(1)); !errors.Is(err, ledger.ErrUnknownAccount) {
		t.Errorf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestSinkReceivesTransactions(t *testing.T) {
	l := ledger.New("HOUSE")
	var seen []model.Transaction
	l.SetSink(func(tx model.Transaction) { seen = append(seen, tx) })

	l.CreateAccount("alice", "Alice", d(1000))
	l.Adjust("alice", d(5), "bonus")

	if len(seen) != 2 {
		t.Errorf("sink saw %d transactions, want 2", len(seen))
	}
}
