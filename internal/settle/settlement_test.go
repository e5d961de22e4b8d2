package settle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dumarket/trading-engine/internal/engine"
	"github.com/dumarket/trading-engine/internal/ledger"
	"github.com/dumarket/trading-engine/internal/model"
	"github.com/dumarket/trading-engine/internal/position"
	"github.com/dumarket/trading-engine/internal/settle"
	"github.com/dumarket/trading-engine/internal/store"
)

const houseID = "MARKET_MAKER_BOT"

func setup(t *testing.T) (*engine.Engine, *settle.Engine, *model.Market) {
	t.Helper()
	l := ledger.New(houseID)
	pos := position.NewTracker(houseID)
	st := store.NewMemoryStore()
	core := engine.New(l, pos, st, houseID, 10000)
	l.CreateAccount("carol", "carol", decimal.NewFromInt(1000))

	m, err := core.CreateMarket(context.Background(), "Will the launch happen this year?", "", "carol")
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return core, settle.New(core, st), m
}

func trade(t *testing.T, core *engine.Engine, marketID, buyer string, side model.Side, qty, price int64) {
	t.Helper()
	for _, req := range []engine.SubmitRequest{
		{MarketID: marketID, UserID: houseID, Side: side, Action: model.ActionSell,
			Type: model.TypeLimit, Quantity: qty, Price: price},
		{MarketID: marketID, UserID: buyer, Side: side, Action: model.ActionBuy,
			Type: model.TypeLimit, Quantity: qty, Price: price},
	} {
		if _, err := core.Submit(context.Background(), req); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
}

func TestResolvePaysWinnersAndRealizesLosses(t *testing.T) {
	core, eng, m := setup(t)

	// carol: 8 YES @ 30¢ and 4 NO @ 60¢, both bought from the house.
	trade(t, core, m.ID, "carol", model.SideYes, 8, 30)
	trade(t, core, m.ID, "carol", model.SideNo, 4, 60)

	summary, err := eng.Resolve(context.Background(), m.ID, model.SideYes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if summary.Market.Status != model.MarketResolved {
		t.Fatalf("market status = %s, want RESOLVED", summary.Market.Status)
	}

	var carol *position.SettlementResult
	for i := range summary.Results {
		if summary.Results[i].UserID == "carol" {
			carol = &summary.Results[i]
		}
	}
	if carol == nil {
		t.Fatal("no settlement result for carol")
	}
	if !carol.Payout.Equal(decimal.NewFromInt(8)) {
		t.Errorf("payout = %s, want 8.00", carol.Payout)
	}
	// 8×(1.00−0.30) − 4×0.60 = 5.60 − 2.40 = 3.20
	if !carol.ProfitLoss.Equal(decimal.NewFromFloat(3.2)) {
		t.Errorf("pnl = %s, want 3.20", carol.ProfitLoss)
	}

	// Balance: 1000 − 2.40 − 2.40 + 8.00 payout.
	acct, _ := core.Ledger().Account("carol")
	if !acct.Balance.Equal(decimal.NewFromFloat(1003.2)) {
		t.Errorf("balance = %s, want 1003.20", acct.Balance)
	}

	// The house was short 8 YES; its payout is negative and its balance goes
	// negative by exactly carol's gain.
	house, _ := core.Ledger().Account(houseID)
	if !house.Balance.Equal(decimal.NewFromFloat(-3.2)) {
		t.Errorf("house balance = %s, want -3.20", house.Balance)
	}

	// Positions are zeroed on both sides.
	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		if pos := core.Positions().Get("carol", m.ID, side); pos.Shares != 0 {
			t.Errorf("%s shares = %d, want 0", side, pos.Shares)
		}
	}
}

func TestResolveRefundsRestingOrders(t *testing.T) {
	core, eng, m := setup(t)

	req := engine.SubmitRequest{
		MarketID: m.ID, UserID: "carol", Side: model.SideYes,
		Action: model.ActionBuy, Type: model.TypeLimit, Quantity: 10, Price: 40,
	}
	res, err := core.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := eng.Resolve(context.Background(), m.ID, model.SideNo); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	order, _ := core.Order(res.Order.ID)
	if order.Status != model.OrderCancelled {
		t.Errorf("resting order = %s, want CANCELLED", order.Status)
	}
	if avail, _ := core.Ledger().Available("carol"); !avail.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("available = %s, want full 1000 refunded", avail)
	}
}

func TestResolveTwiceFails(t *testing.T) {
	_, eng, m := setup(t)

	if _, err := eng.Resolve(context.Background(), m.ID, model.SideYes); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	_, err := eng.Resolve(context.Background(), m.ID, model.SideNo)
	if !errors.Is(err, engine.ErrMarketAlreadyResolved) {
		t.Fatalf("second resolve: got %v, want ErrMarketAlreadyResolved", err)
	}
}
