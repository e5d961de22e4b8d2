package mmbot_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dumarket/trading-engine/internal/engine"
	"github.com/dumarket/trading-engine/internal/ledger"
	"github.com/dumarket/trading-engine/internal/mmbot"
	"github.com/dumarket/trading-engine/internal/model"
	"github.com/dumarket/trading-engine/internal/position"
	"github.com/dumarket/trading-engine/internal/store"
)

func setup(t *testing.T) (*engine.Engine, *mmbot.Bot, string) {
	t.Helper()
	l := ledger.New(mmbot.DefaultUserID)
	pos := position.NewTracker(mmbot.DefaultUserID)
	core := engine.New(l, pos, store.NewMemoryStore(), mmbot.DefaultUserID, 10000)
	l.CreateAccount("alice", "alice", decimal.NewFromInt(1000))

	m, err := core.CreateMarket(context.Background(), "Will the feature ship?", "", "alice")
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return core, mmbot.New(core, mmbot.DefaultConfig()), m.ID
}

func TestQuoteAroundDefaultFair(t *testing.T) {
	_, bot, marketID := setup(t)

	q := bot.CalculateQuote(marketID, model.SideYes)
	if q.BidPrice != 48 || q.AskPrice != 52 {
		t.Errorf("quote = %d/%d, want 48/52 around fair 50", q.BidPrice, q.AskPrice)
	}
	if q.BidSize != 100 || q.AskSize != 100 {
		t.Errorf("sizes = %d/%d, want 100/100", q.BidSize, q.AskSize)
	}
}

func TestInventorySkewsQuotesDown(t *testing.T) {
	core, bot, marketID := setup(t)

	// Long 10 YES → both prices shift down 10¢.
	core.Positions().Buy(mmbot.DefaultUserID, marketID, model.SideYes, 10, 50)
	q := bot.CalculateQuote(marketID, model.SideYes)
	if q.BidPrice != 38 || q.AskPrice != 42 {
		t.Errorf("quote = %d/%d, want 38/42 with long-10 skew", q.BidPrice, q.AskPrice)
	}
}

func TestQuoteClampAndUncross(t *testing.T) {
	core, bot, marketID := setup(t)

	// Deep long: raw prices fall below the floor and collapse together.
	core.Positions().Buy(mmbot.DefaultUserID, marketID, model.SideYes, 60, 50)
	q := bot.CalculateQuote(marketID, model.SideYes)
	if q.BidPrice >= q.AskPrice {
		t.Errorf("quote %d/%d crossed", q.BidPrice, q.AskPrice)
	}
	if q.BidPrice < model.MinPriceCents || q.AskPrice > model.MaxPriceCents {
		t.Errorf("quote %d/%d outside price bounds", q.BidPrice, q.AskPrice)
	}
}

func TestInventoryCapSuppressesBid(t *testing.T) {
	core, bot, marketID := setup(t)

	core.Positions().Buy(mmbot.DefaultUserID, marketID, model.SideNo, 500, 50)
	q := bot.CalculateQuote(marketID, model.SideNo)
	if q.BidSize != 0 {
		t.Errorf("bid size at cap = %d, want 0", q.BidSize)
	}
	if q.AskSize != 100 {
		t.Errorf("ask size = %d, want 100", q.AskSize)
	}
}

func TestFairPriceOverride(t *testing.T) {
	_, bot, marketID := setup(t)

	if err := bot.SetFairPrice(marketID, 70); err != nil {
		t.Fatalf("set fair: %v", err)
	}
	yes := bot.CalculateQuote(marketID, model.SideYes)
	no := bot.CalculateQuote(marketID, model.SideNo)
	if yes.BidPrice != 68 || yes.AskPrice != 72 {
		t.Errorf("YES quote = %d/%d, want 68/72", yes.BidPrice, yes.AskPrice)
	}
	if no.BidPrice != 28 || no.AskPrice != 32 {
		t.Errorf("NO quote = %d/%d, want 28/32 (complement)", no.BidPrice, no.AskPrice)
	}

	if err := bot.SetFairPrice(marketID, 0); err == nil {
		t.Error("fair price 0 should be rejected")
	}
}

func TestRefreshReplacesStaleQuotes(t *testing.T) {
	core, bot, marketID := setup(t)
	ctx := context.Background()

	if err := bot.Refresh(ctx, marketID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	first := core.OpenOrdersOwnedBy(marketID, mmbot.DefaultUserID)
	if len(first) != 4 {
		t.Fatalf("resting quotes = %d, want 4 (bid+ask per side)", len(first))
	}

	if err := bot.Refresh(ctx, marketID); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	second := core.OpenOrdersOwnedBy(marketID, mmbot.DefaultUserID)
	if len(second) != 4 {
		t.Errorf("resting quotes after requote = %d, want 4", len(second))
	}
	for _, o := range first {
		final, err := core.Order(o.ID)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if !final.Status.Terminal() {
			t.Errorf("stale quote %s still %s", o.ID, final.Status)
		}
	}
}

func TestUserFillsAgainstBotQuote(t *testing.T) {
	core, bot, marketID := setup(t)
	ctx := context.Background()

	if err := bot.Refresh(ctx, marketID); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	res, err := core.Submit(ctx, engine.SubmitRequest{
		MarketID: marketID, UserID: "alice", Side: model.SideYes,
		Action: model.ActionBuy, Type: model.TypeMarket, Quantity: 5,
	})
	if err != nil {
		t.Fatalf("market buy: %v", err)
	}
	if res.FilledQuantity != 5 || res.Trades[0].Price != 52 {
		t.Fatalf("fill = %d @ %d, want 5 @ bot ask 52", res.FilledQuantity, res.Trades[0].Price)
	}

	st := bot.Status(marketID)
	if st.Inventory[model.SideYes] != -5 {
		t.Errorf("bot YES inventory = %d, want -5 (sold short)", st.Inventory[model.SideYes])
	}
}
