package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dumarket/trading-engine/internal/engine"
	"github.com/dumarket/trading-engine/internal/ledger"
	"github.com/dumarket/trading-engine/internal/mmbot"
	"github.com/dumarket/trading-engine/internal/model"
	"github.com/dumarket/trading-engine/internal/position"
	"github.com/dumarket/trading-engine/internal/settle"
	"github.com/dumarket/trading-engine/internal/store"
	"github.com/dumarket/trading-engine/internal/trade"
)

const houseID = mmbot.DefaultUserID

// newTestEnv wires a full in-memory exchange behind a chi router.
func newTestEnv(t *testing.T) (*mmbot.Bot, chi.Router) {
	t.Helper()
	l := ledger.New(houseID)
	pos := position.NewTracker(houseID)
	st := store.NewMemoryStore()
	core := engine.New(l, pos, st, houseID, 10000)
	bot := mmbot.New(core, mmbot.DefaultConfig())
	svc := trade.NewService(core, settle.New(core, st), bot, st, nil, decimal.NewFromInt(1000))

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return bot, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, w.Body.String())
	}
	return v
}

func mustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func createUser(t *testing.T, router chi.Router, id string) model.User {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/users", trade.CreateUserRequest{UserID: id, DisplayName: id})
	mustStatus(t, w, http.StatusCreated)
	return decode[model.User](t, w)
}

func createMarket(t *testing.T, router chi.Router, question string) model.Market {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/markets",
		trade.CreateMarketRequest{Question: question, CreatorID: "admin"})
	mustStatus(t, w, http.StatusCreated)
	return decode[model.Market](t, w)
}

func submitOrder(t *testing.T, router chi.Router, req trade.SubmitOrderRequest) engine.ExecutionResult {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/orders", req)
	mustStatus(t, w, http.StatusCreated)
	return decode[engine.ExecutionResult](t, w)
}

func TestUserBootstrap(t *testing.T) {
	_, router := newTestEnv(t)

	user := createUser(t, router, "alice")
	if !user.Balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("balance = %s, want signup 1000", user.Balance)
	}

	// Idempotent: re-creating returns the same account.
	again := createUser(t, router, "alice")
	if !again.Balance.Equal(user.Balance) || again.CreatedAt != user.CreatedAt {
		t.Errorf("re-create changed account: %+v vs %+v", again, user)
	}

	// Signup bonus shows in the transaction history.
	w := do(t, router, "GET", "/api/v1/users/alice/transactions", nil)
	mustStatus(t, w, http.StatusOK)
	txs := decode[[]model.Transaction](t, w)
	if len(txs) != 1 || txs[0].Type != model.TxSignupBonus {
		t.Errorf("transactions = %+v, want one SIGNUP_BONUS", txs)
	}
}

func TestLimitOrdersCrossOverHTTP(t *testing.T) {
	_, router := newTestEnv(t)
	createUser(t, router, "alice")
	createUser(t, router, "bob")
	m := createMarket(t, router, "Will it rain tomorrow?")

	rest := submitOrder(t, router, trade.SubmitOrderRequest{
		UserID: "alice", MarketID: m.ID, Side: model.SideYes,
		Action: model.ActionBuy, Type: model.TypeLimit, Quantity: 10, Price: 40,
	})
	if rest.Order.Status != model.OrderOpen {
		t.Fatalf("first order should rest, got %s", rest.Order.Status)
	}

	// The house sells into the bid so alice's order fills at 40.
	fill := submitOrder(t, router, trade.SubmitOrderRequest{
		UserID: houseID, MarketID: m.ID, Side: model.SideYes,
		Action: model.ActionSell, Type: model.TypeLimit, Quantity: 10, Price: 40,
	})
	if fill.FilledQuantity != 10 || fill.Trades[0].Price != 40 {
		t.Fatalf("fill = %d @ %d, want 10 @ 40", fill.FilledQuantity, fill.Trades[0].Price)
	}

	// alice's position shows up with cost basis 4.00.
	w := do(t, router, "GET", "/api/v1/positions/alice", nil)
	mustStatus(t, w, http.StatusOK)
	portfolio := decode[trade.PortfolioResponse](t, w)
	if len(portfolio.Positions) != 1 {
		t.Fatalf("positions = %+v, want 1", portfolio.Positions)
	}
	p := portfolio.Positions[0]
	if p.Shares != 10 || !p.CostBasis.Equal(decimal.NewFromInt(4)) {
		t.Errorf("position = %+v, want 10 shares basis 4.00", p)
	}
	if !portfolio.Balance.Equal(decimal.NewFromInt(996)) {
		t.Errorf("balance = %s, want 996", portfolio.Balance)
	}

	// The trade is in the market's history.
	w = do(t, router, "GET", "/api/v1/markets/"+m.ID+"/trades", nil)
	mustStatus(t, w, http.StatusOK)
	trades := decode[[]model.Trade](t, w)
	if len(trades) != 1 || trades[0].Quantity != 10 {
		t.Errorf("trade history = %+v, want the single 10-share fill", trades)
	}
}

func TestMarketBuyAgainstBotQuote(t *testing.T) {
	bot, router := newTestEnv(t)
	createUser(t, router, "alice")
	m := createMarket(t, router, "Will the launch succeed?")

	if err := bot.Refresh(context.Background(), m.ID); err != nil {
		t.Fatalf("bot refresh: %v", err)
	}

	res := submitOrder(t, router, trade.SubmitOrderRequest{
		UserID: "alice", MarketID: m.ID, Side: model.SideYes,
		Action: model.ActionBuy, Type: model.TypeMarket, Quantity: 5,
	})
	if res.FilledQuantity != 5 || res.Trades[0].Price != 52 {
		t.Fatalf("fill = %d @ %d, want 5 @ bot ask 52", res.FilledQuantity, res.Trades[0].Price)
	}

	// Bot status reflects the short.
	w := do(t, router, "GET", "/api/v1/bot/"+m.ID, nil)
	mustStatus(t, w, http.StatusOK)
	st := decode[mmbot.Status](t, w)
	if st.Inventory[model.SideYes] != -5 {
		t.Errorf("bot inventory = %d, want -5", st.Inventory[model.SideYes])
	}

	// Book shows the bot's remaining quotes.
	w = do(t, router, "GET", "/api/v1/markets/"+m.ID+"/book", nil)
	mustStatus(t, w, http.StatusOK)
	snap := decode[engine.BookSnapshot](t, w)
	yes := snap.Sides[model.SideYes]
	if len(yes.Asks) != 1 || yes.Asks[0].Quantity != 95 {
		t.Errorf("asks = %+v, want 95 left at 52", yes.Asks)
	}
	if yes.LastTradePrice != 52 {
		t.Errorf("last trade = %d, want 52", yes.LastTradePrice)
	}
}

func TestResolveAndLeaderboard(t *testing.T) {
	_, router := newTestEnv(t)
	createUser(t, router, "carol")
	m := createMarket(t, router, "Will the bill pass?")

	// carol: 8 YES @ 30¢ and 4 NO @ 60¢ from the house.
	for _, leg := range []struct {
		side  model.Side
		qty   int64
		price int64
	}{{model.SideYes, 8, 30}, {model.SideNo, 4, 60}} {
		submitOrder(t, router, trade.SubmitOrderRequest{
			UserID: houseID, MarketID: m.ID, Side: leg.side,
			Action: model.ActionSell, Type: model.TypeLimit, Quantity: leg.qty, Price: leg.price,
		})
		submitOrder(t, router, trade.SubmitOrderRequest{
			UserID: "carol", MarketID: m.ID, Side: leg.side,
			Action: model.ActionBuy, Type: model.TypeLimit, Quantity: leg.qty, Price: leg.price,
		})
	}

	w := do(t, router, "POST", "/api/v1/markets/"+m.ID+"/resolve",
		trade.ResolveMarketRequest{Outcome: model.SideYes})
	mustStatus(t, w, http.StatusOK)
	summary := decode[settle.MarketSettlement](t, w)
	if summary.Market.Status != model.MarketResolved {
		t.Fatalf("market = %+v, want RESOLVED", summary.Market)
	}

	// Re-resolving conflicts.
	w = do(t, router, "POST", "/api/v1/markets/"+m.ID+"/resolve",
		trade.ResolveMarketRequest{Outcome: model.SideNo})
	mustStatus(t, w, http.StatusConflict)

	// carol leads the board with +3.20 realized.
	w = do(t, router, "GET", "/api/v1/leaderboard", nil)
	mustStatus(t, w, http.StatusOK)
	board := decode[[]trade.LeaderboardEntry](t, w)
	if len(board) != 1 {
		t.Fatalf("leaderboard = %+v, want just carol (house excluded)", board)
	}
	if board[0].UserID != "carol" || !board[0].RealizedPnL.Equal(decimal.NewFromFloat(3.2)) {
		t.Errorf("top entry = %+v, want carol +3.20", board[0])
	}
	if !board[0].Balance.Equal(decimal.NewFromFloat(1003.2)) {
		t.Errorf("balance = %s, want 1003.20", board[0].Balance)
	}
}

func TestOrderErrorMapping(t *testing.T) {
	_, router := newTestEnv(t)
	createUser(t, router, "alice")
	m := createMarket(t, router, "Test market?")

	cases := []struct {
		name string
		req  trade.SubmitOrderRequest
		want int
	}{
		{"bad price", trade.SubmitOrderRequest{UserID: "alice", MarketID: m.ID, Side: model.SideYes,
			Action: model.ActionBuy, Type: model.TypeLimit, Quantity: 10, Price: 0}, http.StatusBadRequest},
		{"unknown market", trade.SubmitOrderRequest{UserID: "alice", MarketID: "nope", Side: model.SideYes,
			Action: model.ActionBuy, Type: model.TypeLimit, Quantity: 10, Price: 50}, http.StatusNotFound},
		{"unknown user", trade.SubmitOrderRequest{UserID: "mallory", MarketID: m.ID, Side: model.SideYes,
			Action: model.ActionBuy, Type: model.TypeLimit, Quantity: 10, Price: 50}, http.StatusNotFound},
		{"insufficient funds", trade.SubmitOrderRequest{UserID: "alice", MarketID: m.ID, Side: model.SideYes,
			Action: model.ActionBuy, Type: model.TypeLimit, Quantity: 10000, Price: 99}, http.StatusPaymentRequired},
		{"no shares to sell", trade.SubmitOrderRequest{UserID: "alice", MarketID: m.ID, Side: model.SideYes,
			Action: model.ActionSell, Type: model.TypeLimit, Quantity: 5, Price: 50}, http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, "POST", "/api/v1/orders", tc.req)
			mustStatus(t, w, tc.want)
		})
	}
}

func TestCancelOrderOverHTTP(t *testing.T) {
	_, router := newTestEnv(t)
	createUser(t, router, "alice")
	m := createMarket(t, router, "Cancel test?")

	res := submitOrder(t, router, trade.SubmitOrderRequest{
		UserID: "alice", MarketID: m.ID, Side: model.SideYes,
		Action: model.ActionBuy, Type: model.TypeLimit, Quantity: 10, Price: 40,
	})

	w := do(t, router, "DELETE", "/api/v1/orders/"+res.Order.ID, nil)
	mustStatus(t, w, http.StatusOK)
	order := decode[model.Order](t, w)
	if order.Status != model.OrderCancelled {
		t.Errorf("status = %s, want CANCELLED", order.Status)
	}

	// Second cancel conflicts.
	w = do(t, router, "DELETE", "/api/v1/orders/"+res.Order.ID, nil)
	mustStatus(t, w, http.StatusConflict)
}

func TestCloseAndDeleteMarket(t *testing.T) {
	_, router := newTestEnv(t)
	createUser(t, router, "alice")

	closed := createMarket(t, router, "Close me?")
	w := do(t, router, "POST", "/api/v1/markets/"+closed.ID+"/close", nil)
	mustStatus(t, w, http.StatusOK)
	w = do(t, router, "POST", "/api/v1/orders", trade.SubmitOrderRequest{
		UserID: "alice", MarketID: closed.ID, Side: model.SideYes,
		Action: model.ActionBuy, Type: model.TypeLimit, Quantity: 1, Price: 50,
	})
	mustStatus(t, w, http.StatusConflict)

	gone := createMarket(t, router, "Delete me?")
	w = do(t, router, "DELETE", fmt.Sprintf("/api/v1/markets/%s?refund=true", gone.ID), nil)
	mustStatus(t, w, http.StatusOK)
	w = do(t, router, "GET", "/api/v1/markets/"+gone.ID, nil)
	mustStatus(t, w, http.StatusNotFound)
}

func TestAdminBalanceAdjustment(t *testing.T) {
	_, router := newTestEnv(t)
	createUser(t, router, "alice")

	w := do(t, router, "POST", "/api/v1/admin/balance", trade.AdjustBalanceRequest{
		UserID: "alice", Amount: decimal.NewFromInt(500), Reason: "contest prize",
	})
	mustStatus(t, w, http.StatusOK)
	tx := decode[model.Transaction](t, w)
	if tx.Type != model.TxAdminAdjustment || !tx.BalanceAfter.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("tx = %+v, want ADMIN_ADJUSTMENT to 1500", tx)
	}

	// Draining below zero is rejected.
	w = do(t, router, "POST", "/api/v1/admin/balance", trade.AdjustBalanceRequest{
		UserID: "alice", Amount: decimal.NewFromInt(-2000), Reason: "oops",
	})
	mustStatus(t, w, http.StatusPaymentRequired)
}
