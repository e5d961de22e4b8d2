// Package trade provides the HTTP surface of the exchange: user bootstrap,
// market lifecycle, order submission and cancellation, book and position
// queries, the leaderboard, and the admin operations. It is a thin layer
// over the matching core, the settlement engine, and the market-maker bot.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/dumarket/trading-engine/internal/engine"
	"github.com/dumarket/trading-engine/internal/ledger"
	"github.com/dumarket/trading-engine/internal/metrics"
	"github.com/dumarket/trading-engine/internal/mmbot"
	"github.com/dumarket/trading-engine/internal/model"
	"github.com/dumarket/trading-engine/internal/position"
	"github.com/dumarket/trading-engine/internal/settle"
	"github.com/dumarket/trading-engine/internal/store"
)

// Service handles the exchange's HTTP operations.
type Service struct {
	core            *engine.Engine
	settler         *settle.Engine
	bot             *mmbot.Bot
	store           store.Store
	wsHub           *WSHub // optional, nil disables broadcasts
	startingBalance decimal.Decimal
}

// NewService wires the HTTP layer to the core. It installs the engine hooks
// that feed metrics and WebSocket broadcasts. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(core *engine.Engine, settler *settle.Engine, bot *mmbot.Bot, st store.Store, hub *WSHub, startingBalance decimal.Decimal) *Service {
	s := &Service{
		core:            core,
		settler:         settler,
		bot:             bot,
		store:           st,
		wsHub:           hub,
		startingBalance: startingBalance,
	}
	core.OnTrade(func(t model.Trade) {
		metrics.TradesTotal.WithLabelValues(string(t.Side)).Inc()
		metrics.MarketVolume.WithLabelValues(t.MarketID, string(t.Side)).Add(float64(t.Quantity))
		if s.wsHub != nil {
			s.wsHub.Broadcast(WSMessage{
				Type:     "trade",
				MarketID: t.MarketID,
				Side:     string(t.Side),
				Price:    t.Price,
				Quantity: t.Quantity,
				Total:    t.Total.StringFixed(2),
			})
		}
	})
	core.OnBookChange(func(marketID string) {
		if s.wsHub != nil {
			s.wsHub.Broadcast(WSMessage{Type: "book_update", MarketID: marketID})
		}
	})
	return s
}

// Routes mounts every handler under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Post("/users", s.CreateUser)
	r.Get("/users/{userID}", s.GetUser)
	r.Get("/users/{userID}/transactions", s.GetTransactions)

	r.Post("/markets", s.CreateMarket)
	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/book", s.GetBook)
	r.Get("/markets/{marketID}/trades", s.GetTrades)
	r.Post("/markets/{marketID}/close", s.CloseMarket)
	r.Post("/markets/{marketID}/resolve", s.ResolveMarket)
	r.Delete("/markets/{marketID}", s.DeleteMarket)

	r.Post("/orders", s.SubmitOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)

	r.Get("/positions/{userID}", s.GetPositions)
	r.Get("/positions/{userID}/{marketID}", s.GetMarketPositions)
	r.Get("/leaderboard", s.GetLeaderboard)
	r.Get("/bot/{marketID}", s.GetBotStatus)

	r.Post("/admin/balance", s.AdjustBalance)

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Users ---

// CreateUserRequest is the JSON body for user bootstrap.
type CreateUserRequest struct {
	UserID      string `json:"user_id"` // optional; generated when empty
	DisplayName string `json:"display_name"`
}

// CreateUser handles POST /api/v1/users. Creating an existing user returns
// its current state rather than failing.
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" {
		writeError(w, "display_name is required", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = uuid.New().String()
	}

	user := s.core.Ledger().CreateAccount(req.UserID, req.DisplayName, s.startingBalance)
	if err := s.store.CreateUser(r.Context(), &user); err != nil {
		slog.Warn("persist user failed", "user", user.ID, "error", err)
	}

	slog.Info("user created", "id", user.ID, "display_name", user.DisplayName)
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /api/v1/users/{userID}.
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.core.Ledger().Account(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetTransactions handles GET /api/v1/users/{userID}/transactions.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := s.core.Ledger().Account(userID); err != nil {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}
	txs := s.core.Ledger().Transactions(userID)
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// --- Markets ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Question    string `json:"question"`
	Description string `json:"description"`
	CreatorID   string `json:"creator_id"`
}

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}

	market, err := s.core.CreateMarket(r.Context(), req.Question, req.Description, req.CreatorID)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.ActiveMarkets.Inc()
	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets handles GET /api/v1/markets.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.core.Markets()
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.core.Market(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetBook handles GET /api/v1/markets/{marketID}/book.
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	snap, err := s.core.Snapshot(chi.URLParam(r, "marketID"), 10)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetTrades handles GET /api/v1/markets/{marketID}/trades.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if _, err := s.core.Market(marketID); err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	trades, err := s.store.ListTradesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close.
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.core.CloseMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.ActiveMarkets.Dec()
	writeJSON(w, http.StatusOK, market)
}

// ResolveMarketRequest is the JSON body for market resolution.
type ResolveMarketRequest struct {
	Outcome model.Side `json:"outcome"`
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve. It settles
// the market: resting orders are refunded and winning shares pay out.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Outcome.Valid() {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	wasOpen := false
	if m, err := s.core.Market(marketID); err == nil {
		wasOpen = m.Status == model.MarketOpen
	}

	summary, err := s.settler.Resolve(r.Context(), marketID, req.Outcome)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.SettlementsTotal.WithLabelValues(string(req.Outcome)).Inc()
	if wasOpen {
		metrics.ActiveMarkets.Dec()
	}
	writeJSON(w, http.StatusOK, summary)
}

// DeleteMarket handles DELETE /api/v1/markets/{marketID}. Only an OPEN
// market with no executed trades can be deleted; resting orders are
// refunded.
func (s *Service) DeleteMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if err := s.core.DeleteMarket(r.Context(), marketID); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.ActiveMarkets.Dec()
	writeJSON(w, http.StatusOK, map[string]string{"deleted": marketID})
}

// --- Orders ---

// SubmitOrderRequest is the JSON body for POST /api/v1/orders.
type SubmitOrderRequest struct {
	UserID   string            `json:"user_id"`
	MarketID string            `json:"market_id"`
	Side     model.Side        `json:"side"`
	Action   model.OrderAction `json:"action"`
	Type     model.OrderType   `json:"type"`
	Quantity int64             `json:"quantity"`
	Price    int64             `json:"price"` // cents; required for LIMIT
}

// SubmitOrder handles POST /api/v1/orders.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := s.core.Submit(r.Context(), engine.SubmitRequest{
		MarketID: req.MarketID,
		UserID:   req.UserID,
		Side:     req.Side,
		Action:   req.Action,
		Type:     req.Type,
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OrderLatency.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())
	metrics.OrdersTotal.WithLabelValues(string(req.Action), string(result.Order.Status)).Inc()
	writeJSON(w, http.StatusCreated, result)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.core.Cancel(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// --- Positions and leaderboard ---

// PositionView is a position annotated with its mark price and unrealized
// P&L.
type PositionView struct {
	model.Position
	ReferencePrice int64           `json:"reference_price"` // cents
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioResponse is the full position listing for a user.
type PortfolioResponse struct {
	UserID             string          `json:"user_id"`
	Balance            decimal.Decimal `json:"balance"`
	Positions          []PositionView  `json:"positions"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
}

func (s *Service) positionViews(positions []model.Position) ([]PositionView, decimal.Decimal, decimal.Decimal) {
	views := make([]PositionView, 0, len(positions))
	realized, unrealized := decimal.Zero, decimal.Zero
	for _, p := range positions {
		ref := s.core.ReferencePrice(p.MarketID, p.Side)
		u := position.Unrealized(p, ref)
		views = append(views, PositionView{Position: p, ReferencePrice: ref, UnrealizedPnL: u})
		realized = realized.Add(p.RealizedPnL)
		unrealized = unrealized.Add(u)
	}
	return views, realized, unrealized
}

// GetPositions handles GET /api/v1/positions/{userID}.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	user, err := s.core.Ledger().Account(userID)
	if err != nil {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}

	views, realized, unrealized := s.positionViews(s.core.Positions().Positions(userID))
	writeJSON(w, http.StatusOK, PortfolioResponse{
		UserID:             userID,
		Balance:            user.Balance,
		Positions:          views,
		TotalRealizedPnL:   realized,
		TotalUnrealizedPnL: unrealized,
	})
}

// GetMarketPositions handles GET /api/v1/positions/{userID}/{marketID}.
func (s *Service) GetMarketPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	marketID := chi.URLParam(r, "marketID")
	if _, err := s.core.Market(marketID); err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	var positions []model.Position
	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		positions = append(positions, s.core.Positions().Get(userID, marketID, side))
	}
	views, _, _ := s.positionViews(positions)
	writeJSON(w, http.StatusOK, views)
}

// LeaderboardEntry is one row of the realized-P&L ranking.
type LeaderboardEntry struct {
	Rank        int             `json:"rank"`
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	Balance     decimal.Decimal `json:"balance"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// GetLeaderboard handles GET /api/v1/leaderboard: users ranked by total
// realized P&L across all markets. The house account is excluded.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	totals := s.core.Positions().RealizedByUser()

	entries := lo.FilterMap(lo.Keys(totals), func(userID string, _ int) (LeaderboardEntry, bool) {
		if s.core.Ledger().IsHouse(userID) {
			return LeaderboardEntry{}, false
		}
		user, err := s.core.Ledger().Account(userID)
		if err != nil {
			return LeaderboardEntry{}, false
		}
		return LeaderboardEntry{
			UserID:      userID,
			DisplayName: user.DisplayName,
			Balance:     user.Balance,
			RealizedPnL: totals[userID],
		}, true
	})
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].RealizedPnL.Equal(entries[j].RealizedPnL) {
			return entries[i].RealizedPnL.GreaterThan(entries[j].RealizedPnL)
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetBotStatus handles GET /api/v1/bot/{marketID}.
func (s *Service) GetBotStatus(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if _, err := s.core.Market(marketID); err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	if s.bot == nil {
		writeError(w, "market maker disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.bot.Status(marketID))
}

// --- Admin ---

// AdjustBalanceRequest is the JSON body for POST /api/v1/admin/balance.
type AdjustBalanceRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"` // signed DuCoins
	Reason string          `json:"reason"`
}

// AdjustBalance handles POST /api/v1/admin/balance.
func (s *Service) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Reason == "" {
		writeError(w, "user_id and reason are required", http.StatusBadRequest)
		return
	}

	tx, err := s.core.Ledger().Adjust(req.UserID, req.Amount, req.Reason)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	slog.Info("balance adjusted", "user", req.UserID, "amount", req.Amount.String(), "reason", req.Reason)
	writeJSON(w, http.StatusOK, tx)
}

// --- Helpers ---

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrMarketNotFound),
		errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, ledger.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, engine.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, position.ErrInsufficientShares):
		return http.StatusPaymentRequired
	case errors.Is(err, engine.ErrMarketNotOpen),
		errors.Is(err, engine.ErrMarketAlreadyResolved),
		errors.Is(err, engine.ErrMarketHasTrades),
		errors.Is(err, engine.ErrOrderNotCancellable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
