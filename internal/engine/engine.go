// Package engine is the matching core. It owns the market registry, the
// per-market order books, and the order lifecycle, and it coordinates the
// ledger (funds) and position tracker (shares) around every match.
//
// The in-process state is authoritative; the store is the recoverable audit
// record. Persistence failures are logged, never allowed to fail a trade that
// already executed.
//
// Lock order: engine registry lock → market lock → side lock. The registry
// lock may be re-taken for order-record updates while a side lock is held,
// but never the other way around.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dumarket/trading-engine/internal/book"
	"github.com/dumarket/trading-engine/internal/ledger"
	"github.com/dumarket/trading-engine/internal/model"
	"github.com/dumarket/trading-engine/internal/position"
	"github.com/dumarket/trading-engine/internal/store"
)

var (
	ErrMarketNotFound        = errors.New("market not found")
	ErrMarketNotOpen         = errors.New("market is not open for trading")
	ErrMarketAlreadyResolved = errors.New("market already resolved")
	ErrMarketHasTrades       = errors.New("market has executed trades")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderNotCancellable   = errors.New("order cannot be cancelled")
	ErrInvalidPrice          = errors.New("price must be between 1 and 99 cents")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrInvalidRequest        = errors.New("invalid request")
)

// sideBook is one outcome's order book plus its last trade price.
type sideBook struct {
	mu        sync.Mutex
	book      *book.Book
	lastTrade int64 // cents; 0 = no trades yet
}

// marketState is a registered market and its two books. ms.mu guards the
// market record and lifecycle transitions; it is held shared during matching
// so resolution cannot interleave with a fill.
type marketState struct {
	mu         sync.RWMutex
	market     model.Market
	sides      map[model.Side]*sideBook
	tradeCount atomic.Int64
}

// Engine is the trading core.
type Engine struct {
	mu      sync.RWMutex
	markets map[string]*marketState
	orders  map[string]*model.Order

	ledger    *ledger.Ledger
	positions *position.Tracker
	store     store.Store
	houseID   string
	maxQty    int64

	seq atomic.Int64

	onTrade func(model.Trade)
	onBook  func(marketID string)
}

// New creates an engine. maxQty caps per-order quantity; zero means the
// default of 10,000.
func New(l *ledger.Ledger, pos *position.Tracker, st store.Store, houseID string, maxQty int64) *Engine {
	if maxQty <= 0 {
		maxQty = 10000
	}
	return &Engine{
		markets:   make(map[string]*marketState),
		orders:    make(map[string]*model.Order),
		ledger:    l,
		positions: pos,
		store:     st,
		houseID:   houseID,
		maxQty:    maxQty,
	}
}

// OnTrade installs a callback invoked after each executed trade, outside any
// engine lock. Used for WebSocket broadcasts and metrics.
func (e *Engine) OnTrade(fn func(model.Trade)) { e.onTrade = fn }

// OnBookChange installs a callback invoked after any book mutation, outside
// any engine lock.
func (e *Engine) OnBookChange(fn func(marketID string)) { e.onBook = fn }

// Ledger exposes the funds ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Positions exposes the position tracker.
func (e *Engine) Positions() *position.Tracker { return e.positions }

// HouseID returns the market-maker account id.
func (e *Engine) HouseID() string { return e.houseID }

// --- Market lifecycle ---

// CreateMarket registers a new OPEN market with empty YES and NO books.
func (e *Engine) CreateMarket(ctx context.Context, question, description, creatorID string) (*model.Market, error) {
	if question == "" {
		return nil, errors.New("question is required")
	}
	m := model.Market{
		ID:          uuid.New().String(),
		Question:    question,
		Description: description,
		CreatorID:   creatorID,
		Status:      model.MarketOpen,
		CreatedAt:   time.Now().UTC(),
	}
	ms := &marketState{
		market: m,
		sides: map[model.Side]*sideBook{
			model.SideYes: {book: book.New()},
			model.SideNo:  {book: book.New()},
		},
	}

	e.mu.Lock()
	e.markets[m.ID] = ms
	e.mu.Unlock()

	if err := e.store.CreateMarket(ctx, &m); err != nil {
		slog.Error("persist market failed", "market", m.ID, "error", err)
	}
	slog.Info("market created", "id", m.ID, "question", question, "creator", creatorID)
	return &m, nil
}

func (e *Engine) marketState(marketID string) (*marketState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ms, ok := e.markets[marketID]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return ms, nil
}

// Market returns the market record.
func (e *Engine) Market(marketID string) (*model.Market, error) {
	ms, err := e.marketState(marketID)
	if err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m := ms.market
	return &m, nil
}

// Markets returns all registered markets, newest first.
func (e *Engine) Markets() []model.Market {
	e.mu.RLock()
	states := make([]*marketState, 0, len(e.markets))
	for _, ms := range e.markets {
		states = append(states, ms)
	}
	e.mu.RUnlock()

	out := make([]model.Market, 0, len(states))
	for _, ms := range states {
		ms.mu.RLock()
		out = append(out, ms.market)
		ms.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CloseMarket halts trading (OPEN → CLOSED), cancelling and refunding every
// resting order. The market remains resolvable.
func (e *Engine) CloseMarket(ctx context.Context, marketID string) (*model.Market, error) {
	ms, err := e.marketState(marketID)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.market.Status != model.MarketOpen {
		if ms.market.Status == model.MarketResolved {
			return nil, ErrMarketAlreadyResolved
		}
		return nil, ErrMarketNotOpen
	}
	ms.market.Status = model.MarketClosed
	e.cancelAllLocked(ctx, ms)

	m := ms.market
	if err := e.store.UpdateMarket(ctx, &m); err != nil {
		slog.Error("persist market failed", "market", m.ID, "error", err)
	}
	slog.Info("market closed", "id", m.ID)
	return &m, nil
}

// Resolve declares the winning outcome (OPEN/CLOSED → RESOLVED), cancelling
// and refunding every resting order. Position payouts are the settlement
// engine's job; by the time this returns no further trading or cancellation
// can touch the market.
func (e *Engine) Resolve(ctx context.Context, marketID string, winner model.Side) (*model.Market, error) {
	if !winner.Valid() {
		return nil, ErrInvalidRequest
	}
	ms, err := e.marketState(marketID)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.market.Status == model.MarketResolved {
		return nil, ErrMarketAlreadyResolved
	}
	now := time.Now().UTC()
	outcome := winner == model.SideYes
	ms.market.Status = model.MarketResolved
	ms.market.ResolvedOutcome = &outcome
	ms.market.ResolvedAt = &now
	e.cancelAllLocked(ctx, ms)

	m := ms.market
	if err := e.store.UpdateMarket(ctx, &m); err != nil {
		slog.Error("persist market failed", "market", m.ID, "error", err)
	}
	slog.Info("market resolved", "id", m.ID, "winner", winner)
	return &m, nil
}

// DeleteMarket removes an OPEN market that has never traded, refunding any
// resting orders. Once a single trade exists the market can only be resolved.
func (e *Engine) DeleteMarket(ctx context.Context, marketID string) error {
	ms, err := e.marketState(marketID)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	if ms.market.Status != model.MarketOpen {
		ms.mu.Unlock()
		return ErrMarketNotOpen
	}
	if ms.tradeCount.Load() > 0 {
		ms.mu.Unlock()
		return ErrMarketHasTrades
	}
	e.cancelAllLocked(ctx, ms)
	ms.mu.Unlock()

	e.mu.Lock()
	delete(e.markets, marketID)
	e.mu.Unlock()

	if err := e.store.DeleteMarket(ctx, marketID); err != nil {
		slog.Error("delete market from store failed", "market", marketID, "error", err)
	}
	slog.Info("market deleted", "id", marketID)
	return nil
}

// cancelAllLocked cancels every resting order in the market, releasing buy
// holds and sell share reservations. Caller holds ms.mu.
func (e *Engine) cancelAllLocked(ctx context.Context, ms *marketState) {
	for side, sb := range ms.sides {
		sb.mu.Lock()
		resting := sb.book.Orders()
		for _, ro := range resting {
			sb.book.Remove(ro.OrderID)
			e.refundResting(side, ro)
			if o := e.finalizeOrder(ro.OrderID, model.OrderCancelled); o != nil {
				if err := e.store.SaveOrder(ctx, o); err != nil {
					slog.Error("persist order failed", "order", o.ID, "error", err)
				}
			}
		}
		sb.mu.Unlock()
	}
}

// refundResting releases whatever a resting order still holds: worst-case
// cost for a buy, reserved shares for a sell.
func (e *Engine) refundResting(side model.Side, ro *book.RestingOrder) {
	e.mu.RLock()
	o, ok := e.orders[ro.OrderID]
	var action model.OrderAction
	var price int64
	var marketID, userID string
	if ok {
		action, price, marketID, userID = o.Action, o.Price, o.MarketID, o.UserID
	}
	e.mu.RUnlock()
	if !ok {
		return
	}
	if action == model.ActionBuy {
		if err := e.ledger.Release(userID, model.CostOf(price, ro.Remaining)); err != nil {
			slog.Error("release hold failed", "order", ro.OrderID, "error", err)
		}
	} else {
		e.positions.ReleaseShares(userID, marketID, side, ro.Remaining)
	}
}

// finalizeOrder marks an order terminal and returns a copy for persistence.
func (e *Engine) finalizeOrder(orderID string, status model.OrderStatus) *model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return nil
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	cp := *o
	return &cp
}

// --- Queries ---

// Order returns a copy of the order record.
func (e *Engine) Order(orderID string) (*model.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

// SideDepth is one outcome's aggregated book view.
type SideDepth struct {
	Bids           []book.Level `json:"bids"`
	Asks           []book.Level `json:"asks"`
	LastTradePrice int64        `json:"last_trade_price,omitempty"` // cents; 0 = none
}

// BookSnapshot is the full depth view of a market.
type BookSnapshot struct {
	MarketID string                   `json:"market_id"`
	Sides    map[model.Side]SideDepth `json:"sides"`
}

// Snapshot returns up to levels rows of depth per side of each book.
func (e *Engine) Snapshot(marketID string, levels int) (*BookSnapshot, error) {
	ms, err := e.marketState(marketID)
	if err != nil {
		return nil, err
	}
	if levels <= 0 {
		levels = 10
	}

	snap := &BookSnapshot{MarketID: marketID, Sides: make(map[model.Side]SideDepth, 2)}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for side, sb := range ms.sides {
		sb.mu.Lock()
		snap.Sides[side] = SideDepth{
			Bids:           sb.book.Depth(book.Bid, levels),
			Asks:           sb.book.Depth(book.Ask, levels),
			LastTradePrice: sb.lastTrade,
		}
		sb.mu.Unlock()
	}
	return snap, nil
}

// LastTradePrice returns the most recent execution price on a side, in cents.
func (e *Engine) LastTradePrice(marketID string, side model.Side) (int64, bool) {
	ms, err := e.marketState(marketID)
	if err != nil {
		return 0, false
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	sb := ms.sides[side]
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.lastTrade == 0 {
		return 0, false
	}
	return sb.lastTrade, true
}

// ReferencePrice is the mark price for unrealized P&L on a side: the best bid
// if one rests, else the last trade price, else 50¢. A resolved market marks
// at 100 or 0 according to the outcome.
func (e *Engine) ReferencePrice(marketID string, side model.Side) int64 {
	ms, err := e.marketState(marketID)
	if err != nil {
		return 50
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.market.Status == model.MarketResolved && ms.market.ResolvedOutcome != nil {
		won := (side == model.SideYes) == *ms.market.ResolvedOutcome
		if won {
			return model.PayoutCents
		}
		return 0
	}

	sb := ms.sides[side]
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if bid, ok := sb.book.BestBid(); ok {
		return bid
	}
	if sb.lastTrade != 0 {
		return sb.lastTrade
	}
	return 50
}

// OpenOrdersOwnedBy returns copies of the user's resting orders in a market.
func (e *Engine) OpenOrdersOwnedBy(marketID, userID string) []model.Order {
	ms, err := e.marketState(marketID)
	if err != nil {
		return nil
	}

	var ids []string
	ms.mu.RLock()
	for _, sb := range ms.sides {
		sb.mu.Lock()
		for _, ro := range sb.book.OrdersOwnedBy(userID) {
			ids = append(ids, ro.OrderID)
		}
		sb.mu.Unlock()
	}
	ms.mu.RUnlock()

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := e.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// TradeCount returns the number of executed trades in the market.
func (e *Engine) TradeCount(marketID string) int64 {
	ms, err := e.marketState(marketID)
	if err != nil {
		return 0
	}
	return ms.tradeCount.Load()
}
