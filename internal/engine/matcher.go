package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dumarket/trading-engine/internal/book"
	"github.com/dumarket/trading-engine/internal/model"
)

// SubmitRequest is an order submission.
type SubmitRequest struct {
	MarketID string
	UserID   string
	Side     model.Side
	Action   model.OrderAction
	Type     model.OrderType
	Quantity int64
	Price    int64 // cents; required for LIMIT, ignored for MARKET
}

// ExecutionResult is what a submission produced.
type ExecutionResult struct {
	Order            model.Order     `json:"order"`
	Trades           []model.Trade   `json:"trades"`
	FilledQuantity   int64           `json:"filled_quantity"`
	AverageFillPrice decimal.Decimal `json:"average_fill_price"` // DuCoins; zero if no fills
}

func (e *Engine) validate(req *SubmitRequest) error {
	if !req.Side.Valid() {
		return fmt.Errorf("%w: side must be YES or NO", ErrInvalidRequest)
	}
	if !req.Action.Valid() {
		return fmt.Errorf("%w: action must be BUY or SELL", ErrInvalidRequest)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: type must be LIMIT or MARKET", ErrInvalidRequest)
	}
	if req.Quantity <= 0 || req.Quantity > e.maxQty {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidQuantity, e.maxQty)
	}
	if req.Type == model.TypeLimit &&
		(req.Price < model.MinPriceCents || req.Price > model.MaxPriceCents) {
		return ErrInvalidPrice
	}
	return nil
}

// Submit validates, reserves, matches, and (for LIMIT remainders) rests an
// order. MARKET remainders are discarded: the order finishes FILLED if
// anything executed, CANCELLED if nothing did.
//
// Matching is price-time priority against the opposing half of the side's
// book, and every fill executes at the resting order's price. Self-trades
// are permitted and settle like any other fill.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*ExecutionResult, error) {
	if err := e.validate(&req); err != nil {
		return nil, err
	}
	if _, err := e.ledger.Account(req.UserID); err != nil {
		return nil, err
	}

	ms, err := e.marketState(req.MarketID)
	if err != nil {
		return nil, err
	}

	// Held shared for the whole submission so resolution cannot interleave
	// between the status check and the fills.
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.market.Status != model.MarketOpen {
		return nil, ErrMarketNotOpen
	}

	now := time.Now().UTC()
	order := &model.Order{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		MarketID:      req.MarketID,
		Side:          req.Side,
		Action:        req.Action,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Status:        model.OrderOpen,
		IsMarketMaker: e.ledger.IsHouse(req.UserID),
		Sequence:      e.seq.Add(1),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Type == model.TypeLimit {
		order.Price = req.Price
	}

	// Reserve worst case up front so validation and matching cannot race
	// another order from the same user.
	var reserved decimal.Decimal
	if req.Action == model.ActionBuy {
		worstPrice := order.Price
		if req.Type == model.TypeMarket {
			worstPrice = model.MaxPriceCents
		}
		reserved = model.CostOf(worstPrice, req.Quantity)
		if err := e.ledger.Reserve(req.UserID, reserved); err != nil {
			return nil, err
		}
	} else {
		if err := e.positions.ReserveShares(req.UserID, req.MarketID, req.Side, req.Quantity); err != nil {
			return nil, err
		}
	}

	sb := ms.sides[req.Side]
	sb.mu.Lock()
	trades, spent := e.match(ctx, ms, sb, order, now)
	e.settleRemainder(sb, order, reserved, spent)

	// Register the order only once matching is done: from here on its record
	// is mutated exclusively under the registry lock (fills, cancellation).
	e.mu.Lock()
	e.orders[order.ID] = order
	snapshot := *order
	e.mu.Unlock()
	sb.mu.Unlock()

	result := &ExecutionResult{
		Order:          snapshot,
		Trades:         trades,
		FilledQuantity: snapshot.FilledQuantity,
	}

	if err := e.store.SaveOrder(ctx, &result.Order); err != nil {
		slog.Error("persist order failed", "order", order.ID, "error", err)
	}

	if result.FilledQuantity > 0 {
		var total decimal.Decimal
		for _, t := range trades {
			total = total.Add(t.Total)
		}
		result.AverageFillPrice = total.Div(decimal.NewFromInt(result.FilledQuantity)).Round(4)
	}

	for _, t := range trades {
		if e.onTrade != nil {
			e.onTrade(t)
		}
	}
	if e.onBook != nil {
		e.onBook(req.MarketID)
	}

	slog.Info("order executed",
		"order", order.ID,
		"user", req.UserID,
		"market", req.MarketID,
		"side", req.Side,
		"action", req.Action,
		"type", req.Type,
		"quantity", req.Quantity,
		"filled", snapshot.FilledQuantity,
		"status", snapshot.Status,
	)
	return result, nil
}

// match walks the opposing half of the book, executing at each resting
// order's price until the incoming order is filled or nothing crosses.
// Caller holds ms.mu (shared) and sb.mu.
func (e *Engine) match(ctx context.Context, ms *marketState, sb *sideBook, order *model.Order, now time.Time) ([]model.Trade, decimal.Decimal) {
	opposing := book.Ask
	if order.Action == model.ActionSell {
		opposing = book.Bid
	}

	var trades []model.Trade
	spent := decimal.Zero
	for order.Remaining() > 0 {
		best := sb.book.PeekBest(opposing)
		if best == nil {
			break
		}
		if order.Type == model.TypeLimit {
			if order.Action == model.ActionBuy && best.Price > order.Price {
				break
			}
			if order.Action == model.ActionSell && best.Price < order.Price {
				break
			}
		}

		qty := order.Remaining()
		if best.Remaining < qty {
			qty = best.Remaining
		}
		price := best.Price
		cost := model.CostOf(price, qty)

		trade := model.Trade{
			ID:         uuid.New().String(),
			MarketID:   order.MarketID,
			Side:       order.Side,
			Price:      price,
			Quantity:   qty,
			Total:      cost,
			ExecutedAt: now,
		}
		if order.Action == model.ActionBuy {
			trade.BuyOrderID, trade.BuyerUserID = order.ID, order.UserID
			trade.SellOrderID, trade.SellerUserID = best.OrderID, best.UserID
		} else {
			trade.BuyOrderID, trade.BuyerUserID = best.OrderID, best.UserID
			trade.SellOrderID, trade.SellerUserID = order.ID, order.UserID
		}

		buyDesc := fmt.Sprintf("Bought %d %s @ %d¢", qty, order.Side, price)
		sellDesc := fmt.Sprintf("Sold %d %s @ %d¢", qty, order.Side, price)
		if _, err := e.ledger.Debit(trade.BuyerUserID, cost, model.TxTradeBuy, buyDesc, trade.ID); err != nil {
			slog.Error("debit buyer failed", "trade", trade.ID, "error", err)
		}
		if _, err := e.ledger.Credit(trade.SellerUserID, cost, model.TxTradeSell, sellDesc, trade.ID); err != nil {
			slog.Error("credit seller failed", "trade", trade.ID, "error", err)
		}
		e.positions.Buy(trade.BuyerUserID, order.MarketID, order.Side, qty, price)
		e.positions.Sell(trade.SellerUserID, order.MarketID, order.Side, qty, price)
		if order.Action == model.ActionBuy {
			spent = spent.Add(cost)
		}

		if err := sb.book.Fill(best.OrderID, qty); err != nil {
			slog.Error("book fill failed", "order", best.OrderID, "error", err)
		}
		if maker := e.applyFill(best.OrderID, qty, now); maker != nil {
			if err := e.store.SaveOrder(ctx, maker); err != nil {
				slog.Error("persist order failed", "order", maker.ID, "error", err)
			}
		}
		order.FilledQuantity += qty
		order.UpdatedAt = now

		sb.lastTrade = price
		ms.tradeCount.Add(1)
		trades = append(trades, trade)
		if err := e.store.InsertTrade(ctx, &trade); err != nil {
			slog.Error("persist trade failed", "trade", trade.ID, "error", err)
		}
	}
	return trades, spent
}

// settleRemainder rests a LIMIT remainder in the book (keeping its
// reservation) or discards a MARKET remainder (releasing it), and sets the
// final status. Caller holds sb.mu.
func (e *Engine) settleRemainder(sb *sideBook, order *model.Order, reserved, spent decimal.Decimal) {
	remaining := order.Remaining()

	if remaining > 0 && order.Type == model.TypeLimit {
		side := book.Bid
		if order.Action == model.ActionSell {
			side = book.Ask
		}
		if err := sb.book.Insert(side, &book.RestingOrder{
			OrderID:       order.ID,
			UserID:        order.UserID,
			Price:         order.Price,
			Remaining:     remaining,
			Sequence:      order.Sequence,
			IsMarketMaker: order.IsMarketMaker,
		}); err != nil {
			slog.Error("book insert failed", "order", order.ID, "error", err)
		}
		if order.FilledQuantity > 0 {
			order.Status = model.OrderPartial
		} else {
			order.Status = model.OrderOpen
		}
		if order.Action == model.ActionBuy {
			// Keep holding worst case for the remainder; release the
			// price-improvement excess on the filled part.
			keep := model.CostOf(order.Price, remaining)
			if excess := reserved.Sub(spent).Sub(keep); excess.IsPositive() {
				e.ledger.Release(order.UserID, excess)
			}
		}
		return
	}

	// Terminal: fully filled, or a MARKET remainder that is discarded.
	if order.FilledQuantity > 0 {
		order.Status = model.OrderFilled
	} else {
		order.Status = model.OrderCancelled
	}
	if order.Action == model.ActionBuy {
		if leftover := reserved.Sub(spent); leftover.IsPositive() {
			e.ledger.Release(order.UserID, leftover)
		}
	} else if remaining > 0 {
		e.positions.ReleaseShares(order.UserID, order.MarketID, order.Side, remaining)
	}
}

// applyFill updates the order record for a maker-side fill and returns a
// copy for persistence.
func (e *Engine) applyFill(orderID string, qty int64, now time.Time) *model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return nil
	}
	o.FilledQuantity += qty
	if o.FilledQuantity >= o.Quantity {
		o.Status = model.OrderFilled
	} else {
		o.Status = model.OrderPartial
	}
	o.UpdatedAt = now
	cp := *o
	return &cp
}

// Cancel removes a resting order from its book, releasing the unfilled
// remainder's reservation. Terminal orders return ErrOrderNotCancellable
// along with their final state.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*model.Order, error) {
	e.mu.RLock()
	o, ok := e.orders[orderID]
	var snapshot model.Order
	if ok {
		snapshot = *o
	}
	e.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	if snapshot.Status.Terminal() {
		return &snapshot, ErrOrderNotCancellable
	}

	ms, err := e.marketState(snapshot.MarketID)
	if err != nil {
		return nil, err
	}

	ms.mu.RLock()
	sb := ms.sides[snapshot.Side]
	sb.mu.Lock()
	ro, err := sb.book.Remove(orderID)
	if err != nil {
		// Lost the race against a fill or a market-wide cancellation.
		sb.mu.Unlock()
		ms.mu.RUnlock()
		final, _ := e.Order(orderID)
		return final, ErrOrderNotCancellable
	}
	e.refundResting(snapshot.Side, ro)
	final := e.finalizeOrder(orderID, model.OrderCancelled)
	sb.mu.Unlock()
	ms.mu.RUnlock()

	if err := e.store.SaveOrder(ctx, final); err != nil {
		slog.Error("persist order failed", "order", final.ID, "error", err)
	}
	if e.onBook != nil {
		e.onBook(snapshot.MarketID)
	}
	slog.Info("order cancelled", "order", orderID, "user", snapshot.UserID, "market", snapshot.MarketID)
	return final, nil
}
