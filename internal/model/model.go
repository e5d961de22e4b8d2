// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Prices are integer cents in [1, 99]; a share pays out 100¢ on the winning
// side and 0¢ on the losing side.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the outcome token being traded. Every market has an independent
// YES book and NO book.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool { return s == SideYes || s == SideNo }

// Opposite returns the other outcome.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// OrderAction is the direction of an order.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

func (a OrderAction) Valid() bool { return a == ActionBuy || a == ActionSell }

// OrderType is the execution style of an order.
//
// LIMIT orders execute at their price or better and rest in the book
// otherwise. MARKET orders take the opposing book's best prices immediately;
// any unfilled remainder is discarded, never rested.
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

func (t OrderType) Valid() bool { return t == TypeLimit || t == TypeMarket }

// OrderStatus is the lifecycle state of an order.
//
// OPEN and PARTIAL orders rest in the book. FILLED and CANCELLED are
// terminal; a CANCELLED order may carry fills from before cancellation.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the order can no longer be mutated.
func (s OrderStatus) Terminal() bool { return s == OrderFilled || s == OrderCancelled }

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "OPEN"
	MarketClosed   MarketStatus = "CLOSED"
	MarketResolved MarketStatus = "RESOLVED"
)

// TransactionType classifies a ledger transaction for the audit trail.
type TransactionType string

const (
	TxSignupBonus     TransactionType = "SIGNUP_BONUS"
	TxTradeBuy        TransactionType = "TRADE_BUY"
	TxTradeSell       TransactionType = "TRADE_SELL"
	TxMarketPayout    TransactionType = "MARKET_PAYOUT"
	TxAdminAdjustment TransactionType = "ADMIN_ADJUSTMENT"
)

// User is a participant holding a DuCoin balance. Identity and sessions are
// owned by the collaborating auth layer; the core only needs the id.
type User struct {
	ID          string          `json:"id" db:"id"`
	DisplayName string          `json:"display_name" db:"display_name"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Market is a binary prediction market. It owns two order books (YES, NO),
// created empty when the market is registered.
//
// Transitions: OPEN→CLOSED (trading halted), OPEN/CLOSED→RESOLVED (terminal).
type Market struct {
	ID              string       `json:"id" db:"id"`
	Question        string       `json:"question" db:"question"`
	Description     string       `json:"description,omitempty" db:"description"`
	CreatorID       string       `json:"creator_id" db:"creator_id"`
	Status          MarketStatus `json:"status" db:"status"`
	ResolvedOutcome *bool        `json:"resolved_outcome,omitempty" db:"resolved_outcome"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// Order is a request to trade shares of one outcome.
//
// Invariant: 0 ≤ FilledQuantity ≤ Quantity. Status is FILLED iff
// FilledQuantity == Quantity. Orders are mutated only by the matcher (fills)
// or by cancellation, and never after reaching a terminal status.
type Order struct {
	ID             string      `json:"id" db:"id"`
	UserID         string      `json:"user_id" db:"user_id"`
	MarketID       string      `json:"market_id" db:"market_id"`
	Side           Side        `json:"side" db:"side"`
	Action         OrderAction `json:"action" db:"action"`
	Type           OrderType   `json:"type" db:"type"`
	Price          int64       `json:"price" db:"price"` // cents; 0 for MARKET orders
	Quantity       int64       `json:"quantity" db:"quantity"`
	FilledQuantity int64       `json:"filled_quantity" db:"filled_quantity"`
	Status         OrderStatus `json:"status" db:"status"`
	IsMarketMaker  bool        `json:"is_market_maker" db:"is_market_maker"`
	Sequence       int64       `json:"sequence" db:"sequence"` // time priority within a price level
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// Remaining returns the unfilled share count.
func (o *Order) Remaining() int64 { return o.Quantity - o.FilledQuantity }

// Trade is the immutable record of a match. Append-only; the trade log is
// the audit trail for reconstructing any position from scratch.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	MarketID     string          `json:"market_id" db:"market_id"`
	Side         Side            `json:"side" db:"side"`
	BuyOrderID   string          `json:"buy_order_id" db:"buy_order_id"`
	SellOrderID  string          `json:"sell_order_id" db:"sell_order_id"`
	BuyerUserID  string          `json:"buyer_user_id" db:"buyer_user_id"`
	SellerUserID string          `json:"seller_user_id" db:"seller_user_id"`
	Price        int64           `json:"price" db:"price"` // cents, always the resting order's price
	Quantity     int64           `json:"quantity" db:"quantity"`
	Total        decimal.Decimal `json:"total" db:"total"` // price × quantity in DuCoins
	ExecutedAt   time.Time       `json:"executed_at" db:"executed_at"`
}

// Position is a holding of one outcome in one market.
//
// AvgCost is the quantity-weighted average price paid per share, reset when
// Shares reaches zero. Shares may go negative only for the house account:
// the market maker runs a short book when it quotes asks without inventory.
type Position struct {
	UserID      string          `json:"user_id" db:"user_id"`
	MarketID    string          `json:"market_id" db:"market_id"`
	Side        Side            `json:"side" db:"side"`
	Shares      int64           `json:"shares" db:"shares"`
	AvgCost     decimal.Decimal `json:"avg_cost" db:"avg_cost"`     // DuCoins per share
	CostBasis   decimal.Decimal `json:"cost_basis" db:"cost_basis"` // what is invested in current shares
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
}

// Transaction is an immutable record paired with every balance mutation.
type Transaction struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Type         TransactionType `json:"type" db:"type"`
	Amount       decimal.Decimal `json:"amount" db:"amount"` // signed delta in DuCoins
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	Description  string          `json:"description,omitempty" db:"description"`
	ReferenceID  string          `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Price bounds for limit orders, in cents.
const (
	MinPriceCents int64 = 1
	MaxPriceCents int64 = 99
	// PayoutCents is what each winning share pays at settlement.
	PayoutCents int64 = 100
)

// Cents converts an amount of integer cents to a DuCoin decimal.
func Cents(c int64) decimal.Decimal { return decimal.New(c, -2) }

// CostOf returns the DuCoin cost of qty shares at price cents.
func CostOf(priceCents, qty int64) decimal.Decimal {
	return decimal.New(priceCents*qty, -2)
}
