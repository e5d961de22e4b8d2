// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The in-process engine state is authoritative for matching; the store holds
// the recoverable record: markets, orders (terminal ones included, for
// audit), the append-only trade log, positions, and the append-only
// transaction log.
package store

import (
	"context"

	"github.com/dumarket/trading-engine/internal/model"
)

// Store is the persistence interface.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user account.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarket updates a market's status/resolution fields.
	UpdateMarket(ctx context.Context, market *model.Market) error

	// DeleteMarket removes a market record.
	DeleteMarket(ctx context.Context, id string) error

	// --- Orders ---

	// SaveOrder upserts an order, including terminal ones.
	SaveOrder(ctx context.Context, order *model.Order) error

	// ListOrdersByMarket returns all orders for a market.
	ListOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error)

	// --- Immutable trade log ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// ListTradesByMarket returns all trades for a market, oldest first.
	ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// --- Positions ---

	// SavePosition upserts a (user, market, side) position.
	SavePosition(ctx context.Context, pos *model.Position) error

	// ListPositionsByUser returns the user's positions.
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// --- Immutable transaction log ---

	// InsertTransaction appends an immutable balance-change record.
	InsertTransaction(ctx context.Context, tx *model.Transaction) error

	// ListTransactionsByUser returns the user's transactions, oldest first.
	ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error)
}
