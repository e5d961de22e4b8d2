package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dumarket/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// prices are integer cents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, display_name, balance, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		u.ID, u.DisplayName, u.Balance.String(), u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT id, display_name, balance::TEXT, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.DisplayName, &balance, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, question, description, creator_id, status, resolved_outcome, resolved_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.Question, m.Description, m.CreatorID, m.Status, m.ResolvedOutcome, m.ResolvedAt, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx,
		`SELECT id, question, description, creator_id, status, resolved_outcome, resolved_at, created_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.Question, &m.Description, &m.CreatorID, &m.Status,
			&m.ResolvedOutcome, &m.ResolvedAt, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, question, description, creator_id, status, resolved_outcome, resolved_at, created_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.ID, &m.Question, &m.Description, &m.CreatorID, &m.Status,
			&m.ResolvedOutcome, &m.ResolvedAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET status = $2, resolved_outcome = $3, resolved_at = $4
		 WHERE id = $1`,
		m.ID, m.Status, m.ResolvedOutcome, m.ResolvedAt,
	)
	return err
}

func (s *PostgresStore) DeleteMarket(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM markets WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) SaveOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, market_id, side, action, type, price, quantity,
		                     filled_quantity, status, is_market_maker, sequence, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE
		 SET filled_quantity = EXCLUDED.filled_quantity,
		     status = EXCLUDED.status,
		     updated_at = EXCLUDED.updated_at`,
		o.ID, o.UserID, o.MarketID, o.Side, o.Action, o.Type, o.Price, o.Quantity,
		o.FilledQuantity, o.Status, o.IsMarketMaker, o.Sequence, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) ListOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_id, side, action, type, price, quantity,
		        filled_quantity, status, is_market_maker, sequence, created_at, updated_at
		 FROM orders WHERE market_id = $1 ORDER BY sequence`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.MarketID, &o.Side, &o.Action, &o.Type,
			&o.Price, &o.Quantity, &o.FilledQuantity, &o.Status, &o.IsMarketMaker,
			&o.Sequence, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, market_id, side, buy_order_id, sell_order_id,
		                     buyer_user_id, seller_user_id, price, quantity, total, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11)`,
		t.ID, t.MarketID, t.Side, t.BuyOrderID, t.SellOrderID,
		t.BuyerUserID, t.SellerUserID, t.Price, t.Quantity, t.Total.String(), t.ExecutedAt,
	)
	return err
}

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, side, buy_order_id, sell_order_id,
		        buyer_user_id, seller_user_id, price, quantity, total::TEXT, executed_at
		 FROM trades WHERE market_id = $1 ORDER BY executed_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var total string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.Side, &t.BuyOrderID, &t.SellOrderID,
			&t.BuyerUserID, &t.SellerUserID, &t.Price, &t.Quantity, &total, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Total, _ = decimal.NewFromString(total)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, side, shares, avg_cost, cost_basis, realized_pnl)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)
		 ON CONFLICT (user_id, market_id, side) DO UPDATE
		 SET shares = EXCLUDED.shares,
		     avg_cost = EXCLUDED.avg_cost,
		     cost_basis = EXCLUDED.cost_basis,
		     realized_pnl = EXCLUDED.realized_pnl`,
		p.UserID, p.MarketID, p.Side, p.Shares,
		p.AvgCost.String(), p.CostBasis.String(), p.RealizedPnL.String(),
	)
	return err
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id, side, shares, avg_cost::TEXT, cost_basis::TEXT, realized_pnl::TEXT
		 FROM positions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avgCost, costBasis, realized string
		if err := rows.Scan(&p.UserID, &p.MarketID, &p.Side, &p.Shares,
			&avgCost, &costBasis, &realized); err != nil {
			return nil, err
		}
		p.AvgCost, _ = decimal.NewFromString(avgCost)
		p.CostBasis, _ = decimal.NewFromString(costBasis)
		p.RealizedPnL, _ = decimal.NewFromString(realized)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, balance_after, description, reference_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
		tx.ID, tx.UserID, tx.Type, tx.Amount.String(), tx.BalanceAfter.String(),
		tx.Description, tx.ReferenceID, tx.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount::TEXT, balance_after::TEXT, description, reference_id, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var amount, after string
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &amount, &after,
			&tx.Description, &tx.ReferenceID, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Amount, _ = decimal.NewFromString(amount)
		tx.BalanceAfter, _ = decimal.NewFromString(after)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
