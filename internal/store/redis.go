package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dumarket/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarket(ctx, m); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) DeleteMarket(ctx context.Context, id string) error {
	if err := s.primary.DeleteMarket(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) SavePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.SavePosition(ctx, p); err != nil {
		return err
	}
	// Invalidate position cache for this user.
	s.rdb.Del(ctx, positionsKey(p.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	// Cache miss.
	positions, err := s.primary.ListPositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) SaveOrder(ctx context.Context, o *model.Order) error {
	return s.primary.SaveOrder(ctx, o)
}

func (s *CachedStore) ListOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	return s.primary.ListOrdersByMarket(ctx, marketID)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.ListTradesByMarket(ctx, marketID)
}

func (s *CachedStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, tx)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string     { return fmt.Sprintf("market:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
