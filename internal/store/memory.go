package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dumarket/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*model.User
	markets      map[string]*model.Market
	orders       map[string]*model.Order
	trades       []model.Trade
	positions    map[string]*model.Position // key: user|market|side
	transactions []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		markets:   make(map[string]*model.Market),
		orders:    make(map[string]*model.Order),
		positions: make(map[string]*model.Position),
	}
}

func posKey(userID, marketID string, side model.Side) string {
	return userID + "|" + marketID + "|" + string(side)
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; !ok {
		return fmt.Errorf("market %s not found", m.ID)
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteMarket(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[id]; !ok {
		return fmt.Errorf("market %s not found", id)
	}
	delete(s.markets, id)
	return nil
}

func (s *MemoryStore) SaveOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) ListOrdersByMarket(_ context.Context, marketID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Order
	for _, o := range s.orders {
		if o.MarketID == marketID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) SavePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.positions[posKey(p.UserID, p.MarketID, p.Side)] = &cp
	return nil
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, *tx)
	return nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Transaction
	for _, tx := range s.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}
