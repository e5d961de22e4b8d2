// Package book implements a price-time-priority limit order book for one
// (market, side) pair. Price levels live in red-black trees keyed by integer
// cents — bids descending, asks ascending — with a FIFO queue of resting
// orders inside each level. The book is a pure data structure: callers
// (the matcher) own locking and all side effects.
package book

import (
	"fmt"

	rbt "github.com/emirpasic/gods/trees/redblacktree"
)

// BookSide distinguishes the two halves of a book.
type BookSide int

const (
	Bid BookSide = iota
	Ask
)

func (s BookSide) String() string {
	if s == Bid {
		return "BID"
	}
	return "ASK"
}

// RestingOrder is the book's view of a resting limit order. Remaining is
// mutated only through Fill.
type RestingOrder struct {
	OrderID       string
	UserID        string
	Price         int64 // cents
	Remaining     int64
	Sequence      int64 // arrival order, tie-break within a price level
	IsMarketMaker bool
}

// priceLevel holds the FIFO queue of orders resting at one price.
type priceLevel struct {
	price  int64
	orders []*RestingOrder
}

func (l *priceLevel) totalQuantity() int64 {
	var total int64
	for _, o := range l.orders {
		total += o.Remaining
	}
	return total
}

// Level is one row of a depth snapshot.
type Level struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

type entryRef struct {
	side  BookSide
	level *priceLevel
}

// Book is the order book for one (market, side) pair.
type Book struct {
	bids  *rbt.Tree // int64 price → *priceLevel, best (highest) first
	asks  *rbt.Tree // int64 price → *priceLevel, best (lowest) first
	index map[string]entryRef
}

// New returns an empty book.
func New() *Book {
	return &Book{
		bids:  rbt.NewWith(bidComparator),
		asks:  rbt.NewWith(askComparator),
		index: make(map[string]entryRef),
	}
}

func (b *Book) tree(side BookSide) *rbt.Tree {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

// Insert places the order at the tail of its price level's queue, creating
// the level if none exists at that price. A duplicate order id — on either
// side — is rejected.
func (b *Book) Insert(side BookSide, o *RestingOrder) error {
	if _, exists := b.index[o.OrderID]; exists {
		return fmt.Errorf("order %s already in book", o.OrderID)
	}
	tree := b.tree(side)
	var level *priceLevel
	if v, found := tree.Get(o.Price); found {
		level = v.(*priceLevel)
	} else {
		level = &priceLevel{price: o.Price}
		tree.Put(o.Price, level)
	}
	level.orders = append(level.orders, o)
	b.index[o.OrderID] = entryRef{side: side, level: level}
	return nil
}

// Remove deletes the order from the book, dropping its level if it becomes
// empty, and returns the removed order.
func (b *Book) Remove(orderID string) (*RestingOrder, error) {
	ref, ok := b.index[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not in book", orderID)
	}
	var removed *RestingOrder
	for i, o := range ref.level.orders {
		if o.OrderID == orderID {
			removed = o
			ref.level.orders = append(ref.level.orders[:i], ref.level.orders[i+1:]...)
			break
		}
	}
	delete(b.index, orderID)
	if len(ref.level.orders) == 0 {
		b.tree(ref.side).Remove(ref.level.price)
	}
	return removed, nil
}

// Fill reduces the order's remaining quantity by qty, removing it from the
// book when fully consumed.
func (b *Book) Fill(orderID string, qty int64) error {
	ref, ok := b.index[orderID]
	if !ok {
		return fmt.Errorf("order %s not in book", orderID)
	}
	for _, o := range ref.level.orders {
		if o.OrderID != orderID {
			continue
		}
		if qty > o.Remaining {
			return fmt.Errorf("fill %d exceeds remaining %d on order %s", qty, o.Remaining, orderID)
		}
		o.Remaining -= qty
		if o.Remaining == 0 {
			_, err := b.Remove(orderID)
			return err
		}
		return nil
	}
	return fmt.Errorf("order %s not in book", orderID)
}

// PeekBest returns the oldest order at the side's best price, or nil if the
// side is empty.
func (b *Book) PeekBest(side BookSide) *RestingOrder {
	tree := b.tree(side)
	node := tree.Left() // leftmost per comparator = best price
	if node == nil {
		return nil
	}
	level := node.Value.(*priceLevel)
	return level.orders[0]
}

// BestBid returns the highest bid price with resting quantity.
func (b *Book) BestBid() (int64, bool) {
	if o := b.PeekBest(Bid); o != nil {
		return o.Price, true
	}
	return 0, false
}

// BestAsk returns the lowest ask price with resting quantity.
func (b *Book) BestAsk() (int64, bool) {
	if o := b.PeekBest(Ask); o != nil {
		return o.Price, true
	}
	return 0, false
}

// Depth returns up to levels rows of aggregate quantity, best price first.
func (b *Book) Depth(side BookSide, levels int) []Level {
	out := make([]Level, 0, levels)
	it := b.tree(side).Iterator()
	for it.Next() {
		if len(out) >= levels {
			break
		}
		level := it.Value().(*priceLevel)
		out = append(out, Level{
			Price:    level.price,
			Quantity: level.totalQuantity(),
			Orders:   len(level.orders),
		})
	}
	return out
}

// Orders returns every resting order on both sides, best prices first,
// FIFO within each level.
func (b *Book) Orders() []*RestingOrder {
	var out []*RestingOrder
	for _, side := range []BookSide{Bid, Ask} {
		it := b.tree(side).Iterator()
		for it.Next() {
			out = append(out, it.Value().(*priceLevel).orders...)
		}
	}
	return out
}

// OrdersOwnedBy returns the resting orders belonging to userID.
func (b *Book) OrdersOwnedBy(userID string) []*RestingOrder {
	var out []*RestingOrder
	for _, o := range b.Orders() {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out
}

// Len is the number of resting orders across both sides.
func (b *Book) Len() int { return len(b.index) }

func askComparator(a, b interface{}) int {
	pa, pb := a.(int64), b.(int64)
	switch {
	case pa > pb:
		return 1
	case pa < pb:
		return -1
	default:
		return 0
	}
}

func bidComparator(a, b interface{}) int {
	pa, pb := a.(int64), b.(int64)
	switch {
	case pa > pb:
		return -1
	case pa < pb:
		return 1
	default:
		return 0
	}
}
