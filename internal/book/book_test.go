package book_test

import (
	"testing"

	"github.com/dumarket/trading-engine/internal/book"
)

func resting(id string, price, qty, seq int64) *book.RestingOrder {
	return &book.RestingOrder{OrderID: id, UserID: "u-" + id, Price: price, Remaining: qty, Sequence: seq}
}

func TestInsertAndBestPrices(t *testing.T) {
	b := book.New()

	if _, ok := b.BestBid(); ok {
		t.Fatal("empty book should have no best bid")
	}

	b.Insert(book.Bid, resting("b1", 40, 10, 1))
	b.Insert(book.Bid, resting("b2", 45, 5, 2))
	b.Insert(book.Bid, resting("b3", 38, 7, 3))
	b.Insert(book.Ask, resting("a1", 55, 20, 4))
	b.Insert(book.Ask, resting("a2", 52, 3, 5))

	if bid, _ := b.BestBid(); bid != 45 {
		t.Errorf("best bid = %d, want 45", bid)
	}
	if ask, _ := b.BestAsk(); ask != 52 {
		t.Errorf("best ask = %d, want 52", ask)
	}
	if b.Len() != 5 {
		t.Errorf("len = %d, want 5", b.Len())
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	b := book.New()
	if err := b.Insert(book.Bid, resting("o1", 40, 10, 1)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := b.Insert(book.Bid, resting("o1", 41, 10, 2)); err == nil {
		t.Error("duplicate id on same side should be rejected")
	}
	// The same id must never appear on both sides of a book.
	if err := b.Insert(book.Ask, resting("o1", 60, 10, 3)); err == nil {
		t.Error("duplicate id on opposite side should be rejected")
	}
}

func TestFIFOWithinLevel(t *testing.T) {
	b := book.New()
	b.Insert(book.Ask, resting("first", 50, 10, 1))
	b.Insert(book.Ask, resting("second", 50, 10, 2))

	if got := b.PeekBest(book.Ask).OrderID; got != "first" {
		t.Fatalf("peek = %s, want first", got)
	}
	if err := b.Fill("first", 10); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if got := b.PeekBest(book.Ask).OrderID; got != "second" {
		t.Errorf("peek after fill = %s, want second", got)
	}
}

func TestFillPartialKeepsOrder(t *testing.T) {
	b := book.New()
	b.Insert(book.Bid, resting("o1", 40, 10, 1))

	if err := b.Fill("o1", 4); err != nil {
		t.Fatalf("fill: %v", err)
	}
	o := b.PeekBest(book.Bid)
	if o == nil || o.Remaining != 6 {
		t.Fatalf("remaining = %v, want 6", o)
	}
	if err := b.Fill("o1", 7); err == nil {
		t.Error("overfill should be rejected")
	}
}

func TestRemoveDropsEmptyLevel(t *testing.T) {
	b := book.New()
	b.Insert(book.Ask, resting("o1", 50, 10, 1))
	b.Insert(book.Ask, resting("o2", 55, 10, 2))

	removed, err := b.Remove("o1")
	if err != nil || removed.OrderID != "o1" {
		t.Fatalf("remove: %v %v", removed, err)
	}
	if ask, _ := b.BestAsk(); ask != 55 {
		t.Errorf("best ask = %d, want 55 after level emptied", ask)
	}
	if _, err := b.Remove("o1"); err == nil {
		t.Error("removing twice should fail")
	}
}

func TestDepthAggregation(t *testing.T) {
	b := book.New()
	b.Insert(book.Bid, resting("o1", 40, 10, 1))
	b.Insert(book.Bid, resting("o2", 40, 5, 2))
	b.Insert(book.Bid, resting("o3", 35, 8, 3))
	b.Insert(book.Bid, resting("o4", 30, 2, 4))

	depth := b.Depth(book.Bid, 2)
	if len(depth) != 2 {
		t.Fatalf("depth rows = %d, want 2", len(depth))
	}
	if depth[0].Price != 40 || depth[0].Quantity != 15 || depth[0].Orders != 2 {
		t.Errorf("top level = %+v, want 40/15/2", depth[0])
	}
	if depth[1].Price != 35 {
		t.Errorf("second level price = %d, want 35", depth[1].Price)
	}
}

func TestOrdersOwnedBy(t *testing.T) {
	b := book.New()
	b.Insert(book.Bid, &book.RestingOrder{OrderID: "o1", UserID: "alice", Price: 40, Remaining: 10, Sequence: 1})
	b.Insert(book.Ask, &book.RestingOrder{OrderID: "o2", UserID: "alice", Price: 60, Remaining: 5, Sequence: 2})
	b.Insert(book.Ask, &book.RestingOrder{OrderID: "o3", UserID: "bob", Price: 61, Remaining: 5, Sequence: 3})

	owned := b.OrdersOwnedBy("alice")
	if len(owned) != 2 {
		t.Errorf("alice owns %d resting orders, want 2", len(owned))
	}
}
