// Package position tracks each (user, market, side) holding: share count,
// weighted-average cost basis, and realized P&L.
//
// Shares follow the same reservation protocol as ledger funds: a sell order
// reserves shares before matching so no two orders can promise the same
// inventory. The house account is exempt from the sufficiency check and may
// run a short (negative) book; everyone else can never go below zero.
package position

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/dumarket/trading-engine/internal/model"
)

// ErrInsufficientShares means the user does not hold enough unreserved shares
// of that side to cover a sell.
var ErrInsufficientShares = errors.New("insufficient shares")

type key struct {
	userID   string
	marketID string
	side     model.Side
}

type holding struct {
	pos      model.Position
	reserved int64 // shares promised to working sell orders
}

// Tracker is the in-process authority for positions.
type Tracker struct {
	mu       sync.Mutex
	holdings map[key]*holding
	houseID  string
}

// NewTracker creates a tracker with the given house account id.
func NewTracker(houseID string) *Tracker {
	return &Tracker{holdings: make(map[key]*holding), houseID: houseID}
}

func (t *Tracker) get(k key) *holding {
	h, ok := t.holdings[k]
	if !ok {
		h = &holding{pos: model.Position{
			UserID:      k.userID,
			MarketID:    k.marketID,
			Side:        k.side,
			AvgCost:     decimal.Zero,
			CostBasis:   decimal.Zero,
			RealizedPnL: decimal.Zero,
		}}
		t.holdings[k] = h
	}
	return h
}

// ReserveShares holds qty shares for a pending sell. The house account always
// succeeds (it may sell inventory it does not have).
func (t *Tracker) ReserveShares(userID, marketID string, side model.Side, qty int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.get(key{userID, marketID, side})
	if userID != t.houseID {
		available := h.pos.Shares - h.reserved
		if available < qty {
			return fmt.Errorf("%w: hold %d unreserved %s shares, need %d",
				ErrInsufficientShares, available, side, qty)
		}
	}
	h.reserved += qty
	return nil
}

// ReleaseShares returns reserved shares to the available count.
func (t *Tracker) ReleaseShares(userID, marketID string, side model.Side, qty int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.get(key{userID, marketID, side})
	h.reserved -= qty
	if h.reserved < 0 {
		h.reserved = 0
	}
}

// Buy applies a buy fill: shares increase and the average cost basis becomes
// the quantity-weighted average of the prior holding and this fill.
func (t *Tracker) Buy(userID, marketID string, side model.Side, qty, priceCents int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.get(key{userID, marketID, side})
	cost := model.CostOf(priceCents, qty)
	h.pos.Shares += qty
	h.pos.CostBasis = h.pos.CostBasis.Add(cost)
	if h.pos.Shares > 0 {
		h.pos.AvgCost = h.pos.CostBasis.Div(decimal.NewFromInt(h.pos.Shares)).Round(4)
	} else {
		// House covering a short; average cost is undefined without longs.
		h.pos.AvgCost = decimal.Zero
	}
}

// Sell applies a sell fill, consuming the reservation made at submit time.
// Shares decrease, the average cost is unchanged, and the realized P&L grows
// by qty × (price − avg cost). Returns the realized delta.
func (t *Tracker) Sell(userID, marketID string, side model.Side, qty, priceCents int64) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.get(key{userID, marketID, side})
	h.reserved -= qty
	if h.reserved < 0 {
		h.reserved = 0
	}

	proceeds := model.CostOf(priceCents, qty)
	costOfSold := h.pos.AvgCost.Mul(decimal.NewFromInt(qty))
	realized := proceeds.Sub(costOfSold)

	h.pos.Shares -= qty
	h.pos.CostBasis = h.pos.CostBasis.Sub(costOfSold)
	h.pos.RealizedPnL = h.pos.RealizedPnL.Add(realized)
	if h.pos.Shares == 0 {
		// Average cost is undefined once flat.
		h.pos.AvgCost = decimal.Zero
		h.pos.CostBasis = decimal.Zero
	}
	return realized
}

// Get returns the user's position on one side of a market.
func (t *Tracker) Get(userID, marketID string, side model.Side) model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.holdings[key{userID, marketID, side}]; ok {
		return h.pos
	}
	return model.Position{UserID: userID, MarketID: marketID, Side: side,
		AvgCost: decimal.Zero, CostBasis: decimal.Zero, RealizedPnL: decimal.Zero}
}

// Positions returns every position of the user that holds shares or has
// realized P&L.
func (t *Tracker) Positions(userID string) []model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.Position
	for k, h := range t.holdings {
		if k.userID != userID {
			continue
		}
		if h.pos.Shares != 0 || !h.pos.RealizedPnL.IsZero() {
			out = append(out, h.pos)
		}
	}
	return out
}

// ByMarket returns every nonzero holding in the market.
func (t *Tracker) ByMarket(marketID string) []model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.Position
	for k, h := range t.holdings {
		if k.marketID == marketID && h.pos.Shares != 0 {
			out = append(out, h.pos)
		}
	}
	return out
}

// RealizedByUser sums realized P&L across all markets per user, for the
// leaderboard.
func (t *Tracker) RealizedByUser() map[string]decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	totals := make(map[string]decimal.Decimal)
	for k, h := range t.holdings {
		totals[k.userID] = totals[k.userID].Add(h.pos.RealizedPnL)
	}
	return totals
}

// SettlementResult is the per-user outcome of settling one market.
type SettlementResult struct {
	UserID        string          `json:"user_id"`
	MarketID      string          `json:"market_id"`
	WinningShares int64           `json:"winning_shares"`
	LosingShares  int64           `json:"losing_shares"`
	Payout        decimal.Decimal `json:"payout"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
}

// SettleMarket closes out every holding in the market in one atomic step.
// Winning shares realize payout − cost basis, losing shares realize the full
// loss of their cost basis, and both sides' share counts drop to zero. The
// returned payouts (1 DuCoin per winning share, negative for a house short)
// have not yet been credited — that is the settlement engine's job, through
// the ledger.
func (t *Tracker) SettleMarket(marketID string, winner model.Side) []SettlementResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	byUser := make(map[string]*SettlementResult)
	order := []string{}
	for k, h := range t.holdings {
		if k.marketID != marketID || (h.pos.Shares == 0 && h.reserved == 0) {
			continue
		}
		r, ok := byUser[k.userID]
		if !ok {
			r = &SettlementResult{UserID: k.userID, MarketID: marketID,
				Payout: decimal.Zero, ProfitLoss: decimal.Zero}
			byUser[k.userID] = r
			order = append(order, k.userID)
		}

		var pnl decimal.Decimal
		if k.side == winner {
			payout := model.Cents(h.pos.Shares * model.PayoutCents)
			pnl = payout.Sub(h.pos.CostBasis)
			r.WinningShares += h.pos.Shares
			r.Payout = r.Payout.Add(payout)
		} else {
			pnl = h.pos.CostBasis.Neg()
			r.LosingShares += h.pos.Shares
		}
		r.ProfitLoss = r.ProfitLoss.Add(pnl)

		h.pos.RealizedPnL = h.pos.RealizedPnL.Add(pnl)
		h.pos.Shares = 0
		h.pos.AvgCost = decimal.Zero
		h.pos.CostBasis = decimal.Zero
		h.reserved = 0
	}

	out := make([]SettlementResult, 0, len(order))
	for _, userID := range order {
		out = append(out, *byUser[userID])
	}
	return out
}

// Unrealized computes shares × (reference price − avg cost) for a position.
// The reference price is in cents.
func Unrealized(pos model.Position, refPriceCents int64) decimal.Decimal {
	if pos.Shares == 0 {
		return decimal.Zero
	}
	ref := model.Cents(refPriceCents)
	return ref.Sub(pos.AvgCost).Mul(decimal.NewFromInt(pos.Shares)).Round(4)
}
