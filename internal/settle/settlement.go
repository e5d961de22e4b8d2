// Package settle resolves markets and pays out positions. It drives the
// matching core's resolution primitive (halt trading, cancel and refund
// resting orders), then closes out every holding through the position
// tracker and credits winners through the ledger.
package settle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/dumarket/trading-engine/internal/engine"
	"github.com/dumarket/trading-engine/internal/model"
	"github.com/dumarket/trading-engine/internal/position"
	"github.com/dumarket/trading-engine/internal/store"
)

// Engine settles resolved markets.
type Engine struct {
	core  *engine.Engine
	store store.Store
}

// New creates a settlement engine on top of the matching core.
func New(core *engine.Engine, st store.Store) *Engine {
	return &Engine{core: core, store: st}
}

// MarketSettlement summarizes one market's resolution.
type MarketSettlement struct {
	Market      model.Market                `json:"market"`
	Winner      model.Side                  `json:"winner"`
	Results     []position.SettlementResult `json:"results"`
	TotalPayout decimal.Decimal             `json:"total_payout"`
}

// Resolve declares the winning outcome and settles every position: winning
// shares pay 1 DuCoin each, losing shares realize their full cost basis as a
// loss, and all share counts drop to zero.
//
// The core's resolution transition is the serialization point: once the
// market is RESOLVED no order can trade or cancel against it, so the payout
// pass that follows observes a frozen book. Re-resolving fails rather than
// double-paying.
func (s *Engine) Resolve(ctx context.Context, marketID string, winner model.Side) (*MarketSettlement, error) {
	m, err := s.core.Resolve(ctx, marketID, winner)
	if err != nil {
		return nil, err
	}

	tracker := s.core.Positions()
	results := tracker.SettleMarket(marketID, winner)

	total := decimal.Zero
	for _, r := range results {
		if !r.Payout.IsZero() {
			desc := fmt.Sprintf("Market payout: %d winning %s shares", r.WinningShares, winner)
			if _, err := s.core.Ledger().Credit(r.UserID, r.Payout, model.TxMarketPayout, desc, marketID); err != nil {
				slog.Error("credit payout failed", "user", r.UserID, "market", marketID, "error", err)
			}
			total = total.Add(r.Payout)
		}
		for _, side := range []model.Side{model.SideYes, model.SideNo} {
			pos := tracker.Get(r.UserID, marketID, side)
			if err := s.store.SavePosition(ctx, &pos); err != nil {
				slog.Error("persist position failed", "user", r.UserID, "market", marketID, "error", err)
			}
		}
	}

	slog.Info("market settled",
		"market", marketID,
		"winner", winner,
		"users", len(results),
		"total_payout", total.String(),
	)
	return &MarketSettlement{
		Market:      *m,
		Winner:      winner,
		Results:     results,
		TotalPayout: total,
	}, nil
}
