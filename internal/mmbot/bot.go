// Package mmbot is the house market maker. On a fixed interval it cancels
// its own stale quotes and posts a fresh bid/ask pair around each side's
// fair price, skewed against its inventory so it backs away from the side it
// is long. It is just another order source: every quote goes through the
// same submission path as user orders, under the house account.
package mmbot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dumarket/trading-engine/internal/engine"
	"github.com/dumarket/trading-engine/internal/model"
)

// DefaultUserID is the house account the bot trades under.
const DefaultUserID = "MARKET_MAKER_BOT"

// Config holds the quoting parameters. All prices are integer cents.
type Config struct {
	UserID            string
	SpreadCents       int64 // full bid/ask spread
	BaseSize          int64 // shares per quote
	DefaultFairCents  int64 // fair YES price before any trades
	MaxInventory      int64 // per-side position cap, long or short
	SkewCentsPerShare int64 // price shift per share of inventory
	RefreshInterval   time.Duration
}

// DefaultConfig mirrors the standard house setup: a 4¢ spread on 100-share
// quotes around 50¢, capped at 500 shares of inventory, skewing 1¢ per share.
func DefaultConfig() Config {
	return Config{
		UserID:            DefaultUserID,
		SpreadCents:       4,
		BaseSize:          100,
		DefaultFairCents:  50,
		MaxInventory:      500,
		SkewCentsPerShare: 1,
		RefreshInterval:   5 * time.Second,
	}
}

// Quote is one side's bid/ask pair. A zero size suppresses that half.
type Quote struct {
	BidPrice int64 `json:"bid_price,omitempty"`
	BidSize  int64 `json:"bid_size"`
	AskPrice int64 `json:"ask_price,omitempty"`
	AskSize  int64 `json:"ask_size"`
}

// Status is the bot's view of one market.
type Status struct {
	MarketID   string               `json:"market_id"`
	Inventory  map[model.Side]int64 `json:"inventory"`
	FairPrices map[model.Side]int64 `json:"fair_prices"`
	Quotes     map[model.Side]Quote `json:"quotes"`
}

// Bot quotes both sides of every open market.
type Bot struct {
	cfg  Config
	core *engine.Engine

	mu   sync.Mutex
	fair map[string]int64 // marketID → YES fair price override, cents
}

// New creates a bot. Zero-valued config fields fall back to defaults.
func New(core *engine.Engine, cfg Config) *Bot {
	def := DefaultConfig()
	if cfg.UserID == "" {
		cfg.UserID = def.UserID
	}
	if cfg.SpreadCents <= 0 {
		cfg.SpreadCents = def.SpreadCents
	}
	if cfg.BaseSize <= 0 {
		cfg.BaseSize = def.BaseSize
	}
	if cfg.DefaultFairCents <= 0 {
		cfg.DefaultFairCents = def.DefaultFairCents
	}
	if cfg.MaxInventory <= 0 {
		cfg.MaxInventory = def.MaxInventory
	}
	if cfg.SkewCentsPerShare < 0 {
		cfg.SkewCentsPerShare = def.SkewCentsPerShare
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	return &Bot{cfg: cfg, core: core, fair: make(map[string]int64)}
}

// SetFairPrice overrides the YES fair price for a market, in cents.
func (b *Bot) SetFairPrice(marketID string, yesCents int64) error {
	if yesCents < model.MinPriceCents || yesCents > model.MaxPriceCents {
		return engine.ErrInvalidPrice
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fair[marketID] = yesCents
	return nil
}

// fairPrice returns the side's fair value: the explicit override if set,
// else the side's last trade, else the default.
func (b *Bot) fairPrice(marketID string, side model.Side) int64 {
	b.mu.Lock()
	yes, overridden := b.fair[marketID]
	b.mu.Unlock()
	if overridden {
		if side == model.SideYes {
			return yes
		}
		return 100 - yes
	}
	if last, ok := b.core.LastTradePrice(marketID, side); ok {
		return last
	}
	if side == model.SideYes {
		return b.cfg.DefaultFairCents
	}
	return 100 - b.cfg.DefaultFairCents
}

func clampPrice(p int64) int64 {
	if p < model.MinPriceCents {
		return model.MinPriceCents
	}
	if p > model.MaxPriceCents {
		return model.MaxPriceCents
	}
	return p
}

// CalculateQuote derives the bid/ask pair for one side from the fair price,
// the spread, and the current inventory. Long inventory shifts both prices
// down (quote to sell, reluctant to buy); short inventory shifts them up.
// Quote sizes shrink to zero as inventory approaches the cap.
func (b *Bot) CalculateQuote(marketID string, side model.Side) Quote {
	fair := b.fairPrice(marketID, side)
	inventory := b.core.Positions().Get(b.cfg.UserID, marketID, side).Shares
	halfSpread := b.cfg.SpreadCents / 2
	skew := inventory * b.cfg.SkewCentsPerShare

	bid := clampPrice(fair - halfSpread - skew)
	ask := clampPrice(fair + halfSpread - skew)
	if bid >= ask {
		mid := (bid + ask) / 2
		bid = clampPrice(mid - 1)
		ask = clampPrice(mid + 1)
	}

	q := Quote{BidPrice: bid, BidSize: b.cfg.BaseSize, AskPrice: ask, AskSize: b.cfg.BaseSize}

	if buyRoom := b.cfg.MaxInventory - inventory; buyRoom <= 0 {
		q.BidSize, q.BidPrice = 0, 0
	} else if buyRoom < q.BidSize {
		q.BidSize = buyRoom
	}
	if sellRoom := b.cfg.MaxInventory + inventory; sellRoom <= 0 {
		q.AskSize, q.AskPrice = 0, 0
	} else if sellRoom < q.AskSize {
		q.AskSize = sellRoom
	}
	return q
}

// Refresh requotes one market: cancel the bot's resting orders, then post
// the current bid/ask pair on both sides.
func (b *Bot) Refresh(ctx context.Context, marketID string) error {
	for _, o := range b.core.OpenOrdersOwnedBy(marketID, b.cfg.UserID) {
		if _, err := b.core.Cancel(ctx, o.ID); err != nil &&
			!errors.Is(err, engine.ErrOrderNotCancellable) {
			return err
		}
	}

	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		q := b.CalculateQuote(marketID, side)
		if q.BidSize > 0 {
			if err := b.place(ctx, marketID, side, model.ActionBuy, q.BidSize, q.BidPrice); err != nil {
				return err
			}
		}
		if q.AskSize > 0 {
			if err := b.place(ctx, marketID, side, model.ActionSell, q.AskSize, q.AskPrice); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Bot) place(ctx context.Context, marketID string, side model.Side, action model.OrderAction, qty, price int64) error {
	_, err := b.core.Submit(ctx, engine.SubmitRequest{
		MarketID: marketID,
		UserID:   b.cfg.UserID,
		Side:     side,
		Action:   action,
		Type:     model.TypeLimit,
		Quantity: qty,
		Price:    price,
	})
	return err
}

// Run requotes every open market on the configured interval until ctx is
// cancelled. A market that closes or resolves mid-cycle is skipped.
func (b *Bot) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.RefreshInterval)
	defer ticker.Stop()

	slog.Info("market maker started",
		"user", b.cfg.UserID,
		"spread_cents", b.cfg.SpreadCents,
		"base_size", b.cfg.BaseSize,
		"interval", b.cfg.RefreshInterval,
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("market maker stopped")
			return
		case <-ticker.C:
			for _, m := range b.core.Markets() {
				if m.Status != model.MarketOpen {
					continue
				}
				if err := b.Refresh(ctx, m.ID); err != nil {
					if errors.Is(err, engine.ErrMarketNotOpen) || errors.Is(err, engine.ErrMarketNotFound) {
						continue
					}
					slog.Error("bot refresh failed", "market", m.ID, "error", err)
				}
			}
		}
	}
}

// Status reports the bot's inventory, fair prices, and current quotes for a
// market.
func (b *Bot) Status(marketID string) Status {
	st := Status{
		MarketID:   marketID,
		Inventory:  make(map[model.Side]int64, 2),
		FairPrices: make(map[model.Side]int64, 2),
		Quotes:     make(map[model.Side]Quote, 2),
	}
	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		st.Inventory[side] = b.core.Positions().Get(b.cfg.UserID, marketID, side).Shares
		st.FairPrices[side] = b.fairPrice(marketID, side)
		st.Quotes[side] = b.CalculateQuote(marketID, side)
	}
	return st
}
