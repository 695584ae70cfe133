package agent

import (
	"context"
	"fmt"
	"log/slog"

	"replaybench/internal/config"
	"replaybench/internal/protocol"
)

// Threshold buys the cheap side of lopsided prediction markets: YES when the
// yes price is below the low threshold, NO when above the high one. It takes
// at most one position per step and one per market.
//
// With a sizer it treats the crossed threshold as its belief in the cheap
// side and stakes by Kelly against what is left of its balance.
type Threshold struct {
	cfg    config.ThresholdConfig
	sizer  *Sizer
	bought map[string]bool

	bankroll float64
	funded   bool
}

func NewThreshold(cfg config.ThresholdConfig) *Threshold {
	return &Threshold{cfg: cfg, sizer: SizerFromConfig(cfg), bought: make(map[string]bool)}
}

func (t *Threshold) Name() string { return "threshold" }

func (t *Threshold) Step(ctx context.Context, game GameClient) error {
	if t.sizer != nil && !t.funded {
		bal, err := game.GetBalance(ctx)
		if err != nil {
			return fmt.Errorf("reading balance: %w", err)
		}
		t.bankroll, t.funded = bal.Balance, true
		return nil
	}

	preds, err := game.GetPredictions(ctx)
	if err != nil {
		return fmt.Errorf("listing predictions: %w", err)
	}

	for _, m := range preds.Markets {
		if t.bought[m.ID] {
			continue
		}
		var outcome string
		var belief float64
		switch {
		case m.YesPrice < t.cfg.BuyYesBelow:
			outcome, belief = "YES", t.cfg.BuyYesBelow
		case m.YesPrice > t.cfg.BuyNoAbove:
			outcome, belief = "NO", 1-t.cfg.BuyNoAbove
		default:
			continue
		}

		amount := t.cfg.BetAmount
		if t.sizer != nil {
			amount = t.sizer.Size(outcome, m.YesPrice, belief, t.bankroll)
		}
		t.bought[m.ID] = true
		if amount <= 0 {
			slog.Debug("threshold agent skipped market", "market", m.ID, "yes_price", m.YesPrice, "bankroll", t.bankroll)
			continue
		}
		resp, err := game.BuyShares(ctx, protocol.BuySharesRequest{
			MarketID: m.ID,
			Outcome:  outcome,
			Amount:   amount,
		})
		if err != nil {
			return fmt.Errorf("buying %s on %s: %w", outcome, m.ID, err)
		}
		if t.sizer != nil {
			t.bankroll -= amount
		}
		slog.Debug("threshold agent bought",
			"market", m.ID,
			"outcome", outcome,
			"yes_price", m.YesPrice,
			"amount", amount,
			"shares", resp.SharesBought,
		)
		return nil
	}
	return nil
}
