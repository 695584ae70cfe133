package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/markcheno/go-talib"

	"replaybench/internal/config"
	"replaybench/internal/protocol"
)

// Momentum trades perpetual markets on a fast/slow EMA crossover of the
// prices it has observed itself. A bullish cross goes long, a bearish cross
// goes short, closing any position on the other side first.
type Momentum struct {
	cfg     config.MomentumConfig
	history map[string][]float64
	open    map[string]openPosition
}

type openPosition struct {
	id   string
	side string
}

func NewMomentum(cfg config.MomentumConfig) *Momentum {
	return &Momentum{
		cfg:     cfg,
		history: make(map[string][]float64),
		open:    make(map[string]openPosition),
	}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Step(ctx context.Context, game GameClient) error {
	perps, err := game.GetPerpetuals(ctx)
	if err != nil {
		return fmt.Errorf("listing perpetuals: %w", err)
	}

	for _, p := range perps.Markets {
		m.history[p.Ticker] = append(m.history[p.Ticker], p.Price)
		side := crossover(m.history[p.Ticker], m.cfg.FastPeriod, m.cfg.SlowPeriod)
		if side == "" {
			continue
		}
		if pos, ok := m.open[p.Ticker]; ok {
			if pos.side == side {
				continue
			}
			if _, err := game.ClosePosition(ctx, protocol.ClosePositionRequest{PositionID: pos.id}); err != nil {
				return fmt.Errorf("closing %s: %w", pos.id, err)
			}
			delete(m.open, p.Ticker)
		}
		resp, err := game.OpenPosition(ctx, protocol.OpenPositionRequest{
			Ticker:   p.Ticker,
			Side:     side,
			Size:     m.cfg.Size,
			Leverage: m.cfg.Leverage,
		})
		if err != nil {
			return fmt.Errorf("opening %s %s: %w", side, p.Ticker, err)
		}
		m.open[p.Ticker] = openPosition{id: resp.PositionID, side: side}
		slog.Debug("momentum agent crossed", "ticker", p.Ticker, "side", side, "entry", resp.EntryPrice)
		// one trade per step
		return nil
	}
	return nil
}

// crossover reports LONG or SHORT when the fast EMA crossed the slow EMA on
// the latest sample, and "" otherwise.
func crossover(closes []float64, fast, slow int) string {
	if len(closes) < slow+1 {
		return ""
	}
	fastEMA := talib.Ema(closes, fast)
	slowEMA := talib.Ema(closes, slow)
	n := len(closes) - 1
	cur := fastEMA[n] - slowEMA[n]
	prev := fastEMA[n-1] - slowEMA[n-1]
	switch {
	case cur > 0 && prev <= 0:
		return "LONG"
	case cur < 0 && prev >= 0:
		return "SHORT"
	default:
		return ""
	}
}
