package replay

import (
	"fmt"

	"github.com/shopspring/decimal"

	"replaybench/internal/scenario"
)

const (
	SideLong  = "LONG"
	SideShort = "SHORT"

	MaxLeverage = 100
)

// PredictionPosition is a held stake in one prediction market outcome.
type PredictionPosition struct {
	ID         string           `json:"id"`
	MarketID   string           `json:"marketId"`
	Outcome    scenario.Outcome `json:"outcome"`
	Amount     float64          `json:"amount"`
	Shares     float64          `json:"shares"`
	EntryPrice float64          `json:"entryPrice"`
	OpenedTick int              `json:"openedTick"`
}

// PerpPosition is a leveraged position, marked to market on every tick.
type PerpPosition struct {
	ID            string  `json:"id"`
	Ticker        string  `json:"ticker"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	Leverage      float64 `json:"leverage"`
	EntryPrice    float64 `json:"entryPrice"`
	MarkPrice     float64 `json:"markPrice"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	RealizedPnL   float64 `json:"realizedPnl"`
	OpenedTick    int     `json:"openedTick"`
	ClosedTick    int     `json:"closedTick,omitempty"`
	Closed        bool    `json:"closed"`
}

// book is the per-run position arena. Positions are addressed by a stable
// sequential id and never removed.
type book struct {
	predictions []PredictionPosition
	perps       []PerpPosition
	perpIndex   map[string]int
}

func newBook() *book {
	return &book{perpIndex: make(map[string]int)}
}

func (b *book) addPrediction(p PredictionPosition) PredictionPosition {
	p.ID = fmt.Sprintf("pred-%d", len(b.predictions)+1)
	b.predictions = append(b.predictions, p)
	return p
}

func (b *book) addPerp(p PerpPosition) PerpPosition {
	p.ID = fmt.Sprintf("perp-%d", len(b.perps)+1)
	b.perpIndex[p.ID] = len(b.perps)
	b.perps = append(b.perps, p)
	return p
}

func (b *book) perp(id string) (*PerpPosition, bool) {
	idx, ok := b.perpIndex[id]
	if !ok {
		return nil, false
	}
	return &b.perps[idx], true
}

func (b *book) openCount() int {
	n := len(b.predictions)
	for _, p := range b.perps {
		if !p.Closed {
			n++
		}
	}
	return n
}

// perpPnL is (exit-entry)*size*leverage, negated for shorts.
func perpPnL(entry, exit, size, leverage float64, side string) float64 {
	d := decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromFloat(size)).
		Mul(decimal.NewFromFloat(leverage))
	if side == SideShort {
		d = d.Neg()
	}
	return d.Round(8).InexactFloat64()
}

// settlePrediction pays one unit per share on the winning side.
func settlePrediction(p PredictionPosition, resolvedYes bool) float64 {
	stake := decimal.NewFromFloat(p.Amount)
	if p.Outcome != scenario.OutcomeFor(resolvedYes) {
		return stake.Neg().InexactFloat64()
	}
	return decimal.NewFromFloat(p.Shares).Sub(stake).Round(8).InexactFloat64()
}

func sharesFor(amount, price float64) float64 {
	return decimal.NewFromFloat(amount).DivRound(decimal.NewFromFloat(price), 8).InexactFloat64()
}

// Positions returns copies of both books.
func (e *Engine) Positions() ([]PredictionPosition, []PerpPosition) {
	preds := append([]PredictionPosition(nil), e.book.predictions...)
	perps := append([]PerpPosition(nil), e.book.perps...)
	return preds, perps
}
