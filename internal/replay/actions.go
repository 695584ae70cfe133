package replay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"replaybench/internal/audit"
	"replaybench/internal/bench"
	"replaybench/internal/scenario"
	"replaybench/internal/telemetry"
)

// BuyPrediction opens a position on one side of a prediction market at the
// current price and judges it against the market's resolved outcome.
func (e *Engine) BuyPrediction(marketID string, outcome scenario.Outcome, amount float64) (PredictionPosition, error) {
	if !e.initialized {
		return PredictionPosition{}, ErrNotInitialized
	}
	if outcome != scenario.OutcomeYes && outcome != scenario.OutcomeNo {
		return PredictionPosition{}, fmt.Errorf("%w: outcome must be YES or NO, got %q", ErrInvalidParams, outcome)
	}
	if amount <= 0 {
		return PredictionPosition{}, fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	m, ok := e.stateRef().FindMarket(marketID)
	if !ok {
		return PredictionPosition{}, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	if m.Resolved {
		return PredictionPosition{}, fmt.Errorf("%w: %s", ErrMarketResolved, marketID)
	}
	price := m.Price(outcome)
	if price <= 0 {
		return PredictionPosition{}, fmt.Errorf("%w: market %s has no %s liquidity", ErrInvalidParams, marketID, outcome)
	}

	pos := e.book.addPrediction(PredictionPosition{
		MarketID:   marketID,
		Outcome:    outcome,
		Amount:     amount,
		Shares:     sharesFor(amount, price),
		EntryPrice: price,
		OpenedTick: e.tick,
	})

	var judged *bench.Correctness
	if resolvedYes, ok := e.snap.GroundTruth.MarketOutcomes[marketID]; ok {
		want := scenario.OutcomeFor(resolvedYes)
		judged = &bench.Correctness{Correct: want == outcome, Expected: string(want), Actual: string(outcome)}
	}
	e.record(bench.ActionBuyPrediction, bench.BuyPredictionParams{
		MarketID: marketID,
		Outcome:  string(outcome),
		Amount:   amount,
	}, judged)
	return pos, nil
}

// SellPrediction is accepted for protocol compatibility. Selling is not
// simulated: it returns zero proceeds and is not recorded.
func (e *Engine) SellPrediction(marketID string, shares float64) (float64, error) {
	if !e.initialized {
		return 0, ErrNotInitialized
	}
	if _, ok := e.stateRef().FindMarket(marketID); !ok {
		return 0, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return 0, nil
}

// OpenPerp opens a leveraged position at the current price. It is judged by
// the realised move over the look-ahead window.
func (e *Engine) OpenPerp(ticker, side string, size, leverage float64) (PerpPosition, error) {
	if !e.initialized {
		return PerpPosition{}, ErrNotInitialized
	}
	side = strings.ToUpper(side)
	if side != SideLong && side != SideShort {
		return PerpPosition{}, fmt.Errorf("%w: side must be LONG or SHORT, got %q", ErrInvalidParams, side)
	}
	if size <= 0 {
		return PerpPosition{}, fmt.Errorf("%w: size must be positive", ErrInvalidParams)
	}
	if leverage < 1 || leverage > MaxLeverage {
		return PerpPosition{}, fmt.Errorf("%w: leverage %.2f outside [1,%d]", ErrInvalidParams, leverage, MaxLeverage)
	}
	m, ok := e.stateRef().FindPerp(ticker)
	if !ok {
		return PerpPosition{}, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}

	pos := e.book.addPerp(PerpPosition{
		Ticker:     ticker,
		Side:       side,
		Size:       size,
		Leverage:   leverage,
		EntryPrice: m.Price,
		MarkPrice:  m.Price,
		OpenedTick: e.tick,
	})

	var judged *bench.Correctness
	if path := e.snap.GroundTruth.PriceHistory[ticker]; len(path) > 0 {
		want := SideShort
		if audit.DirectionCorrect(path, e.tick, e.opts.LookaheadTicks, SideLong) {
			want = SideLong
		}
		judged = &bench.Correctness{
			Correct:  audit.DirectionCorrect(path, e.tick, e.opts.LookaheadTicks, side),
			Expected: want,
			Actual:   side,
		}
	}
	e.record(bench.ActionOpenPerp, bench.OpenPerpParams{
		Ticker:   ticker,
		Side:     side,
		Size:     size,
		Leverage: leverage,
	}, judged)
	return pos, nil
}

// ClosePerp realises a leveraged position at the current price.
func (e *Engine) ClosePerp(positionID string) (PerpPosition, error) {
	if !e.initialized {
		return PerpPosition{}, ErrNotInitialized
	}
	p, ok := e.book.perp(positionID)
	if !ok {
		return PerpPosition{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if p.Closed {
		return PerpPosition{}, fmt.Errorf("%w: %s", ErrPositionClosed, positionID)
	}

	exit := p.MarkPrice
	if m, ok := e.stateRef().FindPerp(p.Ticker); ok {
		exit = m.Price
	}
	p.MarkPrice = exit
	p.RealizedPnL = perpPnL(p.EntryPrice, exit, p.Size, p.Leverage, p.Side)
	p.UnrealizedPnL = 0
	p.Closed = true
	p.ClosedTick = e.tick

	e.record(bench.ActionClosePerp, bench.ClosePerpParams{PositionID: positionID}, &bench.Correctness{
		Correct:  p.RealizedPnL > 0,
		Expected: "profit",
		Actual:   fmt.Sprintf("%.4f", p.RealizedPnL),
	})
	return *p, nil
}

// CreatePost publishes a post to the feed under the agent's id.
func (e *Engine) CreatePost(content, marketID string) (scenario.Post, error) {
	if !e.initialized {
		return scenario.Post{}, ErrNotInitialized
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return scenario.Post{}, fmt.Errorf("%w: post content is empty", ErrInvalidParams)
	}
	if marketID != "" {
		if _, ok := e.stateRef().FindMarket(marketID); !ok {
			return scenario.Post{}, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
		}
	}
	post := scenario.Post{
		ID:        fmt.Sprintf("agent-post-%d", len(e.social.posts)+1),
		AuthorID:  e.opts.AgentID,
		Content:   content,
		Timestamp: e.stateRef().Timestamp,
		MarketID:  marketID,
	}
	e.social.posts = append(e.social.posts, post)
	e.record(bench.ActionCreatePost, bench.CreatePostParams{Content: content, MarketID: marketID}, nil)
	return post, nil
}

// JoinGroup joins a group chat. Joining a group twice is a no-op.
func (e *Engine) JoinGroup(groupID string) (scenario.GroupChat, error) {
	if !e.initialized {
		return scenario.GroupChat{}, ErrNotInitialized
	}
	g, ok := e.stateRef().FindGroup(groupID)
	if !ok {
		return scenario.GroupChat{}, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	out := *g
	out.MemberIDs = append(append([]string(nil), g.MemberIDs...), e.opts.AgentID)
	if e.social.joined[groupID] {
		return out, nil
	}
	e.social.joined[groupID] = true
	e.record(bench.ActionJoinGroup, bench.JoinGroupParams{GroupID: groupID}, nil)
	return out, nil
}

func (e *Engine) record(kind bench.ActionType, params any, judged *bench.Correctness) {
	raw, err := json.Marshal(params)
	if err != nil {
		slog.Error("failed to encode action params", "type", kind, "error", err)
		raw = json.RawMessage(`{}`)
	}
	now := e.opts.Clock()
	latency := now.Sub(e.tickStarted).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	e.actions = append(e.actions, bench.Action{
		ID:          fmt.Sprintf("action-%d", len(e.actions)+1),
		Tick:        e.tick,
		Timestamp:   now.UnixMilli(),
		Type:        kind,
		Params:      raw,
		LatencyMs:   latency,
		Correctness: judged,
	})
	e.envs = append(e.envs, e.environment())
	telemetry.ActionsRecorded.WithLabelValues(string(kind)).Inc()
}

func (e *Engine) environment() bench.EnvironmentState {
	var pnl float64
	for _, p := range e.book.perps {
		pnl += p.RealizedPnL + p.UnrealizedPnL
	}
	var active int
	for _, m := range e.stateRef().PredictionMarkets {
		if !m.Resolved {
			active++
		}
	}
	return bench.EnvironmentState{
		AgentBalance:  e.opts.StartingBalance,
		AgentPnL:      pnl,
		OpenPositions: e.book.openCount(),
		ActiveMarkets: active,
	}
}
