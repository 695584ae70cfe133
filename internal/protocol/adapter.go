// Package protocol exposes a replay engine through the agent-facing method
// set. Every dispatched call costs exactly one tick of simulated time.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"replaybench/internal/replay"
	"replaybench/internal/scenario"
	"replaybench/internal/telemetry"
)

// Backend is what the adapter may see of a replay. It carries
// no ground truth.
type Backend interface {
	GameState() scenario.GameState
	Feed(limit int) []scenario.Post
	Balance() float64

	BuyPrediction(marketID string, outcome scenario.Outcome, amount float64) (replay.PredictionPosition, error)
	SellPrediction(marketID string, shares float64) (float64, error)
	OpenPerp(ticker, side string, size, leverage float64) (replay.PerpPosition, error)
	ClosePerp(positionID string) (replay.PerpPosition, error)
	CreatePost(content, marketID string) (scenario.Post, error)
	JoinGroup(groupID string) (scenario.GroupChat, error)

	AdvanceTick() error
	CurrentTick() int
	TotalTicks() int
	IsComplete() bool
}

var _ Backend = (*replay.Engine)(nil)

type handler func(a *Adapter, params json.RawMessage) (any, error)

var handlers = map[Method]handler{
	MethodGetPredictions: handle(func(a *Adapter, _ Empty) (PredictionsResponse, error) { return a.predictions(), nil }),
	MethodBuyShares:      handle((*Adapter).buyShares),
	MethodSellShares:     handle((*Adapter).sellShares),
	MethodGetPerpetuals:  handle(func(a *Adapter, _ Empty) (PerpetualsResponse, error) { return a.perpetuals(), nil }),
	MethodOpenPosition:   handle((*Adapter).openPosition),
	MethodClosePosition:  handle((*Adapter).closePosition),
	MethodGetFeed:        handle((*Adapter).feed),
	MethodCreatePost:     handle((*Adapter).createPost),
	MethodGetChats:       handle(func(a *Adapter, _ Empty) (ChatsResponse, error) { return a.chats(), nil }),
	MethodJoinGroup:      handle((*Adapter).joinGroup),
	MethodGetBalance:     handle((*Adapter).balance),
}

// Methods lists the supported method names.
func Methods() []Method {
	out := make([]Method, 0, len(handlers))
	for m := range handlers {
		out = append(out, m)
	}
	return out
}

type validator interface {
	validate() error
}

func handle[Req, Resp any](fn func(*Adapter, Req) (Resp, error)) handler {
	return func(a *Adapter, params json.RawMessage) (any, error) {
		var req Req
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if v, ok := any(&req).(validator); ok {
			if err := v.validate(); err != nil {
				return nil, err
			}
		}
		return fn(a, req)
	}
}

func decodeParams(params json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("adapter closed")

// Adapter serialises protocol calls against one backend.
type Adapter struct {
	mu      sync.Mutex
	backend Backend
	agentID string
	calls   int
	closed  bool
}

func NewAdapter(backend Backend, agentID string) *Adapter {
	return &Adapter{backend: backend, agentID: agentID}
}

// Call dispatches one protocol method and then advances the replay by one
// tick, whether or not the method succeeded. Unknown methods and cancelled
// contexts are rejected without advancing.
func (a *Adapter) Call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	h, ok := handlers[Method(method)]
	if !ok {
		telemetry.ProtocolCalls.WithLabelValues("unknown", "rejected").Inc()
		return nil, &MethodError{Method: method}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	tick := a.backend.CurrentTick()
	result, err := h(a, params)
	a.calls++

	if advErr := a.backend.AdvanceTick(); advErr != nil {
		return nil, fmt.Errorf("advancing tick after %s: %w", method, advErr)
	}

	status := "ok"
	if err != nil {
		status = "error"
		slog.Debug("protocol call failed", "agent", a.agentID, "method", method, "tick", tick, "error", err)
	}
	telemetry.ProtocolCalls.WithLabelValues(method, status).Inc()
	telemetry.ProtocolLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Idle advances one tick without dispatching a method. It is a no-op once
// the replay is complete or the adapter is closed.
func (a *Adapter) Idle() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.backend.IsComplete() {
		return nil
	}
	return a.backend.AdvanceTick()
}

// Close rejects every later call. When it returns no call is in flight, so
// the backend may be read without the adapter.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// Calls reports how many calls were dispatched.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// State reports the replay pointer as the agent sees it.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := State{
		Tick:       a.backend.CurrentTick(),
		TotalTicks: a.backend.TotalTicks(),
		Complete:   a.backend.IsComplete(),
		Status:     "running",
	}
	if st.Complete {
		st.Status = "complete"
	}
	return st
}

func (a *Adapter) predictions() PredictionsResponse {
	st := a.backend.GameState()
	markets := make([]MarketView, 0, len(st.PredictionMarkets))
	for _, m := range st.PredictionMarkets {
		if m.Resolved {
			continue
		}
		markets = append(markets, MarketView{
			ID:        m.ID,
			Question:  m.Question,
			YesPrice:  m.YesPrice,
			NoPrice:   m.NoPrice,
			Liquidity: m.Liquidity,
			Volume:    m.TotalVolume,
			CreatedAt: m.CreatedAt,
			ResolveAt: m.ResolveAt,
		})
	}
	return PredictionsResponse{Markets: markets, Tick: st.Tick}
}

func (a *Adapter) buyShares(req BuySharesRequest) (BuySharesResponse, error) {
	pos, err := a.backend.BuyPrediction(req.MarketID, scenario.Outcome(req.Outcome), req.Amount)
	if err != nil {
		return BuySharesResponse{}, err
	}
	return BuySharesResponse{PositionID: pos.ID, SharesBought: pos.Shares, AvgPrice: pos.EntryPrice}, nil
}

func (a *Adapter) sellShares(req SellSharesRequest) (SellSharesResponse, error) {
	proceeds, err := a.backend.SellPrediction(req.MarketID, req.Shares)
	if err != nil {
		return SellSharesResponse{}, err
	}
	return SellSharesResponse{Proceeds: proceeds, Note: "selling is not simulated; proceeds are always zero"}, nil
}

func (a *Adapter) perpetuals() PerpetualsResponse {
	st := a.backend.GameState()
	markets := make([]PerpView, 0, len(st.PerpetualMarkets))
	for _, p := range st.PerpetualMarkets {
		markets = append(markets, PerpView{
			Ticker:          p.Ticker,
			Name:            p.Name,
			Price:           p.Price,
			Change24h:       p.PriceChange24h,
			Volume:          p.Volume24h,
			OpenInterest:    p.OpenInterest,
			FundingRate:     p.FundingRate,
			NextFundingTime: p.NextFundingTime,
		})
	}
	return PerpetualsResponse{Markets: markets, Tick: st.Tick}
}

func (a *Adapter) openPosition(req OpenPositionRequest) (OpenPositionResponse, error) {
	pos, err := a.backend.OpenPerp(req.Ticker, req.Side, req.Size, req.Leverage)
	if err != nil {
		return OpenPositionResponse{}, err
	}
	return OpenPositionResponse{PositionID: pos.ID, EntryPrice: pos.EntryPrice}, nil
}

func (a *Adapter) closePosition(req ClosePositionRequest) (ClosePositionResponse, error) {
	pos, err := a.backend.ClosePerp(req.PositionID)
	if err != nil {
		return ClosePositionResponse{}, err
	}
	return ClosePositionResponse{PnL: pos.RealizedPnL, ExitPrice: pos.MarkPrice}, nil
}

func (a *Adapter) feed(req FeedRequest) (FeedResponse, error) {
	return FeedResponse{Posts: a.backend.Feed(req.Limit)}, nil
}

func (a *Adapter) createPost(req CreatePostRequest) (CreatePostResponse, error) {
	post, err := a.backend.CreatePost(req.Content, req.MarketID)
	if err != nil {
		return CreatePostResponse{}, err
	}
	return CreatePostResponse{PostID: post.ID}, nil
}

func (a *Adapter) chats() ChatsResponse {
	st := a.backend.GameState()
	chats := make([]ChatView, 0, len(st.GroupChats))
	for _, g := range st.GroupChats {
		chats = append(chats, ChatView{
			ID:           g.ID,
			Name:         g.Name,
			MemberCount:  len(g.MemberIDs),
			MessageCount: g.MessageCount,
		})
	}
	return ChatsResponse{Chats: chats}
}

func (a *Adapter) balance(Empty) (BalanceResponse, error) {
	return BalanceResponse{Balance: a.backend.Balance()}, nil
}

func (a *Adapter) joinGroup(req JoinGroupRequest) (JoinGroupResponse, error) {
	g, err := a.backend.JoinGroup(req.GroupID)
	if err != nil {
		return JoinGroupResponse{}, err
	}
	return JoinGroupResponse{GroupID: g.ID, MemberCount: len(g.MemberIDs)}, nil
}
