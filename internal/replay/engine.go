// Package replay drives a precomputed scenario one tick at a time, applies
// agent actions to simulated position books and scores the run.
package replay

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"replaybench/internal/bench"
	"replaybench/internal/scenario"
	"replaybench/internal/telemetry"
)

// Errors returned by engine operations. Rejected actions are never recorded.
var (
	ErrNotInitialized   = errors.New("engine not initialized")
	ErrTickOutOfRange   = errors.New("tick out of range")
	ErrMarketNotFound   = errors.New("prediction market not found")
	ErrMarketResolved   = errors.New("prediction market already resolved")
	ErrTickerNotFound   = errors.New("perpetual market not found")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position already closed")
	ErrGroupNotFound    = errors.New("group chat not found")
	ErrInvalidParams    = errors.New("invalid action parameters")
)

// Status is the engine lifecycle stage.
type Status int

const (
	StatusUninitialized Status = iota
	StatusRunning
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	default:
		return "uninitialized"
	}
}

// DefaultBalance is the placeholder balance reported to agents. Balance
// accounting is not simulated.
const DefaultBalance = 10000.0

// Options configures one engine. Zero values take defaults.
type Options struct {
	RunID            string
	AgentID          string
	OptimalityWindow int
	LookaheadTicks   int
	StartingBalance  float64
	RecordTrajectory bool
	Clock            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.OptimalityWindow < 0 {
		o.OptimalityWindow = 0
	}
	if o.LookaheadTicks <= 0 {
		o.LookaheadTicks = 10
	}
	if o.StartingBalance <= 0 {
		o.StartingBalance = DefaultBalance
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Engine replays one scenario for one agent. It is not safe for concurrent
// use; exactly one driver may advance it.
type Engine struct {
	snap *scenario.Snapshot
	opts Options

	tick        int
	initialized bool
	startedAt   time.Time
	tickStarted time.Time

	actions []bench.Action
	envs    []bench.EnvironmentState
	book    *book
	social  socialState
	equity  []float64

	cached        *bench.Result
	cachedTick    int
	cachedActions int
}

type socialState struct {
	posts  []scenario.Post
	joined map[string]bool
}

// New binds an engine to a snapshot. The snapshot is treated as read-only.
func New(snap *scenario.Snapshot, opts Options) *Engine {
	return &Engine{
		snap:   snap,
		opts:   opts.withDefaults(),
		book:   newBook(),
		social: socialState{joined: make(map[string]bool)},
	}
}

// Initialize resets the tick pointer and records the start time.
func (e *Engine) Initialize() {
	now := e.opts.Clock()
	e.tick = 0
	e.initialized = true
	e.startedAt = now
	e.tickStarted = now
	e.actions = nil
	e.envs = nil
	e.book = newBook()
	e.social = socialState{joined: make(map[string]bool)}
	e.equity = nil
	e.cached = nil

	slog.Info("replay engine initialized",
		"run", e.opts.RunID,
		"scenario", e.snap.ID,
		"agent", e.opts.AgentID,
		"ticks", len(e.snap.Ticks),
	)
}

// Status reports where the engine is in its lifecycle.
func (e *Engine) Status() Status {
	switch {
	case !e.initialized:
		return StatusUninitialized
	case e.IsComplete():
		return StatusComplete
	default:
		return StatusRunning
	}
}

// IsComplete reports whether the pointer has reached the end. The engine
// never advances itself.
func (e *Engine) IsComplete() bool {
	return e.tick >= len(e.snap.Ticks)
}

// Accessors for the pointer and run identity.
func (e *Engine) CurrentTick() int   { return e.tick }
func (e *Engine) TotalTicks() int    { return len(e.snap.Ticks) }
func (e *Engine) ScenarioID() string { return e.snap.ID }
func (e *Engine) RunID() string      { return e.opts.RunID }
func (e *Engine) AgentID() string    { return e.opts.AgentID }

// Stop is reserved for cooperative cancellation and does nothing. Drivers end
// a run early by no longer advancing and calling Run.
func (e *Engine) Stop() {}

// GameState returns the most recently applied tick's state, or the initial
// state before the first advance. The returned value is a private copy.
func (e *Engine) GameState() scenario.GameState {
	return e.stateRef().Clone()
}

func (e *Engine) stateRef() *scenario.GameState {
	if e.tick == 0 {
		return &e.snap.InitialState
	}
	return &e.snap.Ticks[e.tick-1].State
}

// TickState returns the state at tick n (0 is the initial state) regardless
// of the pointer.
func (e *Engine) TickState(n int) (scenario.GameState, error) {
	if n < 0 || n > len(e.snap.Ticks) {
		return scenario.GameState{}, fmt.Errorf("%w: %d of %d", ErrTickOutOfRange, n, len(e.snap.Ticks))
	}
	if n == 0 {
		return e.snap.InitialState.Clone(), nil
	}
	return e.snap.Ticks[n-1].State.Clone(), nil
}

// AdvanceTick marks open leveraged positions to the next tick's prices, then
// moves the pointer. At the end of the scenario it does nothing.
func (e *Engine) AdvanceTick() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if e.IsComplete() {
		return nil
	}
	next := e.tick + 1
	e.markToMarket(&e.snap.Ticks[next-1].State)
	e.tick = next
	e.tickStarted = e.opts.Clock()
	telemetry.TicksAdvanced.Inc()

	if e.IsComplete() {
		slog.Info("replay reached final tick", "run", e.opts.RunID, "tick", e.tick)
	}
	return nil
}

func (e *Engine) markToMarket(st *scenario.GameState) {
	var equity float64
	for i := range e.book.perps {
		p := &e.book.perps[i]
		if p.Closed {
			equity += p.RealizedPnL
			continue
		}
		if m, ok := st.FindPerp(p.Ticker); ok {
			p.MarkPrice = m.Price
			p.UnrealizedPnL = perpPnL(p.EntryPrice, p.MarkPrice, p.Size, p.Leverage, p.Side)
		}
		equity += p.UnrealizedPnL
	}
	e.equity = append(e.equity, equity)
}

// Feed returns the latest posts visible at the current tick, including the
// agent's own posts, oldest first.
func (e *Engine) Feed(limit int) []scenario.Post {
	st := e.stateRef()
	posts := make([]scenario.Post, 0, len(st.Posts)+len(e.social.posts))
	posts = append(posts, st.Posts...)
	posts = append(posts, e.social.posts...)
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].Timestamp < posts[j].Timestamp })
	if limit > 0 && len(posts) > limit {
		posts = posts[len(posts)-limit:]
	}
	return posts
}

// Actions returns a copy of the action log.
func (e *Engine) Actions() []bench.Action {
	return append([]bench.Action(nil), e.actions...)
}

// JoinedGroups reports how many distinct groups the agent has joined.
func (e *Engine) JoinedGroups() int { return len(e.social.joined) }

// Balance returns the placeholder balance reported to the agent.
func (e *Engine) Balance() float64 { return e.opts.StartingBalance }
