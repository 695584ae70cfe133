// Package agent defines the contract for agents under test and ships the
// built-in baseline agents.
package agent

import (
	"context"
	"fmt"
	"sort"

	"replaybench/internal/config"
	"replaybench/internal/protocol"
)

// GameClient is an agent's only channel into the game. Every call costs one
// tick of simulated time.
type GameClient interface {
	GetPredictions(ctx context.Context) (protocol.PredictionsResponse, error)
	BuyShares(ctx context.Context, req protocol.BuySharesRequest) (protocol.BuySharesResponse, error)
	SellShares(ctx context.Context, req protocol.SellSharesRequest) (protocol.SellSharesResponse, error)
	GetPerpetuals(ctx context.Context) (protocol.PerpetualsResponse, error)
	OpenPosition(ctx context.Context, req protocol.OpenPositionRequest) (protocol.OpenPositionResponse, error)
	ClosePosition(ctx context.Context, req protocol.ClosePositionRequest) (protocol.ClosePositionResponse, error)
	GetFeed(ctx context.Context, limit int) (protocol.FeedResponse, error)
	CreatePost(ctx context.Context, req protocol.CreatePostRequest) (protocol.CreatePostResponse, error)
	GetChats(ctx context.Context) (protocol.ChatsResponse, error)
	JoinGroup(ctx context.Context, req protocol.JoinGroupRequest) (protocol.JoinGroupResponse, error)
	GetBalance(ctx context.Context) (protocol.BalanceResponse, error)
}

var _ GameClient = (*protocol.Client)(nil)

// Agent makes one decision per Step. A step may make any number of calls,
// including none.
type Agent interface {
	Name() string
	Step(ctx context.Context, game GameClient) error
}

type factory func(seed uint64, cfg config.AgentsConfig) Agent

var registry = map[string]factory{
	"threshold": func(_ uint64, cfg config.AgentsConfig) Agent { return NewThreshold(cfg.Threshold) },
	"random":    func(seed uint64, cfg config.AgentsConfig) Agent { return NewRandom(seed, cfg.Random) },
	"momentum":  func(_ uint64, cfg config.AgentsConfig) Agent { return NewMomentum(cfg.Momentum) },
	"idle":      func(uint64, config.AgentsConfig) Agent { return Idle{} },
}

// New builds a baseline agent by name.
func New(name string, seed uint64, cfg config.AgentsConfig) (Agent, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q (have %v)", name, Names())
	}
	return f(seed, cfg), nil
}

// Names lists the built-in agents in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Idle never acts. It is the reference for a non-functional agent.
type Idle struct{}

func (Idle) Name() string                           { return "idle" }
func (Idle) Step(context.Context, GameClient) error { return nil }
