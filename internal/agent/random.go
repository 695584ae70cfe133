package agent

import (
	"context"
	"fmt"
	"math/rand/v2"

	"replaybench/internal/config"
	"replaybench/internal/protocol"
)

// Random picks a uniformly random action with a fixed probability per step.
// It is seeded explicitly so a run is reproducible.
type Random struct {
	cfg   config.RandomConfig
	rng   *rand.Rand
	perps []string
}

func NewRandom(seed uint64, cfg config.RandomConfig) *Random {
	return &Random{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)),
	}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Step(ctx context.Context, game GameClient) error {
	if r.rng.Float64() >= r.cfg.ActProbability {
		return nil
	}

	switch r.rng.IntN(4) {
	case 0:
		return r.buy(ctx, game)
	case 1:
		return r.trade(ctx, game)
	case 2:
		_, err := game.CreatePost(ctx, protocol.CreatePostRequest{
			Content: fmt.Sprintf("random thought #%d", r.rng.IntN(1000)),
		})
		return err
	default:
		return r.join(ctx, game)
	}
}

func (r *Random) buy(ctx context.Context, game GameClient) error {
	preds, err := game.GetPredictions(ctx)
	if err != nil || len(preds.Markets) == 0 {
		return err
	}
	m := preds.Markets[r.rng.IntN(len(preds.Markets))]
	outcome := "YES"
	if r.rng.IntN(2) == 1 {
		outcome = "NO"
	}
	_, err = game.BuyShares(ctx, protocol.BuySharesRequest{MarketID: m.ID, Outcome: outcome, Amount: r.cfg.BetAmount})
	return err
}

// trade closes the oldest open position half of the time, otherwise opens a
// new one.
func (r *Random) trade(ctx context.Context, game GameClient) error {
	if len(r.perps) > 0 && r.rng.IntN(2) == 0 {
		id := r.perps[0]
		r.perps = r.perps[1:]
		_, err := game.ClosePosition(ctx, protocol.ClosePositionRequest{PositionID: id})
		return err
	}

	perps, err := game.GetPerpetuals(ctx)
	if err != nil || len(perps.Markets) == 0 {
		return err
	}
	p := perps.Markets[r.rng.IntN(len(perps.Markets))]
	side := "LONG"
	if r.rng.IntN(2) == 1 {
		side = "SHORT"
	}
	leverage := 1 + float64(r.rng.IntN(max(int(r.cfg.MaxLeverage), 1)))
	resp, err := game.OpenPosition(ctx, protocol.OpenPositionRequest{
		Ticker:   p.Ticker,
		Side:     side,
		Size:     1,
		Leverage: leverage,
	})
	if err != nil {
		return err
	}
	r.perps = append(r.perps, resp.PositionID)
	return nil
}

func (r *Random) join(ctx context.Context, game GameClient) error {
	chats, err := game.GetChats(ctx)
	if err != nil || len(chats.Chats) == 0 {
		return err
	}
	_, err = game.JoinGroup(ctx, protocol.JoinGroupRequest{GroupID: chats.Chats[r.rng.IntN(len(chats.Chats))].ID})
	return err
}
