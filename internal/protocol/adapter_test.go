package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaybench/internal/replay"
	"replaybench/internal/scenario"
)

func setup(t *testing.T) (*replay.Engine, *Adapter, *scenario.Snapshot) {
	t.Helper()
	snap, err := scenario.Generate(scenario.GeneratorConfig{
		DurationMinutes:      10,
		TickIntervalSeconds:  60,
		NumPredictionMarkets: 3,
		NumPerpetualMarkets:  2,
		NumAgents:            4,
		NumGroups:            2,
		Seed:                 42,
	})
	require.NoError(t, err)
	e := replay.New(snap, replay.Options{AgentID: "agent-1", OptimalityWindow: 2, LookaheadTicks: 10})
	e.Initialize()
	return e, NewAdapter(e, "agent-1"), snap
}

func TestAdapter_EveryCallAdvancesOneTick(t *testing.T) {
	e, a, _ := setup(t)
	c := NewClient(a)
	ctx := context.Background()

	for k := 1; k <= 4; k++ {
		_, err := c.GetPredictions(ctx)
		require.NoError(t, err)
		assert.Equal(t, k, e.CurrentTick())
	}
	assert.Equal(t, 4, a.Calls())
}

func TestAdapter_FailedCallStillAdvances(t *testing.T) {
	e, a, _ := setup(t)
	c := NewClient(a)

	_, err := c.ClosePosition(context.Background(), ClosePositionRequest{PositionID: "perp-9"})
	require.ErrorIs(t, err, replay.ErrPositionNotFound)
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, 1, e.CurrentTick())
	assert.Empty(t, e.Actions())
}

func TestAdapter_UnknownMethodRejected(t *testing.T) {
	e, a, _ := setup(t)

	_, err := a.Call(context.Background(), "a2a.launchRocket", nil)
	var me *MethodError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "a2a.launchRocket", me.Method)
	assert.Equal(t, 0, e.CurrentTick())
}

func TestAdapter_CancelledContextDoesNotAdvance(t *testing.T) {
	e, a, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(a).GetBalance(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, e.CurrentTick())
}

func TestAdapter_BadParams(t *testing.T) {
	_, a, _ := setup(t)

	_, err := a.Call(context.Background(), string(MethodBuyShares), json.RawMessage(`{"marketId": 7}`))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = a.Call(context.Background(), string(MethodBuyShares), json.RawMessage(`{"marketId":"m","outcome":"MAYBE","amount":1}`))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = a.Call(context.Background(), string(MethodOpenPosition), json.RawMessage(`{"ticker":"X","side":"LONG","size":0}`))
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestAdapter_BuySharesRoundTrip(t *testing.T) {
	e, a, snap := setup(t)
	c := NewClient(a)
	ctx := context.Background()
	m := snap.InitialState.PredictionMarkets[0]

	resp, err := c.BuyShares(ctx, BuySharesRequest{MarketID: m.ID, Outcome: "yes", Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", resp.PositionID)
	assert.Equal(t, m.YesPrice, resp.AvgPrice)
	assert.InDelta(t, 10/m.YesPrice, resp.SharesBought, 1e-6)
	require.Len(t, e.Actions(), 1)
	assert.Equal(t, 0, e.Actions()[0].Tick, "actions execute at the tick the call arrived")
}

func TestAdapter_PerpRoundTrip(t *testing.T) {
	_, a, snap := setup(t)
	c := NewClient(a)
	ctx := context.Background()
	ticker := snap.InitialState.PerpetualMarkets[0].Ticker

	opened, err := c.OpenPosition(ctx, OpenPositionRequest{Ticker: ticker, Side: "short", Size: 1})
	require.NoError(t, err)
	closed, err := c.ClosePosition(ctx, ClosePositionRequest{PositionID: opened.PositionID})
	require.NoError(t, err)

	path := snap.GroundTruth.PriceHistory[ticker]
	assert.Equal(t, path[0].Price, opened.EntryPrice)
	assert.Equal(t, path[1].Price, closed.ExitPrice)
	assert.InDelta(t, path[0].Price-path[1].Price, closed.PnL, 1e-6)
}

func TestAdapter_SellIsZeroStub(t *testing.T) {
	e, a, snap := setup(t)

	resp, err := NewClient(a).SellShares(context.Background(), SellSharesRequest{
		MarketID: snap.InitialState.PredictionMarkets[0].ID, Shares: 3,
	})
	require.NoError(t, err)
	assert.Zero(t, resp.Proceeds)
	assert.NotEmpty(t, resp.Note)
	assert.Equal(t, 1, e.CurrentTick())
}

func TestAdapter_SocialCalls(t *testing.T) {
	e, a, snap := setup(t)
	c := NewClient(a)
	ctx := context.Background()

	chats, err := c.GetChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats.Chats, len(snap.InitialState.GroupChats))

	joined, err := c.JoinGroup(ctx, JoinGroupRequest{GroupID: chats.Chats[0].ID})
	require.NoError(t, err)
	assert.Equal(t, chats.Chats[0].MemberCount+1, joined.MemberCount)

	post, err := c.CreatePost(ctx, CreatePostRequest{Content: "watching the markets"})
	require.NoError(t, err)

	feed, err := c.GetFeed(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, feed.Posts)
	assert.LessOrEqual(t, len(feed.Posts), DefaultFeedLimit)
	var found bool
	for _, p := range feed.Posts {
		found = found || p.ID == post.PostID
	}
	assert.True(t, found, "own post appears in the feed")
	assert.Equal(t, 4, e.CurrentTick())
}

func TestAdapter_BalanceIsPlaceholder(t *testing.T) {
	_, a, _ := setup(t)

	resp, err := NewClient(a).GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replay.DefaultBalance, resp.Balance)
}

func TestAdapter_CallsPastEndDoNotOverrun(t *testing.T) {
	e, a, snap := setup(t)
	c := NewClient(a)

	for i := 0; i < len(snap.Ticks)+3; i++ {
		_, err := c.GetPerpetuals(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, len(snap.Ticks), e.CurrentTick())
	assert.True(t, a.State().Complete)
	assert.Equal(t, "complete", a.State().Status)
}

func TestMethods_ClosedSet(t *testing.T) {
	assert.Len(t, Methods(), 11)
}

func TestAdapter_CloseRejectsLaterCalls(t *testing.T) {
	e, a, _ := setup(t)
	c := NewClient(a)

	_, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	a.Close()

	_, err = c.GetPredictions(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, a.Idle())
	assert.Equal(t, 1, e.CurrentTick())
}
