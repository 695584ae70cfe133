package scenario

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleConfig() GeneratorConfig {
	return GeneratorConfig{
		DurationMinutes:      10,
		TickIntervalSeconds:  60,
		NumPredictionMarkets: 3,
		NumPerpetualMarkets:  2,
		NumAgents:            4,
		NumGroups:            2,
		Seed:                 42,
	}
}

func TestGenerate_TenMinuteExample(t *testing.T) {
	snap, err := Generate(exampleConfig())
	require.NoError(t, err)

	assert.Len(t, snap.Ticks, 10)
	assert.Equal(t, 10, snap.NumTicks)
	assert.Len(t, snap.InitialState.PredictionMarkets, 3)
	assert.Len(t, snap.GroundTruth.MarketOutcomes, 3)
	assert.Len(t, snap.GroundTruth.OptimalActions, 3)

	r := Validate(snap)
	assert.True(t, r.Valid, "errors: %v", r.Errors)
	assert.Empty(t, r.Errors)
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate(exampleConfig())
	require.NoError(t, err)
	b, err := Generate(exampleConfig())
	require.NoError(t, err)

	rawA, err := json.Marshal(a)
	require.NoError(t, err)
	rawB, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(rawA), string(rawB))
	assert.Equal(t, a.ID, b.ID)
}

func TestGenerate_SeedChangesScenario(t *testing.T) {
	cfg := exampleConfig()
	a, err := Generate(cfg)
	require.NoError(t, err)
	cfg.Seed = 43
	b, err := Generate(cfg)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.InitialState.PredictionMarkets[0].YesPrice, b.InitialState.PredictionMarkets[0].YesPrice)
}

func TestGenerate_PriceInvariantEveryTick(t *testing.T) {
	cfg := exampleConfig()
	cfg.DurationMinutes = 120
	cfg.NumPredictionMarkets = 6
	snap, err := Generate(cfg)
	require.NoError(t, err)

	states := []GameState{snap.InitialState}
	for _, tk := range snap.Ticks {
		states = append(states, tk.State)
	}
	for _, st := range states {
		for _, m := range st.PredictionMarkets {
			assert.InDelta(t, 1.0, m.YesPrice+m.NoPrice, 1e-9, "tick %d market %s", st.Tick, m.ID)
			assert.GreaterOrEqual(t, m.YesShares, 0.0)
			assert.GreaterOrEqual(t, m.NoShares, 0.0)
		}
	}
}

func TestGenerate_BimodalSkew(t *testing.T) {
	cfg := exampleConfig()
	cfg.NumPredictionMarkets = 8
	snap, err := Generate(cfg)
	require.NoError(t, err)

	for i, m := range snap.InitialState.PredictionMarkets {
		if i%2 == 0 {
			assert.Less(t, m.YesPrice, 0.4, "market %s", m.ID)
		} else {
			assert.Greater(t, m.YesPrice, 0.6, "market %s", m.ID)
		}
	}
}

func TestGenerate_PriceHistoryMatchesTicks(t *testing.T) {
	snap, err := Generate(exampleConfig())
	require.NoError(t, err)

	for ticker, path := range snap.GroundTruth.PriceHistory {
		require.Len(t, path, snap.NumTicks+1, ticker)
		for _, tk := range snap.Ticks {
			p, ok := tk.State.FindPerp(ticker)
			require.True(t, ok)
			assert.Equal(t, path[tk.Number].Price, p.Price)
		}
	}
}

func TestGenerate_TickStatesAreIndependent(t *testing.T) {
	snap, err := Generate(exampleConfig())
	require.NoError(t, err)

	before := snap.Ticks[1].State.PredictionMarkets[0].YesShares
	snap.Ticks[0].State.PredictionMarkets[0].YesShares = -1
	snap.InitialState.GroupChats[0].MemberIDs[0] = "mutated"

	assert.Equal(t, before, snap.Ticks[1].State.PredictionMarkets[0].YesShares)
	assert.NotEqual(t, "mutated", snap.Ticks[0].State.GroupChats[0].MemberIDs[0])
}

func TestGenerate_ZeroTicksAndMarkets(t *testing.T) {
	snap, err := Generate(GeneratorConfig{TickIntervalSeconds: 60, Seed: 1})
	require.NoError(t, err)

	assert.Empty(t, snap.Ticks)
	assert.NotNil(t, snap.Ticks)
	assert.Empty(t, snap.GroundTruth.MarketOutcomes)

	r := Validate(snap)
	assert.True(t, r.Valid, "errors: %v", r.Errors)
	assert.Contains(t, r.Warnings, "scenario has no ticks")
}

func TestGenerate_RejectsZeroInterval(t *testing.T) {
	_, err := Generate(GeneratorConfig{DurationMinutes: 10})
	assert.Error(t, err)
}

func TestGenerate_SocialOpportunitiesSpread(t *testing.T) {
	cfg := exampleConfig()
	cfg.DurationMinutes = 60
	snap, err := Generate(cfg)
	require.NoError(t, err)

	opps := snap.GroundTruth.SocialOpportunities
	require.Len(t, opps, 6)
	for i := 1; i < len(opps); i++ {
		assert.Greater(t, opps[i].Tick, opps[i-1].Tick)
	}
	assert.LessOrEqual(t, opps[len(opps)-1].Tick, snap.NumTicks)
}

func TestGenerate_OptimalActionsUseTruth(t *testing.T) {
	snap, err := Generate(exampleConfig())
	require.NoError(t, err)

	for _, oa := range snap.GroundTruth.OptimalActions {
		assert.Equal(t, 1, oa.Tick)
		assert.Equal(t, OutcomeFor(snap.GroundTruth.MarketOutcomes[oa.Target]), oa.Outcome)
		assert.False(t, math.IsInf(oa.ExpectedValue, 0))
		assert.Greater(t, oa.ExpectedValue, 0.0)
	}
}

func TestGenerate_UsesSuppliedQuestions(t *testing.T) {
	cfg := exampleConfig()
	cfg.Questions = []string{"Q one?", "Q two?", "Q three?"}
	snap, err := Generate(cfg)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, m := range snap.InitialState.PredictionMarkets {
		seen[m.Question] = true
	}
	assert.Len(t, seen, 3)
	assert.True(t, seen["Q two?"])
}
