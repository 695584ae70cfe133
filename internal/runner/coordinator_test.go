package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaybench/internal/agent"
	"replaybench/internal/bench"
	"replaybench/internal/config"
	"replaybench/internal/db"
	"replaybench/internal/protocol"
	"replaybench/internal/scenario"
	"replaybench/internal/store"
)

func genConfig(seed uint64) scenario.GeneratorConfig {
	return scenario.GeneratorConfig{
		DurationMinutes:      10,
		TickIntervalSeconds:  60,
		NumPredictionMarkets: 3,
		NumPerpetualMarkets:  2,
		NumAgents:            4,
		NumGroups:            2,
		Seed:                 seed,
	}
}

func setup(t *testing.T, opts Options) (*Coordinator, *store.FileStore, *store.Catalog) {
	t.Helper()
	files := store.NewFileStore(t.TempDir())
	database, err := db.OpenCatalog(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	catalog := store.NewCatalog(database)
	if opts.OptimalityWindow == 0 {
		opts.OptimalityWindow = 2
	}
	if opts.LookaheadTicks == 0 {
		opts.LookaheadTicks = 10
	}
	return NewCoordinator(files, nil, catalog, opts), files, catalog
}

func scenarioFor(t *testing.T, c *Coordinator) *scenario.Snapshot {
	t.Helper()
	snap, err := c.Generate(context.Background(), genConfig(42))
	require.NoError(t, err)
	return snap
}

func newAgent(t *testing.T, name string) agent.Agent {
	t.Helper()
	a, err := agent.New(name, 7, config.DefaultConfig().Agents)
	require.NoError(t, err)
	return a
}

// stepFunc adapts a function to the Agent interface.
type stepFunc func(ctx context.Context, c agent.GameClient) error

func (stepFunc) Name() string { return "scripted" }

func (f stepFunc) Step(ctx context.Context, c agent.GameClient) error { return f(ctx, c) }

func TestGenerate_PersistsAndReloads(t *testing.T) {
	c, files, catalog := setup(t, Options{})
	snap := scenarioFor(t, c)

	assert.FileExists(t, files.ScenarioPath(snap.ID))
	path, err := catalog.ScenarioPath(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, files.ScenarioPath(snap.ID), path)

	loaded, err := c.LoadScenario(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}

func TestGeneratorConfig_ZeroSeedIsReplaced(t *testing.T) {
	cfg := config.DefaultConfig().Scenario
	cfg.Seed = 0
	assert.NotZero(t, GeneratorConfig(cfg, nil).Seed)

	cfg.Seed = 9
	assert.Equal(t, uint64(9), GeneratorConfig(cfg, nil).Seed)
}

func TestRun_IdleAgentTerminates(t *testing.T) {
	c, files, _ := setup(t, Options{})
	snap := scenarioFor(t, c)

	res, err := c.Run(context.Background(), snap, newAgent(t, "idle"))
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Empty(t, res.Actions)
	assert.Zero(t, res.Metrics.TotalPnL)
	assert.FileExists(t, filepath.Join(files.RunDir(res.ID), "result.json"))
}

func TestRun_RecordsActionsAndCatalogsRun(t *testing.T) {
	c, files, catalog := setup(t, Options{RecordTrajectory: true})
	snap := scenarioFor(t, c)

	res, err := c.Run(context.Background(), snap, newAgent(t, "threshold"))
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.NotEmpty(t, res.Actions)
	assert.True(t, res.Metrics.Audit.Passed, "audit errors: %v", res.Metrics.Audit.Errors)
	require.NotNil(t, res.Trajectory)
	assert.Equal(t, bench.StatusCompleted, res.Trajectory.FinalStatus)
	assert.FileExists(t, filepath.Join(files.RunDir(res.ID), "trajectory.json"))

	runs, err := catalog.ListRuns(context.Background(), "threshold")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.ID, runs[0].ID)
	assert.Equal(t, bench.StatusCompleted, runs[0].Status)
	assert.Equal(t, len(res.Actions), runs[0].ActionCount)
}

func TestRun_CancelYieldsPartialResult(t *testing.T) {
	c, _, catalog := setup(t, Options{})
	snap := scenarioFor(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	steps := 0
	ag := stepFunc(func(ctx context.Context, gc agent.GameClient) error {
		steps++
		if steps == 3 {
			cancel()
			return nil
		}
		_, err := gc.GetBalance(ctx)
		return err
	})

	res, err := c.Run(ctx, snap, ag)
	require.NoError(t, err)
	assert.False(t, res.Complete())
	assert.Equal(t, 2, res.TicksProcessed, "the cancelled step is not charged an idle tick")

	runs, err := catalog.ListRuns(context.Background(), "scripted")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, bench.StatusPartial, runs[0].Status)
}

func TestRun_SlowStepTimesOutAndRunContinues(t *testing.T) {
	c, _, _ := setup(t, Options{StepTimeout: 5 * time.Millisecond})
	snap := scenarioFor(t, c)

	ag := stepFunc(func(ctx context.Context, _ agent.GameClient) error {
		<-ctx.Done()
		return ctx.Err()
	})

	res, err := c.Run(context.Background(), snap, ag)
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Empty(t, res.Actions)
}

// stubbornAgent ignores its context and sleeps through every step.
type stubbornAgent struct {
	nap      time.Duration
	marketID string

	running atomic.Int32
	maxSeen atomic.Int32
	steps   atomic.Int32
	scratch int
}

func (a *stubbornAgent) Name() string { return "stubborn" }

func (a *stubbornAgent) Step(ctx context.Context, gc agent.GameClient) error {
	n := a.running.Add(1)
	defer a.running.Add(-1)
	for {
		seen := a.maxSeen.Load()
		if n <= seen || a.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	a.steps.Add(1)
	a.scratch++

	time.Sleep(a.nap)
	_, err := gc.BuyShares(ctx, protocol.BuySharesRequest{MarketID: a.marketID, Outcome: "YES", Amount: 10})
	return err
}

func TestRun_UnresponsiveStepIsNeverOverlapped(t *testing.T) {
	c, _, _ := setup(t, Options{StepTimeout: 5 * time.Millisecond})
	snap := scenarioFor(t, c)
	ag := &stubbornAgent{nap: 20 * time.Millisecond, marketID: snap.InitialState.PredictionMarkets[0].ID}

	res, err := c.Run(context.Background(), snap, ag)
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Equal(t, int32(1), ag.maxSeen.Load(), "one agent ran overlapping steps")
	assert.Less(t, int(ag.steps.Load()), res.TotalTicks, "busy ticks must not start new steps")
	assert.Empty(t, res.Actions, "calls after the step deadline are rejected")
}

func TestRun_FailingAndPanickingStepsAreSurvived(t *testing.T) {
	c, _, _ := setup(t, Options{})
	snap := scenarioFor(t, c)

	steps := 0
	ag := stepFunc(func(ctx context.Context, gc agent.GameClient) error {
		steps++
		switch steps % 3 {
		case 0:
			panic("boom")
		case 1:
			_, err := gc.BuyShares(ctx, protocol.BuySharesRequest{MarketID: "no-such-market", Outcome: "YES", Amount: 10})
			return err
		}
		return nil
	})

	res, err := c.Run(context.Background(), snap, ag)
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Empty(t, res.Actions, "rejected buys are not recorded")
}

func TestCompare_DeltasAreAMinusB(t *testing.T) {
	c, files, _ := setup(t, Options{MaxConcurrent: 2})
	snap, err := scenario.Generate(genConfig(42))
	require.NoError(t, err)

	h, err := c.Compare(context.Background(), snap, newAgent(t, "threshold"), newAgent(t, "idle"))
	require.NoError(t, err)

	assert.FileExists(t, files.ScenarioPath(snap.ID), "baseline saved before running")
	assert.Equal(t, snap.ID, h.ScenarioID)
	assert.Equal(t, snap.ID, h.ResultA.ScenarioID)
	assert.Equal(t, snap.ID, h.ResultB.ScenarioID)
	assert.Equal(t, "threshold", h.A.Agent)
	assert.Equal(t, "idle", h.B.Agent)
	assert.InDelta(t, h.A.TotalPnL-h.B.TotalPnL, h.Deltas.TotalPnL, 1e-9)
	assert.InDelta(t, h.A.Optimality-h.B.Optimality, h.Deltas.Optimality, 1e-9)
	assert.Equal(t, h.A.Actions, h.Deltas.Actions)

	raw, err := os.ReadFile(files.ComparisonPath(h.ID))
	require.NoError(t, err)
	var stored HeadToHead
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, h.Deltas, stored.Deltas)
}

func TestCompare_BaselineMustPersist(t *testing.T) {
	c, _, _ := setup(t, Options{})
	_, err := c.Compare(context.Background(), &scenario.Snapshot{}, newAgent(t, "idle"), newAgent(t, "idle"))
	assert.ErrorContains(t, err, "baseline")
}

func TestRunRepeated_Aggregates(t *testing.T) {
	c, files, catalog := setup(t, Options{MaxConcurrent: 2})
	snap := scenarioFor(t, c)

	factory := func(i int) (agent.Agent, error) {
		return agent.New("random", uint64(i+1), config.DefaultConfig().Agents)
	}
	cmp, err := c.RunRepeated(context.Background(), snap, factory, 3)
	require.NoError(t, err)
	require.Len(t, cmp.Runs, 3)

	var sum float64
	ids := map[string]bool{}
	for _, r := range cmp.Runs {
		sum += r.TotalPnL
		ids[r.RunID] = true
	}
	assert.Len(t, ids, 3, "every run gets its own id")
	assert.InDelta(t, sum/3, cmp.AvgPnL, 1e-9)
	assert.True(t, ids[cmp.BestRunID])
	assert.True(t, ids[cmp.WorstRunID])
	assert.FileExists(t, files.ComparisonPath(cmp.ID))

	runs, err := catalog.ListRuns(context.Background(), "random")
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestRunRepeated_FactoryErrorFailsCall(t *testing.T) {
	c, _, _ := setup(t, Options{})
	snap := scenarioFor(t, c)

	_, err := c.RunRepeated(context.Background(), snap, func(int) (agent.Agent, error) {
		return agent.New("oracle", 1, config.DefaultConfig().Agents)
	}, 2)
	assert.ErrorContains(t, err, "unknown agent")

	_, err = c.RunRepeated(context.Background(), snap, nil, 0)
	assert.Error(t, err)
}
