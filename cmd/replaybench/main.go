package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonnyspicer/mango"
	"github.com/redis/go-redis/v9"

	"replaybench/internal/agent"
	"replaybench/internal/config"
	"replaybench/internal/db"
	"replaybench/internal/logger"
	"replaybench/internal/performance"
	"replaybench/internal/questionbank"
	"replaybench/internal/runner"
	"replaybench/internal/scenario"
	"replaybench/internal/store"
	"replaybench/internal/transport/rpc"
)

const usage = `usage: replaybench [-config path] <command> [flags]

commands:
  generate          build and persist a new scenario
  validate <file>   check a scenario file and print the report
  run               replay a scenario with a built-in agent
  compare           run two agents on the same scenario
  serve             expose a replay over HTTP JSON-RPC
  import-questions  fetch binary questions from Manifold into the question bank
  report            summarise every recorded run
`

func main() {
	configFlag := flag.String("config", "", "Path to the TOML config (default config.toml, or $RB_CONFIG_PATH)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	configPath := "config.toml"
	if p := os.Getenv("RB_CONFIG_PATH"); p != "" {
		configPath = p
	}
	if *configFlag != "" {
		configPath = *configFlag
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(os.Stdout, cfg.General.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "validate" {
		os.Exit(validate(args))
	}

	a, err := newApp(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.close()

	switch cmd {
	case "generate":
		err = a.generate(ctx, args)
	case "run":
		err = a.run(ctx, args)
	case "compare":
		err = a.compare(ctx, args)
	case "serve":
		err = a.serve(ctx, args)
	case "import-questions":
		err = a.importQuestions(ctx, args)
	case "report":
		err = a.report()
	default:
		flag.Usage()
		a.close()
		os.Exit(2)
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		a.close()
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	database *sql.DB
	rdb      *redis.Client
	files    *store.FileStore
	catalog  *store.Catalog
	coord    *runner.Coordinator
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.General.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	database, err := db.OpenCatalog(cfg.General.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	slog.Info("database initialized", "path", cfg.General.DBPath)

	a := &app{
		cfg:      cfg,
		database: database,
		files:    store.NewFileStore(cfg.General.DataDir),
		catalog:  store.NewCatalog(database),
	}

	var scenarios store.ScenarioStore = a.files
	if cfg.Store.RedisURL != "" {
		rdb, err := store.NewRedisClient(cfg.Store.RedisURL)
		if err != nil {
			database.Close()
			return nil, err
		}
		a.rdb = rdb
		scenarios = store.NewCachedScenarios(a.files, rdb, cfg.Store.RedisTTL.Duration)
		slog.Info("redis scenario cache enabled")
	}

	a.coord = runner.NewCoordinator(a.files, scenarios, a.catalog, runner.OptionsFromConfig(cfg))
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		a.rdb.Close()
		a.rdb = nil
	}
	if a.database != nil {
		a.database.Close()
		a.database = nil
	}
}

// scenario loads id when given, otherwise generates a fresh one from config.
func (a *app) scenario(ctx context.Context, id string, seed uint64) (*scenario.Snapshot, error) {
	if id != "" {
		return a.coord.LoadScenario(ctx, id)
	}
	sc := a.cfg.Scenario
	if seed != 0 {
		sc.Seed = seed
	}
	var questions []string
	if sc.UseQuestionBank {
		qs, err := questionbank.NewBank(a.database).Load(ctx, sc.NumPredictionMarkets)
		if err != nil {
			return nil, err
		}
		if len(qs) == 0 {
			slog.Warn("question bank is empty, using built-in questions")
		}
		questions = qs
	}
	return a.coord.Generate(ctx, runner.GeneratorConfig(sc, questions))
}

func (a *app) generate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	seed := fs.Uint64("seed", 0, "Scenario seed (overrides config; 0 keeps the config value)")
	fs.Parse(args)

	snap, err := a.scenario(ctx, "", *seed)
	if err != nil {
		return err
	}
	fmt.Println(a.files.ScenarioPath(snap.ID))
	return nil
}

func validate(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: replaybench validate <file>")
		return 2
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		slog.Error("reading scenario", "error", err)
		return 1
	}
	if err := scenario.SanityCheck(raw); err != nil {
		slog.Error("scenario rejected", "error", err)
		return 1
	}
	if err := scenario.ValidateSchema(raw); err != nil {
		slog.Error("scenario does not match schema", "error", err)
		return 1
	}
	var snap scenario.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		slog.Error("decoding scenario", "error", err)
		return 1
	}

	r := scenario.Validate(&snap)
	out, _ := json.MarshalIndent(r, "", "  ")
	fmt.Println(string(out))
	if !r.Valid {
		return 1
	}
	return 0
}

func (a *app) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	scenarioID := fs.String("scenario", "", "Scenario id to replay (default: generate one)")
	agentName := fs.String("agent", a.cfg.Runner.Agent, "Built-in agent to run")
	runs := fs.Int("runs", a.cfg.Runner.Runs, "Number of independent runs")
	fs.Parse(args)

	snap, err := a.scenario(ctx, *scenarioID, 0)
	if err != nil {
		return err
	}

	if *runs <= 1 {
		ag, err := agent.New(*agentName, a.cfg.Runner.AgentSeed, a.cfg.Agents)
		if err != nil {
			return err
		}
		res, err := a.coord.Run(ctx, snap, ag)
		if err != nil {
			return err
		}
		fmt.Println(a.files.RunDir(res.ID))
		return nil
	}

	cmp, err := a.coord.RunRepeated(ctx, snap, func(i int) (agent.Agent, error) {
		return agent.New(*agentName, a.cfg.Runner.AgentSeed+uint64(i), a.cfg.Agents)
	}, *runs)
	if err != nil {
		return err
	}
	fmt.Println(cmp.Path)
	return nil
}

func (a *app) compare(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	scenarioID := fs.String("scenario", "", "Scenario id (default: generate one)")
	nameA := fs.String("a", "threshold", "First agent")
	nameB := fs.String("b", "random", "Second agent")
	fs.Parse(args)

	agentA, err := agent.New(*nameA, a.cfg.Runner.AgentSeed, a.cfg.Agents)
	if err != nil {
		return err
	}
	agentB, err := agent.New(*nameB, a.cfg.Runner.AgentSeed, a.cfg.Agents)
	if err != nil {
		return err
	}
	snap, err := a.scenario(ctx, *scenarioID, 0)
	if err != nil {
		return err
	}

	h, err := a.coord.Compare(ctx, snap, agentA, agentB)
	if err != nil {
		return err
	}
	fmt.Println(h.Path)
	return nil
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	scenarioID := fs.String("scenario", "", "Scenario id to serve (default: generate one)")
	agentID := fs.String("agent-id", "remote", "Name recorded for the connecting agent")
	addr := fs.String("addr", a.cfg.Server.Addr, "Listen address")
	fs.Parse(args)

	snap, err := a.scenario(ctx, *scenarioID, 0)
	if err != nil {
		return err
	}
	session := a.coord.NewSession(snap, *agentID)
	srv := rpc.NewHTTPServer(*addr, rpc.NewServer(session).Router(),
		a.cfg.Server.ReadTimeout.Duration, a.cfg.Server.WriteTimeout.Duration)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("replaybench listening", "addr", *addr, "scenario", snap.ID, "run", session.RunID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	// an unfinished session is still scored so the partial run is kept
	if _, err := session.Finish(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (a *app) importQuestions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import-questions", flag.ExitOnError)
	limit := fs.Int("limit", a.cfg.Questions.ImportLimit, "Maximum questions to fetch")
	fs.Parse(args)

	mc := mango.DefaultClientInstance()
	slog.Info("manifold client initialized")

	n, err := questionbank.NewBank(a.database).Import(ctx, questionbank.NewScanner(mc), *limit)
	if err != nil {
		return err
	}
	slog.Info("questions imported", "count", n)
	return nil
}

func (a *app) report() error {
	r, err := performance.NewTracker(a.database).Generate()
	if err != nil {
		return err
	}
	performance.LogReport(r)
	return nil
}
