package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/consol"
	consolhttp "github.com/odyssey-erp/odyssey-ledger/internal/consol/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/elimination"
	eliminationhttp "github.com/odyssey-erp/odyssey-ledger/internal/elimination/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

const usage = `usage: odyssey [command]

commands:
  serve                                   run the HTTP API (default)
  migrate                                 apply the ledger schema
  fx validate  --tenant --entity --period [--pairs] [--json]
  fx backfill  --pair --from --to [--mode dry|apply] [--source file|-] [--json]
  jobs stats | jobs trigger <name> | jobs eliminate --tenant --entity --from --to [--account]
  consol warm  --tenant --entity [--as-of]
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	if len(args) == 0 || args[0] == "serve" {
		if err := serve(ctx, stop, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}
	os.Exit(runCommand(ctx, cfg, args))
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, logger, pool, redisClient, metrics)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer jobClient.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		JournalsHandler:    journals.NewHandler(logger, services.Commands, services.Balances),
		AccountsHandler:    accounts.NewHandler(logger, services.Accounts),
		PeriodsHandler:     periods.NewHandler(logger, services.Periods),
		EliminationHandler: eliminationhttp.NewHandler(logger, services.Eliminations, jobClient, cfg.EliminationAccount),
		ConsolHandler:      consolhttp.NewHandler(logger, services.Reports, services.ConsolRepo, cfg.RateLimitPerMinute),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		HealthChecks: map[string]app.HealthCheck{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runCommand(ctx context.Context, cfg *app.Config, args []string) int {
	switch {
	case args[0] == "migrate":
		return runMigrate(ctx, cfg)
	case len(args) >= 2 && args[0] == "fx":
		return runFX(ctx, cfg, args[1], args[2:])
	case len(args) >= 2 && args[0] == "jobs":
		return runJobs(ctx, cfg, args[1], args[2:])
	case len(args) >= 2 && args[0] == "consol" && args[1] == "warm":
		return runConsolWarm(ctx, cfg, args[2:])
	}
	fmt.Fprint(os.Stderr, usage)
	return 2
}

func runMigrate(ctx context.Context, cfg *app.Config) int {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	fmt.Println("schema applied")
	return 0
}

func runFX(ctx context.Context, cfg *app.Config, sub string, args []string) int {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fx: %v\n", err)
		return 1
	}
	defer pool.Close()
	ops, err := cli.NewFXOpsCLI(consol.NewRepository(pool))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fx: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("fx "+sub, flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit JSON")
	switch sub {
	case "validate":
		tenant := fs.String("tenant", "", "tenant id")
		entity := fs.String("entity", "", "consolidation parent entity id")
		period := fs.String("period", "", "period YYYY-MM")
		pairs := fs.String("pairs", "", "extra comma separated pairs, e.g. USDIDR")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		var extra []string
		if *pairs != "" {
			extra = strings.Split(*pairs, ",")
		}
		return ops.ValidateCommand(ctx, cli.FXValidateOptions{
			TenantID:   *tenant,
			EntityID:   *entity,
			Period:     *period,
			Pairs:      extra,
			JSONOutput: *jsonOut,
		})
	case "backfill":
		pair := fs.String("pair", "", "currency pair, e.g. USDIDR")
		from := fs.String("from", "", "first period YYYY-MM")
		to := fs.String("to", "", "last period YYYY-MM")
		mode := fs.String("mode", string(cli.FXBackfillModeDry), "dry or apply")
		source := fs.String("source", "", "CSV file with period,pair,average,closing or - for stdin")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		return ops.BackfillCommand(ctx, cli.FXBackfillOptions{
			Pair:       *pair,
			From:       *from,
			To:         *to,
			Mode:       cli.FXBackfillMode(*mode),
			Source:     *source,
			JSONOutput: *jsonOut,
		})
	}
	fmt.Fprint(os.Stderr, usage)
	return 2
}

func runJobs(ctx context.Context, cfg *app.Config, sub string, args []string) int {
	ops, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer ops.Close()

	switch sub {
	case "stats":
		stats, err := ops.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
			return 1
		}
		fmt.Println(stats)
		return 0
	case "trigger":
		if len(args) != 1 {
			fmt.Fprint(os.Stderr, usage)
			return 2
		}
		info, err := ops.Trigger(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s as %s\n", info.Type, info.ID)
		return 0
	case "eliminate":
		fs := flag.NewFlagSet("jobs eliminate", flag.ContinueOnError)
		req := elimination.RunRequest{}
		fs.StringVar(&req.TenantID, "tenant", "", "tenant id")
		fs.StringVar(&req.ConsolidationEntityID, "entity", "", "consolidation entity id")
		fs.StringVar(&req.From, "from", "", "first posting date YYYY-MM-DD")
		fs.StringVar(&req.To, "to", "", "last posting date YYYY-MM-DD")
		fs.StringVar(&req.EliminationAccountCode, "account", cfg.EliminationAccount, "fallback elimination account")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		info, err := ops.Eliminate(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s as %s\n", info.Type, info.ID)
		return 0
	}
	fmt.Fprint(os.Stderr, usage)
	return 2
}

func runConsolWarm(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("consol warm", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant id")
	entity := fs.String("entity", "", "consolidation parent entity id")
	asOfRaw := fs.String("as-of", "", "report date YYYY-MM-DD (default today)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	var asOf time.Time
	if *asOfRaw != "" {
		parsed, err := accounting.ParseDate(*asOfRaw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "consol warm: invalid --as-of %q\n", *asOfRaw)
			return 2
		}
		asOf = parsed
	}
	ops, err := cli.NewConsolOpsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "consol warm: %v\n", err)
		return 1
	}
	defer ops.Close()
	info, err := ops.TriggerWarmup(ctx, *tenant, *entity, asOf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "consol warm: %v\n", err)
		return 1
	}
	fmt.Printf("enqueued %s as %s\n", info.Type, info.ID)
	return 0
}
