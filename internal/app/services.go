package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/consol"
	"github.com/odyssey-erp/odyssey-ledger/internal/consol/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/elimination"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Services is the ledger object graph shared by the API and the worker.
type Services struct {
	Accounts     *accounts.Service
	Periods      *periods.Service
	Balances     *balances.Service
	Journals     journals.Repository
	Commands     *journals.CommandHandler
	Events       *shared.RedisEventBus
	Idempotency  *shared.IdempotencyStore
	Eliminations *elimination.Service
	ConsolRepo   *consol.Repository
	Reports      *consol.CachedService
}

// NewServices wires the ledger services against Postgres and Redis.
func NewServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics) *Services {
	ids := accounting.UUIDGenerator{}
	audit := shared.NewAuditLogger(pool)
	events := shared.NewRedisEventBus(redisClient, cfg.EventChannel)

	accountRepo := accounts.NewRepository(pool)
	periodService := periods.NewService(periods.NewRepository(pool), audit, logger)
	balanceService := balances.NewService(balances.NewPGStore(pool))
	idempotencyStore := shared.NewIdempotencyStore(pool)
	journalRepo := journals.NewRepository(pool)

	commands := journals.NewCommandHandler(journals.Dependencies{
		Repository:  journalRepo,
		Accounts:    accountRepo,
		Periods:     periodService,
		Balances:    balanceService,
		Idempotency: shared.NewIdempotencyService(idempotencyStore),
		Events:      events,
		Audit:       audit,
		IDs:         ids,
		Metrics:     metrics.Ledger(),
		Logger:      logger,
	})

	consolRepo := consol.NewRepository(pool)
	consolService := consol.NewService(consolRepo, journalRepo, fx.NewConverter(fx.DefaultPolicy(), consolRepo), consol.Config{
		MaxDepth:          cfg.ConsolMaxDepth,
		Concurrency:       cfg.ConsolConcurrency,
		InvestmentAccount: cfg.ConsolInvestmentAccount,
		NCIAccount:        cfg.ConsolNCIAccount,
	}, logger)
	reports := consol.NewCachedService(consolService, consol.NewReportCache(redisClient, cfg.ConsolCacheTTL), metrics.Ledger(), logger)

	return &Services{
		Accounts:     accounts.NewService(accountRepo),
		Periods:      periodService,
		Balances:     balanceService,
		Journals:     journalRepo,
		Commands:     commands,
		Events:       events,
		Idempotency:  idempotencyStore,
		Eliminations: elimination.NewService(journalRepo, audit, ids, logger, elimination.Config{}),
		ConsolRepo:   consolRepo,
		Reports:      reports,
	}
}
