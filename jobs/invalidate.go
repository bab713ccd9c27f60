package jobs

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// EventSource yields domain events until its context ends.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan shared.DomainEvent, error)
}

// RunCacheInvalidation bumps the tenant's report cache version for every
// posted journal entry. It blocks until ctx is cancelled or the source closes.
func RunCacheInvalidation(ctx context.Context, source EventSource, cache CacheInvalidator, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "consol-invalidation"))
	events, err := source.Subscribe(ctx)
	if err != nil {
		return err
	}
	for event := range events {
		if event.Type != journals.EventJournalEntryPosted || event.TenantID == "" {
			continue
		}
		if err := cache.Invalidate(ctx, event.TenantID); err != nil {
			logger.Warn("invalidate consolidation cache",
				slog.String("tenant_id", event.TenantID),
				slog.String("journal_entry_id", event.AggregateID),
				slog.Any("error", err))
		}
	}
	return ctx.Err()
}
