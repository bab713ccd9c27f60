package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// EventJournalEntryPosted is published once per newly posted entry.
const EventJournalEntryPosted = "journal_entry.posted"

// CreateJournalEntryResult is the outcome of a posting command.
type CreateJournalEntryResult struct {
	IsSuccess      bool   `json:"isSuccess"`
	JournalEntryID string `json:"journalEntryId"`
	WasIdempotent  bool   `json:"wasIdempotent"`
}

// postingOutcome is what the idempotency record stores.
type postingOutcome struct {
	JournalEntryID string `json:"journalEntryId"`
}

// Metrics receives posting counters.
type Metrics interface {
	PostingRecorded(sourceModule string)
	IdempotentReplay()
	PostingRejected(code string)
}

type noopMetrics struct{}

func (noopMetrics) PostingRecorded(string) {}
func (noopMetrics) IdempotentReplay()      {}
func (noopMetrics) PostingRejected(string) {}

// Dependencies wires the command handler.
type Dependencies struct {
	Repository  Repository
	Accounts    AccountRepository
	Periods     PeriodRepository
	Balances    *balances.Service
	Idempotency *shared.IdempotencyService
	Events      shared.EventBus
	Audit       shared.AuditAppender
	IDs         accounting.IDGenerator
	Metrics     Metrics
	Logger      *slog.Logger
}

// CommandHandler runs the posting pipeline for CreateJournalEntryCommand.
type CommandHandler struct {
	repo        Repository
	accounts    AccountRepository
	service     *JournalEntryService
	balances    *balances.Service
	idempotency *shared.IdempotencyService
	events      shared.EventBus
	audit       shared.AuditAppender
	ids         accounting.IDGenerator
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewCommandHandler constructs the handler. Balances and Idempotency fall
// back to services bound to nothing; each posting binds them to its
// transaction.
func NewCommandHandler(deps Dependencies) *CommandHandler {
	h := &CommandHandler{
		repo:        deps.Repository,
		accounts:    deps.Accounts,
		service:     NewJournalEntryService(deps.Periods, deps.Repository),
		balances:    deps.Balances,
		idempotency: deps.Idempotency,
		events:      deps.Events,
		audit:       deps.Audit,
		ids:         deps.IDs,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         time.Now,
	}
	if h.balances == nil {
		h.balances = balances.NewService(nil)
	}
	if h.idempotency == nil {
		h.idempotency = shared.NewIdempotencyService(nil)
	}
	if h.ids == nil {
		h.ids = accounting.UUIDGenerator{}
	}
	if h.metrics == nil {
		h.metrics = noopMetrics{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With(slog.String("component", "journals"))
	return h
}

// WithNow overrides the clock for testing.
func (h *CommandHandler) WithNow(now func() time.Time) {
	if now != nil {
		h.now = now
		h.balances.WithNow(now)
		h.idempotency.WithNow(now)
	}
}

// Service exposes the read-side journal service.
func (h *CommandHandler) Service() *JournalEntryService {
	return h.service
}

// Handle validates, resolves accounts, then posts the entry exactly once per
// idempotency key. Nothing is persisted when an error is returned.
func (h *CommandHandler) Handle(ctx context.Context, cmd CreateJournalEntryCommand) (CreateJournalEntryResult, error) {
	result, err := h.handle(ctx, cmd)
	if err != nil {
		code := accounting.Describe(err).Code
		if errors.Is(err, shared.ErrIdempotencyKeyReused) {
			code = shared.CodeIdempotencyKeyReused
		}
		h.metrics.PostingRejected(code)
		h.logger.Warn("journal entry rejected",
			slog.String("tenant_id", cmd.TenantID),
			slog.String("source_module", cmd.SourceModule),
			slog.String("code", code),
			slog.Any("error", err))
		return CreateJournalEntryResult{}, err
	}
	return result, nil
}

func (h *CommandHandler) handle(ctx context.Context, cmd CreateJournalEntryCommand) (CreateJournalEntryResult, error) {
	if err := cmd.Validate(); err != nil {
		return CreateJournalEntryResult{}, err
	}
	input, err := cmd.EntryInput()
	if err != nil {
		return CreateJournalEntryResult{}, err
	}
	byCode, err := accounts.Resolve(ctx, h.accounts, cmd.TenantID, cmd.AccountCodes())
	if err != nil {
		return CreateJournalEntryResult{}, err
	}
	if err := checkAccountUsage(input, byCode); err != nil {
		return CreateJournalEntryResult{}, err
	}
	fingerprint, err := cmd.Fingerprint()
	if err != nil {
		return CreateJournalEntryResult{}, fmt.Errorf("journals: fingerprint: %w", err)
	}

	var (
		posted  *accounting.JournalEntry
		outcome shared.Outcome[postingOutcome]
	)
	err = h.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		idem := h.idempotency.Within(tx.Idempotency())
		bal := h.balances.Within(tx.Balances())
		res, err := shared.ExecuteIdempotent(ctx, idem, cmd.TenantID, cmd.IdempotencyKey, fingerprint,
			func(ctx context.Context) (postingOutcome, error) {
				if err := h.service.Within(tx.Periods()).EnsureCanPost(ctx, input.TenantID, input.PostingDate); err != nil {
					return postingOutcome{}, err
				}
				entry, err := accounting.NewJournalEntry(h.ids, input)
				if err != nil {
					return postingOutcome{}, err
				}
				if err := tx.SaveJournalEntry(ctx, entry, h.now()); err != nil {
					return postingOutcome{}, fmt.Errorf("journals: save entry: %w", err)
				}
				if err := bal.ApplyJournalEntry(ctx, entry); err != nil {
					return postingOutcome{}, err
				}
				posted = &entry
				return postingOutcome{JournalEntryID: entry.ID()}, nil
			})
		if err != nil {
			return err
		}
		outcome = res
		return nil
	})
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		// another submission holds the key; our transaction rolled back
		posted = nil
		outcome, err = h.replay(ctx, cmd, input, fingerprint)
	}
	if err != nil {
		return CreateJournalEntryResult{}, err
	}

	if outcome.WasIdempotent {
		h.metrics.IdempotentReplay()
		h.logger.Info("journal entry replayed",
			slog.String("tenant_id", cmd.TenantID),
			slog.String("journal_entry_id", outcome.Value.JournalEntryID),
			slog.String("idempotency_key", cmd.IdempotencyKey))
	} else if posted != nil {
		h.afterCommit(ctx, *posted)
	}
	return CreateJournalEntryResult{
		IsSuccess:      true,
		JournalEntryID: outcome.Value.JournalEntryID,
		WasIdempotent:  outcome.WasIdempotent,
	}, nil
}

// replay returns the result stored for the command's key. When the record
// was pruned the posted entry still carries the key and answers instead.
func (h *CommandHandler) replay(ctx context.Context, cmd CreateJournalEntryCommand, input accounting.EntryInput, fingerprint string) (shared.Outcome[postingOutcome], error) {
	outcome, err := shared.ReplayIdempotent[postingOutcome](ctx, h.idempotency, cmd.TenantID, cmd.IdempotencyKey, fingerprint)
	if !errors.Is(err, shared.ErrIdempotencyRecordMissing) {
		return outcome, err
	}
	entry, findErr := h.repo.FindByIdempotencyKey(ctx, cmd.TenantID, cmd.IdempotencyKey)
	if errors.Is(findErr, ErrJournalNotFound) {
		return outcome, err
	}
	if findErr != nil {
		return outcome, fmt.Errorf("journals: replay by key: %w", findErr)
	}
	if !sameSubmission(entry, input) {
		return shared.Outcome[postingOutcome]{}, shared.ErrIdempotencyKeyReused
	}
	return shared.Outcome[postingOutcome]{Value: postingOutcome{JournalEntryID: entry.ID()}, WasIdempotent: true}, nil
}

// sameSubmission compares in with a posted entry on the fields a retry
// must repeat: entity, date, source document, currency and amounts.
func sameSubmission(entry accounting.JournalEntry, in accounting.EntryInput) bool {
	if entry.EntityID() != in.EntityID ||
		!accounting.CivilDate(entry.PostingDate()).Equal(accounting.CivilDate(in.PostingDate)) ||
		entry.SourceModule() != in.SourceModule ||
		entry.SourceDocumentID() != in.SourceDocumentID ||
		len(entry.Lines()) != len(in.Lines) {
		return false
	}
	var total int64
	for _, l := range in.Lines {
		if !l.Debit.IsZero() && l.Debit.Currency() != entry.Currency() {
			return false
		}
		total += l.Debit.Amount()
	}
	return total == entry.Total().Amount()
}

func (h *CommandHandler) afterCommit(ctx context.Context, entry accounting.JournalEntry) {
	h.metrics.PostingRecorded(entry.SourceModule())
	payload := map[string]any{
		"journal_entry_id":   entry.ID(),
		"entity_id":          entry.EntityID(),
		"posting_date":       entry.PostingDate().Format(accounting.DateLayout),
		"currency":           entry.Currency(),
		"total_minor_units":  entry.Total().Amount(),
		"source_module":      entry.SourceModule(),
		"source_document_id": entry.SourceDocumentID(),
		"is_intercompany":    entry.IsIntercompany(),
	}
	if h.events != nil {
		if err := h.events.Publish(ctx, shared.DomainEvent{
			Type:        EventJournalEntryPosted,
			TenantID:    entry.TenantID(),
			AggregateID: entry.ID(),
			OccurredAt:  h.now().UTC(),
			Payload:     payload,
		}); err != nil {
			h.logger.Error("publish journal event", slog.String("journal_entry_id", entry.ID()), slog.Any("error", err))
		}
	}
	if h.audit != nil {
		if err := h.audit.Append(ctx, shared.AuditLog{
			TenantID:   entry.TenantID(),
			UserID:     entry.CreatedBy(),
			Action:     "journal.post",
			EntityType: "journal_entry",
			EntityID:   entry.ID(),
			Payload:    payload,
			At:         h.now(),
		}); err != nil {
			h.logger.Error("append journal audit", slog.String("journal_entry_id", entry.ID()), slog.Any("error", err))
		}
	}
	h.logger.Info("journal entry posted",
		slog.String("tenant_id", entry.TenantID()),
		slog.String("journal_entry_id", entry.ID()),
		slog.Int("lines", len(entry.Lines())))
}

// checkAccountUsage enforces per-account posting rights.
func checkAccountUsage(in accounting.EntryInput, byCode map[string]accounting.Account) error {
	var violations []string
	privileged := in.SourceModule == accounting.SourceModuleSystem || in.SourceModule == accounting.SourceModuleEliminations
	for i, l := range in.Lines {
		account := byCode[l.AccountCode]
		if l.IntercompanyPartnerID != "" && !account.AllowsIntercompany {
			violations = append(violations, fmt.Sprintf("lines[%d]: account %s does not allow intercompany postings", i, l.AccountCode))
		}
		if account.IsSystemControlled && !privileged {
			violations = append(violations, fmt.Sprintf("lines[%d]: account %s is system controlled", i, l.AccountCode))
		}
	}
	if len(violations) > 0 {
		return &accounting.ValidationError{Violations: violations}
	}
	return nil
}

// ReverseCommand requests a reversal of a posted entry.
type ReverseCommand struct {
	TenantID    string
	EntryID     string
	PostingDate string
	CreatedBy   string
}

// Reverse posts a new entry that swaps every line of the original. The
// reversal is keyed so that repeating the request does not post twice.
func (h *CommandHandler) Reverse(ctx context.Context, cmd ReverseCommand) (CreateJournalEntryResult, error) {
	original, err := h.service.Find(ctx, cmd.TenantID, cmd.EntryID)
	if err != nil {
		return CreateJournalEntryResult{}, err
	}
	date := original.PostingDate()
	if cmd.PostingDate != "" {
		if date, err = accounting.ParseDate(cmd.PostingDate); err != nil {
			return CreateJournalEntryResult{}, &accounting.ValidationError{Violations: []string{"postingDate: " + err.Error()}}
		}
	}
	in := original.ReversalInput(date, cmd.CreatedBy)
	return h.Handle(ctx, CommandFromInput(in, "REVERSAL|"+original.ID()))
}
