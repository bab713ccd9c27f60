// Package elimination generates the consolidation entries that cancel
// intercompany postings between entities of one group.
package elimination

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	// KeyPrefix builds deterministic idempotency keys for generated entries.
	KeyPrefix = "IC_ELIM"
	// SourceDocumentType tags generated entries.
	SourceDocumentType = "ELIMINATION"
	// AuditAction identifies audit log entries emitted by the service.
	AuditAction = "ic_eliminate"
	// AuditEntity describes the audited entity.
	AuditEntity = "elimination_run"
)

// TransactionSource lists intercompany entries. Only entries recorded at or
// before knownAt may be returned.
type TransactionSource interface {
	FindIntercompanyTransactions(ctx context.Context, tenantID string, from, to, knownAt time.Time) ([]accounting.JournalEntry, error)
}

// Service builds elimination entries. It never persists them.
type Service struct {
	source TransactionSource
	audit  shared.AuditAppender
	ids    accounting.IDGenerator
	logger *slog.Logger
	actor  string
	now    func() time.Time
}

// Config configures optional behaviour for the service.
type Config struct {
	// Actor is recorded as the creator of generated entries.
	Actor string
}

// NewService wires the elimination generator.
func NewService(source TransactionSource, audit shared.AuditAppender, ids accounting.IDGenerator, logger *slog.Logger, cfg Config) *Service {
	s := &Service{
		source: source,
		audit:  audit,
		ids:    ids,
		logger: logger,
		actor:  cfg.Actor,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if s.ids == nil {
		s.ids = accounting.UUIDGenerator{}
	}
	if s.actor == "" {
		s.actor = "system/job"
	}
	return s
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// IdempotencyKey is the key a generated entry is posted under.
func IdempotencyKey(sourceEntryID string) string {
	return KeyPrefix + "|" + sourceEntryID
}

// GenerateEliminationEntries returns one balanced entry on
// consolidationEntityID per intercompany entry posted in [from, to]. Every
// source line is mirrored with debit and credit swapped. The mirrored line is
// booked to the line's own elimination account when it names one, to its
// original account when it is the intercompany leg (it carries a partner, or
// the entry tags no partner at all), and to eliminationAccountCode otherwise.
func (s *Service) GenerateEliminationEntries(ctx context.Context, tenantID string, from, to time.Time, consolidationEntityID, eliminationAccountCode string) ([]accounting.JournalEntry, error) {
	if s == nil || s.source == nil {
		return nil, fmt.Errorf("elimination service not initialised")
	}
	var violations []string
	if strings.TrimSpace(tenantID) == "" {
		violations = append(violations, "tenant id required")
	}
	if strings.TrimSpace(consolidationEntityID) == "" {
		violations = append(violations, "consolidation entity id required")
	}
	if strings.TrimSpace(eliminationAccountCode) == "" {
		violations = append(violations, "elimination account code required")
	}
	from, to = accounting.CivilDate(from), accounting.CivilDate(to)
	if to.Before(from) {
		violations = append(violations, "from date must not be after to date")
	}
	if len(violations) > 0 {
		return nil, &accounting.ValidationError{Violations: violations}
	}

	cutoff := s.now().UTC()
	sources, err := s.source.FindIntercompanyTransactions(ctx, tenantID, from, to, cutoff)
	if err != nil {
		return nil, fmt.Errorf("elimination: load intercompany entries: %w", err)
	}
	if len(sources) == 0 {
		s.log().Info("no intercompany entries discovered",
			slog.String("tenant_id", tenantID),
			slog.String("from", from.Format(accounting.DateLayout)),
			slog.String("to", to.Format(accounting.DateLayout)))
		return nil, nil
	}

	out := make([]accounting.JournalEntry, 0, len(sources))
	var total int64
	for _, src := range sources {
		if !src.IsIntercompany() {
			continue
		}
		entry, err := accounting.NewJournalEntry(s.ids, mirror(src, consolidationEntityID, eliminationAccountCode, s.actor))
		if err != nil {
			return nil, &accounting.EliminationImbalanceError{SourceEntryID: src.ID(), Err: err}
		}
		out = append(out, entry)
		total += entry.Total().Amount()
	}

	s.recordAudit(ctx, tenantID, consolidationEntityID, from, to, cutoff, out, total)
	s.log().Info("generated intercompany eliminations",
		slog.String("tenant_id", tenantID),
		slog.String("consolidation_entity_id", consolidationEntityID),
		slog.Int("entries", len(out)),
		slog.Int64("total_minor_units", total))
	return out, nil
}

func mirror(src accounting.JournalEntry, consolidationEntityID, eliminationAccountCode, actor string) accounting.EntryInput {
	lines := src.Lines()
	tagged := false
	for _, l := range lines {
		if l.IntercompanyPartnerID() != "" {
			tagged = true
			break
		}
	}
	mirrored := make([]accounting.LineInput, 0, len(lines))
	for _, l := range lines {
		in := l.CreateReversal()
		switch {
		case l.EliminationAccountCode() != "":
			in.AccountCode = l.EliminationAccountCode()
		case l.IntercompanyPartnerID() != "" || !tagged:
			in.AccountCode = l.AccountCode()
		default:
			in.AccountCode = eliminationAccountCode
		}
		in.EliminationAccountCode = ""
		mirrored = append(mirrored, in)
	}
	metadata := accounting.Metadata{
		"eliminated_entity_id": accounting.StringValue(src.EntityID()),
	}
	if cp := src.CounterpartyEntityID(); cp != "" {
		metadata["counterparty_entity_id"] = accounting.StringValue(cp)
	}
	return accounting.EntryInput{
		TenantID:           src.TenantID(),
		EntityID:           consolidationEntityID,
		PostingDate:        src.PostingDate(),
		ValidTimeStart:     src.PostingDate(),
		SourceModule:       accounting.SourceModuleEliminations,
		SourceDocumentID:   src.ID(),
		SourceDocumentType: SourceDocumentType,
		Description:        fmt.Sprintf("IC elimination of %s", src.ID()),
		Lines:              mirrored,
		CreatedBy:          actor,
		IdempotencyKey:     IdempotencyKey(src.ID()),
		Metadata:           metadata,
	}
}

func (s *Service) recordAudit(ctx context.Context, tenantID, consolidationEntityID string, from, to, cutoff time.Time, entries []accounting.JournalEntry, total int64) {
	if s.audit == nil {
		return
	}
	sources := make([]string, 0, len(entries))
	for _, e := range entries {
		sources = append(sources, e.SourceDocumentID())
	}
	err := s.audit.Append(ctx, shared.AuditLog{
		TenantID:   tenantID,
		UserID:     s.actor,
		Action:     AuditAction,
		EntityType: AuditEntity,
		EntityID:   consolidationEntityID,
		Payload: map[string]any{
			"from":              from.Format(accounting.DateLayout),
			"to":                to.Format(accounting.DateLayout),
			"known_at":          cutoff,
			"entries":           len(entries),
			"source_entry_ids":  sources,
			"total_minor_units": total,
		},
		At: s.now(),
	})
	if err != nil {
		s.log().Error("append elimination audit",
			slog.String("tenant_id", tenantID),
			slog.String("consolidation_entity_id", consolidationEntityID),
			slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "elimination"))
	}
	return slog.Default().With(slog.String("component", "elimination"))
}

// RunRequest names one elimination run. It is the payload of scheduled runs.
type RunRequest struct {
	TenantID               string `json:"tenant_id"`
	ConsolidationEntityID  string `json:"entity_id"`
	EliminationAccountCode string `json:"account"`
	From                   string `json:"from"`
	To                     string `json:"to"`
}

// Window parses the inclusive date range of the request.
func (r RunRequest) Window() (from, to time.Time, err error) {
	if from, err = accounting.ParseDate(r.From); err != nil {
		return time.Time{}, time.Time{}, &accounting.ValidationError{Violations: []string{"from: expected YYYY-MM-DD"}}
	}
	if to, err = accounting.ParseDate(r.To); err != nil {
		return time.Time{}, time.Time{}, &accounting.ValidationError{Violations: []string{"to: expected YYYY-MM-DD"}}
	}
	return from, to, nil
}

// Generate runs GenerateEliminationEntries for req.
func (s *Service) Generate(ctx context.Context, req RunRequest) ([]accounting.JournalEntry, error) {
	from, to, err := req.Window()
	if err != nil {
		return nil, err
	}
	return s.GenerateEliminationEntries(ctx, req.TenantID, from, to, req.ConsolidationEntityID, req.EliminationAccountCode)
}
