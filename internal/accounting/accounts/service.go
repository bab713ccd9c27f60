// Package accounts exposes the chart of accounts to the ledger core.
package accounts

import (
	"context"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, tenantID string) ([]accounting.Account, error) {
	return s.repo.List(ctx, tenantID)
}

// Resolve loads every code and fails with *accounting.AccountNotFoundError
// naming all missing codes, sorted.
func (s *Service) Resolve(ctx context.Context, tenantID string, codes []string) (map[string]accounting.Account, error) {
	return Resolve(ctx, s.repo, tenantID, codes)
}

// Finder is the lookup Resolve needs.
type Finder interface {
	FindByCodes(ctx context.Context, tenantID string, codes []string) ([]accounting.Account, error)
}

// Resolve de-duplicates codes, looks them up in one call and reports every
// code that did not resolve.
func Resolve(ctx context.Context, finder Finder, tenantID string, codes []string) (map[string]accounting.Account, error) {
	unique := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		unique = append(unique, c)
	}
	found, err := finder.FindByCodes(ctx, tenantID, unique)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]accounting.Account, len(found))
	for _, a := range found {
		byCode[a.Code] = a
	}
	var missing []string
	for _, c := range unique {
		if _, ok := byCode[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &accounting.AccountNotFoundError{Codes: missing}
	}
	return byCode, nil
}
