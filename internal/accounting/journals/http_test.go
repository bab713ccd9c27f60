package journals

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func newRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, f.handler, f.balances).MountRoutes(r)
	return r
}

func postJSON(t *testing.T, h http.Handler, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set(httpx.TenantHeader, "t1")
	req.Header.Set(httpx.UserHeader, "u1")
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateEndpointReplaysWithIdempotencyKey(t *testing.T) {
	f := newFixture(t, accounting.PeriodStatusOpen)
	router := newRouter(f)
	cmd := command(debit("CASH", 250), credit("4000-REV", 250))
	cmd.TenantID = ""

	first := postJSON(t, router, "/journal-entries", "abc", cmd)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := postJSON(t, router, "/journal-entries", "abc", cmd)
	require.Equal(t, http.StatusOK, second.Code)

	var a, b CreateJournalEntryResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	require.Equal(t, a.JournalEntryID, b.JournalEntryID)
	require.True(t, b.WasIdempotent)

	req := httptest.NewRequest(http.MethodGet, "/journal-entries/"+a.JournalEntryID, nil)
	req.Header.Set(httpx.TenantHeader, "t1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var dto JournalEntryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Equal(t, "2024-12-15", dto.PostingDate)
	require.EqualValues(t, 250, dto.TotalMinorUnits)
	require.Len(t, dto.Lines, 2)
}

func TestCreateEndpointMapsDomainErrors(t *testing.T) {
	f := newFixture(t, accounting.PeriodStatusOpen)
	router := newRouter(f)

	rec := postJSON(t, router, "/journal-entries", "", command(debit("CASH", 100), credit("4000-REV", 90)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, accounting.CodeUnbalancedEntry, problem.Code)

	req := httptest.NewRequest(http.MethodPost, "/journal-entries", bytes.NewReader([]byte(`{}`)))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBalanceEndpoint(t *testing.T) {
	f := newFixture(t, accounting.PeriodStatusOpen)
	router := newRouter(f)
	require.Equal(t, http.StatusCreated, postJSON(t, router, "/journal-entries", "", command(debit("CASH", 900), credit("4000-REV", 900))).Code)

	req := httptest.NewRequest(http.MethodGet, "/balances?entity=e1&account=4000-REV&currency=usd&valid_at=2024-12-31", nil)
	req.Header.Set(httpx.TenantHeader, "t1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dto BalanceDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.EqualValues(t, -900, dto.BalanceMinorUnits)
	require.Equal(t, "USD", dto.Currency)

	req = httptest.NewRequest(http.MethodGet, "/balances?entity=e1&currency=usd&valid_at=31-12-2024", nil)
	req.Header.Set(httpx.TenantHeader, "t1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
