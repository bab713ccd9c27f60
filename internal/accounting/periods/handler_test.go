package periods

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func newPeriodRouter(repo *stubRepo, audit *stubAudit) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, NewService(repo, audit, nil)).MountRoutes(r)
	return r
}

func transition(t *testing.T, h http.Handler, id, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/periods/"+id+"/transition", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpx.TenantHeader, "t1")
	req.Header.Set(httpx.UserHeader, "u-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerTransitionsPeriod(t *testing.T) {
	repo := &stubRepo{periods: map[string]accounting.Period{"p-2024-03": march(accounting.PeriodStatusOpen)}}
	audit := &stubAudit{}
	rec := transition(t, newPeriodRouter(repo, audit), "p-2024-03", `{"status":"soft_closed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got periodDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "SOFT_CLOSED", got.Status)
	require.Equal(t, "2024-03-01", got.StartDate)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "u-7", audit.logs[0].UserID)
}

func TestHandlerRejectsBackwardTransition(t *testing.T) {
	repo := &stubRepo{periods: map[string]accounting.Period{"p-2024-03": march(accounting.PeriodStatusHardClosed)}}
	rec := transition(t, newPeriodRouter(repo, &stubAudit{}), "p-2024-03", `{"status":"OPEN"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_TRANSITION")
}

func TestHandlerUnknownPeriodAndStatus(t *testing.T) {
	repo := &stubRepo{periods: map[string]accounting.Period{}}
	h := newPeriodRouter(repo, &stubAudit{})
	require.Equal(t, http.StatusNotFound, transition(t, h, "missing", `{"status":"SOFT_CLOSED"}`).Code)
	require.Equal(t, http.StatusBadRequest, transition(t, h, "missing", `{"status":"ARCHIVED"}`).Code)
}
