package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicate     = errors.New("duplicate entry")
	ErrValidation    = errors.New("validation failed")
	ErrMissingTenant = errors.New("tenant header required")
)

// coded is implemented by ledger domain errors.
type coded interface {
	error
	Code() string
}

var codeStatus = map[string]int{
	"VALIDATION_ERROR":       http.StatusBadRequest,
	"MINIMUM_LINES":          http.StatusBadRequest,
	"CURRENCY_MISMATCH":      http.StatusBadRequest,
	"UNBALANCED_ENTRY":       http.StatusUnprocessableEntity,
	"ACCOUNT_NOT_FOUND":      http.StatusUnprocessableEntity,
	"NO_PERIOD_FOUND":        http.StatusUnprocessableEntity,
	"ELIMINATION_IMBALANCE":  http.StatusUnprocessableEntity,
	"FX_RATE_MISSING":        http.StatusUnprocessableEntity,
	"PERIOD_CLOSED":          http.StatusConflict,
	"IDEMPOTENCY_KEY_REUSED": http.StatusConflict,
}

// RespondError maps coded domain errors and transport sentinels to HTTP
// responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var c coded
	if errors.As(err, &c) {
		if status, ok := codeStatus[c.Code()]; ok {
			CodedProblem(w, status, c.Code(), http.StatusText(status), c.Error())
			return
		}
	}
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrMissingTenant):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// TenantHeader and UserHeader are set by the upstream gateway.
const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"
)

// Principal extracts the tenant and user placed by the gateway.
func Principal(r *http.Request) (tenantID, userID string, err error) {
	tenantID = r.Header.Get(TenantHeader)
	if tenantID == "" {
		return "", "", ErrMissingTenant
	}
	return tenantID, r.Header.Get(UserHeader), nil
}
