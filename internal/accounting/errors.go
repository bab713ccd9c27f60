package accounting

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stable error codes surfaced to callers.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeUnbalancedEntry      = "UNBALANCED_ENTRY"
	CodeMinimumLines         = "MINIMUM_LINES"
	CodeCurrencyMismatch     = "CURRENCY_MISMATCH"
	CodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	CodeNoPeriodFound        = "NO_PERIOD_FOUND"
	CodePeriodClosed         = "PERIOD_CLOSED"
	CodeEliminationImbalance = "ELIMINATION_IMBALANCE"
	CodeInternal             = "INTERNAL_ERROR"
)

// CodedError is implemented by every domain error.
type CodedError interface {
	error
	Code() string
}

// ValidationError lists every violation found in a command.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "accounting: validation failed: " + strings.Join(e.Violations, "; ")
}

// Code implements CodedError.
func (e *ValidationError) Code() string { return CodeValidation }

// UnbalancedEntryError reports debit and credit totals that differ.
type UnbalancedEntryError struct {
	DebitMinorUnits  int64
	CreditMinorUnits int64
	Currency         string
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("accounting: journal lines must balance: debit %d != credit %d %s",
		e.DebitMinorUnits, e.CreditMinorUnits, e.Currency)
}

// Code implements CodedError.
func (e *UnbalancedEntryError) Code() string { return CodeUnbalancedEntry }

// MinimumLinesError reports an entry with fewer than two lines.
type MinimumLinesError struct {
	Lines int
}

func (e *MinimumLinesError) Error() string {
	return fmt.Sprintf("accounting: journal requires at least %d lines, got %d", MinimumLines, e.Lines)
}

// Code implements CodedError.
func (e *MinimumLinesError) Code() string { return CodeMinimumLines }

// CurrencyMismatchError reports mixed currencies.
type CurrencyMismatchError struct {
	Expected string
	Actual   string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("accounting: currency mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// Code implements CodedError.
func (e *CurrencyMismatchError) Code() string { return CodeCurrencyMismatch }

// AccountNotFoundError names the account codes that could not be resolved.
type AccountNotFoundError struct {
	Codes []string
}

func (e *AccountNotFoundError) Error() string {
	return "accounting: account not found: " + strings.Join(e.Codes, ", ")
}

// Code implements CodedError.
func (e *AccountNotFoundError) Code() string { return CodeAccountNotFound }

// NoPeriodFoundError reports a posting date with no covering period.
type NoPeriodFoundError struct {
	Date time.Time
}

func (e *NoPeriodFoundError) Error() string {
	return fmt.Sprintf("accounting: %s (%s)", ReasonNoPeriod, e.Date.Format(DateLayout))
}

// Code implements CodedError.
func (e *NoPeriodFoundError) Code() string { return CodeNoPeriodFound }

// PeriodClosedError reports a covering period that does not accept postings.
type PeriodClosedError struct {
	Period string
	Status PeriodStatus
}

func (e *PeriodClosedError) Error() string {
	return fmt.Sprintf("Cannot post to %s period: %s", e.Period, e.Status)
}

// Code implements CodedError.
func (e *PeriodClosedError) Code() string { return CodePeriodClosed }

// EliminationImbalanceError wraps a construction failure of a generated
// elimination entry.
type EliminationImbalanceError struct {
	SourceEntryID string
	Err           error
}

func (e *EliminationImbalanceError) Error() string {
	return fmt.Sprintf("accounting: elimination for entry %s is not balanced: %v", e.SourceEntryID, e.Err)
}

// Unwrap exposes the underlying invariant failure.
func (e *EliminationImbalanceError) Unwrap() error { return e.Err }

// Code implements CodedError.
func (e *EliminationImbalanceError) Code() string { return CodeEliminationImbalance }

// Problem is the structured {code, message} shape handed to callers.
type Problem struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Describe maps err to a Problem. Domain errors are never retryable; anything
// else is reported as INTERNAL_ERROR and left to the caller to classify.
func Describe(err error) Problem {
	if err == nil {
		return Problem{}
	}
	var coded CodedError
	if errors.As(err, &coded) {
		return Problem{Code: coded.Code(), Message: coded.Error()}
	}
	return Problem{Code: CodeInternal, Message: err.Error()}
}
