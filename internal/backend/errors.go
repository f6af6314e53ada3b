// AngelaMos | 2026
// errors.go

package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/carterperez-dev/templates/credit-ledger/internal/auth"
	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/ledger"
)

// ErrUnavailable marks failures where the backend could not be reached or
// failed internally.
var ErrUnavailable = errors.New("backend unavailable")

// codeErrors maps API error codes to the sentinels callers branch on.
var codeErrors = map[string]error{
	"INVALID_CREDENTIALS":  auth.ErrInvalidCredentials,
	"EMAIL_UNCONFIRMED":    auth.ErrEmailUnconfirmed,
	"ALREADY_REGISTERED":   auth.ErrAlreadyRegistered,
	"DOMAIN_NOT_ALLOWED":   auth.ErrDomainNotAllowed,
	"RATE_LIMITED":         auth.ErrRateLimited,
	"TOKEN_REUSE_DETECTED": auth.ErrTokenReuse,
	"TOKEN_EXPIRED":        core.ErrTokenExpired,
	"TOKEN_REVOKED":        core.ErrTokenRevoked,
	"TOKEN_INVALID":        core.ErrTokenInvalid,
	"UNAUTHORIZED":         core.ErrUnauthorized,
	"FORBIDDEN":            core.ErrForbidden,
	"NOT_FOUND":            core.ErrNotFound,
	"ALREADY_EXISTS":       core.ErrDuplicateKey,
	"VALIDATION_ERROR":     core.ErrInvalidInput,
	"INSUFFICIENT_BALANCE": ledger.ErrInsufficientBalance,
	"INVALID_AMOUNT":       ledger.ErrInvalidAmount,
	"IDEMPOTENCY_CONFLICT": ledger.ErrIdempotencyConflict,
	"INTERNAL_ERROR":       ErrUnavailable,
}

// APIError is a failure reported by the backend in its error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.err
}

func newAPIError(status int, body *core.ErrorBody) *APIError {
	apiErr := &APIError{Status: status}
	if body != nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	if mapped, ok := codeErrors[apiErr.Code]; ok {
		apiErr.err = mapped
		return apiErr
	}

	switch {
	case status == http.StatusTooManyRequests:
		apiErr.err = auth.ErrRateLimited
	case status == http.StatusNotFound:
		apiErr.err = core.ErrNotFound
	case status == http.StatusUnauthorized:
		apiErr.err = core.ErrUnauthorized
	case status >= http.StatusInternalServerError:
		apiErr.err = ErrUnavailable
	}

	return apiErr
}
