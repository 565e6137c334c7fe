package auth

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodePolicyNotAccepted     = "AUTH_POLICY_NOT_ACCEPTED"
	TextCodeAllocationConflict    = "AUTH_ALLOCATION_CONFLICT"
	TextCodeProviderQuotaExceeded = "AUTH_PROVIDER_QUOTA_EXCEEDED"
	TextCodeInvalidOrExpiredLink  = "AUTH_INVALID_OR_EXPIRED_LINK"
	TextCodeMissingEmail          = "AUTH_MISSING_EMAIL"
	TextCodeOperationInFlight     = "AUTH_OPERATION_IN_FLIGHT"
	TextCodeInvalidCredentials    = "AUTH_INVALID_CREDENTIALS"
	TextCodeAccountExists         = "AUTH_ACCOUNT_EXISTS"
	TextCodeNotAuthenticated      = "AUTH_NOT_AUTHENTICATED"
	TextCodeTokenExpired          = "AUTH_TOKEN_EXPIRED"
	TextCodeTokenMalformed        = "AUTH_TOKEN_MALFORMED"
	TextCodeSigningKeyMissing     = "AUTH_SIGNING_KEY_MISSING"
	TextCodeDocumentNotFound      = "STORE_DOCUMENT_NOT_FOUND"
	TextCodeTransactionConflict   = "STORE_TRANSACTION_CONFLICT"
	TextCodeCacheMiss             = "CACHE_MISS"
	TextCodeProfileNotFound       = "PROFILE_NOT_FOUND"
	TextCodeInvalidPreference     = "PREFERENCE_INVALID"
	TextCodeInvalidTransition     = "AUTH_INVALID_SESSION_TRANSITION"
	TextCodeFederationUnsupported = "AUTH_FEDERATION_UNSUPPORTED"
)

// ErrPolicyNotAccepted is returned when an account would be created without
// the user accepting the platform policies. Never retried.
var ErrPolicyNotAccepted = errors.New("policy must be accepted before creating an account", errors.CategoryValidation).
	WithTextCode(TextCodePolicyNotAccepted).
	WithCode(errors.CodeBadRequest)

// ErrAllocationConflict is returned when the signup ordinal transaction could
// not commit after the configured number of attempts.
var ErrAllocationConflict = errors.NewRetryable("signup allocation conflict", errors.CategoryConflict).
	WithTextCode(TextCodeAllocationConflict).
	WithCode(errors.CodeConflict)

// ErrProviderQuotaExceeded is returned when the authentication provider
// refuses to dispatch more email links.
var ErrProviderQuotaExceeded = errors.New("provider quota exceeded", errors.CategoryRateLimit).
	WithTextCode(TextCodeProviderQuotaExceeded).
	WithCode(errors.CodeTooManyRequests)

// ErrInvalidOrExpiredLink is returned for sign-in links that are unknown,
// already used or expired.
var ErrInvalidOrExpiredLink = errors.New("sign-in link is invalid or expired", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidOrExpiredLink).
	WithCode(errors.CodeUnauthorized)

// ErrMissingEmail is returned when an email link is completed and the address
// cannot be recovered from the link or the local cache.
var ErrMissingEmail = errors.New("email address required to complete sign-in", errors.CategoryBadInput).
	WithTextCode(TextCodeMissingEmail).
	WithCode(errors.CodeBadRequest)

// ErrOperationInFlight is returned when a session operation is started while
// another one is still running on the same manager.
var ErrOperationInFlight = errors.New("another session operation is in progress", errors.CategoryConflict).
	WithTextCode(TextCodeOperationInFlight).
	WithCode(errors.CodeConflict)

var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

var ErrAccountExists = errors.New("account already exists", errors.CategoryConflict).
	WithTextCode(TextCodeAccountExists).
	WithCode(errors.CodeConflict)

var ErrNotAuthenticated = errors.New("no authenticated principal", errors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned by Validate for credentials past expiresAt
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned by Validate for anything it can not verify
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

var ErrSigningKeyMissing = errors.New("signing key is not configured", errors.CategoryInternal).
	WithTextCode(TextCodeSigningKeyMissing).
	WithCode(errors.CodeInternal)

// ErrDocumentNotFound is returned by DocumentStore reads and partial updates
// of absent documents.
var ErrDocumentNotFound = errors.New("document not found", errors.CategoryNotFound).
	WithTextCode(TextCodeDocumentNotFound).
	WithCode(errors.CodeNotFound)

// ErrTransactionConflict is returned by DocumentStore.RunTransaction when a
// document read inside the transaction changed before commit.
var ErrTransactionConflict = errors.New("transaction conflict", errors.CategoryConflict).
	WithTextCode(TextCodeTransactionConflict).
	WithCode(errors.CodeConflict)

// ErrCacheMiss is returned by LocalCache.Get for absent or expired keys
var ErrCacheMiss = errors.New("cache miss", errors.CategoryNotFound).
	WithTextCode(TextCodeCacheMiss).
	WithCode(errors.CodeNotFound)

var ErrProfileNotFound = errors.New("profile not found", errors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(errors.CodeNotFound)

var ErrInvalidPreference = errors.New("invalid preference value", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidPreference).
	WithCode(errors.CodeBadRequest)

var ErrInvalidSessionTransition = errors.New("invalid session state transition", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(errors.CodeConflict)

var ErrFederationUnsupported = errors.New("provider does not support federated redirects", errors.CategoryOperation).
	WithTextCode(TextCodeFederationUnsupported).
	WithCode(errors.CodeBadRequest)

// IsRetryable reports whether err can be retried by the caller
func IsRetryable(err error) bool {
	var retryable *errors.RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}
