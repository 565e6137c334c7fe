package social

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeProviderNotFound  = "federation_provider_not_found"
	TextCodeInvalidState      = "federation_invalid_state"
	TextCodeStateExpired      = "federation_state_expired"
	TextCodeTokenExchangeFail = "federation_token_exchange_failed"
	TextCodeUserInfoFail      = "federation_user_info_failed"
	TextCodeEmailNotVerified  = "federation_email_not_verified"
)

var ErrProviderNotFound = goerrors.New("federated provider not configured", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProviderNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidState is returned when the state parameter was tampered with or
// was issued for another provider.
var ErrInvalidState = goerrors.New("invalid oauth state", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(goerrors.CodeBadRequest)

var ErrStateExpired = goerrors.New("oauth state expired", goerrors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(goerrors.CodeBadRequest)

var ErrTokenExchangeFailed = goerrors.New("token exchange failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExchangeFail).
	WithCode(goerrors.CodeUnauthorized)

var ErrUserInfoFailed = goerrors.New("failed to fetch federated profile", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserInfoFail).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailNotVerified is returned when the provider does not vouch for the
// email address. Accounts are keyed by email so an unverified one is refused.
var ErrEmailNotVerified = goerrors.New("federated email not verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified).
	WithCode(goerrors.CodeForbidden)

// ProviderError carries the details of a failed provider HTTP exchange
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := e.Provider
	if e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	}

	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return scope + " failed"
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ProviderError) metadata() map[string]any {
	meta := map[string]any{}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// wrapProviderError clones base so the sentinel stays untouched and keeps err
// reachable through errors.As
func wrapProviderError(base *goerrors.Error, provider, operation string, err error) error {
	meta := map[string]any{
		"provider":  provider,
		"operation": operation,
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		for k, v := range perr.metadata() {
			meta[k] = v
		}
	} else if err != nil {
		meta["error"] = err.Error()
	}

	clone := base.Clone()
	clone.Source = err
	return clone.WithMetadata(meta)
}
