package authc

import "github.com/goliatone/go-errors"

const (
	TextCodeDuplicateIdentity = "duplicate_identity"
	TextCodeIdentityNotFound  = "identity_not_found"
	TextCodeInvalidCredential = "invalid_credential"
	TextCodeSessionNotFound   = "session_not_found"
	TextCodeTokenNotValid     = "token_not_valid"
	TextCodeTokenExpired      = "token_expired"
	TextCodeBadSignature      = "bad_signature"
	TextCodePolicyViolation   = "policy_violation"
	TextCodeUnauthorized      = "unauthorized"
	TextCodeRedirectFailed    = "redirect_failed"
	TextCodeStorageFailure    = "storage_unavailable"
	TextCodePartialFailure    = "partial_failure"
	TextCodeTooManyAttempts   = "too_many_login_attempts"
)

// ErrDuplicateIdentity is returned when a register hits an occupied
// (tenant, provider, email) shard.
var ErrDuplicateIdentity = errors.New("email already in use", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(errors.CodeConflict)

// ErrIdentityNotFound is returned when no identity exists for the shard.
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidCredential is returned when password verification fails.
var ErrInvalidCredential = errors.New("invalid credential", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredential).
	WithCode(errors.CodeUnauthorized)

// ErrSessionNotFound is returned when a refresh references a session the
// identity no longer holds.
var ErrSessionNotFound = errors.New("session not found", errors.CategoryNotFound).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(errors.CodeNotFound)

// ErrTokenNotValid is returned for unknown refresh tokens and malformed
// access tokens.
var ErrTokenNotValid = errors.New("token not valid", errors.CategoryAuth).
	WithTextCode(TextCodeTokenNotValid).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned when an access token is past its expiry.
var ErrTokenExpired = errors.New("token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrBadSignature is returned when an access token fails signature checks.
var ErrBadSignature = errors.New("token signature mismatch", errors.CategoryAuth).
	WithTextCode(TextCodeBadSignature).
	WithCode(errors.CodeUnauthorized)

// ErrPolicyViolation is returned when a password does not match the
// tenant-supplied pattern.
var ErrPolicyViolation = errors.New("password does not meet tenant policy", errors.CategoryValidation).
	WithTextCode(TextCodePolicyViolation).
	WithCode(errors.CodeBadRequest)

// ErrUnauthorized is returned for missing tenant headers and missing
// access grants.
var ErrUnauthorized = errors.New("unauthorized", errors.CategoryAuthz).
	WithTextCode(TextCodeUnauthorized).
	WithCode(errors.CodeForbidden)

// ErrRedirectFailed is returned when a provider code exchange fails.
var ErrRedirectFailed = errors.New("provider exchange failed", errors.CategoryAuth).
	WithTextCode(TextCodeRedirectFailed).
	WithCode(errors.CodeUnauthorized)

// ErrStorageUnavailable is returned when an actor cannot reach its durable
// slot. Callers may retry reads; mutations are never retried blindly because
// the outcome is unknown.
var ErrStorageUnavailable = errors.New("storage unavailable", errors.CategoryInternal).
	WithTextCode(TextCodeStorageFailure).
	WithCode(errors.CodeInternal)

// ErrPartialFailure is returned when a cross-actor sequence committed its
// durability boundary but a follow-up write failed, leaving state that needs
// reconciliation (for example a session with no refresh-token record).
// Metadata carries the identifiers a reconciliation job needs.
var ErrPartialFailure = errors.New("operation partially completed", errors.CategoryInternal).
	WithTextCode(TextCodePartialFailure).
	WithCode(errors.CodeInternal)

// ErrTooManyLoginAttempts is returned when the tenant failed-login limit is
// exceeded inside the cooldown window.
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryAuth).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(errors.CodeUnauthorized)

// storageErr wraps low level store failures so actor callers see a stable
// category regardless of the backing store.
func storageErr(err error, msg string) error {
	return errors.Wrap(err, ErrStorageUnavailable.Category, msg).
		WithTextCode(TextCodeStorageFailure).
		WithCode(errors.CodeInternal)
}

// partialFailure builds an ErrPartialFailure clone annotated with the state
// a reconciliation job would need to repair the orphan.
func partialFailure(cause error, meta map[string]any) error {
	e := ErrPartialFailure.Clone()
	e.Metadata = meta
	if cause != nil {
		wrapped := errors.Wrap(cause, e.Category, e.Message).
			WithTextCode(TextCodePartialFailure).
			WithCode(errors.CodeInternal)
		wrapped.Metadata = meta
		return wrapped
	}
	return e
}
