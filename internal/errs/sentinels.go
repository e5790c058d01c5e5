// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across client/service layers.
var (
	// ErrSignerUnavailable indicates no signing key or wallet is present.
	ErrSignerUnavailable = errors.New("signer unavailable")

	// ErrNoSubscription indicates the auth service reports no active plan for the DID.
	ErrNoSubscription = errors.New("no active subscription")

	// ErrInvalidToken indicates a capability token failed signature or chain validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNoStoredSession indicates the login path was requested without a persisted session.
	ErrNoStoredSession = errors.New("no stored session")

	// ErrProfileNotFound indicates no profile is registered for the calling DID.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrDuplicateEntry indicates a registration race (another caller registered first).
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrAccessDenied indicates a read without ownership or a read grant.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotOwner indicates a delete/update attempted by a non-owner.
	ErrNotOwner = errors.New("not owner")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates a temporarily blocked caller.
	ErrRateLimited = errors.New("rate limited")

	// ErrRemoteCall indicates any other failed network call.
	ErrRemoteCall = errors.New("remote call failed")
)
