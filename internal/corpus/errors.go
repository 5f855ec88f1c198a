package corpus

import "errors"

// Sentinel errors for corpus operations. All are surfaced to the caller
// unmodified; none are retried or swallowed inside this package.
var (
	// ErrTenantIsolation indicates a payload whose organization id does
	// not match the resolved tenant. Never silently corrected.
	ErrTenantIsolation = errors.New("document organization does not match current tenant")

	// ErrAccessDenied indicates the target resource does not exist or
	// belongs to a different tenant. Deliberately ambiguous so callers
	// cannot probe for cross-tenant existence.
	ErrAccessDenied = errors.New("document not found or access denied")

	// ErrPermissionDenied indicates the caller lacks the required
	// role or permission.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidEntity indicates a sync payload that fails validation.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrCorpusConflict indicates a cached corpus record owned by a
	// different organization than the one its id was derived for. This
	// is corrupted or tampered state, never a recoverable miss.
	ErrCorpusConflict = errors.New("cached corpus belongs to a different organization")
)
