package domain

import "errors"

// Error taxonomy for reconciliation. The HTTP adapter maps these onto
// response codes; everything not listed here is treated as transient and
// retryable.
var (
	// ErrUnauthenticated means the notification signature or secret was
	// missing or invalid. Never retried by this system.
	ErrUnauthenticated = errors.New("notification authentication failed")

	// ErrMalformedPayload means the notification body could not be decoded.
	ErrMalformedPayload = errors.New("malformed notification payload")

	// ErrReferenceNotFound means the event references a customer or user
	// this system has no record of. Skipped and logged, not retried:
	// a permanently-unresolvable reference would otherwise retry forever.
	ErrReferenceNotFound = errors.New("referenced record not found")

	// ErrPriceUnknown means the catalog has no entry for a price id.
	ErrPriceUnknown = errors.New("price not in catalog")

	// ErrPolicyViolation means applying the decision would break a ledger
	// invariant. Fatal for the event, never silently clamped.
	ErrPolicyViolation = errors.New("reconciliation policy violation")
)
