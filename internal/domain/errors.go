package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")

	// ErrFetch marks a feed or RPC call that failed or timed out. It is
	// transient; the caller retries on the next tick.
	ErrFetch = errors.New("external fetch failed")
	// ErrIneligible marks a candidate token that cannot back a market type.
	ErrIneligible = errors.New("ineligible candidate")
	// ErrStateConflict is returned when a market left the active state
	// before a resolve could be applied.
	ErrStateConflict = errors.New("market state conflict")
	// ErrAmbiguousResolution marks a battle tie that survived the
	// finest-granularity re-check.
	ErrAmbiguousResolution = errors.New("ambiguous resolution")
	// ErrNoCandidate is the run failure reported when no creation path
	// exists this run.
	ErrNoCandidate         = errors.New("no eligible candidate")
	ErrMissingImage        = errors.New("token image missing")
	ErrPayoutFailed        = errors.New("payout failed")
	ErrInsufficientReserve = errors.New("treasury below required reserve")
	ErrBelowMinTransfer    = errors.New("amount below minimum viable transfer")
	ErrQueueFull           = errors.New("signer queue full")
)
