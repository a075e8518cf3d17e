package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared by the geocoder, the search orchestrator and the
// transport layers. Match them with errors.Is.
var (
	// ErrConfiguration means provider credentials are missing or rejected.
	// It is fatal and must not be retried automatically.
	ErrConfiguration = errors.New("configuration error")

	// ErrProviderUnavailable is a transient network or service failure.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNoMatch means the address resolved to zero results. It is a valid
	// negative outcome, not a failure.
	ErrNoMatch = errors.New("no match")

	// ErrInvalidInput is returned for input that cannot be corrected locally.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSearchUnavailable means the inventory could not be queried in time.
	ErrSearchUnavailable = errors.New("search unavailable")

	// ErrNotFound is returned by repositories for missing records.
	ErrNotFound = errors.New("not found")
)

// GeocodeError is returned by every Geocoder implementation.
type GeocodeError struct {
	Kind    error // one of the Err* kinds above
	Address string
	Err     error
}

func (e *GeocodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geocode %q: %v: %v", e.Address, e.Kind, e.Err)
	}
	return fmt.Sprintf("geocode %q: %v", e.Address, e.Kind)
}

func (e *GeocodeError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// SearchError wraps failures of the spatial search pipeline so that they stay
// distinguishable from geocoding failures and from empty result sets.
type SearchError struct {
	Kind error
	Err  error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search: %v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("search: %v", e.Kind)
}

func (e *SearchError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsRetryable reports whether a later user action may reasonably retry err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrSearchUnavailable)
}
