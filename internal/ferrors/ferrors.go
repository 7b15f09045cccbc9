// Package ferrors defines the error taxonomy shared across the indexer,
// planner, fetcher, and cutout assembler.
package ferrors

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap these with fmt.Errorf("...: %w", Kind) at the
// point of detection so callers can discriminate with errors.Is.
var (
	// InvalidFits marks a structural violation: missing END card, misaligned
	// blocks, or a missing required keyword.
	InvalidFits = errors.New("invalid fits structure")

	// UnsupportedFits marks a file that is structurally valid but outside
	// core scope (BITPIX not in the canonical set, heap columns, GROUP FITS).
	UnsupportedFits = errors.New("unsupported fits feature")

	// BadSlice marks a user-supplied slice that is out of bounds, has the
	// wrong rank, or uses a non-unit step on a non-trailing axis.
	BadSlice = errors.New("invalid slice request")

	// AuthFailure marks a missing/unreadable credentials file or a signing
	// failure.
	AuthFailure = errors.New("authentication failure")

	// IndexCorrupt marks a persisted index that fails its schema or version
	// check.
	IndexCorrupt = errors.New("cloud index corrupt")
)

// FetchFailedErr reports that a ranged fetch exhausted its retries for one
// range of a cutout request. The whole request fails; there is no partial
// output.
type FetchFailedErr struct {
	RangeIndex int
	LastStatus int
	Err        error
}

func (e *FetchFailedErr) Error() string {
	return fmt.Sprintf("fetch failed for range %d (last status %d): %v", e.RangeIndex, e.LastStatus, e.Err)
}

func (e *FetchFailedErr) Unwrap() error {
	return e.Err
}

// NewFetchFailed builds a FetchFailedErr wrapping the given cause.
func NewFetchFailed(rangeIndex, lastStatus int, cause error) error {
	return &FetchFailedErr{RangeIndex: rangeIndex, LastStatus: lastStatus, Err: cause}
}

// IsFetchFailed reports whether err is (or wraps) a FetchFailedErr, returning
// the typed error for inspection.
func IsFetchFailed(err error) (*FetchFailedErr, bool) {
	var ff *FetchFailedErr
	if errors.As(err, &ff) {
		return ff, true
	}
	return nil, false
}
