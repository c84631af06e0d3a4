package mht

import (
	"errors"
	"fmt"
)

// ErrNoFeasibleAssignment marks an enumerated assignment that routes through
// a forbidden cost entry. It is recovered locally: the draw is discarded and
// enumeration continues.
var ErrNoFeasibleAssignment = errors.New("mht: assignment covers a forbidden entry")

// ErrEmptyStream names the case where scan registration exhausts the parent
// hypothesis stream without producing a single hypothesis. Cluster.RegisterScan
// recovers from it without returning it: the cluster is emptied, and the
// tracker deletes empty clusters after registration.
var ErrEmptyStream = errors.New("mht: hypothesis stream exhausted")

// FilterDegenerateError reports a non-positive-definite innovation covariance
// during a filter update, identifying the offending track.
type FilterDegenerateError struct {
	TrackID int64
	Err     error
}

func (e *FilterDegenerateError) Error() string {
	return fmt.Sprintf("mht: degenerate filter on track %d: %v", e.TrackID, e.Err)
}

func (e *FilterDegenerateError) Unwrap() error { return e.Err }
