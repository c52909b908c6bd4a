// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package models

import (
	"errors"
	"fmt"
)

// ErrStaleResponse marks a response superseded by a newer fetch. Callers
// treat it as a no-op, never as a failure.
var ErrStaleResponse = errors.New("response superseded by newer fetch")

// ErrStreamFailed marks the live feed's terminal state after exhausting
// retries. Only a manual reconnect clears it.
var ErrStreamFailed = errors.New("live stream failed: retry limit exhausted")

// TransientFetchError wraps a single failed bounded query or layer fetch.
// Recovery is retaining prior render state and retrying on the next viewport
// settle; it is never surfaced as a blocking error.
type TransientFetchError struct {
	Source string // "primary" or a layer name
	Err    error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error (%s): %v", e.Source, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// ClusterExpansionError records a failed or empty cluster member fetch. The
// error stays associated with the cluster and is surfaced the next time that
// cluster's detail is opened; retry is user-initiated.
type ClusterExpansionError struct {
	ClusterID string
	Err       error
}

func (e *ClusterExpansionError) Error() string {
	return fmt.Sprintf("cluster %s expansion failed: %v", e.ClusterID, e.Err)
}

func (e *ClusterExpansionError) Unwrap() error { return e.Err }

// ErrEmptyCluster is the terminal valid-but-empty member response.
var ErrEmptyCluster = errors.New("cluster has no members")

// ContractViolation records a feature that violates the backend contract
// (missing stable identity, malformed geometry). Violations are logged and
// the offending feature skipped; they never abort decoding of the remaining
// features.
type ContractViolation struct {
	Index  int    // feature index within the response
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("contract violation at feature %d: %s", e.Index, e.Reason)
}
