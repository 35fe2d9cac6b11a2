// SPDX-License-Identifier: MIT

package tvheadend

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary. The PVR being
	// down is never fatal for a run: matching degrades to numeric-only
	// heuristics and the guide is still emitted.
	ErrUnavailable  = errors.New("tvheadend: host unreachable or transport failure")
	ErrUnauthorized = errors.New("tvheadend: authentication rejected")
	ErrBadResponse  = errors.New("tvheadend: invalid response format")
)

// APIError wraps the sentinel errors with request context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("tvheadend: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}
