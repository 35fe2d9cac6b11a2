// SPDX-License-Identifier: MIT

package cachestore

import (
	"errors"
	"fmt"
)

var (
	// ErrCacheIO classifies disk or database failures. The pipeline treats
	// these as fatal for the run: a broken cache must not silently degrade
	// into refetching everything forever.
	ErrCacheIO = errors.New("cache io failure")

	// ErrNotFound reports a unit key with no stored data.
	ErrNotFound = errors.New("cache unit not found")

	// ErrBadTransition reports a state change the unit lifecycle does not
	// allow. Always a programming error in the caller.
	ErrBadTransition = errors.New("invalid unit state transition")
)

// IOError wraps a failed store operation with its unit key. It matches
// both ErrCacheIO and the underlying cause via errors.Is.
type IOError struct {
	Op     string
	Lineup string
	Date   string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cachestore: %s %s/%s: %v", e.Op, e.Lineup, e.Date, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrCacheIO, e.Err}
}

func ioError(op, lineup, date string, err error) error {
	return &IOError{Op: op, Lineup: lineup, Date: date, Err: err}
}
