// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRunID     = "run_id"
	FieldLineup    = "lineup"
	FieldRequestID = "request_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldDay       = "day"
	FieldAttempt   = "attempt"

	// Guide entity fields
	FieldChannelID = "channel_id"
	FieldSeriesID  = "series_id"
	FieldStation   = "station"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)
