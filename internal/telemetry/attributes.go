// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans.
const (
	RunIDKey  = "run.id"
	LineupKey = "guide.lineup"
	DayKey    = "guide.day"

	DaysPlannedKey = "run.days_planned"
	DaysFetchedKey = "run.days_fetched"
	GapsKey        = "run.gaps"
	StatusKey      = "run.status"

	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// RunAttributes annotates a pipeline run span.
func RunAttributes(runID, status string, planned, fetched, gaps int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RunIDKey, runID),
		attribute.String(StatusKey, status),
		attribute.Int(DaysPlannedKey, planned),
		attribute.Int(DaysFetchedKey, fetched),
		attribute.Int(GapsKey, gaps),
	}
}

// DayAttributes annotates a single day-unit span.
func DayAttributes(lineup, day string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(LineupKey, lineup),
		attribute.String(DayKey, day),
	}
}

// HTTPAttributes annotates an HTTP request span.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ErrorAttributes marks a span as failed with a coarse error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
