// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for the
// platform's cloud ingest and distribution services.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Ingest attributes
	IngestEventIDKey   = "ingest.event_id"
	IngestVehicleIDKey = "ingest.vehicle_id"
	IngestAcceptedKey  = "ingest.accepted"
	IngestRejectedKey  = "ingest.rejected"

	// Viewer/distribution attributes
	ViewerEventIDKey = "viewer.event_id"
	ViewerAccessKey  = "viewer.access"
	ViewerLastSeqKey = "viewer.last_seq"

	// Stream control attributes
	StreamVehicleIDKey = "stream.vehicle_id"
	StreamStateKey     = "stream.state"
	StreamCommandIDKey = "stream.command_id"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// IngestAttributes creates span attributes for an ingest batch outcome.
func IngestAttributes(eventID, vehicleID string, accepted, rejected int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(IngestEventIDKey, eventID),
		attribute.String(IngestVehicleIDKey, vehicleID),
		attribute.Int(IngestAcceptedKey, accepted),
		attribute.Int(IngestRejectedKey, rejected),
	}
}

// ViewerAttributes creates span attributes for an SSE viewer connection.
func ViewerAttributes(eventID, access string, lastSeq int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ViewerEventIDKey, eventID),
		attribute.String(ViewerAccessKey, access),
		attribute.Int64(ViewerLastSeqKey, lastSeq),
	}
}

// StreamAttributes creates span attributes for a stream control transition.
func StreamAttributes(vehicleID, state, commandID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StreamVehicleIDKey, vehicleID),
		attribute.String(StreamStateKey, state),
		attribute.String(StreamCommandIDKey, commandID),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
