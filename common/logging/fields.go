package logging

import "log/slog"

// Common field names for consistent logging across the engine and tools.
const (
	FieldService    = "service"
	FieldTrackingID = "tracking_id"
	FieldSessionID  = "session_id"
	FieldBatchID    = "batch_id"
	FieldEventID    = "event_id"
	FieldEventType  = "event_type"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldAttempt    = "attempt"
	FieldEvents     = "events"
	FieldError      = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// TrackingID returns a slog attribute for the site tracking identifier.
func TrackingID(id string) slog.Attr {
	return slog.String(FieldTrackingID, id)
}

// SessionID returns a slog attribute for the browsing session ID.
func SessionID(id string) slog.Attr {
	return slog.String(FieldSessionID, id)
}

// BatchID returns a slog attribute for a batch ID.
func BatchID(id string) slog.Attr {
	return slog.String(FieldBatchID, id)
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for an event type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// Path returns a slog attribute for a page path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Attempt returns a slog attribute for a delivery attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Events returns a slog attribute for an event count.
func Events(n int) slog.Attr {
	return slog.Int(FieldEvents, n)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
