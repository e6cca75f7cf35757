package messaging

import "strings"

// Beacon subjects follow {product}.beacon.{tracking id}.
const (
	SubjectBeaconPrefix = "pulse.beacon"
)

// Header names attached to published batches.
const (
	HeaderTrackingID = "Pulse-Tracking-Id"
	HeaderBatchID    = "Pulse-Batch-Id"
)

// BeaconSubject returns the subject a tracking ID's beacon batches go to.
// Characters NATS treats as separators or wildcards are replaced.
// Example: pulse.beacon.site-42
func BeaconSubject(prefix, trackingID string) string {
	return normalizePrefix(prefix) + "." + sanitizeToken(trackingID)
}

// BeaconWildcard matches every beacon subject under prefix.
func BeaconWildcard(prefix string) string {
	return normalizePrefix(prefix) + ".>"
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return SubjectBeaconPrefix
	}
	return prefix
}

func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
