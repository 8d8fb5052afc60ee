package core

import "time"

// Recorder defines the interface for recording application metrics.
// Implementations include Metrics (Prometheus-based) and NoopMetrics (no-op).
type Recorder interface {
	// Grants
	RecordTokenIssued(grantType, tokenType string, generationTime time.Duration)
	RecordGrantFailure(grantType, errorCode string)
	RecordCodeRedemption(result string)

	// Resource-side validation
	RecordTokenValidation(result string, duration time.Duration)
	RecordKeySetFetch(success bool, duration time.Duration)

	// Keys
	RecordKeyRotation()
	SetPublishedKeys(count int)

	// Background cleanup
	RecordCleanup(deleted int64)
}
