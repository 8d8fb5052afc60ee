package metrics

import "time"

// NoopMetrics is a no-operation implementation of Recorder
type NoopMetrics struct{}

// Ensure NoopMetrics implements Recorder interface at compile time
var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordTokenIssued(grantType, tokenType string, generationTime time.Duration) {}
func (n *NoopMetrics) RecordGrantFailure(grantType, errorCode string)                              {}
func (n *NoopMetrics) RecordCodeRedemption(result string)                                          {}
func (n *NoopMetrics) RecordTokenValidation(result string, duration time.Duration)                 {}
func (n *NoopMetrics) RecordKeySetFetch(success bool, duration time.Duration)                      {}
func (n *NoopMetrics) RecordKeyRotation()                                                          {}
func (n *NoopMetrics) SetPublishedKeys(count int)                                                  {}
func (n *NoopMetrics) RecordCleanup(deleted int64)                                                 {}
