package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// HTTPMetricsMiddleware creates a Gin middleware that records HTTP metrics
func HTTPMetricsMiddleware(m Recorder) gin.HandlerFunc {
	metrics, ok := m.(*Metrics)
	if !ok {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		// Skip metrics endpoint to avoid self-recording
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()

		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		path := normalizePath(c.FullPath()) // Use route pattern, not actual path
		status := strconv.Itoa(c.Writer.Status())

		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// normalizePath returns the route pattern, or "unknown" for unmatched routes
func normalizePath(fullPath string) string {
	if fullPath == "" {
		return "unknown"
	}
	return fullPath
}

// RecordTokenIssued records a signed token
func (m *Metrics) RecordTokenIssued(grantType, tokenType string, generationTime time.Duration) {
	m.TokensIssuedTotal.WithLabelValues(grantType, tokenType).Inc()
	m.TokenGenerationDuration.WithLabelValues(tokenType).Observe(generationTime.Seconds())
}

// RecordGrantFailure records a rejected token or authorize request
func (m *Metrics) RecordGrantFailure(grantType, errorCode string) {
	m.GrantFailuresTotal.WithLabelValues(grantType, errorCode).Inc()
}

// RecordCodeRedemption records the outcome of an authorization code exchange
func (m *Metrics) RecordCodeRedemption(result string) {
	m.CodeRedemptionsTotal.WithLabelValues(result).Inc()
}

// RecordTokenValidation records a resource-side validation outcome
func (m *Metrics) RecordTokenValidation(result string, duration time.Duration) {
	m.TokenValidationTotal.WithLabelValues(result).Inc()
	m.TokenValidationDuration.Observe(duration.Seconds())
}

// RecordKeySetFetch records a fetch of the remote key set
func (m *Metrics) RecordKeySetFetch(success bool, duration time.Duration) {
	result := resultSuccess
	if !success {
		result = resultFailure
	}
	m.KeySetFetchTotal.WithLabelValues(result).Inc()
	m.KeySetFetchDuration.Observe(duration.Seconds())
}

// RecordKeyRotation records a signing key rotation
func (m *Metrics) RecordKeyRotation() {
	m.KeyRotationsTotal.Inc()
}

// SetPublishedKeys sets the number of keys in the JWKS
func (m *Metrics) SetPublishedKeys(count int) {
	m.PublishedKeys.Set(float64(count))
}

// RecordCleanup records expired session records removed by the cleanup job
func (m *Metrics) RecordCleanup(deleted int64) {
	m.ExpiredRecordsDeletedTotal.Add(float64(deleted))
}
