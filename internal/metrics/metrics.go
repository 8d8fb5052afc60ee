package metrics

import (
	"sync"

	"github.com/go-authgate/idgate/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the metrics interface consumed by the rest of the application.
type Recorder = core.Recorder

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Grant Metrics
	TokensIssuedTotal       *prometheus.CounterVec
	TokenGenerationDuration *prometheus.HistogramVec
	GrantFailuresTotal      *prometheus.CounterVec
	CodeRedemptionsTotal    *prometheus.CounterVec

	// Validation Metrics
	TokenValidationTotal    *prometheus.CounterVec
	TokenValidationDuration prometheus.Histogram
	KeySetFetchTotal        *prometheus.CounterVec
	KeySetFetchDuration     prometheus.Histogram

	// Key Metrics
	KeyRotationsTotal prometheus.Counter
	PublishedKeys     prometheus.Gauge

	// Cleanup Metrics
	ExpiredRecordsDeletedTotal prometheus.Counter

	// HTTP Request Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on enabled flag
// If enabled=true, returns Prometheus-based Metrics
// If enabled=false, returns NoopMetrics (zero overhead)
// Uses sync.Once to ensure Prometheus metrics are only registered once
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

// initMetrics creates and registers all Prometheus metrics
func initMetrics() *Metrics {
	m := &Metrics{
		TokensIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_tokens_issued_total",
				Help: "Total number of tokens issued",
			},
			[]string{"grant_type", "token_type"}, // token_type: access, id, refresh
		),
		TokenGenerationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oauth_token_generation_duration_seconds",
				Help:    "Time taken to sign a token",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.010, 0.025, 0.050, 0.100},
			},
			[]string{"token_type"},
		),
		GrantFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_grant_failures_total",
				Help: "Total number of rejected grant requests",
			},
			[]string{"grant_type", "error"},
		),
		CodeRedemptionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_authorization_code_redemptions_total",
				Help: "Total number of authorization code redemption attempts",
			},
			[]string{"result"}, // success, invalid, replayed, redirect_mismatch, client_mismatch
		),

		TokenValidationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_token_validation_total",
				Help: "Total number of bearer token validations on the resource server",
			},
			[]string{"result"}, // valid or rejection reason
		),
		TokenValidationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oauth_token_validation_duration_seconds",
				Help:    "Time taken to validate a bearer token",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.010, 0.050, 0.100, 0.500, 1.0},
			},
		),
		KeySetFetchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_keyset_fetch_total",
				Help: "Total number of key set fetches from the authorization server",
			},
			[]string{"result"},
		),
		KeySetFetchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oauth_keyset_fetch_duration_seconds",
				Help:    "Time taken to fetch the discovery document and key set",
				Buckets: prometheus.DefBuckets,
			},
		),

		KeyRotationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "oauth_signing_key_rotations_total",
				Help: "Total number of signing key rotations",
			},
		),
		PublishedKeys: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "oauth_signing_keys_published",
				Help: "Number of public keys currently published in the JWKS",
			},
		),

		ExpiredRecordsDeletedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "oauth_expired_records_deleted_total",
				Help: "Total number of expired codes, refresh tokens and consents deleted",
			},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "HTTP request latency in seconds",
				Buckets: []float64{
					0.001,
					0.005,
					0.010,
					0.025,
					0.050,
					0.100,
					0.250,
					0.500,
					1.0,
					2.5,
					5.0,
					10.0,
				},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being served",
			},
		),
	}

	return m
}
