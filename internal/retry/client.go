package retry

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Default retry configuration
const (
	defaultMaxRetries        = 3
	defaultInitialRetryDelay = 200 * time.Millisecond
	defaultMaxRetryDelay     = 5 * time.Second
)

// RetryableChecker determines if an error or response should trigger a retry
type RetryableChecker func(err error, resp *http.Response) bool

// Transport is an http.RoundTripper that retries failed requests with
// exponential backoff. Requests whose body cannot be replayed are sent once.
type Transport struct {
	base              http.RoundTripper
	maxRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
	retryableChecker  RetryableChecker
}

// Option configures a Transport
type Option func(*Transport)

// WithMaxRetries sets the maximum number of retry attempts
func WithMaxRetries(n int) Option {
	return func(t *Transport) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithInitialRetryDelay sets the initial delay before the first retry
func WithInitialRetryDelay(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.initialRetryDelay = d
		}
	}
}

// WithMaxRetryDelay sets the maximum delay between retries
func WithMaxRetryDelay(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.maxRetryDelay = d
		}
	}
}

// WithBase sets the underlying transport
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) {
		if rt != nil {
			t.base = rt
		}
	}
}

// WithRetryableChecker sets a custom function to determine retryable errors
func WithRetryableChecker(checker RetryableChecker) Option {
	return func(t *Transport) {
		if checker != nil {
			t.retryableChecker = checker
		}
	}
}

// NewTransport creates a retrying transport with the given options
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		base:              http.DefaultTransport,
		maxRetries:        defaultMaxRetries,
		initialRetryDelay: defaultInitialRetryDelay,
		maxRetryDelay:     defaultMaxRetryDelay,
		retryableChecker:  DefaultRetryableChecker,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewClient returns an http.Client using a retrying transport
func NewClient(timeout time.Duration, opts ...Option) *http.Client {
	return &http.Client{Timeout: timeout, Transport: NewTransport(opts...)}
}

// DefaultRetryableChecker retries on network errors and 5xx/429 status codes
func DefaultRetryableChecker(err error, resp *http.Response) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode >= http.StatusInternalServerError ||
		resp.StatusCode == http.StatusTooManyRequests
}

var errRetryableStatus = errors.New("retryable response status")

// RoundTrip implements http.RoundTripper. When every attempt fails with a
// retryable status the last response is returned to the caller.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !replayable(req) || t.maxRetries == 0 {
		return t.base.RoundTrip(req)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = t.initialRetryDelay
	expBackoff.MaxInterval = t.maxRetryDelay
	expBackoff.Reset()

	maxTries := t.maxRetries + 1
	attempt := 0
	operation := func() (*http.Response, error) {
		attempt++
		outgoing, err := rewind(req, attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := t.base.RoundTrip(outgoing)
		if !t.retryableChecker(err, resp) {
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		if attempt >= maxTries {
			return resp, nil
		}
		// Drop the response before the next attempt
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", errRetryableStatus, resp.StatusCode)
	}

	resp, err := backoff.Retry(req.Context(), operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(maxTries)), // #nosec G115 -- maxRetries is non-negative
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Debug().
				Err(err).
				Str("url", req.URL.Redacted()).
				Int("attempt", attempt).
				Dur("retry_in", d).
				Msg("Retrying HTTP request")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", attempt, err)
	}
	return resp, nil
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// rewind returns the request for the given attempt with a fresh body.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}
