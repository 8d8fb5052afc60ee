package validator

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/discovery"
	"github.com/go-authgate/idgate/internal/metrics"

	"github.com/cenkalti/backoff/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RemoteOptions configure a RemoteKeySet.
type RemoteOptions struct {
	Issuer string
	// HTTPClient defaults to a client with FetchTimeout.
	HTTPClient   *http.Client
	FetchTimeout time.Duration
	// RefreshInterval is the maximum age of the cached key set.
	RefreshInterval time.Duration
	// MinRefreshPeriod rate-limits refreshes triggered by unknown key ids.
	MinRefreshPeriod time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	Metrics          core.Recorder
	Now              func() time.Time
}

const (
	defaultRefreshInterval  = 15 * time.Minute
	defaultMinRefreshPeriod = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryDelay       = 200 * time.Millisecond
	defaultFetchTimeout     = 5 * time.Second
)

// RemoteKeySet fetches the issuer's JWKS through its discovery document and
// caches it. A kid miss triggers a rate-limited refresh so keys rotated in at
// the issuer are picked up; concurrent refreshes share one fetch. When no key
// set has ever been obtained every lookup fails with ErrKeySetUnavailable.
type RemoteKeySet struct {
	opts    RemoteOptions
	client  *http.Client
	metrics core.Recorder
	group   singleflight.Group

	mu          sync.RWMutex
	set         jwk.Set
	version     uint64 // incremented on every successful fetch
	fetchedAt   time.Time
	lastAttempt time.Time
	lastErr     error
}

// NewRemoteKeySet creates a key set for opts.Issuer. Nothing is fetched until
// the first lookup or Refresh.
func NewRemoteKeySet(opts RemoteOptions) *RemoteKeySet {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	if opts.MinRefreshPeriod <= 0 {
		opts.MinRefreshPeriod = defaultMinRefreshPeriod
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.FetchTimeout}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &RemoteKeySet{opts: opts, client: client, metrics: m}
}

// Key implements KeySource.
func (r *RemoteKeySet) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	st := r.state()
	now := r.opts.Now()
	if st.set == nil && st.lastErr != nil && now.Sub(st.lastAttempt) < r.opts.MinRefreshPeriod {
		return nil, st.lastErr
	}
	if st.set == nil || now.Sub(st.fetchedAt) >= r.opts.RefreshInterval {
		if err := r.refresh(ctx, st.version, false); err != nil {
			if st.set == nil {
				return nil, err
			}
			log.Warn().Err(err).Msg("Key set refresh failed, serving cached keys")
		}
	}

	if key, ok := r.lookup(kid); ok {
		return key, nil
	}

	// Unknown kid: the issuer may have rotated. Refresh at most once per MinRefreshPeriod.
	st = r.state()
	if now.Sub(st.lastAttempt) >= r.opts.MinRefreshPeriod {
		if err := r.refresh(ctx, st.version, false); err != nil {
			log.Warn().Err(err).Str("kid", kid).Msg("Key set refresh after unknown kid failed")
		}
		if key, ok := r.lookup(kid); ok {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
}

// Refresh fetches the key set now.
func (r *RemoteKeySet) Refresh(ctx context.Context) error {
	return r.refresh(ctx, 0, true)
}

// refresh fetches the key set unless, when not forced, another caller already
// replaced the version the caller saw. Concurrent callers share one fetch.
func (r *RemoteKeySet) refresh(ctx context.Context, seen uint64, force bool) error {
	_, err, _ := r.group.Do("jwks", func() (any, error) {
		r.mu.Lock()
		if !force && r.version != seen {
			r.mu.Unlock()
			return nil, nil
		}
		r.lastAttempt = r.opts.Now()
		r.mu.Unlock()

		start := time.Now()
		set, err := r.fetchWithRetry(ctx)
		r.metrics.RecordKeySetFetch(err == nil, time.Since(start))

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.lastErr = fmt.Errorf("%w: %w", ErrKeySetUnavailable, err)
			return nil, r.lastErr
		}
		r.set = set
		r.fetchedAt = r.opts.Now()
		r.version++
		r.lastErr = nil
		log.Debug().Str("issuer", r.opts.Issuer).Int("keys", set.Len()).Msg("Key set refreshed")
		return nil, nil
	})
	return err
}

// Run refreshes the key set every RefreshInterval until ctx is done.
func (r *RemoteKeySet) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.RefreshInterval)
	defer ticker.Stop()

	if err := r.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial key set fetch failed")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("Periodic key set refresh failed")
			}
		}
	}
}

type keySetState struct {
	set         jwk.Set
	version     uint64
	fetchedAt   time.Time
	lastAttempt time.Time
	lastErr     error
}

func (r *RemoteKeySet) state() keySetState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keySetState{
		set:         r.set,
		version:     r.version,
		fetchedAt:   r.fetchedAt,
		lastAttempt: r.lastAttempt,
		lastErr:     r.lastErr,
	}
}

func (r *RemoteKeySet) lookup(kid string) (crypto.PublicKey, bool) {
	set := r.state().set
	if set == nil {
		return nil, false
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, false
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		log.Warn().Err(err).Str("kid", kid).Msg("Failed to export JWK")
		return nil, false
	}
	return raw, true
}

func (r *RemoteKeySet) fetchWithRetry(ctx context.Context) (jwk.Set, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.opts.RetryDelay
	expBackoff.MaxInterval = 10 * r.opts.RetryDelay
	expBackoff.Reset()

	attempt := 0
	operation := func() (jwk.Set, error) {
		attempt++
		set, err := r.fetch(ctx)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return set, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(r.opts.MaxRetries)), // #nosec G115 -- MaxRetries is positive
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", d).Msg("Retrying key set fetch")
		}),
	)
}

func (r *RemoteKeySet) fetch(ctx context.Context) (jwk.Set, error) {
	doc, err := discovery.Fetch(ctx, r.client, r.opts.Issuer)
	if err != nil {
		return nil, err
	}
	data, err := discovery.Get(ctx, r.client, doc.JWKSURI)
	if err != nil {
		return nil, err
	}
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to parse JWKS: %w", err))
	}
	return set, nil
}

// retryable reports whether a fetch failure may succeed on retry: network
// errors and 5xx responses are, a misconfigured issuer is not.
func retryable(err error) bool {
	if errors.Is(err, discovery.ErrIssuerMismatch) {
		return false
	}
	var statusErr *discovery.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError ||
			statusErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
