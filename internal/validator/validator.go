package validator

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/keys"
	"github.com/go-authgate/idgate/internal/metrics"
	"github.com/go-authgate/idgate/internal/token"

	"github.com/golang-jwt/jwt/v5"
)

// Reason classifies why a token was rejected. Reasons are for logs and
// metrics only; callers must not reveal them to the presenter.
type Reason string

const (
	ReasonBadSignature      Reason = "bad_signature"
	ReasonExpired           Reason = "expired"
	ReasonWrongIssuer       Reason = "wrong_issuer"
	ReasonWrongAudience     Reason = "wrong_audience"
	ReasonInsufficientScope Reason = "insufficient_scope"
	ReasonKeySetUnavailable Reason = "keyset_unavailable"
)

var (
	// ErrUnknownKey is returned by a KeySource that has no key for a kid.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrKeySetUnavailable is returned when verification keys cannot be obtained.
	ErrKeySetUnavailable = errors.New("key set unavailable")
)

// Rejection is the error returned for every token that fails validation.
type Rejection struct {
	Reason Reason
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return "token rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("token rejected: %s: %v", r.Reason, r.Err)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// ReasonOf returns the rejection reason of err, or "" if err is not a Rejection.
func ReasonOf(err error) Reason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}

// KeySource resolves a key id to a verification key.
type KeySource interface {
	Key(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// Options configure a Validator.
type Options struct {
	Issuer    string
	Audience  string        // skipped when empty
	ClockSkew time.Duration // tolerance on nbf and iat; exp is strict
	Metrics   core.Recorder
	Now       func() time.Time
}

const defaultClockSkew = 2 * time.Minute

// Validator verifies access tokens for a resource server.
type Validator struct {
	keys    KeySource
	opts    Options
	parser  *jwt.Parser
	metrics core.Recorder
}

// New creates a Validator that trusts keys from src.
func New(src KeySource, opts Options) *Validator {
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = defaultClockSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &Validator{
		keys: src,
		opts: opts,
		parser: jwt.NewParser(
			// none and HMAC are never accepted
			jwt.WithValidMethods([]string{keys.AlgRS256, keys.AlgES256}),
			jwt.WithLeeway(opts.ClockSkew),
			jwt.WithTimeFunc(opts.Now),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
		),
		metrics: m,
	}
}

// Validate checks raw in order: signature, time window, issuer, audience,
// then requiredScope (skipped when empty). Every failure is a *Rejection.
func (v *Validator) Validate(ctx context.Context, raw, requiredScope string) (*token.Claims, error) {
	start := time.Now()
	claims, err := v.validate(ctx, raw, requiredScope)
	result := "valid"
	if err != nil {
		result = string(ReasonOf(err))
	}
	v.metrics.RecordTokenValidation(result, time.Since(start))
	return claims, err
}

func (v *Validator) validate(ctx context.Context, raw, requiredScope string) (*token.Claims, error) {
	claims := &token.Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if typ, _ := t.Header["typ"].(string); typ != token.TypeAccessToken {
			return nil, fmt.Errorf("unexpected token type %q", typ)
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header missing kid")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, classify(err)
	}
	// The parser's leeway also covers exp
	if !v.opts.Now().Before(claims.ExpiresAt.Time) {
		return nil, &Rejection{Reason: ReasonExpired, Err: jwt.ErrTokenExpired}
	}

	if claims.Issuer != v.opts.Issuer {
		return nil, &Rejection{Reason: ReasonWrongIssuer, Err: fmt.Errorf("issuer %q", claims.Issuer)}
	}
	if v.opts.Audience != "" && !claims.HasAudience(v.opts.Audience) {
		return nil, &Rejection{Reason: ReasonWrongAudience, Err: fmt.Errorf("audience %v", claims.Audience)}
	}
	if requiredScope != "" && !claims.HasScope(requiredScope) {
		return nil, &Rejection{Reason: ReasonInsufficientScope, Err: fmt.Errorf("missing scope %q", requiredScope)}
	}
	return claims, nil
}

func classify(err error) *Rejection {
	switch {
	case errors.Is(err, ErrKeySetUnavailable):
		return &Rejection{Reason: ReasonKeySetUnavailable, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return &Rejection{Reason: ReasonExpired, Err: err}
	default:
		// Malformed tokens, unknown keys, disallowed algorithms and bad signatures
		return &Rejection{Reason: ReasonBadSignature, Err: err}
	}
}

// LocalKeySet resolves keys from an in-process key manager.
type LocalKeySet struct {
	manager *keys.Manager
}

// NewLocalKeySet wraps m.
func NewLocalKeySet(m *keys.Manager) *LocalKeySet {
	return &LocalKeySet{manager: m}
}

// Key implements KeySource.
func (l *LocalKeySet) Key(_ context.Context, kid string) (crypto.PublicKey, error) {
	k, ok := l.manager.Lookup(kid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return k.Public(), nil
}
