package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-authgate/idgate/internal/keys"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// KeyProvider supplies the key used for new signatures.
type KeyProvider interface {
	Current() *keys.SigningKey
}

// IssueRequest describes an access token.
type IssueRequest struct {
	Subject  string
	ClientID string
	Audience []string
	Scopes   []string
	Lifetime time.Duration // zero uses the issuer default
	Extra    map[string]any
}

// Issuer assembles and signs tokens with the current signing key.
type Issuer struct {
	issuer         string
	keys           KeyProvider
	accessLifetime time.Duration
	idLifetime     time.Duration
	now            func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an Issuer for the issuer identifier.
func NewIssuer(issuer string, keys KeyProvider, accessLifetime, idLifetime time.Duration, opts ...Option) *Issuer {
	i := &Issuer{
		issuer:         issuer,
		keys:           keys,
		accessLifetime: accessLifetime,
		idLifetime:     idLifetime,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Identifier returns the iss value placed in every token.
func (i *Issuer) Identifier() string {
	return i.issuer
}

// Issue signs an access token.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*SignedToken, error) {
	if req.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidRequest)
	}
	if len(req.Audience) == 0 {
		return nil, fmt.Errorf("%w: audience is required", ErrInvalidRequest)
	}
	lifetime := req.Lifetime
	if lifetime <= 0 {
		lifetime = i.accessLifetime
	}

	claims := i.baseClaims(req.Subject, req.Audience, lifetime)
	claims.Scope = strings.Join(req.Scopes, " ")
	claims.ClientID = req.ClientID
	claims.Extra = req.Extra

	return i.sign(ctx, claims, TypeAccessToken)
}

func (i *Issuer) baseClaims(subject string, audience []string, lifetime time.Duration) *Claims {
	now := i.now().Truncate(time.Second)
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
}

func (i *Issuer) sign(_ context.Context, claims *Claims, typ string) (*SignedToken, error) {
	key := i.keys.Current()
	method, err := SigningMethod(key.Algorithm)
	if err != nil {
		return nil, err
	}

	t := jwt.NewWithClaims(method, claims)
	t.Header["kid"] = key.ID
	t.Header["typ"] = typ

	raw, err := t.SignedString(key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	return &SignedToken{
		Raw:       raw,
		KeyID:     key.ID,
		Claims:    claims,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SigningMethod maps a key algorithm onto its jwt signing method.
func SigningMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case keys.AlgRS256:
		return jwt.SigningMethodRS256, nil
	case keys.AlgES256:
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrTokenGeneration, alg)
	}
}
