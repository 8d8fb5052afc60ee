package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"maps"
	"time"
)

// IDTokenRequest holds the data for an OIDC ID token (OIDC Core 1.0 §2).
type IDTokenRequest struct {
	Subject     string
	ClientID    string // the audience of an ID token
	Nonce       string
	AuthTime    time.Time
	AccessToken string // when set, at_hash is included
	Lifetime    time.Duration
	// Profile claims such as email, name and preferred_username.
	Claims map[string]any
}

// IssueIDToken signs an ID token for the client.
// ID tokens are not stored; they are short-lived and cannot be revoked.
func (i *Issuer) IssueIDToken(ctx context.Context, req IDTokenRequest) (*SignedToken, error) {
	if req.Subject == "" || req.ClientID == "" {
		return nil, fmt.Errorf("%w: subject and client are required", ErrInvalidRequest)
	}
	lifetime := req.Lifetime
	if lifetime <= 0 {
		lifetime = i.idLifetime
	}

	claims := i.baseClaims(req.Subject, []string{req.ClientID}, lifetime)
	claims.Extra = make(map[string]any, len(req.Claims)+4)
	maps.Copy(claims.Extra, req.Claims)
	claims.Extra["azp"] = req.ClientID
	if !req.AuthTime.IsZero() {
		claims.Extra["auth_time"] = req.AuthTime.Unix()
	}
	if req.Nonce != "" {
		claims.Extra["nonce"] = req.Nonce
	}
	if req.AccessToken != "" {
		claims.Extra["at_hash"] = AtHash(req.AccessToken)
	}

	return i.sign(ctx, claims, TypeIDToken)
}

// AtHash computes the at_hash claim per OIDC Core 1.0 §3.3.2.11: the
// base64url left half of the SHA-256 digest, matching RS256 and ES256.
func AtHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
