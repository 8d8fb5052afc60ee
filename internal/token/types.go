package token

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type header values (RFC 9068 §2.1 and OIDC Core).
const (
	TypeAccessToken = "at+jwt"
	TypeIDToken     = "JWT"
)

// reserved claims are owned by Claims and never taken from Extra.
var reserved = map[string]bool{
	"iss":       true,
	"sub":       true,
	"aud":       true,
	"exp":       true,
	"iat":       true,
	"nbf":       true,
	"jti":       true,
	"scope":     true,
	"client_id": true,
}

// IsReserved reports whether name is a claim Claims manages itself.
func IsReserved(name string) bool {
	return reserved[name]
}

// Claims is the typed claim set carried by access and ID tokens.
// iss, sub, aud, exp and iat are always present; scope is present on access
// tokens. Optional claims (nonce, email, ...) live in Extra.
type Claims struct {
	jwt.RegisteredClaims

	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`

	Extra map[string]any `json:"-"`
}

type claimsJSON Claims

// MarshalJSON flattens Extra into the claim set. Extra can never override a
// reserved claim.
func (c Claims) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(claimsJSON(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if reserved[k] {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON fills the typed fields and collects every other claim in Extra.
func (c *Claims) UnmarshalJSON(data []byte) error {
	var base claimsJSON
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*c = Claims(base)
	c.Extra = nil
	for k, v := range all {
		if reserved[k] {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
	return nil
}

// Scopes returns the scope claim as a list.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// HasScope reports whether scope was granted.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes(), scope)
}

// HasAudience reports whether aud contains audience.
func (c *Claims) HasAudience(audience string) bool {
	return slices.Contains(c.Audience, audience)
}

// ExtraString returns an optional string claim.
func (c *Claims) ExtraString(name string) string {
	s, _ := c.Extra[name].(string)
	return s
}

// SignedToken is a compact JWS plus the claims it carries.
type SignedToken struct {
	Raw       string
	KeyID     string
	Claims    *Claims
	ExpiresAt time.Time
}

// ExpiresIn returns the remaining lifetime in whole seconds.
func (t *SignedToken) ExpiresIn(now time.Time) int64 {
	return int64(t.ExpiresAt.Sub(now).Round(time.Second) / time.Second)
}
