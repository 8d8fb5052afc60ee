package oauth

import "strings"

// Grant types.
const (
	// https://datatracker.ietf.org/doc/html/rfc6749#section-4.1
	GrantTypeAuthorizationCode = "authorization_code"
	// https://datatracker.ietf.org/doc/html/rfc6749#section-4.4
	GrantTypeClientCredentials = "client_credentials"
	// https://datatracker.ietf.org/doc/html/rfc6749#section-6
	GrantTypeRefreshToken = "refresh_token"

	ResponseTypeCode = "code"
	TokenTypeBearer  = "Bearer"

	CodeChallengeMethodS256 = "S256"
)

// Identity scopes have no owning resource.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

// IsIdentityScope reports whether scope is one of the OpenID Connect identity scopes.
func IsIdentityScope(scope string) bool {
	switch scope {
	case ScopeOpenID, ScopeProfile, ScopeEmail, ScopeOfflineAccess:
		return true
	}
	return false
}

// ParseScope splits a space-delimited scope string, dropping duplicates and
// keeping first-seen order.
func ParseScope(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for part := range strings.FieldsSeq(s) {
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

// JoinScope renders scopes in their wire form.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopeSet turns a scope list into a membership set.
func ScopeSet(scopes []string) map[string]bool {
	set := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return set
}

// HasScope reports whether scope is present in scopes.
func HasScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
