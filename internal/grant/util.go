package grant

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/go-authgate/idgate/internal/oauth"
)

// opaqueBytes is the entropy of codes and refresh tokens (256 bits).
const opaqueBytes = 32

// newOpaqueToken returns a random URL-safe value and the hash under which it is stored.
func newOpaqueToken() (plain, hash string, err error) {
	b := make([]byte, opaqueBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random value: %w", err)
	}
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, hashValue(plain), nil
}

// hashValue is the storage key of an opaque value. No salt is needed at 256 bits of entropy.
func hashValue(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// verifyPKCE checks an S256 code_verifier against the stored challenge (RFC 7636 §4.6).
func verifyPKCE(challenge, verifier string) bool {
	if !validVerifier(verifier) {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// validVerifier enforces the RFC 7636 §4.1 verifier syntax.
func validVerifier(v string) bool {
	if len(v) < 43 || len(v) > 128 {
		return false
	}
	for _, r := range v {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-', r == '.', r == '_', r == '~':
		default:
			return false
		}
	}
	return true
}

// audience is the resources owning scopes, plus the issuer when openid is
// granted so the token is accepted by the userinfo endpoint. The issuer is
// also the audience of last resort when no resource scope was granted.
func (h *Handler) audience(ctx context.Context, scopes []string) ([]string, error) {
	aud, err := h.registry.Audience(ctx, scopes)
	if err != nil {
		return nil, err
	}
	if slices.Contains(scopes, oauth.ScopeOpenID) || len(aud) == 0 {
		aud = append(aud, h.issuer.Identifier())
	}
	return aud, nil
}

// fail records a grant failure and returns err unchanged.
func (h *Handler) fail(grantType string, err error) error {
	h.metrics.RecordGrantFailure(grantType, oauth.CodeFor(err))
	return err
}
