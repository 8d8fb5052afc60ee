package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid client", ErrInvalidClient, CodeInvalidClient},
		{"unauthorized grant", ErrUnauthorizedGrant, CodeUnauthorizedClient},
		{"wrapped scope", Wrap(ErrInvalidScope, "scope %q not allowed", "api.admin"), CodeInvalidScope},
		{"redirect mismatch", ErrRedirectMismatch, CodeInvalidGrant},
		{"invalid grant", fmt.Errorf("redeem: %w", ErrInvalidGrant), CodeInvalidGrant},
		{"unknown", errors.New("boom"), CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeFor(tt.err))
		})
	}
}

func TestToAuthorizeError(t *testing.T) {
	oe := ToAuthorizeError(Wrap(ErrRedirectMismatch, "redirect_uri %q is not registered", "https://evil.example/"))
	assert.Equal(t, CodeInvalidRequest, oe.Code)
	assert.Contains(t, oe.Description, "is not registered")
	assert.ErrorIs(t, oe, ErrRedirectMismatch)

	// Token endpoint mapping is unchanged
	assert.Equal(t, CodeInvalidGrant, ToError(ErrRedirectMismatch).Code)
	assert.Equal(t, CodeInvalidClient, ToAuthorizeError(ErrInvalidClient).Code)
	assert.Equal(t, CodeInvalidScope, ToAuthorizeError(ErrInvalidScope).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusFor(ErrInvalidClient))
	assert.Equal(t, http.StatusBadRequest, StatusFor(ErrInvalidGrant))
	assert.Equal(t, http.StatusBadRequest, StatusFor(ErrInvalidScope))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("db down")))
}

func TestToError_HidesInternalDetail(t *testing.T) {
	e := ToError(errors.New("pq: connection refused"))
	assert.Equal(t, CodeServerError, e.Code)
	assert.Empty(t, e.Description)

	e = ToError(Wrap(ErrInvalidScope, "scope %q not allowed", "api.admin"))
	assert.Equal(t, CodeInvalidScope, e.Code)
	assert.Contains(t, e.Description, "api.admin")
	assert.ErrorIs(t, e, ErrInvalidScope)
}

func TestParseScope(t *testing.T) {
	assert.Equal(t, []string{"api.read", "api.write"}, ParseScope("  api.read api.write api.read "))
	assert.Nil(t, ParseScope(""))
	assert.Equal(t, "openid email", JoinScope([]string{"openid", "email"}))
	assert.True(t, HasScope([]string{"a", "b"}, "b"))
	assert.False(t, HasScope(nil, "b"))
	assert.True(t, IsIdentityScope(ScopeOpenID))
	assert.False(t, IsIdentityScope("api.read"))
}
