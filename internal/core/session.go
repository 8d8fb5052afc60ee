package core

import (
	"context"
	"errors"
	"time"

	"github.com/go-authgate/idgate/internal/models"
)

var (
	// ErrNotFound is returned when a code, token or consent does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyConsumed is returned to every caller but the first that consumes
	// a code or refresh token.
	ErrAlreadyConsumed = errors.New("already consumed")
)

// SessionStore persists the short-lived protocol state: authorization codes,
// refresh tokens and consent grants. Implementations must be safe for
// concurrent use, and the Consume methods must be atomic compare-and-swap
// operations: of any number of concurrent callers exactly one succeeds.
type SessionStore interface {
	CreateAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, codeHash string) (*models.AuthorizationCode, error)
	ConsumeAuthorizationCode(ctx context.Context, codeHash string, now time.Time) error

	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	ConsumeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error
	RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error

	SaveConsent(ctx context.Context, consent *models.Consent) error
	GetConsent(ctx context.Context, subject, clientID string) (*models.Consent, error)

	// DeleteExpired removes records whose expiry is before now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	Health(ctx context.Context) error
}
