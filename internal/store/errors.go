package store

import (
	"errors"

	"github.com/go-authgate/idgate/internal/core"

	"gorm.io/gorm"
)

var (
	// ErrRecordNotFound is returned for missing registry records.
	// It is the same value as core.ErrNotFound so callers can test either.
	ErrRecordNotFound = core.ErrNotFound

	// ErrAuthCodeAlreadyUsed is returned by ConsumeAuthorizationCode when the
	// code was already consumed by a concurrent request (0 rows updated).
	ErrAuthCodeAlreadyUsed = core.ErrAlreadyConsumed
)

// notFound maps gorm's not-found error onto ErrRecordNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}
