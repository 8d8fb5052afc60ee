package models

import (
	"strings"
	"time"
)

// AuthorizationCode stores OAuth 2.0 authorization codes (RFC 6749).
// Only the SHA-256 hash of the code is persisted. Codes are single-use.
type AuthorizationCode struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	CodeHash string `gorm:"uniqueIndex;not null" json:"code_hash"`

	ClientID string `gorm:"not null;index" json:"client_id"`
	Subject  string `gorm:"not null;index" json:"subject"`

	RedirectURI string `gorm:"not null" json:"redirect_uri"`
	Scopes      string `gorm:"not null" json:"scopes"` // space-separated
	Nonce       string `json:"nonce,omitempty"`

	// PKCE (RFC 7636)
	CodeChallenge       string `gorm:"default:''" json:"code_challenge,omitempty"`
	CodeChallengeMethod string `gorm:"default:''" json:"code_challenge_method,omitempty"`

	AuthTime  time.Time  `json:"auth_time"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"` // Set on redemption; prevents replay
	CreatedAt time.Time  `json:"created_at"`
}

func (a *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

func (a *AuthorizationCode) IsUsed() bool {
	return a.UsedAt != nil
}

func (a *AuthorizationCode) ScopeList() []string {
	return strings.Fields(a.Scopes)
}

func (AuthorizationCode) TableName() string {
	return "authorization_codes"
}
