package models

import (
	"strings"
	"time"
)

// RefreshToken is an opaque, rotating refresh token. Only the hash is stored.
type RefreshToken struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	TokenHash string `gorm:"uniqueIndex;not null" json:"token_hash"`
	ClientID  string `gorm:"not null;index" json:"client_id"`
	Subject   string `gorm:"not null;index" json:"subject"`
	Scopes    string `gorm:"not null" json:"scopes"`
	// ParentHash links a rotated token to its predecessor for audit.
	ParentHash string     `gorm:"index" json:"parent_hash,omitempty"`
	AuthTime   time.Time  `json:"auth_time"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (r *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsActive reports whether the token can still be exchanged.
func (r *RefreshToken) IsActive(now time.Time) bool {
	return r.UsedAt == nil && r.RevokedAt == nil && !r.IsExpired(now)
}

func (r *RefreshToken) ScopeList() []string {
	return strings.Fields(r.Scopes)
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}
