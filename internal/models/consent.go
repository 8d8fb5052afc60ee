package models

import (
	"strings"
	"time"
)

// Consent records the scopes a subject granted to a client.
// There is at most one record per (Subject, ClientID) pair.
type Consent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Subject   string    `gorm:"not null;uniqueIndex:idx_consent_subject_client" json:"subject"`
	ClientID  string    `gorm:"not null;uniqueIndex:idx_consent_subject_client" json:"client_id"`
	Scopes    string    `gorm:"not null" json:"scopes"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// Covers reports whether every scope in requested was granted.
func (c *Consent) Covers(requested []string) bool {
	granted := make(map[string]bool)
	for s := range strings.FieldsSeq(c.Scopes) {
		granted[s] = true
	}
	for _, s := range requested {
		if !granted[s] {
			return false
		}
	}
	return true
}

func (Consent) TableName() string {
	return "consents"
}
