package models

import "time"

// SigningKeyRecord is the persisted form of a signing key.
// PrivateKeyPEM holds a PKCS#8 PEM block.
type SigningKeyRecord struct {
	KeyID         string `gorm:"primaryKey"`
	Algorithm     string `gorm:"not null"`
	PrivateKeyPEM string `gorm:"type:text;not null"`
	Current       bool   `gorm:"not null;default:false;index"`
	CreatedAt     time.Time
	RetiredAt     *time.Time
	ExpiresAt     *time.Time `gorm:"index"` // end of the verification grace period
}

func (SigningKeyRecord) TableName() string {
	return "signing_keys"
}
