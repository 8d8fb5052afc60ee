package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is an end-user (the subject of authorization-code grants).
type User struct {
	ID            string `gorm:"primaryKey"`
	Username      string `gorm:"uniqueIndex;not null"`
	Email         string `gorm:"index"`
	EmailVerified bool   `gorm:"not null;default:false"`
	Name          string
	PasswordHash  string
	IsActive      bool `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CheckPassword compares password with the stored bcrypt hash.
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// SetPassword stores the bcrypt hash of password.
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (User) TableName() string {
	return "users"
}
