package models

import "time"

// Resource is a protected API. Its Identifier is the audience value placed in tokens.
type Resource struct {
	ID          int64       `gorm:"primaryKey;autoIncrement"`
	Identifier  string      `gorm:"uniqueIndex;not null"`
	DisplayName string      `gorm:"not null"`
	Scopes      StringArray `gorm:"type:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Resource) TableName() string {
	return "resources"
}

// Scope is a named permission. Resource is empty for identity scopes.
type Scope struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"uniqueIndex;not null"`
	DisplayName string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Resource    string `gorm:"index"` // Resource.Identifier
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsIdentity reports whether the scope belongs to no resource.
func (s *Scope) IsIdentity() bool {
	return s.Resource == ""
}

func (Scope) TableName() string {
	return "scopes"
}
