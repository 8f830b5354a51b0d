package model

import "gorm.io/gorm"

// User is an administrator account. Users own API keys and sign in to the
// management API; they never appear on the lookup path except as the owning
// identity of a key.
type User struct {
	gorm.Model
	Username     string `gorm:"type:varchar(100);uniqueIndex;not null"`
	PasswordHash string `gorm:"type:varchar(255);not null"`
	Active       bool   `gorm:"default:true;not null"`
}
