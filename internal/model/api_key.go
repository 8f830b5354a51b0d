package model

import (
	"time"

	"gorm.io/gorm"
)

// APIKey represents a client's API key for accessing the lookup service.
// Only the fingerprint of the secret is stored; the secret itself is shown
// once at creation time and never persisted.
type APIKey struct {
	gorm.Model
	Fingerprint   string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	UserID        uint      `gorm:"index;not null"`
	User          User      `gorm:"foreignKey:UserID"`
	Label         string    `gorm:"type:varchar(255)"`
	Paused        bool      `gorm:"default:false;not null"`
	ExpiresAt     time.Time `gorm:"default:null"`
	DailyBudget   int       `gorm:"default:100;not null"`
	DailyConsumed int       `gorm:"default:0;not null"`
	LastResetDay  string    `gorm:"type:varchar(10)"` // YYYY-MM-DD, empty until first use
}

// IsExpired reports whether the key's expiry has passed. A zero ExpiresAt
// means the key never expires.
func (k *APIKey) IsExpired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && k.ExpiresAt.Before(now)
}

// RemainingToday returns the budget left for the given day, applying the
// day-rollover rule without mutating the record.
func (k *APIKey) RemainingToday(day string) int {
	if k.LastResetDay != day {
		return k.DailyBudget
	}
	remaining := k.DailyBudget - k.DailyConsumed
	if remaining < 0 {
		return 0
	}
	return remaining
}
