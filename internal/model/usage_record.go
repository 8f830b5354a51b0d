package model

import "time"

// Usage record outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// UsageRecord is one immutable audit entry for an admitted or rejected call.
// Records are append-only: the gateway never updates or deletes them.
type UsageRecord struct {
	ID        uint      `gorm:"primarykey"`
	APIKeyID  uint      `gorm:"index;not null"`
	Subject   string    `gorm:"type:varchar(20);not null"`
	LatencyMS int64     `gorm:"not null"`
	Outcome   string    `gorm:"type:varchar(10);not null"`
	SourceIP  string    `gorm:"type:varchar(45)"`
	UserAgent string    `gorm:"type:varchar(512)"`
	CreatedAt time.Time `gorm:"index"`
}
