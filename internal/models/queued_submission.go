package models

import "time"

// QueuedSubmission is an answer whose live delivery failed. Rows are replayed
// in ID order per session and deleted only after a confirmed delivery.
type QueuedSubmission struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	SessionID       string    `gorm:"size:64;not null;index"`
	TurnID          *int
	Answer          string    `gorm:"type:mediumtext;not null"`
	ActivitySummary string    `gorm:"type:json"` // JSON-encoded ActivitySummary
	SubmissionID    string    `gorm:"size:36;not null;uniqueIndex"`
	Attempts        int       `gorm:"default:0"`
	LastError       string    `gorm:"size:512"`
	EnqueuedAt      time.Time `gorm:"index"`
}
