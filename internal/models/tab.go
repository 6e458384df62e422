package models

import "time"

// TabAnnouncement is a broadcast row used by the SQL-backed tab bus. Rows
// are transport only; they are pruned after a short retention window.
type TabAnnouncement struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"size:64;not null;index"`
	TabID     string    `gorm:"size:64;not null"`
	Type      string    `gorm:"size:16;not null"`
	CreatedAt time.Time `gorm:"index"`
}

// SessionLease is a heartbeat lease granting one tab exclusive use of an
// interview session.
type SessionLease struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	SessionID     string    `gorm:"size:64;not null;index"`
	TabID         string    `gorm:"size:64;not null"`
	Status        string    `gorm:"size:16;default:active;index"` // active, released, expired
	LastHeartbeat time.Time `gorm:"index"`
	CreatedAt     time.Time
	ReleasedAt    *time.Time
}
