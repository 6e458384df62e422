package models

import "time"

// Mode is the candidate's input mode.
type Mode string

const (
	ModeText  Mode = "text"
	ModeVoice Mode = "voice"
)

// DraftState is a full snapshot of in-progress interview work. A save always
// replaces the whole snapshot; there is no merge.
type DraftState struct {
	SessionID     string    `json:"sessionId"`
	CurrentAnswer string    `json:"currentAnswer"`
	Turns         []Turn    `json:"turns"`
	Mode          Mode      `json:"mode"`
	Timestamp     time.Time `json:"timestamp"`
}

// DraftRecord is one key/value row of the durable draft tier.
type DraftRecord struct {
	Key       string `gorm:"column:draft_key;primaryKey;size:191"`
	Value     string `gorm:"type:mediumtext;not null"`
	UpdatedAt time.Time
}
