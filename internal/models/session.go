package models

import "time"

// SessionStatus is the lifecycle state of an interview session as reported
// by the interview service.
type SessionStatus string

// Session status values.
const (
	StatusPending    SessionStatus = "PENDING"
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusPaused     SessionStatus = "PAUSED"
	StatusCompleted  SessionStatus = "COMPLETED"
	StatusAbandoned  SessionStatus = "ABANDONED"
)

// Resumable reports whether a locally saved draft may be applied to a
// session in this status.
func (s SessionStatus) Resumable() bool {
	return s == StatusInProgress || s == StatusPaused
}

// Terminal reports whether no further turns can happen.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Session is the client-side copy of a remote interview session. The remote
// service is authoritative; this copy is refreshed on join and on status
// changes.
type Session struct {
	ID            int64         `json:"id"`
	SessionID     string        `json:"sessionId"`
	CandidateID   int64         `json:"candidateId"`
	CandidateName string        `json:"candidateName"`
	TemplateID    int64         `json:"templateId"`
	TemplateName  string        `json:"templateName"`
	JobTitle      string        `json:"jobTitle,omitempty"`
	Status        SessionStatus `json:"status"`
	Language      string        `json:"language"`
	CreatedAt     *time.Time    `json:"createdAt,omitempty"`
	StartedAt     *time.Time    `json:"startedAt,omitempty"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	TotalTurns    int           `json:"totalTurns"`
}
