package models

import "time"

// Turn is one question/answer exchange. Turns are append-only within a
// session; only the answer fields are filled in after creation.
type Turn struct {
	Number          int        `json:"turnNumber"`
	Question        string     `json:"question"`
	Answer          string     `json:"answer,omitempty"`
	QuestionAt      time.Time  `json:"questionTimestamp"`
	AnsweredAt      *time.Time `json:"answerTimestamp,omitempty"`
	DurationSeconds *int       `json:"durationSeconds,omitempty"`
	AudioURL        string     `json:"audioUrl,omitempty"`
}

// Answered reports whether the candidate has submitted an answer.
func (t Turn) Answered() bool {
	return t.AnsweredAt != nil
}
