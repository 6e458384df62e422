package dashboard

import (
	"context"
	"time"

	"github.com/zulandar/interviewer/internal/models"
	"github.com/zulandar/interviewer/internal/queue"
)

// QueueRow is one queued answer for display. The answer text itself is
// not exposed, only its length.
type QueueRow struct {
	ID           uint      `json:"id"`
	SessionID    string    `json:"sessionId"`
	TurnID       *int      `json:"turnId,omitempty"`
	SubmissionID string    `json:"submissionId"`
	AnswerLength int       `json:"answerLength"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"lastError,omitempty"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// QueueSummary lists queued answers, for one session or all of them when
// sessionID is empty.
func QueueSummary(ctx context.Context, q *queue.Queue, sessionID string) ([]QueueRow, error) {
	var (
		subs []models.QueuedSubmission
		err  error
	)
	if sessionID == "" {
		subs, err = q.All(ctx)
	} else {
		subs, err = q.Pending(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	rows := make([]QueueRow, len(subs))
	for i, s := range subs {
		rows[i] = QueueRow{
			ID:           s.ID,
			SessionID:    s.SessionID,
			TurnID:       s.TurnID,
			SubmissionID: s.SubmissionID,
			AnswerLength: len(s.Answer),
			Attempts:     s.Attempts,
			LastError:    s.LastError,
			EnqueuedAt:   s.EnqueuedAt,
		}
	}
	return rows, nil
}
