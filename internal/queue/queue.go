// Package queue holds answer submissions that could not be delivered and
// replays them, oldest first, once the interview service is reachable.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/interviewer/internal/models"
	"gorm.io/gorm"
)

// Queue is the durable offline submission list.
type Queue struct {
	db *gorm.DB
}

// New creates a Queue on the queued_submissions table.
func New(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue appends a submission. Its ID fixes its replay position.
func (q *Queue) Enqueue(ctx context.Context, sub *models.QueuedSubmission) error {
	if sub.SessionID == "" {
		return fmt.Errorf("queue: enqueue: session ID is required")
	}
	if sub.SubmissionID == "" {
		return fmt.Errorf("queue: enqueue: submission ID is required")
	}
	if sub.EnqueuedAt.IsZero() {
		sub.EnqueuedAt = time.Now()
	}
	if sub.ActivitySummary == "" {
		sub.ActivitySummary = "{}"
	}
	if err := q.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Pending returns a session's entries in enqueue order.
func (q *Queue) Pending(ctx context.Context, sessionID string) ([]models.QueuedSubmission, error) {
	var subs []models.QueuedSubmission
	if err := q.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("queue: pending %s: %w", sessionID, err)
	}
	return subs, nil
}

// All returns every entry across sessions in enqueue order.
func (q *Queue) All(ctx context.Context) ([]models.QueuedSubmission, error) {
	var subs []models.QueuedSubmission
	if err := q.db.WithContext(ctx).Order("id ASC").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	return subs, nil
}

// Sessions returns the distinct session IDs that have queued entries.
func (q *Queue) Sessions(ctx context.Context) ([]string, error) {
	var ids []string
	if err := q.db.WithContext(ctx).Model(&models.QueuedSubmission{}).Distinct("session_id").Order("session_id").Pluck("session_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("queue: sessions: %w", err)
	}
	return ids, nil
}

// Count returns the number of entries for a session.
func (q *Queue) Count(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := q.db.WithContext(ctx).Model(&models.QueuedSubmission{}).Where("session_id = ?", sessionID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("queue: count %s: %w", sessionID, err)
	}
	return n, nil
}

// Remove deletes a delivered entry.
func (q *Queue) Remove(ctx context.Context, id uint) error {
	if err := q.db.WithContext(ctx).Delete(&models.QueuedSubmission{}, id).Error; err != nil {
		return fmt.Errorf("queue: remove %d: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed replay. The entry stays queued.
func (q *Queue) MarkFailed(ctx context.Context, id uint, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
		if len(msg) > 512 {
			msg = msg[:512]
		}
	}
	err := q.db.WithContext(ctx).Model(&models.QueuedSubmission{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error
	if err != nil {
		return fmt.Errorf("queue: mark failed %d: %w", id, err)
	}
	return nil
}
