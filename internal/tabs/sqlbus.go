package tabs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/interviewer/internal/models"
	"gorm.io/gorm"
)

// Defaults for the SQL bus.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultRetention    = time.Minute
)

// SQLBus gossips through the tab_announcements table so that separate
// processes sharing a database can see each other. Rows are transport
// only and are pruned once older than the retention window.
type SQLBus struct {
	db        *gorm.DB
	interval  time.Duration
	retention time.Duration
}

// SQLBusOpts configures a SQLBus.
type SQLBusOpts struct {
	PollInterval time.Duration
	Retention    time.Duration
}

// NewSQLBus creates a SQLBus.
func NewSQLBus(db *gorm.DB, opts SQLBusOpts) *SQLBus {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &SQLBus{db: db, interval: opts.PollInterval, retention: opts.Retention}
}

func (b *SQLBus) Publish(ctx context.Context, a Announcement) error {
	row := models.TabAnnouncement{
		SessionID: a.SessionID,
		TabID:     a.TabID,
		Type:      string(a.Type),
		CreatedAt: a.Timestamp,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("tabs: publish %s: %w", a.Type, err)
	}
	return nil
}

// Subscribe starts a poller reading rows newer than the current tail.
func (b *SQLBus) Subscribe(ctx context.Context, sessionID string) (<-chan Announcement, func(), error) {
	var cursor uint
	err := b.db.WithContext(ctx).Model(&models.TabAnnouncement{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(id), 0)").Scan(&cursor).Error
	if err != nil {
		return nil, nil, fmt.Errorf("tabs: subscribe %s: %w", sessionID, err)
	}

	ch := make(chan Announcement, subscriberBuffer)
	ctx, cancelCtx := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(ch)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cursor = b.poll(ctx, sessionID, cursor, ch)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			<-done
		})
	}
	return ch, cancel, nil
}

func (b *SQLBus) poll(ctx context.Context, sessionID string, cursor uint, ch chan<- Announcement) uint {
	var rows []models.TabAnnouncement
	err := b.db.WithContext(ctx).Where("session_id = ? AND id > ?", sessionID, cursor).
		Order("id ASC").Find(&rows).Error
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("tabs: poll %s: %v", sessionID, err)
		}
		return cursor
	}
	for _, r := range rows {
		cursor = r.ID
		a := Announcement{
			Type:      AnnouncementType(r.Type),
			TabID:     r.TabID,
			SessionID: r.SessionID,
			Timestamp: r.CreatedAt,
		}
		select {
		case ch <- a:
		case <-ctx.Done():
			return cursor
		}
	}
	if err := b.Prune(ctx); err != nil && ctx.Err() == nil {
		log.Printf("tabs: %v", err)
	}
	return cursor
}

// Prune deletes announcements older than the retention window.
func (b *SQLBus) Prune(ctx context.Context) error {
	cutoff := time.Now().Add(-b.retention)
	if err := b.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.TabAnnouncement{}).Error; err != nil {
		return fmt.Errorf("tabs: prune: %w", err)
	}
	return nil
}
