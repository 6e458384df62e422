package tabs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/interviewer/internal/models"
	"gorm.io/gorm"
)

// DefaultLeaseTimeout is the duration after which a lease's heartbeat is
// considered stale and the lease can be taken over.
const DefaultLeaseTimeout = 90 * time.Second

// Lease status values.
const (
	LeaseActive   = "active"
	LeaseReleased = "released"
	LeaseExpired  = "expired"
)

// ErrLeaseHeld is returned when another tab holds a live lease.
var ErrLeaseHeld = errors.New("tabs: session lease held by another tab")

// ErrLeaseLost is returned by Heartbeat when the lease is no longer active.
var ErrLeaseLost = errors.New("tabs: session lease lost")

// Lease grants one tab exclusive use of a session, kept alive by
// heartbeats. It closes the startup race the gossip protocol leaves open.
type Lease struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewLease creates a Lease on the session_leases table.
func NewLease(db *gorm.DB, timeout time.Duration) *Lease {
	if timeout <= 0 {
		timeout = DefaultLeaseTimeout
	}
	return &Lease{db: db, timeout: timeout}
}

// Timeout returns the stale-heartbeat threshold.
func (l *Lease) Timeout() time.Duration { return l.timeout }

// Acquire expires stale leases for the session, then grants a new one
// unless a live lease exists. Re-acquiring a lease the tab already holds
// returns the existing row.
func (l *Lease) Acquire(ctx context.Context, sessionID, tabID string) (*models.SessionLease, error) {
	var lease *models.SessionLease

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		cutoff := now.Add(-l.timeout)

		if err := tx.Model(&models.SessionLease{}).
			Where("status = ? AND last_heartbeat < ? AND session_id = ?", LeaseActive, cutoff, sessionID).
			Updates(map[string]interface{}{
				"status":      LeaseExpired,
				"released_at": now,
			}).Error; err != nil {
			return fmt.Errorf("expire stale leases: %w", err)
		}

		var existing models.SessionLease
		result := tx.Where("status = ? AND session_id = ?", LeaseActive, sessionID).First(&existing)
		if result.Error == nil {
			if existing.TabID == tabID {
				lease = &existing
				return nil
			}
			return fmt.Errorf("%w (%s since %s)", ErrLeaseHeld, existing.TabID, existing.CreatedAt.Format(time.RFC3339))
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing lease: %w", result.Error)
		}

		lease = &models.SessionLease{
			SessionID:     sessionID,
			TabID:         tabID,
			Status:        LeaseActive,
			LastHeartbeat: now,
		}
		if err := tx.Create(lease).Error; err != nil {
			return fmt.Errorf("create lease: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tabs: acquire lease: %w", err)
	}
	return lease, nil
}

// Heartbeat refreshes an active lease.
func (l *Lease) Heartbeat(ctx context.Context, leaseID uint) error {
	result := l.db.WithContext(ctx).Model(&models.SessionLease{}).
		Where("id = ? AND status = ?", leaseID, LeaseActive).
		Update("last_heartbeat", time.Now())
	if result.Error != nil {
		return fmt.Errorf("tabs: heartbeat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("tabs: heartbeat lease %d: %w", leaseID, ErrLeaseLost)
	}
	return nil
}

// Release gives the lease up.
func (l *Lease) Release(ctx context.Context, leaseID uint) error {
	result := l.db.WithContext(ctx).Model(&models.SessionLease{}).
		Where("id = ? AND status = ?", leaseID, LeaseActive).
		Updates(map[string]interface{}{
			"status":      LeaseReleased,
			"released_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("tabs: release lease: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("tabs: release lease %d: %w", leaseID, ErrLeaseLost)
	}
	return nil
}

// Holder returns the live lease for a session, or nil.
func (l *Lease) Holder(ctx context.Context, sessionID string) (*models.SessionLease, error) {
	var lease models.SessionLease
	err := l.db.WithContext(ctx).
		Where("status = ? AND session_id = ? AND last_heartbeat >= ?", LeaseActive, sessionID, time.Now().Add(-l.timeout)).
		First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tabs: lease holder: %w", err)
	}
	return &lease, nil
}
