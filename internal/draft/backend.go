package draft

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zulandar/interviewer/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrQuotaExceeded is returned by a backend that has no room for a write.
var ErrQuotaExceeded = errors.New("draft: storage quota exceeded")

// Backend is one storage tier.
type Backend interface {
	Name() string
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// SQLBackend stores drafts in the draft_records table. It survives process
// restarts and is shared by every instance using the same database.
type SQLBackend struct {
	db *gorm.DB
}

// NewSQLBackend creates a SQLBackend.
func NewSQLBackend(db *gorm.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

func (b *SQLBackend) Name() string { return "sql" }

func (b *SQLBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var rec models.DraftRecord
	err := b.db.WithContext(ctx).Where("draft_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("draft: sql get %s: %w", key, err)
	}
	return rec.Value, true, nil
}

func (b *SQLBackend) Set(ctx context.Context, key, value string) error {
	rec := models.DraftRecord{Key: key, Value: value}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "draft_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("draft: sql set %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) Remove(ctx context.Context, key string) error {
	if err := b.db.WithContext(ctx).Where("draft_key = ?", key).Delete(&models.DraftRecord{}).Error; err != nil {
		return fmt.Errorf("draft: sql remove %s: %w", key, err)
	}
	return nil
}

// Keys lists every stored key.
func (b *SQLBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := b.db.WithContext(ctx).Model(&models.DraftRecord{}).Order("draft_key").Pluck("draft_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("draft: sql keys: %w", err)
	}
	return keys, nil
}

// MemoryBackend keeps drafts for the lifetime of the process. A positive
// quota caps the total bytes of keys and values held.
type MemoryBackend struct {
	mu    sync.Mutex
	quota int
	used  int
	data  map[string]string
}

// NewMemoryBackend creates a MemoryBackend. quota <= 0 means unlimited.
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{quota: quota, data: make(map[string]string)}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	used := b.used
	if old, ok := b.data[key]; ok {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if b.quota > 0 && used > b.quota {
		return fmt.Errorf("%w: memory tier needs %d of %d bytes", ErrQuotaExceeded, used, b.quota)
	}
	b.data[key] = value
	b.used = used
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.data[key]; ok {
		b.used -= len(key) + len(old)
		delete(b.data, key)
	}
	return nil
}

// Used returns the bytes currently held.
func (b *MemoryBackend) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
