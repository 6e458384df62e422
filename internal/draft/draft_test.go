package draft

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/interviewer/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "draft.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.DraftRecord{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// failingBackend rejects every operation.
type failingBackend struct{ err error }

func (f failingBackend) Name() string { return "failing" }
func (f failingBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, f.err
}
func (f failingBackend) Set(context.Context, string, string) error { return f.err }
func (f failingBackend) Remove(context.Context, string) error      { return f.err }

// lockedBackend serves reads from its memory tier but rejects writes and
// removals while locked.
type lockedBackend struct {
	*MemoryBackend
	locked bool
}

func (l *lockedBackend) Set(ctx context.Context, key, value string) error {
	if l.locked {
		return errors.New("database is locked")
	}
	return l.MemoryBackend.Set(ctx, key, value)
}

func (l *lockedBackend) Remove(ctx context.Context, key string) error {
	if l.locked {
		return errors.New("database is locked")
	}
	return l.MemoryBackend.Remove(ctx, key)
}

type fixedStatus struct {
	status models.SessionStatus
	err    error
}

func (f fixedStatus) SessionStatus(context.Context, string) (models.SessionStatus, error) {
	return f.status, f.err
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sampleDraft(sessionID string) models.DraftState {
	return models.DraftState{
		SessionID:     sessionID,
		CurrentAnswer: "I would use a worker pool",
		Turns: []models.Turn{
			{Number: 1, Question: "How do you scale writes?", QuestionAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
		},
		Mode: models.ModeText,
	}
}

func newTestManager(t *testing.T, backends ...Backend) (*Manager, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager(ManagerOpts{Backends: backends, Now: clk.Now})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, clk
}

func TestNewManager_RequiresBackend(t *testing.T) {
	if _, err := NewManager(ManagerOpts{}); err == nil {
		t.Fatal("expected error without backends")
	}
}

func TestKey(t *testing.T) {
	if got := Key("abc"); got != "draft:abc" {
		t.Errorf("Key = %q", got)
	}
	if id, ok := SessionFromKey("draft:abc"); !ok || id != "abc" {
		t.Errorf("SessionFromKey = %q, %v", id, ok)
	}
	if _, ok := SessionFromKey("other:abc"); ok {
		t.Error("SessionFromKey should reject foreign keys")
	}
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	sqlTier := NewSQLBackend(openTestDB(t))
	memTier := NewMemoryBackend(0)
	m, clk := newTestManager(t, sqlTier, memTier)
	ctx := context.Background()

	in := sampleDraft("s1")
	in.Timestamp = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC) // ignored
	if err := m.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil")
	}
	if got.CurrentAnswer != in.CurrentAnswer || len(got.Turns) != 1 || got.Turns[0].Question != in.Turns[0].Question {
		t.Errorf("loaded = %+v", got)
	}
	if !got.Timestamp.Equal(clk.Now()) {
		t.Errorf("Timestamp = %v, want write time %v", got.Timestamp, clk.Now())
	}
	// Both tiers hold the snapshot.
	for _, b := range []Backend{sqlTier, memTier} {
		if _, ok, _ := b.Get(ctx, Key("s1")); !ok {
			t.Errorf("%s tier missing draft", b.Name())
		}
	}
}

func TestManager_SaveOverwritesWholeSnapshot(t *testing.T) {
	m, _ := newTestManager(t, NewSQLBackend(openTestDB(t)))
	ctx := context.Background()

	first := sampleDraft("s1")
	if err := m.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second := models.DraftState{SessionID: "s1", CurrentAnswer: "rewritten", Mode: models.ModeVoice}
	if err := m.Save(ctx, second); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ := m.Load(ctx, "s1")
	if got.CurrentAnswer != "rewritten" || len(got.Turns) != 0 || got.Mode != models.ModeVoice {
		t.Errorf("loaded = %+v, want second snapshot only", got)
	}
}

func TestManager_LoadMissing(t *testing.T) {
	m, _ := newTestManager(t, NewMemoryBackend(0))
	got, err := m.Load(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("Load = %v, %v; want nil, nil", got, err)
	}
}

func TestManager_ExpiredDraftIsRemoved(t *testing.T) {
	sqlTier := NewSQLBackend(openTestDB(t))
	memTier := NewMemoryBackend(0)
	m, clk := newTestManager(t, sqlTier, memTier)
	ctx := context.Background()

	if err := m.Save(ctx, sampleDraft("s1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	clk.Advance(23 * time.Hour)
	if got, _ := m.Load(ctx, "s1"); got == nil {
		t.Fatal("draft younger than TTL should load")
	}
	clk.Advance(time.Hour)
	got, err := m.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expired draft returned: %+v", got)
	}
	for _, b := range []Backend{sqlTier, memTier} {
		if _, ok, _ := b.Get(ctx, Key("s1")); ok {
			t.Errorf("%s tier still holds expired draft", b.Name())
		}
	}
}

func TestManager_FallsBackWhenPrimaryFails(t *testing.T) {
	memTier := NewMemoryBackend(0)
	m, _ := newTestManager(t, failingBackend{err: ErrQuotaExceeded}, memTier)
	ctx := context.Background()

	if err := m.Save(ctx, sampleDraft("s1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := m.Load(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("Load = %v, %v; want draft from secondary", got, err)
	}
}

func TestManager_PrimaryQuotaDoesNotShadowNewerDraft(t *testing.T) {
	primary := NewMemoryBackend(1024)
	secondary := NewMemoryBackend(0)
	m, clk := newTestManager(t, primary, secondary)
	ctx := context.Background()

	if err := m.Save(ctx, sampleDraft("s1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	clk.Advance(time.Minute)
	newer := sampleDraft("s1")
	newer.CurrentAnswer = "new " + strings.Repeat("x", 2000)
	if err := m.Save(ctx, newer); err != nil {
		t.Fatalf("Save newer: %v", err)
	}
	if _, ok, _ := primary.Get(ctx, Key("s1")); ok {
		t.Error("primary still holds the older draft after rejecting the newer one")
	}

	got, err := m.Load(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("Load = %v, %v", got, err)
	}
	if got.CurrentAnswer != newer.CurrentAnswer {
		t.Errorf("CurrentAnswer = %.20q, want the newer draft", got.CurrentAnswer)
	}
}

func TestManager_LoadPrefersLatestTimestamp(t *testing.T) {
	primary := &lockedBackend{MemoryBackend: NewMemoryBackend(0)}
	secondary := NewMemoryBackend(0)
	m, clk := newTestManager(t, primary, secondary)
	ctx := context.Background()

	if err := m.Save(ctx, sampleDraft("s1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	primary.locked = true
	clk.Advance(12 * time.Hour)
	newer := sampleDraft("s1")
	newer.CurrentAnswer = "newer answer"
	if err := m.Save(ctx, newer); err != nil {
		t.Fatalf("Save newer: %v", err)
	}

	got, _ := m.Load(ctx, "s1")
	if got == nil || got.CurrentAnswer != "newer answer" {
		t.Fatalf("Load = %+v, want the newer draft", got)
	}

	// The stale primary copy ages past the TTL first; the newer one survives.
	clk.Advance(13 * time.Hour)
	got, err := m.Load(ctx, "s1")
	if err != nil || got == nil || got.CurrentAnswer != "newer answer" {
		t.Fatalf("Load after primary copy expired = %+v, %v", got, err)
	}
	if _, ok, _ := secondary.Get(ctx, Key("s1")); !ok {
		t.Error("newer secondary draft was removed")
	}
}

func TestManager_UnreadablePrimaryFallsThrough(t *testing.T) {
	primary := NewMemoryBackend(0)
	secondary := NewMemoryBackend(0)
	m, _ := newTestManager(t, primary, secondary)
	ctx := context.Background()

	if err := m.Save(ctx, sampleDraft("s1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	primary.Set(ctx, Key("s1"), "{corrupt")

	got, err := m.Load(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("Load = %v, %v; want draft from secondary", got, err)
	}
	if got.CurrentAnswer != "I would use a worker pool" {
		t.Errorf("CurrentAnswer = %q", got.CurrentAnswer)
	}
}

func TestManager_AllTiersFailFlushesRemotely(t *testing.T) {
	var flushed string
	m, _ := newTestManager(t, failingBackend{err: ErrQuotaExceeded}, failingBackend{err: ErrQuotaExceeded})
	m.SetFlusher(FlusherFunc(func(ctx context.Context, sessionID, answer string) error {
		flushed = sessionID + ":" + answer
		return nil
	}))

	if err := m.Save(context.Background(), sampleDraft("s1")); err != nil {
		t.Fatalf("Save with successful flush: %v", err)
	}
	if flushed != "s1:I would use a worker pool" {
		t.Errorf("flushed = %q", flushed)
	}
}

func TestManager_DraftLost(t *testing.T) {
	m, _ := newTestManager(t, failingBackend{err: ErrQuotaExceeded})
	m.SetFlusher(FlusherFunc(func(context.Context, string, string) error {
		return errors.New("offline")
	}))
	if err := m.Save(context.Background(), sampleDraft("s1")); !errors.Is(err, ErrDraftLost) {
		t.Errorf("Save err = %v, want ErrDraftLost", err)
	}

	noFlush, _ := newTestManager(t, failingBackend{err: ErrQuotaExceeded})
	if err := noFlush.Save(context.Background(), sampleDraft("s1")); !errors.Is(err, ErrDraftLost) {
		t.Errorf("Save without flusher err = %v, want ErrDraftLost", err)
	}
}

func TestManager_SaveRequiresSession(t *testing.T) {
	m, _ := newTestManager(t, NewMemoryBackend(0))
	if err := m.Save(context.Background(), models.DraftState{}); err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

func TestManager_Recover(t *testing.T) {
	tests := []struct {
		name    string
		checker fixedStatus
		want    bool
	}{
		{"in progress", fixedStatus{status: models.StatusInProgress}, true},
		{"paused", fixedStatus{status: models.StatusPaused}, true},
		{"completed", fixedStatus{status: models.StatusCompleted}, false},
		{"abandoned", fixedStatus{status: models.StatusAbandoned}, false},
		{"pending", fixedStatus{status: models.StatusPending}, false},
		{"lookup error", fixedStatus{err: errors.New("503")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, NewMemoryBackend(0))
			ctx := context.Background()
			if err := m.Save(ctx, sampleDraft("s1")); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := m.Recover(ctx, "s1", tt.checker)
			if err != nil {
				t.Fatalf("Recover: %v", err)
			}
			if (got != nil) != tt.want {
				t.Errorf("Recover returned %v, want draft=%v", got, tt.want)
			}
		})
	}
}

func TestManager_RecoverNothingSaved(t *testing.T) {
	m, _ := newTestManager(t, NewMemoryBackend(0))
	got, err := m.Recover(context.Background(), "s1", fixedStatus{status: models.StatusInProgress})
	if err != nil || got != nil {
		t.Errorf("Recover = %v, %v; want nil, nil", got, err)
	}
}

func TestManager_Clear(t *testing.T) {
	sqlTier := NewSQLBackend(openTestDB(t))
	m, _ := newTestManager(t, sqlTier, NewMemoryBackend(0))
	ctx := context.Background()
	m.Save(ctx, sampleDraft("s1"))
	m.Save(ctx, sampleDraft("s2"))

	if err := m.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := m.Load(ctx, "s1"); got != nil {
		t.Error("s1 should be cleared")
	}
	if got, _ := m.Load(ctx, "s2"); got == nil {
		t.Error("s2 should be untouched")
	}
	keys, err := sqlTier.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "draft:s2" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestMemoryBackend_Quota(t *testing.T) {
	b := NewMemoryBackend(20)
	ctx := context.Background()

	if err := b.Set(ctx, "k1", "0123456789"); err != nil { // 12 bytes
		t.Fatalf("Set: %v", err)
	}
	if err := b.Set(ctx, "k2", "0123456789"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Set over quota err = %v, want ErrQuotaExceeded", err)
	}
	// Replacing a value only counts the difference.
	if err := b.Set(ctx, "k1", "0123456789abcdef"); err != nil {
		t.Fatalf("Set replace: %v", err)
	}
	if b.Used() != 18 {
		t.Errorf("Used = %d, want 18", b.Used())
	}
	b.Remove(ctx, "k1")
	if b.Used() != 0 {
		t.Errorf("Used after remove = %d, want 0", b.Used())
	}
}

func TestSQLBackend_Upsert(t *testing.T) {
	b := NewSQLBackend(openTestDB(t))
	ctx := context.Background()

	if err := b.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set again: %v", err)
	}
	v, ok, err := b.Get(ctx, "k")
	if err != nil || !ok || v != "v2" {
		t.Errorf("Get = %q, %v, %v; want v2", v, ok, err)
	}
	if err := b.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Error("key still present after Remove")
	}
}
