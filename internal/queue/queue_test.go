package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/interviewer/internal/api"
	"github.com/zulandar/interviewer/internal/models"
	"github.com/zulandar/interviewer/internal/transport"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "queue.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.QueuedSubmission{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// fakeRemote fails any answer listed in failAnswers.
type fakeRemote struct {
	mu          sync.Mutex
	failAnswers map[string]bool
	failAll     bool
	failStatus  int // default 503
	calls       []string
	updates     []api.TurnUpdate
}

func (f *fakeRemote) UpdateTurn(ctx context.Context, sessionID string, turnID int, u api.TurnUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u.Answer)
	if f.failAll || f.failAnswers[u.Answer] {
		code := f.failStatus
		if code == 0 {
			code = 503
		}
		return &api.RequestError{StatusCode: code}
	}
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeLive is a socket stub.
type fakeLive struct {
	mu    sync.Mutex
	state transport.State
	fail  bool
	sent  []transport.Outbound
}

func (f *fakeLive) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLive) SendText(msg transport.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func intPtr(n int) *int { return &n }

func newTestSubmitter(t *testing.T, remote *fakeRemote, live Live) (*Submitter, *Queue) {
	t.Helper()
	q := New(openTestDB(t))
	s, err := NewSubmitter(SubmitterOpts{Queue: q, Remote: remote, Live: live, RetryBase: time.Millisecond})
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	return s, q
}

func TestNewSubmitter_Validation(t *testing.T) {
	if _, err := NewSubmitter(SubmitterOpts{}); err == nil {
		t.Error("expected error without queue")
	}
	if _, err := NewSubmitter(SubmitterOpts{Queue: &Queue{}}); err == nil {
		t.Error("expected error without remote")
	}
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q := New(openTestDB(t))
	ctx := context.Background()
	if err := q.Enqueue(ctx, &models.QueuedSubmission{SubmissionID: "x"}); err == nil {
		t.Error("expected error without session")
	}
	if err := q.Enqueue(ctx, &models.QueuedSubmission{SessionID: "s"}); err == nil {
		t.Error("expected error without submission ID")
	}
}

func TestQueue_FIFOAndScoping(t *testing.T) {
	q := New(openTestDB(t))
	ctx := context.Background()
	for _, e := range []struct{ session, answer, id string }{
		{"s1", "A", "id-a"},
		{"s2", "X", "id-x"},
		{"s1", "B", "id-b"},
	} {
		if err := q.Enqueue(ctx, &models.QueuedSubmission{SessionID: e.session, Answer: e.answer, SubmissionID: e.id}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	pending, err := q.Pending(ctx, "s1")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Answer != "A" || pending[1].Answer != "B" {
		t.Fatalf("pending = %+v, want A then B", pending)
	}
	if pending[0].ActivitySummary != "{}" {
		t.Errorf("ActivitySummary default = %q", pending[0].ActivitySummary)
	}
	if n, _ := q.Count(ctx, "s2"); n != 1 {
		t.Errorf("Count(s2) = %d, want 1", n)
	}
	all, _ := q.All(ctx)
	if len(all) != 3 {
		t.Errorf("All = %d entries, want 3", len(all))
	}
	sessions, _ := q.Sessions(ctx)
	if len(sessions) != 2 || sessions[0] != "s1" || sessions[1] != "s2" {
		t.Errorf("Sessions = %v", sessions)
	}
}

func TestQueue_DuplicateSubmissionIDRejected(t *testing.T) {
	q := New(openTestDB(t))
	ctx := context.Background()
	q.Enqueue(ctx, &models.QueuedSubmission{SessionID: "s1", Answer: "A", SubmissionID: "same"})
	if err := q.Enqueue(ctx, &models.QueuedSubmission{SessionID: "s1", Answer: "A", SubmissionID: "same"}); err == nil {
		t.Error("expected unique violation for repeated submission ID")
	}
}

func TestQueue_MarkFailed(t *testing.T) {
	q := New(openTestDB(t))
	ctx := context.Background()
	e := &models.QueuedSubmission{SessionID: "s1", Answer: "A", SubmissionID: "a"}
	q.Enqueue(ctx, e)

	q.MarkFailed(ctx, e.ID, errors.New("503"))
	q.MarkFailed(ctx, e.ID, errors.New("timeout"))

	pending, _ := q.Pending(ctx, "s1")
	if pending[0].Attempts != 2 || pending[0].LastError != "timeout" {
		t.Errorf("entry = %+v, want 2 attempts and last error", pending[0])
	}
}

func TestSubmit_LiveFirst(t *testing.T) {
	remote := &fakeRemote{}
	live := &fakeLive{state: transport.Open}
	s, q := newTestSubmitter(t, remote, live)

	res, err := s.Submit(context.Background(), Submission{
		SessionID: "s1",
		TurnID:    intPtr(1),
		Answer:    "live answer",
		Activity:  models.ActivitySummary{Activities: []models.SuspiciousActivity{{Type: models.ActivityWindowBlur}}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Via != ViaLive || res.Queued {
		t.Errorf("result = %+v, want live", res)
	}
	if len(res.SubmissionID) != 36 {
		t.Errorf("SubmissionID = %q, want UUID", res.SubmissionID)
	}
	if len(live.sent) != 1 || live.sent[0].Type != "answer" || live.sent[0].SubmissionID != res.SubmissionID || len(live.sent[0].ActivityLog) != 1 {
		t.Errorf("sent = %+v", live.sent)
	}
	if remote.callCount() != 0 {
		t.Error("remote should not be called when live succeeds")
	}
	if n, _ := q.Count(context.Background(), "s1"); n != 0 {
		t.Errorf("queue count = %d", n)
	}
}

func TestSubmit_FallsBackToRemote(t *testing.T) {
	remote := &fakeRemote{}
	live := &fakeLive{state: transport.Open, fail: true}
	s, _ := newTestSubmitter(t, remote, live)

	res, err := s.Submit(context.Background(), Submission{SessionID: "s1", TurnID: intPtr(2), Answer: "direct", SubmissionID: "fixed-id"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Via != ViaRemote {
		t.Errorf("Via = %s, want remote", res.Via)
	}
	if len(remote.updates) != 1 || remote.updates[0].SubmissionID != "fixed-id" || remote.updates[0].ActivitySummary == nil {
		t.Errorf("updates = %+v", remote.updates)
	}
}

func TestSubmit_QueuesAfterThreeFailedAttempts(t *testing.T) {
	remote := &fakeRemote{failAll: true}
	var reported Result
	q := New(openTestDB(t))
	s, _ := NewSubmitter(SubmitterOpts{
		Queue:     q,
		Remote:    remote,
		RetryBase: time.Millisecond,
		OnResult:  func(r Result) { reported = r },
	})

	res, err := s.Submit(context.Background(), Submission{
		SessionID: "s1",
		TurnID:    intPtr(3),
		Answer:    "offline answer",
		Activity:  models.ActivitySummary{TabSwitches: 1},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Queued || res.Via != ViaQueue || res.QueueID == 0 {
		t.Errorf("result = %+v, want queued", res)
	}
	if got := remote.callCount(); got != 3 {
		t.Errorf("remote attempts = %d, want 3", got)
	}
	if reported.SubmissionID != res.SubmissionID {
		t.Errorf("OnResult got %+v", reported)
	}
	pending, _ := q.Pending(context.Background(), "s1")
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	e := pending[0]
	if e.Answer != "offline answer" || e.TurnID == nil || *e.TurnID != 3 || e.SubmissionID != res.SubmissionID {
		t.Errorf("entry = %+v", e)
	}
	if e.ActivitySummary == "{}" || e.ActivitySummary == "" {
		t.Errorf("activity summary not stored: %q", e.ActivitySummary)
	}
}

func TestSubmit_RejectedRequestQueuesWithoutRetry(t *testing.T) {
	tests := []struct {
		status   int
		wantCall int
	}{
		{400, 1},
		{404, 1},
		{429, 3},
		{503, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			remote := &fakeRemote{failAll: true, failStatus: tt.status}
			s, q := newTestSubmitter(t, remote, nil)
			res, err := s.Submit(context.Background(), Submission{SessionID: "s1", TurnID: intPtr(1), Answer: "x"})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if !res.Queued {
				t.Errorf("result = %+v, want queued", res)
			}
			if got := remote.callCount(); got != tt.wantCall {
				t.Errorf("remote attempts = %d, want %d", got, tt.wantCall)
			}
			if n, _ := q.Count(context.Background(), "s1"); n != 1 {
				t.Errorf("count = %d, want 1", n)
			}
		})
	}
}

func TestSubmit_NoTurnAndNoSocketQueues(t *testing.T) {
	remote := &fakeRemote{}
	s, q := newTestSubmitter(t, remote, nil)
	res, err := s.Submit(context.Background(), Submission{SessionID: "s1", Answer: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Queued {
		t.Errorf("result = %+v, want queued", res)
	}
	if remote.callCount() != 0 {
		t.Error("remote needs a turn reference")
	}
	if n, _ := q.Count(context.Background(), "s1"); n != 1 {
		t.Errorf("count = %d", n)
	}
}

func TestDrain_PartialFailureKeepsOrder(t *testing.T) {
	remote := &fakeRemote{failAnswers: map[string]bool{"A": true}}
	s, q := newTestSubmitter(t, remote, nil)
	ctx := context.Background()

	q.Enqueue(ctx, &models.QueuedSubmission{SessionID: "s1", TurnID: intPtr(1), Answer: "A", SubmissionID: "id-a"})
	q.Enqueue(ctx, &models.QueuedSubmission{SessionID: "s1", TurnID: intPtr(2), Answer: "B", SubmissionID: "id-b"})
	q.Enqueue(ctx, &models.QueuedSubmission{SessionID: "s2", TurnID: intPtr(1), Answer: "C", SubmissionID: "id-c"})

	res, err := s.Drain(ctx, "s1")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Delivered != 1 || res.Failed != 1 {
		t.Errorf("DrainResult = %+v, want 1/1", res)
	}
	if len(remote.calls) != 2 || remote.calls[0] != "A" || remote.calls[1] != "B" {
		t.Errorf("replay order = %v, want [A B]", remote.calls)
	}
	pending, _ := q.Pending(ctx, "s1")
	if len(pending) != 1 || pending[0].Answer != "A" || pending[0].Attempts != 1 {
		t.Errorf("pending = %+v, want only A with 1 attempt", pending)
	}
	if n, _ := q.Count(ctx, "s2"); n != 1 {
		t.Errorf("s2 entries = %d, draining s1 must not touch s2", n)
	}

	// A later pass delivers A once the server recovers.
	remote.mu.Lock()
	remote.failAnswers = nil
	remote.mu.Unlock()
	res, _ = s.Drain(ctx, "s1")
	if res.Delivered != 1 || res.Failed != 0 {
		t.Errorf("second DrainResult = %+v", res)
	}
	if n, _ := q.Count(ctx, "s1"); n != 0 {
		t.Errorf("s1 entries = %d after recovery", n)
	}
}

func TestDrain_ReplaysSubmissionID(t *testing.T) {
	remote := &fakeRemote{}
	s, q := newTestSubmitter(t, remote, nil)
	ctx := context.Background()
	q.Enqueue(ctx, &models.QueuedSubmission{
		SessionID:       "s1",
		TurnID:          intPtr(4),
		Answer:          "A",
		SubmissionID:    "token-1",
		ActivitySummary: `{"tabSwitches":2,"interruptions":0,"pasteDetected":true,"activities":[]}`,
	})
	if _, err := s.Drain(ctx, "s1"); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(remote.updates) != 1 {
		t.Fatalf("updates = %d", len(remote.updates))
	}
	u := remote.updates[0]
	if u.SubmissionID != "token-1" || u.ActivitySummary.TabSwitches != 2 || !u.ActivitySummary.PasteDetected {
		t.Errorf("replayed update = %+v", u)
	}
}

func TestDrain_NoTurnUsesLiveSocket(t *testing.T) {
	live := &fakeLive{state: transport.Open}
	s, q := newTestSubmitter(t, &fakeRemote{}, live)
	ctx := context.Background()
	q.Enqueue(ctx, &models.QueuedSubmission{SessionID: "s1", Answer: "A", SubmissionID: "a"})

	res, _ := s.Drain(ctx, "s1")
	if res.Delivered != 1 || len(live.sent) != 1 {
		t.Errorf("res = %+v sent = %d", res, len(live.sent))
	}

	live.mu.Lock()
	live.state = transport.Disconnected
	live.mu.Unlock()
	q.Enqueue(ctx, &models.QueuedSubmission{SessionID: "s1", Answer: "B", SubmissionID: "b"})
	res, _ = s.Drain(ctx, "s1")
	if res.Failed != 1 {
		t.Errorf("res = %+v, want failure while socket closed", res)
	}
}

func TestDrainAll(t *testing.T) {
	remote := &fakeRemote{}
	var drained []string
	q := New(openTestDB(t))
	s, _ := NewSubmitter(SubmitterOpts{
		Queue:   q,
		Remote:  remote,
		OnDrain: func(id string, r DrainResult) { drained = append(drained, id) },
	})
	ctx := context.Background()
	q.Enqueue(ctx, &models.QueuedSubmission{SessionID: "s1", TurnID: intPtr(1), Answer: "A", SubmissionID: "a"})
	q.Enqueue(ctx, &models.QueuedSubmission{SessionID: "s2", TurnID: intPtr(1), Answer: "B", SubmissionID: "b"})

	out, err := s.DrainAll(ctx)
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if out["s1"].Delivered != 1 || out["s2"].Delivered != 1 {
		t.Errorf("DrainAll = %+v", out)
	}
	if len(drained) != 2 {
		t.Errorf("OnDrain calls = %v", drained)
	}
	all, _ := q.All(ctx)
	if len(all) != 0 {
		t.Errorf("entries left = %d", len(all))
	}
}
