package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/interviewer/internal/interview"
	"github.com/zulandar/interviewer/internal/metrics"
	"github.com/zulandar/interviewer/internal/models"
	"github.com/zulandar/interviewer/internal/queue"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeSource struct {
	snap interview.Snapshot
}

func (f fakeSource) Snapshot() interview.Snapshot { return f.snap }

func testSource() fakeSource {
	return fakeSource{snap: interview.Snapshot{
		Session:    models.Session{SessionID: "sess-1", Status: models.StatusInProgress},
		Transport:  "open",
		Mode:       models.ModeText,
		Turns:      3,
		Answered:   2,
		QueueDepth: 1,
	}}
}

func openTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "dash.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.QueuedSubmission{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return queue.New(db)
}

func newTestRouter(t *testing.T, opts StartOpts) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(opts)
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStart_RequiresSource(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	if err == nil {
		t.Fatal("expected error without a status source")
	}
	if !strings.Contains(err.Error(), "status source is required") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestRouter(t, StartOpts{Source: testSource()}), "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStatus_ReturnsSnapshot(t *testing.T) {
	rec := get(t, newTestRouter(t, StartOpts{Source: testSource()}), "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap interview.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Session.SessionID != "sess-1" || snap.Turns != 3 || snap.Answered != 2 || snap.QueueDepth != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestQueue_ListsEntriesWithoutAnswerText(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	turn := 2
	if err := q.Enqueue(ctx, &models.QueuedSubmission{
		SessionID:    "sess-1",
		TurnID:       &turn,
		Answer:       "secret answer",
		SubmissionID: "sub-1",
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, &models.QueuedSubmission{
		SessionID:    "sess-2",
		Answer:       "other",
		SubmissionID: "sub-2",
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	router := newTestRouter(t, StartOpts{Source: testSource(), Queue: q})

	rec := get(t, router, "/api/queue?session=sess-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret answer") {
		t.Error("queue listing leaked answer text")
	}
	var body struct {
		Entries []QueueRow `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(body.Entries))
	}
	e := body.Entries[0]
	if e.SubmissionID != "sub-1" || e.AnswerLength != len("secret answer") || e.TurnID == nil || *e.TurnID != 2 {
		t.Errorf("entry = %+v", e)
	}

	rec = get(t, router, "/api/queue")
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Entries) != 2 {
		t.Errorf("all entries = %d, want 2", len(body.Entries))
	}
}

func TestQueue_NoQueueConfigured(t *testing.T) {
	rec := get(t, newTestRouter(t, StartOpts{Source: testSource()}), "/api/queue")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"entries":[]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetrics_Exposed(t *testing.T) {
	m := metrics.NewCollector()
	m.RecordSubmission(queue.ViaLive)
	rec := get(t, newTestRouter(t, StartOpts{Source: testSource(), Metrics: m}), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "interview_submissions_total") {
		t.Error("metrics output missing interview_submissions_total")
	}
}

func TestMetrics_DisabledIsNotFound(t *testing.T) {
	rec := get(t, newTestRouter(t, StartOpts{Source: testSource()}), "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHub_PublishAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	if hub.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", hub.Subscribers())
	}

	hub.Publish(interview.Update{Kind: interview.UpdateQuestion, Detail: "Q1"})
	select {
	case u := <-ch:
		if u.Kind != interview.UpdateQuestion || u.Detail != "Q1" {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("update not delivered")
	}

	cancel()
	cancel()
	if hub.Subscribers() != 0 {
		t.Errorf("subscribers = %d after cancel, want 0", hub.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	hub.Publish(interview.Update{Kind: interview.UpdateTabs})
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(interview.Update{Kind: interview.UpdateConnection})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestSSE_StreamsUpdates(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(newTestRouter(t, StartOpts{Source: testSource(), Hub: hub}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("content-type = %q, want text/event-stream", ct)
	}

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	expect := func(want string) {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream ended before %q", want)
				}
				if strings.Contains(line, want) {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	expect("event: connected")
	// The subscription is registered before the connected event is written.
	hub.Publish(interview.Update{Kind: interview.UpdateSubmitted, SessionID: "sess-1", Detail: queue.ViaQueue})
	expect("event: submitted")
	expect(`"detail":"queue"`)

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Subscribers() != 0 {
		t.Error("subscriber not removed after client disconnect")
	}
}
