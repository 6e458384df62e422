package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/interviewer/internal/api"
	"github.com/zulandar/interviewer/internal/models"
	"github.com/zulandar/interviewer/internal/transport"
)

const (
	// DefaultAttempts is the retry count for each delivery path.
	DefaultAttempts = 3
	// DefaultRetryBase is multiplied by the attempt number between retries.
	DefaultRetryBase = time.Second
)

// Delivery paths reported in Result.Via.
const (
	ViaLive   = "live"
	ViaRemote = "remote"
	ViaQueue  = "queue"
)

// errNoTurn marks an entry that has no turn reference to replay against.
var errNoTurn = errors.New("queue: no turn reference and live channel unavailable")

// Live is the open socket, when there is one.
type Live interface {
	State() transport.State
	SendText(msg transport.Outbound) error
}

// Remote is the direct HTTP fallback.
type Remote interface {
	UpdateTurn(ctx context.Context, sessionID string, turnID int, u api.TurnUpdate) error
}

// Submission is one answer to deliver.
type Submission struct {
	SessionID    string
	TurnID       *int
	Answer       string
	Activity     models.ActivitySummary
	SubmissionID string // generated when empty
}

// Result reports how a submission was handled.
type Result struct {
	Via          string
	SubmissionID string
	Queued       bool
	QueueID      uint
}

// DrainResult counts the outcome of one replay pass.
type DrainResult struct {
	Delivered int
	Failed    int
}

// SubmitterOpts configures a Submitter.
type SubmitterOpts struct {
	Queue     *Queue
	Remote    Remote
	Live      Live // optional
	Attempts  int
	RetryBase time.Duration
	// OnResult fires after every Submit, for metrics.
	OnResult func(Result)
	// OnDrain fires after every Drain.
	OnDrain func(sessionID string, r DrainResult)
}

// Submitter delivers answers live, then directly, then via the queue.
type Submitter struct {
	opts SubmitterOpts

	drainMu sync.Mutex
}

// NewSubmitter creates a Submitter.
func NewSubmitter(opts SubmitterOpts) (*Submitter, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("queue: queue is required")
	}
	if opts.Remote == nil {
		return nil, fmt.Errorf("queue: remote is required")
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	return &Submitter{opts: opts}, nil
}

func (s *Submitter) liveOpen() Live {
	l := s.opts.Live
	if l == nil || l.State() != transport.Open {
		return nil
	}
	return l
}

// Submit tries the live socket, then the direct HTTP call, each up to
// Attempts times. If both fail the answer is queued; Submit only returns an
// error when even the queue write fails.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (Result, error) {
	if sub.SubmissionID == "" {
		sub.SubmissionID = uuid.NewString()
	}
	res := Result{SubmissionID: sub.SubmissionID}

	if err := s.retry(ctx, "live", func() error { return s.sendLive(sub) }); err == nil {
		res.Via = ViaLive
		s.report(res)
		return res, nil
	} else if ctx.Err() != nil {
		return res, ctx.Err()
	}

	if sub.TurnID != nil {
		err := s.retry(ctx, "remote", func() error { return s.sendRemote(ctx, sub) })
		if err == nil {
			res.Via = ViaRemote
			s.report(res)
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}

	summary, err := json.Marshal(sub.Activity)
	if err != nil {
		return res, fmt.Errorf("queue: encode activity summary: %w", err)
	}
	entry := &models.QueuedSubmission{
		SessionID:       sub.SessionID,
		TurnID:          sub.TurnID,
		Answer:          sub.Answer,
		ActivitySummary: string(summary),
		SubmissionID:    sub.SubmissionID,
	}
	// The queue write must outlive a cancelled caller.
	if err := s.opts.Queue.Enqueue(context.WithoutCancel(ctx), entry); err != nil {
		return res, err
	}
	log.Printf("queue: answer for %s queued (entry %d)", sub.SessionID, entry.ID)
	res.Via = ViaQueue
	res.Queued = true
	res.QueueID = entry.ID
	s.report(res)
	return res, nil
}

func (s *Submitter) report(r Result) {
	if s.opts.OnResult != nil {
		s.opts.OnResult(r)
	}
}

func (s *Submitter) sendLive(sub Submission) error {
	l := s.liveOpen()
	if l == nil {
		return transport.ErrNotOpen
	}
	msg := transport.AnswerMessage(sub.Answer, sub.Activity.Activities)
	msg.SubmissionID = sub.SubmissionID
	return l.SendText(msg)
}

func (s *Submitter) sendRemote(ctx context.Context, sub Submission) error {
	activity := sub.Activity
	return s.opts.Remote.UpdateTurn(ctx, sub.SessionID, *sub.TurnID, api.TurnUpdate{
		Answer:          sub.Answer,
		SubmissionID:    sub.SubmissionID,
		ActivitySummary: &activity,
	})
}

// retry runs fn up to Attempts times, sleeping RetryBase*n after failed
// attempt n. A closed socket or a rejected request (4xx other than
// 408/429) ends the path at once.
func (s *Submitter) retry(ctx context.Context, path string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, transport.ErrNotOpen) {
			return err
		}
		if !api.IsRetryable(err) {
			log.Printf("queue: %s submit rejected, not retrying: %v", path, err)
			return err
		}
		log.Printf("queue: %s submit attempt %d/%d failed: %v", path, attempt, s.opts.Attempts, err)
		if attempt == s.opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.RetryBase * time.Duration(attempt)):
		}
	}
	return err
}

// Drain replays a session's queued entries in enqueue order. Delivered
// entries are removed; failed ones stay queued for the next pass. Entries
// of other sessions are not touched.
func (s *Submitter) Drain(ctx context.Context, sessionID string) (DrainResult, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	var res DrainResult
	pending, err := s.opts.Queue.Pending(ctx, sessionID)
	if err != nil {
		return res, err
	}
	for _, entry := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := s.replay(ctx, entry); err != nil {
			log.Printf("queue: replay of entry %d for %s failed: %v", entry.ID, sessionID, err)
			res.Failed++
			if merr := s.opts.Queue.MarkFailed(ctx, entry.ID, err); merr != nil {
				log.Printf("queue: %v", merr)
			}
			continue
		}
		if err := s.opts.Queue.Remove(ctx, entry.ID); err != nil {
			// Delivered but still queued; the server collapses the
			// duplicate by submission ID on the next pass.
			log.Printf("queue: %v", err)
		}
		res.Delivered++
	}
	if len(pending) > 0 {
		log.Printf("queue: drained %s: %d delivered, %d still queued", sessionID, res.Delivered, res.Failed)
	}
	if s.opts.OnDrain != nil {
		s.opts.OnDrain(sessionID, res)
	}
	return res, nil
}

// DrainAll drains every session that has queued entries.
func (s *Submitter) DrainAll(ctx context.Context) (map[string]DrainResult, error) {
	ids, err := s.opts.Queue.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]DrainResult, len(ids))
	for _, id := range ids {
		r, err := s.Drain(ctx, id)
		if err != nil {
			return out, err
		}
		out[id] = r
	}
	return out, nil
}

func (s *Submitter) replay(ctx context.Context, entry models.QueuedSubmission) error {
	var summary models.ActivitySummary
	if entry.ActivitySummary != "" {
		if err := json.Unmarshal([]byte(entry.ActivitySummary), &summary); err != nil {
			log.Printf("queue: entry %d has unreadable activity summary: %v", entry.ID, err)
		}
	}
	sub := Submission{
		SessionID:    entry.SessionID,
		TurnID:       entry.TurnID,
		Answer:       entry.Answer,
		Activity:     summary,
		SubmissionID: entry.SubmissionID,
	}
	if sub.TurnID != nil {
		return s.sendRemote(ctx, sub)
	}
	if err := s.sendLive(sub); err != nil {
		if errors.Is(err, transport.ErrNotOpen) {
			return errNoTurn
		}
		return err
	}
	return nil
}
