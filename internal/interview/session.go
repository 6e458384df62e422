// Package interview runs one candidate interview session. It wires the
// socket transport, connectivity monitor, draft persistence, offline
// submission queue, tab coordination and activity monitoring into a
// single object the CLI and dashboard drive.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/interviewer/internal/activity"
	"github.com/zulandar/interviewer/internal/alert"
	"github.com/zulandar/interviewer/internal/api"
	"github.com/zulandar/interviewer/internal/connection"
	"github.com/zulandar/interviewer/internal/draft"
	"github.com/zulandar/interviewer/internal/metrics"
	"github.com/zulandar/interviewer/internal/models"
	"github.com/zulandar/interviewer/internal/queue"
	"github.com/zulandar/interviewer/internal/tabs"
	"github.com/zulandar/interviewer/internal/transport"
)

// DefaultDrainInterval is how often the offline queue is replayed.
const DefaultDrainInterval = 30 * time.Second

var (
	ErrBlocked     = errors.New("interview: session is active in another tab")
	ErrCompleted   = errors.New("interview: interview already completed")
	ErrEmptyAnswer = errors.New("interview: answer is empty")
	ErrNotStarted  = errors.New("interview: session not started")
	ErrClosed      = errors.New("interview: session closed")
)

// Service is the remote interview service. api.Client satisfies it.
type Service interface {
	JoinSession(ctx context.Context, sessionID string) (*models.Session, error)
	SessionStatus(ctx context.Context, sessionID string) (models.SessionStatus, error)
	UpdateTurn(ctx context.Context, sessionID string, turnID int, u api.TurnUpdate) error
	ReportActivity(ctx context.Context, sessionID string, a models.SuspiciousActivity) error
	UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
}

// Options configures a Session.
type Options struct {
	SessionID string
	Service   Service
	Transport *transport.Client
	Drafts    *draft.Manager
	Queue     *queue.Queue
	Prober    connection.Prober

	// TabBus enables duplicate-tab detection; Lease adds strict
	// single-writer mode on top of it.
	TabBus tabs.Bus
	Lease  *tabs.Lease
	TabID  string
	Hidden bool

	Policy           connection.Policy
	ProbeInterval    time.Duration
	DrainInterval    time.Duration
	AutosaveInterval time.Duration
	Debounce         time.Duration
	SubmitAttempts   int
	SubmitRetryBase  time.Duration
	Mode             models.Mode

	Notifier alert.Notifier
	Metrics  *metrics.Collector
	// OnUpdate receives a notification after every visible state change.
	OnUpdate func(Update)
	Now      func() time.Time
}

// Session is one running interview.
type Session struct {
	opts      Options
	id        string
	service   Service
	transport *transport.Client
	drafts    *draft.Manager
	queue     *queue.Queue
	submitter *queue.Submitter
	activity  *activity.Monitor
	monitor   *connection.Monitor
	autosaver *draft.Autosaver
	tabs      *tabs.Coordinator
	metrics   *metrics.Collector
	now       func() time.Time

	mu          sync.Mutex
	info        models.Session
	turns       []models.Turn
	answer      string
	mode        models.Mode
	messages    []transport.Event
	aiSpeaking  bool
	interrupted bool // the current AI utterance was already interrupted
	lastWarning activity.Warning
	evaluation  *transport.Evaluation
	completed   bool
	warnings    []error
	queueDepth  int64
	started     bool
	closed      bool
	drainCron   *cron.Cron

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New validates opts and builds the session's components. Nothing runs
// until Start.
func New(opts Options) (*Session, error) {
	switch {
	case opts.SessionID == "":
		return nil, fmt.Errorf("interview: session ID is required")
	case opts.Service == nil:
		return nil, fmt.Errorf("interview: service is required")
	case opts.Transport == nil:
		return nil, fmt.Errorf("interview: transport is required")
	case opts.Drafts == nil:
		return nil, fmt.Errorf("interview: draft manager is required")
	case opts.Queue == nil:
		return nil, fmt.Errorf("interview: queue is required")
	case opts.Prober == nil:
		return nil, fmt.Errorf("interview: prober is required")
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = DefaultDrainInterval
	}
	if opts.Mode == "" {
		opts.Mode = models.ModeText
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		opts:      opts,
		id:        opts.SessionID,
		service:   opts.Service,
		transport: opts.Transport,
		drafts:    opts.Drafts,
		queue:     opts.Queue,
		metrics:   opts.Metrics,
		now:       opts.Now,
		info:      models.Session{SessionID: opts.SessionID},
		mode:      opts.Mode,
	}

	var err error
	s.submitter, err = queue.NewSubmitter(queue.SubmitterOpts{
		Queue:     opts.Queue,
		Remote:    opts.Service,
		Live:      opts.Transport,
		Attempts:  opts.SubmitAttempts,
		RetryBase: opts.SubmitRetryBase,
		OnResult:  s.onSubmitted,
		OnDrain:   s.onDrained,
	})
	if err != nil {
		return nil, fmt.Errorf("interview: %w", err)
	}

	s.activity, err = activity.NewMonitor(activity.MonitorOpts{
		SessionID: opts.SessionID,
		Reporter:  opts.Service,
		Notifier:  opts.Notifier,
		Metrics:   opts.Metrics,
		Now:       opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("interview: %w", err)
	}

	s.monitor, err = connection.NewMonitor(connection.MonitorOpts{
		Prober:       opts.Prober,
		Interval:     opts.ProbeInterval,
		Policy:       opts.Policy,
		OnReconnect:  s.onOnline,
		OnDisconnect: s.onOffline,
		OnExhausted:  s.onExhausted,
		OnStatus:     func(st connection.Status) { s.emit(UpdateConnection, string(st.Quality)) },
		OnProbe:      func(r connection.ProbeResult) { s.metrics.RecordProbe(r.Healthy(), r.Latency) },
	})
	if err != nil {
		return nil, fmt.Errorf("interview: %w", err)
	}

	s.autosaver, err = draft.NewAutosaver(draft.AutosaverOpts{
		Manager:  opts.Drafts,
		Snapshot: s.draftState,
		Debounce: opts.Debounce,
		Interval: opts.AutosaveInterval,
		OnError:  s.onDraftError,
		OnSave:   func(models.DraftState) { s.metrics.RecordDraftSave() },
	})
	if err != nil {
		return nil, fmt.Errorf("interview: %w", err)
	}
	opts.Drafts.SetFlusher(draft.FlusherFunc(s.flushDraft))

	if opts.TabBus != nil {
		s.tabs, err = tabs.NewCoordinator(tabs.CoordinatorOpts{
			Bus:       opts.TabBus,
			SessionID: opts.SessionID,
			TabID:     opts.TabID,
			Lease:     opts.Lease,
			Hidden:    opts.Hidden,
			OnChange:  s.onTabs,
		})
		if err != nil {
			return nil, fmt.Errorf("interview: %w", err)
		}
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start joins the session, restores any draft, and starts every
// background schedule. A socket that cannot be opened right away is
// retried by the reconnect loop; Start only fails when the session is
// already over.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	ctx = s.ctx

	info, err := s.service.JoinSession(ctx, s.id)
	if err != nil {
		log.Printf("interview: join %s: %v", s.id, err)
	} else {
		s.mu.Lock()
		s.info = *info
		s.completed = info.Status.Terminal()
		s.mu.Unlock()
		if info.Status.Terminal() {
			return fmt.Errorf("%w (%s)", ErrCompleted, info.Status)
		}
	}

	state, err := s.drafts.Recover(ctx, s.id, s.service)
	if err != nil {
		log.Printf("interview: recover draft for %s: %v", s.id, err)
	}
	if state != nil {
		s.mu.Lock()
		s.turns = state.Turns
		s.answer = state.CurrentAnswer
		if state.Mode != "" {
			s.mode = state.Mode
		}
		s.mu.Unlock()
		log.Printf("interview: restored draft for %s (%d turns, saved %s)", s.id, len(state.Turns), state.Timestamp.Format(time.RFC3339))
		s.emit(UpdateRecovered, fmt.Sprintf("%d turns", len(state.Turns)))
	}

	if s.tabs != nil {
		if err := s.tabs.Start(ctx); err != nil {
			log.Printf("interview: %v", err)
		}
	}

	s.spawn(s.loop)
	if err := s.monitor.Start(ctx); err != nil {
		return fmt.Errorf("interview: start monitor: %w", err)
	}
	if err := s.transport.Connect(ctx); err != nil {
		log.Printf("interview: %v", err)
		s.spawn(s.reconnect)
	}
	s.autosaver.Start(ctx)

	drain := cron.New()
	drain.Schedule(cron.Every(s.opts.DrainInterval), cron.FuncJob(func() {
		if s.monitor.Status().IsOnline {
			s.drain()
		}
	}))
	s.mu.Lock()
	s.drainCron = drain
	s.mu.Unlock()
	drain.Start()

	s.refreshQueueDepth()
	s.spawn(s.drain)
	return nil
}

// Close saves the draft, announces the tab closing, closes the socket and
// waits for background work to finish.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started, completed := s.started, s.completed
	s.mu.Unlock()
	if !started {
		return nil
	}

	var errs []error
	if !completed {
		if err := s.autosaver.SaveNow(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.stopSchedules()
	if s.tabs != nil {
		if err := s.tabs.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.activity.Wait()
	return errors.Join(errs...)
}

// spawn runs fn on a tracked goroutine unless the session is closing.
func (s *Session) spawn(fn func()) {
	s.mu.Lock()
	if s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// stopSchedules halts autosave, drain and probing. It runs once, either on
// completion or on Close.
func (s *Session) stopSchedules() {
	s.stopOnce.Do(func() {
		s.autosaver.Stop()
		s.mu.Lock()
		c := s.drainCron
		s.mu.Unlock()
		if c != nil {
			<-c.Stop().Done()
		}
		s.monitor.Stop()
	})
}

func (s *Session) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed || s.closed
}

// reconnect runs one backoff loop against the socket.
func (s *Session) reconnect() {
	if s.done() {
		return
	}
	err := s.monitor.Reconnect(s.ctx, func(ctx context.Context) error {
		if s.transport.State() == transport.Open {
			return nil
		}
		s.metrics.RecordReconnectAttempt()
		if err := s.transport.MarkReconnecting(); err != nil && !errors.Is(err, transport.ErrInvalidTransition) {
			return err
		}
		return s.transport.Connect(ctx)
	})
	if err != nil && !errors.Is(err, connection.ErrReconnectInProgress) &&
		!errors.Is(err, connection.ErrReconnectExhausted) && s.ctx.Err() == nil {
		log.Printf("interview: reconnect %s: %v", s.id, err)
	}
}

// drain replays this session's queued answers.
func (s *Session) drain() {
	if _, err := s.submitter.Drain(s.ctx, s.id); err != nil && s.ctx.Err() == nil {
		log.Printf("interview: drain %s: %v", s.id, err)
	}
	s.refreshQueueDepth()
}

func (s *Session) refreshQueueDepth() {
	n, err := s.queue.Count(s.ctx, s.id)
	if err != nil {
		if s.ctx.Err() == nil {
			log.Printf("interview: %v", err)
		}
		return
	}
	s.mu.Lock()
	s.queueDepth = n
	s.mu.Unlock()
	s.metrics.SetQueueDepth(n)
}

func (s *Session) onOnline() {
	if s.done() {
		return
	}
	if st := s.transport.State(); st == transport.Disconnected {
		s.spawn(s.reconnect)
	}
	s.spawn(s.drain)
}

func (s *Session) onOffline() {
	s.emit(UpdateConnection, "offline")
}

func (s *Session) onExhausted(err error) {
	s.metrics.RecordReconnectExhausted()
	s.addWarning(err)
}

func (s *Session) onDraftError(err error) {
	if errors.Is(err, draft.ErrDraftLost) {
		s.addWarning(err)
	}
}

func (s *Session) onSubmitted(r queue.Result) {
	s.metrics.RecordSubmission(r.Via)
}

func (s *Session) onDrained(_ string, r queue.DrainResult) {
	s.metrics.RecordDrain(r.Delivered, r.Failed)
	if r.Delivered > 0 {
		s.emit(UpdateDrained, fmt.Sprintf("%d delivered", r.Delivered))
	}
}

func (s *Session) onTabs(st tabs.State) {
	detail := "unblocked"
	if st.Blocked {
		detail = "blocked"
	}
	s.emit(UpdateTabs, detail)
}

// addWarning records a terminal condition once.
func (s *Session) addWarning(err error) {
	s.mu.Lock()
	for _, w := range s.warnings {
		if errors.Is(w, err) {
			s.mu.Unlock()
			return
		}
	}
	s.warnings = append(s.warnings, err)
	s.mu.Unlock()
	s.emit(UpdateWarning, err.Error())
}

// flushDraft is the last resort when no local tier accepts a draft: hand
// the answer to the server over the open socket.
func (s *Session) flushDraft(_ context.Context, _ string, answer string) error {
	return s.transport.SendText(transport.SaveDraftMessage(answer))
}

func (s *Session) draftState() models.DraftState {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]models.Turn, len(s.turns))
	copy(turns, s.turns)
	return models.DraftState{
		SessionID:     s.id,
		CurrentAnswer: s.answer,
		Turns:         turns,
		Mode:          s.mode,
	}
}

func (s *Session) saveDraft() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.autosaver.SaveNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("interview: save draft for %s: %v", s.id, err)
	}
}
