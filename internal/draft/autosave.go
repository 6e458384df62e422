package draft

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/interviewer/internal/models"
)

const (
	// DefaultDebounce is the quiet period after the last edit before saving.
	DefaultDebounce = 2 * time.Second
	// DefaultAutosaveInterval is the periodic save cadence.
	DefaultAutosaveInterval = 30 * time.Second
)

// AutosaverOpts configures an Autosaver.
type AutosaverOpts struct {
	Manager  *Manager
	Snapshot func() models.DraftState // returns the full current state
	Debounce time.Duration
	Interval time.Duration // rounded up to whole seconds by the scheduler
	// OnError receives failed saves, e.g. ErrDraftLost.
	OnError func(error)
	// OnSave fires after every successful save.
	OnSave func(models.DraftState)
}

// Autosaver triggers draft saves after edits settle and on a fixed cadence.
type Autosaver struct {
	opts AutosaverOpts

	mu      sync.Mutex
	timer   *time.Timer
	cron    *cron.Cron
	ctx     context.Context
	running bool
}

// NewAutosaver creates an Autosaver.
func NewAutosaver(opts AutosaverOpts) (*Autosaver, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("draft: manager is required")
	}
	if opts.Snapshot == nil {
		return nil, fmt.Errorf("draft: snapshot func is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultAutosaveInterval
	}
	return &Autosaver{opts: opts}, nil
}

// Start begins periodic saves. ctx is used for every save until Stop.
func (a *Autosaver) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.ctx = ctx
	a.cron = cron.New()
	a.cron.Schedule(cron.Every(a.opts.Interval), cron.FuncJob(func() {
		a.save(a.context())
	}))
	a.cron.Start()
	a.running = true
}

// Touch records an edit; a save happens once edits pause for the debounce
// period.
func (a *Autosaver) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.opts.Debounce, func() {
		a.save(a.context())
	})
}

// SaveNow saves immediately, cancelling any pending debounced save. Used
// when the candidate backgrounds the session or the process is exiting.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	return a.save(ctx)
}

// Stop cancels pending and periodic saves. It does not save.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	c := a.cron
	a.mu.Unlock()
	<-c.Stop().Done()
}

func (a *Autosaver) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

func (a *Autosaver) save(ctx context.Context) error {
	state := a.opts.Snapshot()
	err := a.opts.Manager.Save(ctx, state)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("draft: autosave for %s: %v", state.SessionID, err)
		}
		if a.opts.OnError != nil {
			a.opts.OnError(err)
		}
		return err
	}
	if a.opts.OnSave != nil {
		a.opts.OnSave(state)
	}
	return nil
}
