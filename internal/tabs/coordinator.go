package tabs

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// NewTabID returns a random instance identifier, tab_{unixms}_{8 hex}.
func NewTabID() string {
	return fmt.Sprintf("tab_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// State is a snapshot of what this tab knows about its peers.
type State struct {
	TabID         string   `json:"tabId"`
	Visible       bool     `json:"visible"`
	OtherTabsOpen bool     `json:"otherTabsOpen"`
	OtherTabs     []string `json:"otherTabs"`
	LeaseEnabled  bool     `json:"leaseEnabled"`
	LeaseHeld     bool     `json:"leaseHeld"`
	Blocked       bool     `json:"blocked"`
}

// CoordinatorOpts configures a Coordinator.
type CoordinatorOpts struct {
	Bus       Bus
	SessionID string
	TabID     string // default NewTabID()
	// Lease enables strict single-writer mode when set.
	Lease *Lease
	// Hidden starts the tab in the background.
	Hidden bool
	// OnChange fires whenever the blocked state or peer set changes.
	OnChange func(State)
}

// Coordinator runs the announce protocol for one tab.
type Coordinator struct {
	opts      CoordinatorOpts
	tabID     string
	sessionID string

	mu        sync.Mutex
	visible   bool
	others    map[string]time.Time
	leaseID   uint
	leaseHeld bool
	started   bool
	closed    bool
	cancel    func()
	cron      *cron.Cron
	done      chan struct{}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts CoordinatorOpts) (*Coordinator, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("tabs: bus is required")
	}
	if opts.SessionID == "" {
		return nil, fmt.Errorf("tabs: session ID is required")
	}
	if opts.TabID == "" {
		opts.TabID = NewTabID()
	}
	return &Coordinator{
		opts:      opts,
		tabID:     opts.TabID,
		sessionID: opts.SessionID,
		visible:   !opts.Hidden,
		others:    make(map[string]time.Time),
	}, nil
}

// TabID returns this tab's identifier.
func (c *Coordinator) TabID() string { return c.tabID }

// Start subscribes to the session topic and announces TAB_OPENED. With a
// lease configured it also tries to take the lease and keeps it alive.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	ch, cancel, err := c.opts.Bus.Subscribe(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("tabs: start: %w", err)
	}
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.listen(ctx, ch, done)

	if c.opts.Lease != nil {
		c.tryAcquire(ctx)
		c.startHeartbeat(ctx)
	}
	if err := c.publish(ctx, TabOpened); err != nil {
		return err
	}
	c.notify()
	return nil
}

func (c *Coordinator) listen(ctx context.Context, ch <-chan Announcement, done chan struct{}) {
	defer close(done)
	for a := range ch {
		c.handle(ctx, a)
	}
}

func (c *Coordinator) handle(ctx context.Context, a Announcement) {
	if a.TabID == c.tabID || a.SessionID != c.sessionID {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	before := c.blockedLocked()
	_, known := c.others[a.TabID]
	switch a.Type {
	case TabOpened, TabExists, TabActive:
		c.others[a.TabID] = a.Timestamp
	case TabClosed:
		delete(c.others, a.TabID)
	}
	changed := known != (a.Type != TabClosed) || before != c.blockedLocked()
	retryLease := a.Type == TabClosed && c.opts.Lease != nil && !c.leaseHeld
	c.mu.Unlock()

	if a.Type == TabOpened {
		if err := c.publish(ctx, TabExists); err != nil {
			log.Printf("tabs: reply to %s: %v", a.TabID, err)
		}
	}
	if retryLease {
		c.tryAcquire(ctx)
		changed = true
	}
	if changed {
		c.notify()
	}
}

// SetVisible records whether this tab is in the foreground. Becoming
// visible broadcasts TAB_ACTIVE.
func (c *Coordinator) SetVisible(ctx context.Context, visible bool) {
	c.mu.Lock()
	if c.closed || c.visible == visible {
		c.mu.Unlock()
		return
	}
	c.visible = visible
	c.mu.Unlock()

	if visible {
		if err := c.publish(ctx, TabActive); err != nil {
			log.Printf("tabs: announce active: %v", err)
		}
	}
	c.notify()
}

// Blocked reports whether this tab must stay read-only: it is in the
// background while another tab is open, or a lease is required and held
// elsewhere.
func (c *Coordinator) Blocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockedLocked()
}

func (c *Coordinator) blockedLocked() bool {
	if c.opts.Lease != nil && !c.leaseHeld {
		return true
	}
	return !c.visible && len(c.others) > 0
}

// State returns a snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	others := make([]string, 0, len(c.others))
	for id := range c.others {
		others = append(others, id)
	}
	sort.Strings(others)
	return State{
		TabID:         c.tabID,
		Visible:       c.visible,
		OtherTabsOpen: len(c.others) > 0,
		OtherTabs:     others,
		LeaseEnabled:  c.opts.Lease != nil,
		LeaseHeld:     c.leaseHeld,
		Blocked:       c.blockedLocked(),
	}
}

// Close announces TAB_CLOSED, releases the lease and stops listening.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	cancel, done, cr := c.cancel, c.done, c.cron
	leaseID, held := c.leaseID, c.leaseHeld
	c.leaseHeld = false
	c.mu.Unlock()

	if !started {
		return nil
	}
	if cr != nil {
		<-cr.Stop().Done()
	}
	var firstErr error
	if held {
		if err := c.opts.Lease.Release(ctx, leaseID); err != nil {
			firstErr = err
		}
	}
	if err := c.publish(ctx, TabClosed); err != nil && firstErr == nil {
		firstErr = err
	}
	if cancel != nil {
		cancel()
		<-done
	}
	return firstErr
}

func (c *Coordinator) publish(ctx context.Context, t AnnouncementType) error {
	return c.opts.Bus.Publish(ctx, Announcement{
		Type:      t,
		TabID:     c.tabID,
		SessionID: c.sessionID,
		Timestamp: time.Now(),
	})
}

func (c *Coordinator) tryAcquire(ctx context.Context) {
	lease, err := c.opts.Lease.Acquire(ctx, c.sessionID, c.tabID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		log.Printf("tabs: %s: %v", c.tabID, err)
		c.leaseHeld = false
		return
	}
	c.leaseID = lease.ID
	c.leaseHeld = true
}

// startHeartbeat refreshes the lease three times per timeout window, and
// retries acquisition while it is not held.
func (c *Coordinator) startHeartbeat(ctx context.Context) {
	every := c.opts.Lease.Timeout() / 3
	if every < time.Second {
		every = time.Second
	}
	cr := cron.New()
	cr.Schedule(cron.Every(every), cron.FuncJob(func() { c.beat(ctx) }))
	c.mu.Lock()
	c.cron = cr
	c.mu.Unlock()
	cr.Start()
}

func (c *Coordinator) beat(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	held, id := c.leaseHeld, c.leaseID
	c.mu.Unlock()

	if !held {
		c.tryAcquire(ctx)
		if c.State().LeaseHeld {
			c.notify()
		}
		return
	}
	if err := c.opts.Lease.Heartbeat(ctx, id); err != nil {
		log.Printf("tabs: %s: %v", c.tabID, err)
		c.mu.Lock()
		c.leaseHeld = false
		c.mu.Unlock()
		c.notify()
	}
}

func (c *Coordinator) notify() {
	if c.opts.OnChange == nil {
		return
	}
	c.opts.OnChange(c.State())
}
