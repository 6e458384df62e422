// Package tabs detects and arbitrates several coordinator instances open on
// the same interview session. Instances gossip over a Bus scoped to the
// session; an optional heartbeat lease adds strict single-writer control.
package tabs

import (
	"context"
	"sync"
	"time"
)

// AnnouncementType is the kind of gossip message.
type AnnouncementType string

const (
	TabOpened AnnouncementType = "TAB_OPENED"
	TabExists AnnouncementType = "TAB_EXISTS"
	TabActive AnnouncementType = "TAB_ACTIVE"
	TabClosed AnnouncementType = "TAB_CLOSED"
)

// Announcement is one ephemeral broadcast.
type Announcement struct {
	Type      AnnouncementType `json:"type"`
	TabID     string           `json:"tabId"`
	SessionID string           `json:"sessionId"`
	Timestamp time.Time        `json:"timestamp"`
}

// Bus delivers announcements to every subscriber of a session, including
// the publisher itself.
type Bus interface {
	Publish(ctx context.Context, a Announcement) error
	// Subscribe returns a channel of announcements published after the
	// call and a cancel func that closes it.
	Subscribe(ctx context.Context, sessionID string) (<-chan Announcement, func(), error)
}

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 32

// MemoryBus is an in-process hub, for instances sharing one process.
type MemoryBus struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan Announcement
}

// NewMemoryBus creates an empty hub.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]chan Announcement)}
}

// Publish fans a out to the session's subscribers. A subscriber whose
// buffer is full misses the message, as with any lossy broadcast.
func (b *MemoryBus) Publish(_ context.Context, a Announcement) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[a.SessionID] {
		select {
		case ch <- a:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, sessionID string) (<-chan Announcement, func(), error) {
	ch := make(chan Announcement, subscriberBuffer)
	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]chan Announcement)
	}
	b.subs[sessionID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[sessionID], id)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			close(ch)
			b.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() { stop(); cancel() }, nil
}
