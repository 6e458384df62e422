package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/interviewer/internal/interview"
)

// heartbeatInterval keeps idle event streams alive through proxies.
var heartbeatInterval = 15 * time.Second

// subscriberBuffer is how many updates a slow client may lag behind
// before updates to it are dropped.
const subscriberBuffer = 32

// Hub fans interview updates out to every connected event stream.
type Hub struct {
	mu   sync.Mutex
	subs map[chan interview.Update]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan interview.Update]struct{})}
}

// Publish delivers u to every subscriber without blocking. It has the
// signature of interview.Options.OnUpdate.
func (h *Hub) Publish(u interview.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Subscribe registers a listener. The returned func unsubscribes and
// closes the channel.
func (h *Hub) Subscribe() (<-chan interview.Update, func()) {
	ch := make(chan interview.Update, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of connected listeners.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleSSE streams hub updates as server-sent events until the client
// goes away.
func handleSSE(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		updates, cancel := hub.Subscribe()
		defer cancel()

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case u, ok := <-updates:
				if !ok {
					return
				}
				writeSSE(c.Writer, string(u.Kind), u)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
