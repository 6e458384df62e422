// Package activity records anti-cheating signals for an interview session
// and forwards each one to the interview service without blocking the
// candidate.
package activity

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/interviewer/internal/alert"
	"github.com/zulandar/interviewer/internal/metrics"
	"github.com/zulandar/interviewer/internal/models"
)

// DefaultReportTimeout bounds each forwarded report.
const DefaultReportTimeout = 10 * time.Second

// Reporter receives activity events. api.Client satisfies it.
type Reporter interface {
	ReportActivity(ctx context.Context, sessionID string, a models.SuspiciousActivity) error
}

// Warning is the escalation level shown to the candidate after an
// interruption. It never blocks submission.
type Warning int

const (
	WarningNone Warning = iota
	WarningNotice
	WarningFinal
	WarningFlagged
)

func (w Warning) String() string {
	switch w {
	case WarningNotice:
		return "notice"
	case WarningFinal:
		return "final"
	case WarningFlagged:
		return "flagged"
	default:
		return "none"
	}
}

// WarningFor maps an interruption count to its warning level.
func WarningFor(count int) Warning {
	switch {
	case count >= 4:
		return WarningFlagged
	case count == 3:
		return WarningFinal
	case count == 2:
		return WarningNotice
	default:
		return WarningNone
	}
}

// MonitorOpts configures a Monitor.
type MonitorOpts struct {
	SessionID string
	Reporter  Reporter
	// Notifier, when set, receives recruiter alerts for flagged
	// interruptions and detected pastes.
	Notifier alert.Notifier
	Metrics  *metrics.Collector
	Timeout  time.Duration // per report, default DefaultReportTimeout
	Now      func() time.Time
}

// Monitor is the per-session activity log.
type Monitor struct {
	opts MonitorOpts

	mu            sync.Mutex
	activities    []models.SuspiciousActivity
	tabSwitches   int
	interruptions int
	pasteDetected bool
	terminated    bool

	wg sync.WaitGroup
}

// NewMonitor creates a Monitor.
func NewMonitor(opts MonitorOpts) (*Monitor, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("activity: session ID is required")
	}
	if opts.Reporter == nil {
		return nil, fmt.Errorf("activity: reporter is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReportTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{opts: opts}, nil
}

// TabHidden records the session view being hidden.
func (m *Monitor) TabHidden() {
	m.mu.Lock()
	m.tabSwitches++
	a := m.appendLocked(models.ActivityTabSwitch, map[string]any{"count": m.tabSwitches})
	m.mu.Unlock()
	m.forward(a)
}

// WindowBlur records the window losing focus.
func (m *Monitor) WindowBlur() {
	m.mu.Lock()
	a := m.appendLocked(models.ActivityWindowBlur, nil)
	m.mu.Unlock()
	m.forward(a)
}

// Paste records pasted input. Only the length is kept, never the text.
func (m *Monitor) Paste(length int) {
	m.mu.Lock()
	first := !m.pasteDetected
	m.pasteDetected = true
	a := m.appendLocked(models.ActivityPaste, map[string]any{"textLength": length})
	m.mu.Unlock()
	m.forward(a)
	if first {
		m.notify(alert.Alert{
			Title:    "Paste detected during interview",
			Body:     fmt.Sprintf("The candidate pasted %d characters into an answer.", length),
			Severity: alert.SeverityWarning,
		})
	}
}

// Shortcut records a key press. Only ctrl/meta combined with c or v is
// suspicious; it reports whether the press was recorded.
func (m *Monitor) Shortcut(key string, ctrlOrMeta bool) bool {
	if !ctrlOrMeta {
		return false
	}
	var action string
	switch strings.ToLower(key) {
	case "c":
		action = "COPY"
	case "v":
		action = "PASTE"
	default:
		return false
	}
	m.mu.Lock()
	a := m.appendLocked(models.ActivityCopyPasteKeys, map[string]any{"action": action})
	m.mu.Unlock()
	m.forward(a)
	return true
}

// Interruption records the candidate talking over the interviewer and
// returns the running count with its warning level.
func (m *Monitor) Interruption() (int, Warning) {
	m.mu.Lock()
	m.interruptions++
	count := m.interruptions
	a := m.appendLocked(models.ActivityInterruption, map[string]any{"count": count})
	m.mu.Unlock()
	m.forward(a)

	w := WarningFor(count)
	if w == WarningFlagged && WarningFor(count-1) != WarningFlagged {
		m.notify(alert.Alert{
			Title:    "Candidate flagged for repeated interruptions",
			Body:     fmt.Sprintf("The candidate interrupted the interviewer %d times.", count),
			Severity: alert.SeverityError,
			Fields:   []alert.Field{{Name: "Interruptions", Value: fmt.Sprint(count), Short: true}},
		})
	}
	return count, w
}

func (m *Monitor) appendLocked(t models.ActivityType, meta map[string]any) models.SuspiciousActivity {
	a := models.SuspiciousActivity{Type: t, Timestamp: m.opts.Now(), Metadata: meta}
	m.activities = append(m.activities, a)
	m.opts.Metrics.RecordActivity(string(t))
	return a
}

// forward reports a in the background. Failures are logged and dropped.
func (m *Monitor) forward(a models.SuspiciousActivity) {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
		defer cancel()
		if err := m.opts.Reporter.ReportActivity(ctx, m.opts.SessionID, a); err != nil {
			log.Printf("activity: report %s for %s: %v", a.Type, m.opts.SessionID, err)
		}
	}()
}

func (m *Monitor) notify(al alert.Alert) {
	if m.opts.Notifier == nil {
		return
	}
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	al.SessionID = m.opts.SessionID
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
		defer cancel()
		if err := m.opts.Notifier.Notify(ctx, al); err != nil {
			log.Printf("activity: alert for %s: %v", m.opts.SessionID, err)
		}
	}()
}

// Summary returns the rollup attached to answer submissions.
func (m *Monitor) Summary() models.ActivitySummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	acts := make([]models.SuspiciousActivity, len(m.activities))
	copy(acts, m.activities)
	return models.ActivitySummary{
		TabSwitches:   m.tabSwitches,
		Interruptions: m.interruptions,
		PasteDetected: m.pasteDetected,
		Activities:    acts,
	}
}

// Reset clears the log and counters, after an answer is submitted.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = nil
	m.tabSwitches = 0
	m.interruptions = 0
	m.pasteDetected = false
}

// Terminate stops forwarding once the session reached a terminal status.
// Events are still recorded locally.
func (m *Monitor) Terminate() {
	m.mu.Lock()
	m.terminated = true
	m.mu.Unlock()
}

// Terminated reports whether forwarding has stopped.
func (m *Monitor) Terminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}

// Wait blocks until in-flight reports and alerts finish.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
