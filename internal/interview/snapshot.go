package interview

import (
	"github.com/zulandar/interviewer/internal/activity"
	"github.com/zulandar/interviewer/internal/connection"
	"github.com/zulandar/interviewer/internal/models"
	"github.com/zulandar/interviewer/internal/tabs"
	"github.com/zulandar/interviewer/internal/transport"
)

// Snapshot is a read-only view of a running session.
type Snapshot struct {
	Session     models.Session         `json:"session"`
	Connection  connection.Status      `json:"connection"`
	Transport   string                 `json:"transport"`
	Tabs        *tabs.State            `json:"tabs,omitempty"`
	Blocked     bool                   `json:"blocked"`
	Mode        models.Mode            `json:"mode"`
	Turns       int                    `json:"turns"`
	Answered    int                    `json:"answered"`
	AISpeaking  bool                   `json:"aiSpeaking"`
	Completed   bool                   `json:"completed"`
	QueueDepth  int64                  `json:"queueDepth"`
	Activity    models.ActivitySummary `json:"activity"`
	LastWarning string                 `json:"lastWarning"`
	Warnings    []string               `json:"warnings,omitempty"`
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Connection: s.monitor.Status(),
		Transport:  s.transport.State().String(),
		Blocked:    s.Blocked(),
		Activity:   s.activity.Summary(),
	}
	if s.tabs != nil {
		st := s.tabs.State()
		snap.Tabs = &st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Session = s.info
	snap.Mode = s.mode
	snap.Turns = len(s.turns)
	for _, t := range s.turns {
		if t.Answered() {
			snap.Answered++
		}
	}
	snap.AISpeaking = s.aiSpeaking
	snap.Completed = s.completed
	snap.QueueDepth = s.queueDepth
	snap.LastWarning = s.lastWarning.String()
	for _, w := range s.warnings {
		snap.Warnings = append(snap.Warnings, w.Error())
	}
	return snap
}

// Info returns the cached session record.
func (s *Session) Info() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Turns returns a copy of the turn list.
func (s *Session) Turns() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Messages returns the protocol messages received so far, oldest first.
func (s *Session) Messages() []transport.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Event, len(s.messages))
	copy(out, s.messages)
	return out
}

// Evaluation returns the final evaluation, or nil before completion.
func (s *Session) Evaluation() *transport.Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluation
}

// Completed reports whether the evaluation arrived.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Blocked reports whether another tab owns the session, making this one
// read-only.
func (s *Session) Blocked() bool {
	return s.tabs != nil && s.tabs.Blocked()
}

// Warnings returns terminal conditions surfaced to the candidate, such as
// draft.ErrDraftLost or connection.ErrReconnectExhausted.
func (s *Session) Warnings() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.warnings...)
}

// ActivitySummary returns the activity recorded since the last submission.
func (s *Session) ActivitySummary() models.ActivitySummary {
	return s.activity.Summary()
}

// Warning returns the latest interruption warning level.
func (s *Session) Warning() activity.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWarning
}
