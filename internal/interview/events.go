package interview

import (
	"log"
	"time"

	"github.com/zulandar/interviewer/internal/models"
	"github.com/zulandar/interviewer/internal/transport"
)

// UpdateKind names what changed.
type UpdateKind string

const (
	UpdateQuestion   UpdateKind = "question"
	UpdateEvaluation UpdateKind = "evaluation"
	UpdateSpeaking   UpdateKind = "ai_speaking"
	UpdateConnection UpdateKind = "connection"
	UpdateSubmitted  UpdateKind = "submitted"
	UpdateDrained    UpdateKind = "drained"
	UpdateTabs       UpdateKind = "tabs"
	UpdateWarning    UpdateKind = "warning"
	UpdateRecovered  UpdateKind = "recovered"
	UpdateServer     UpdateKind = "server_error"
)

// Update is a state change notification.
type Update struct {
	Kind      UpdateKind `json:"kind"`
	SessionID string     `json:"sessionId"`
	Detail    string     `json:"detail,omitempty"`
	Time      time.Time  `json:"time"`
}

// maxMessages bounds the inbound message history.
const maxMessages = 500

func (s *Session) emit(kind UpdateKind, detail string) {
	if s.opts.OnUpdate == nil {
		return
	}
	s.opts.OnUpdate(Update{Kind: kind, SessionID: s.id, Detail: detail, Time: s.now()})
}

// loop is the single reader of the transport's event stream.
func (s *Session) loop() {
	events := s.transport.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-events:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev transport.Event) {
	switch ev.Type {
	case transport.EventConnected:
		s.monitor.SetOnline(true)
		s.emit(UpdateConnection, "connected")
		return
	case transport.EventDisconnected:
		if ev.Err != nil && !s.done() {
			s.emit(UpdateConnection, "disconnected")
			s.spawn(s.reconnect)
		}
		return
	case transport.EventAudio:
		return
	}

	s.record(ev)
	switch ev.Type {
	case transport.EventQuestion:
		s.onQuestion(ev.Text)
	case transport.EventEvaluation:
		s.complete(ev.Evaluation)
	case transport.EventAISpeaking:
		s.mu.Lock()
		s.aiSpeaking = true
		s.interrupted = false
		s.mu.Unlock()
		s.emit(UpdateSpeaking, "started")
	case transport.EventAIFinished:
		s.mu.Lock()
		s.aiSpeaking = false
		s.mu.Unlock()
		s.emit(UpdateSpeaking, "finished")
	case transport.EventError:
		log.Printf("interview: server error on %s: %s", s.id, ev.Message)
		s.emit(UpdateServer, ev.Message)
	case transport.EventUnknown:
		log.Printf("interview: ignoring %q message on %s", ev.RawType, s.id)
	}
}

// record appends a protocol message to the session history.
func (s *Session) record(ev transport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, ev)
	if over := len(s.messages) - maxMessages; over > 0 {
		s.messages = append(s.messages[:0:0], s.messages[over:]...)
	}
}

func (s *Session) onQuestion(text string) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	n := len(s.turns) + 1
	s.turns = append(s.turns, models.Turn{Number: n, Question: text, QuestionAt: s.now()})
	if s.info.Status == models.StatusPending {
		s.info.Status = models.StatusInProgress
	}
	s.mu.Unlock()

	s.saveDraft()
	s.emit(UpdateQuestion, text)
}

// complete handles the final evaluation: the session is marked completed
// remotely, the draft is dropped and every schedule stops.
func (s *Session) complete(eval *transport.Evaluation) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	s.evaluation = eval
	now := s.now()
	s.info.Status = models.StatusCompleted
	s.info.CompletedAt = &now
	s.aiSpeaking = false
	s.mu.Unlock()

	s.activity.Terminate()
	if err := s.service.UpdateStatus(s.ctx, s.id, models.StatusCompleted); err != nil {
		log.Printf("interview: mark %s completed: %v", s.id, err)
	}
	s.spawn(func() {
		s.stopSchedules()
		if err := s.drafts.Clear(s.ctx, s.id); err != nil {
			log.Printf("interview: %v", err)
		}
	})
	log.Printf("interview: %s completed", s.id)
	s.emit(UpdateEvaluation, "")
}
