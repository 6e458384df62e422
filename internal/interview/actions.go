package interview

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/interviewer/internal/activity"
	"github.com/zulandar/interviewer/internal/models"
	"github.com/zulandar/interviewer/internal/queue"
	"github.com/zulandar/interviewer/internal/transport"
)

// writable returns ErrBlocked or ErrCompleted when the candidate may not
// act on this session.
func (s *Session) writable() error {
	if s.Blocked() {
		return ErrBlocked
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.started:
		return ErrNotStarted
	case s.closed:
		return ErrClosed
	case s.completed:
		return ErrCompleted
	}
	return nil
}

// SetAnswer replaces the in-progress answer. The draft is saved once
// edits pause.
func (s *Session) SetAnswer(text string) error {
	if err := s.writable(); err != nil {
		return err
	}
	s.mu.Lock()
	s.answer = text
	s.mu.Unlock()
	s.autosaver.Touch()
	return nil
}

// Answer returns the in-progress answer.
func (s *Session) Answer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer
}

// SetMode switches between text and voice answering.
func (s *Session) SetMode(m models.Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.autosaver.Touch()
}

// SubmitAnswer delivers the in-progress answer for the latest question
// with the activity recorded while it was written. Delivery falls back
// from the socket to a direct call to the offline queue, so an error
// means the answer could not even be queued. The activity log starts over
// after every submission.
func (s *Session) SubmitAnswer(ctx context.Context) (queue.Result, error) {
	if err := s.writable(); err != nil {
		return queue.Result{}, err
	}
	s.mu.Lock()
	typed := s.answer
	answer := strings.TrimSpace(typed)
	var turnID *int
	if n := len(s.turns); n > 0 {
		num := s.turns[n-1].Number
		turnID = &num
	}
	s.mu.Unlock()
	if answer == "" {
		return queue.Result{}, ErrEmptyAnswer
	}

	s.noteInterruption()
	res, err := s.submitter.Submit(ctx, queue.Submission{
		SessionID: s.id,
		TurnID:    turnID,
		Answer:    answer,
		Activity:  s.activity.Summary(),
	})
	if err != nil {
		return res, fmt.Errorf("interview: submit answer: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	if turnID != nil {
		for i := len(s.turns) - 1; i >= 0; i-- {
			t := &s.turns[i]
			if t.Number != *turnID {
				continue
			}
			t.Answer = answer
			t.AnsweredAt = &now
			secs := int(now.Sub(t.QuestionAt).Seconds())
			t.DurationSeconds = &secs
			break
		}
	}
	// Text typed while the submission was in flight stays in the editor.
	if s.answer == typed {
		s.answer = ""
	}
	s.mu.Unlock()

	s.activity.Reset()
	if res.Queued {
		s.refreshQueueDepth()
	}
	s.saveDraft()
	s.emit(UpdateSubmitted, res.Via)
	return res, nil
}

// EndInterview asks the service to finish and evaluate the interview.
func (s *Session) EndInterview() error {
	if err := s.writable(); err != nil {
		return err
	}
	if err := s.transport.SendText(transport.EndInterviewMessage()); err != nil {
		return fmt.Errorf("interview: end interview: %w", err)
	}
	return nil
}

// SendAudio streams one recorded audio chunk.
func (s *Session) SendAudio(chunk []byte) error {
	if err := s.writable(); err != nil {
		return err
	}
	s.noteInterruption()
	if err := s.transport.SendBinary(chunk); err != nil {
		return fmt.Errorf("interview: send audio: %w", err)
	}
	return nil
}

// Interrupt records the candidate talking over the interviewer and
// returns the running count and warning level.
func (s *Session) Interrupt() (int, activity.Warning) {
	count, w := s.activity.Interruption()
	s.mu.Lock()
	s.lastWarning = w
	s.mu.Unlock()
	if w != activity.WarningNone {
		s.emit(UpdateWarning, "interruption "+w.String())
	}
	return count, w
}

// noteInterruption counts at most one interruption per AI utterance.
func (s *Session) noteInterruption() {
	s.mu.Lock()
	hit := s.aiSpeaking && !s.interrupted
	if hit {
		s.interrupted = true
	}
	s.mu.Unlock()
	if hit {
		s.Interrupt()
	}
}

// SetVisible reports the session view entering or leaving the foreground.
// Leaving counts as a tab switch and saves the draft at once.
func (s *Session) SetVisible(ctx context.Context, visible bool) {
	if s.tabs != nil {
		s.tabs.SetVisible(ctx, visible)
	}
	if visible || s.done() {
		return
	}
	s.activity.TabHidden()
	if err := s.autosaver.SaveNow(ctx); err != nil {
		s.onDraftError(err)
	}
}

// WindowBlur records the window losing focus.
func (s *Session) WindowBlur() {
	if !s.done() {
		s.activity.WindowBlur()
	}
}

// Paste records pasted input of the given length.
func (s *Session) Paste(length int) {
	if !s.done() {
		s.activity.Paste(length)
	}
}

// Shortcut records a copy or paste key combination.
func (s *Session) Shortcut(key string, ctrlOrMeta bool) {
	if !s.done() {
		s.activity.Shortcut(key, ctrlOrMeta)
	}
}

// SetOnline forwards an external network signal to the monitor.
func (s *Session) SetOnline(online bool) {
	s.monitor.SetOnline(online)
}

// Drain replays the offline queue now.
func (s *Session) Drain(ctx context.Context) (queue.DrainResult, error) {
	res, err := s.submitter.Drain(ctx, s.id)
	s.refreshQueueDepth()
	return res, err
}
