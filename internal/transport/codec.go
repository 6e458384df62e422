package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zulandar/interviewer/internal/models"
)

// EventType identifies an inbound event.
type EventType string

const (
	EventQuestion     EventType = "question"
	EventEvaluation   EventType = "evaluation"
	EventAISpeaking   EventType = "ai_speaking"
	EventAIFinished   EventType = "ai_finished"
	EventError        EventType = "error"
	EventAudio        EventType = "audio"
	EventUnknown      EventType = "unknown"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Evaluation is the final assessment sent when the interview ends.
type Evaluation struct {
	Summary        string     `json:"summary"`
	Strengths      stringList `json:"strengths"`
	Weaknesses     stringList `json:"weaknesses"`
	Recommendation string     `json:"recommendation"`
}

// stringList accepts either a JSON array of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = stringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// String joins the list for display.
func (l stringList) String() string { return strings.Join(l, "; ") }

// Event is one item delivered on Client.Events. Only the fields relevant to
// Type are set.
type Event struct {
	Type       EventType
	Text       string      // question
	Evaluation *Evaluation // evaluation
	Message    string      // error
	Audio      []byte      // audio
	RawType    string      // unknown: the type field as received
	Raw        []byte      // unknown: the full frame
	Err        error       // disconnected: nil after a requested close
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// DecodeText parses one text frame. Frames that are not JSON objects with a
// type field are rejected so the caller can drop them.
func DecodeText(data []byte) (Event, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, fmt.Errorf("transport: decode frame: %w", err)
	}
	if f.Type == "" {
		return Event{}, fmt.Errorf("transport: decode frame: missing type")
	}
	switch EventType(f.Type) {
	case EventQuestion:
		return Event{Type: EventQuestion, Text: f.Text}, nil
	case EventEvaluation:
		var ev Evaluation
		if len(f.Data) > 0 && string(f.Data) != "null" {
			if err := json.Unmarshal(f.Data, &ev); err != nil {
				return Event{}, fmt.Errorf("transport: decode evaluation: %w", err)
			}
		}
		return Event{Type: EventEvaluation, Evaluation: &ev}, nil
	case EventAISpeaking, EventAIFinished:
		return Event{Type: EventType(f.Type)}, nil
	case EventError:
		msg := f.Message
		if msg == "" {
			msg = f.Text
		}
		return Event{Type: EventError, Message: msg}, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Event{Type: EventUnknown, RawType: f.Type, Raw: raw}, nil
	}
}

// Outbound is a JSON message sent to the interview service.
type Outbound struct {
	Type         string                      `json:"type"`
	Text         string                      `json:"text,omitempty"`
	ActivityLog  []models.SuspiciousActivity `json:"activityLog,omitempty"`
	SubmissionID string                      `json:"submissionId,omitempty"`
}

// AnswerMessage submits the candidate's answer with the activity recorded
// while it was written.
func AnswerMessage(text string, activityLog []models.SuspiciousActivity) Outbound {
	return Outbound{Type: "answer", Text: text, ActivityLog: activityLog}
}

// SaveDraftMessage asks the server to hold the in-progress answer.
func SaveDraftMessage(text string) Outbound {
	return Outbound{Type: "save_draft", Text: text}
}

// EndInterviewMessage asks the server to finish and evaluate the interview.
func EndInterviewMessage() Outbound {
	return Outbound{Type: "end_interview"}
}
