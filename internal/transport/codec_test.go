package transport

import (
	"encoding/json"
	"testing"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    EventType
		wantErr bool
	}{
		{"question", `{"type":"question","text":"Q1"}`, EventQuestion, false},
		{"ai speaking", `{"type":"ai_speaking"}`, EventAISpeaking, false},
		{"ai finished", `{"type":"ai_finished"}`, EventAIFinished, false},
		{"error", `{"type":"error","message":"boom"}`, EventError, false},
		{"evaluation without data", `{"type":"evaluation"}`, EventEvaluation, false},
		{"unknown", `{"type":"answer","text":"echo"}`, EventUnknown, false},
		{"not json", `hello`, "", true},
		{"array", `[1,2]`, "", true},
		{"missing type", `{"text":"x"}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeText([]byte(tt.frame))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeText: %v", err)
			}
			if ev.Type != tt.want {
				t.Errorf("Type = %s, want %s", ev.Type, tt.want)
			}
		})
	}
}

func TestDecodeText_ErrorFallsBackToText(t *testing.T) {
	ev, err := DecodeText([]byte(`{"type":"error","text":"rate limited"}`))
	if err != nil {
		t.Fatalf("DecodeText: %v", err)
	}
	if ev.Message != "rate limited" {
		t.Errorf("Message = %q", ev.Message)
	}
}

func TestDecodeText_EvaluationLists(t *testing.T) {
	ev, err := DecodeText([]byte(`{"type":"evaluation","data":{"strengths":["a","b"],"weaknesses":""}}`))
	if err != nil {
		t.Fatalf("DecodeText: %v", err)
	}
	if got := ev.Evaluation.Strengths.String(); got != "a; b" {
		t.Errorf("Strengths = %q", got)
	}
	if len(ev.Evaluation.Weaknesses) != 0 {
		t.Errorf("Weaknesses = %v, want empty", ev.Evaluation.Weaknesses)
	}
}

func TestOutboundMessages(t *testing.T) {
	tests := []struct {
		msg  Outbound
		want string
	}{
		{SaveDraftMessage("partial"), `{"type":"save_draft","text":"partial"}`},
		{EndInterviewMessage(), `{"type":"end_interview"}`},
		{AnswerMessage("done", nil), `{"type":"answer","text":"done"}`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(data) != tt.want {
			t.Errorf("marshal = %s, want %s", data, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Disconnected, Connecting, true},
		{Disconnected, Reconnecting, true},
		{Disconnected, Open, false},
		{Reconnecting, Connecting, true},
		{Connecting, Open, true},
		{Connecting, Disconnected, true},
		{Connecting, Closing, false},
		{Open, Closing, true},
		{Open, Disconnected, true},
		{Open, Connecting, false},
		{Closing, Disconnected, true},
		{Closing, Open, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
