package models

import "time"

// ActivityType classifies a suspicious candidate behavior signal.
type ActivityType string

const (
	ActivityTabSwitch     ActivityType = "TAB_SWITCH"
	ActivityWindowBlur    ActivityType = "WINDOW_BLUR"
	ActivityPaste         ActivityType = "PASTE_DETECTED"
	ActivityCopyPasteKeys ActivityType = "COPY_PASTE_DETECTED"
	ActivityInterruption  ActivityType = "INTERRUPTION"
)

// SuspiciousActivity is one entry of a session's append-only activity log.
// Metadata never carries pasted content, only its length.
type SuspiciousActivity struct {
	Type      ActivityType   `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ActivitySummary is the rolled-up activity attached to every answer
// submission.
type ActivitySummary struct {
	TabSwitches   int                  `json:"tabSwitches"`
	Interruptions int                  `json:"interruptions"`
	PasteDetected bool                 `json:"pasteDetected"`
	Activities    []SuspiciousActivity `json:"activities"`
}
