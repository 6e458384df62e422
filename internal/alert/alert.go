// Package alert posts recruiter notifications about escalated candidate
// behavior to chat platforms.
package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/interviewer/internal/config"
)

// Severity hints for rendering.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Alert is one notification.
type Alert struct {
	SessionID string
	Title     string
	Body      string
	Severity  string
	Fields    []Field
}

// Field is a key-value pair shown alongside the alert.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// colorFor maps severity to a sidebar color.
func colorFor(severity string) string {
	switch severity {
	case SeverityError:
		return "#e01e5a"
	case SeverityWarning:
		return "#ecb22e"
	default:
		return "#36a64f"
	}
}

// FromConfig builds a notifier for every enabled channel. It returns nil
// when no channel is configured.
func FromConfig(cfg config.AlertsConfig) (Notifier, error) {
	var m Multi
	if cfg.Slack.Enabled() {
		n, err := NewSlack(SlackOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.Channel})
		if err != nil {
			return nil, fmt.Errorf("alert: %w", err)
		}
		m = append(m, n)
	}
	if cfg.Discord.Enabled() {
		n, err := NewDiscord(DiscordOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.Channel})
		if err != nil {
			return nil, fmt.Errorf("alert: %w", err)
		}
		m = append(m, n)
	}
	switch len(m) {
	case 0:
		return nil, nil
	case 1:
		return m[0], nil
	}
	return m, nil
}
