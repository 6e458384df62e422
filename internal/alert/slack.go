package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts alerts as message attachments.
type Slack struct {
	client    slackClient
	channelID string
}

// SlackOpts holds parameters for creating a Slack notifier.
type SlackOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack notifier.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Slack{client: client, channelID: opts.ChannelID}, nil
}

func (s *Slack) Notify(ctx context.Context, a Alert) error {
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(a.Title, false),
		slackapi.MsgOptionAttachments(toAttachment(a)),
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := s.client.PostMessage(s.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post alert: %w", err)
	}
	return nil
}

func toAttachment(a Alert) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    a.Title,
		Text:     a.Body,
		Color:    colorFor(a.Severity),
		Fallback: a.Title,
	}
	if a.SessionID != "" {
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: "Session", Value: a.SessionID, Short: true})
	}
	for _, f := range a.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors,
// honoring RetryAfter.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
