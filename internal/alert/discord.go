package alert

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordBackoff is the first wait after a 429.
const discordBackoff = 2 * time.Second

// discordSession abstracts the discordgo.Session methods we use.
type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts as embeds over the REST API. No gateway connection
// is needed to send.
type Discord struct {
	sess      discordSession
	channelID string
	backoff   time.Duration
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// NewDiscord creates a Discord notifier.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	sess := opts.Session
	if sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = s
	}
	return &Discord{sess: sess, channelID: opts.ChannelID, backoff: discordBackoff}, nil
}

func (d *Discord) Notify(ctx context.Context, a Alert) error {
	data := &discordgo.MessageSend{
		Content: a.Title,
		Embeds:  []*discordgo.MessageEmbed{toEmbed(a)},
	}
	for attempt := 0; ; attempt++ {
		_, err := d.sess.ChannelMessageSendComplex(d.channelID, data)
		if err == nil {
			return nil
		}
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return fmt.Errorf("discord: send alert: %w", err)
		}
		wait := d.backoff << attempt
		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func toEmbed(a Alert) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       a.Title,
		Description: a.Body,
		Color:       parseHexColor(colorFor(a.Severity)),
	}
	if a.SessionID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Session", Value: a.SessionID, Inline: true})
	}
	for _, f := range a.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts "#36a64f" to an int; malformed input yields 0.
func parseHexColor(hex string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
