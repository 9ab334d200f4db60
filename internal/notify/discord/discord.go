// Package discord implements the notify Sink for Discord.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/trellis/internal/notify"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Sink posts notifications to one Discord channel.
type Sink struct {
	sess      session
	channelID string
	dir       notify.Directory
}

// Opts holds parameters for creating a Discord Sink.
type Opts struct {
	BotToken  string
	ChannelID string
	Directory notify.Directory
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Sink.
func New(opts Opts) (*Sink, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel ID is required")
	}
	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = dg
	}
	return &Sink{sess: sess, channelID: opts.ChannelID, dir: opts.Directory}, nil
}

// Send implements notify.Sink.
func (s *Sink) Send(_ context.Context, n notify.Notification) error {
	text := notify.FormatMessage(n, s.dir)
	if _, err := s.sess.ChannelMessageSend(s.channelID, text); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}
