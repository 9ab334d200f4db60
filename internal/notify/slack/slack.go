// Package slack implements the notify Sink for Slack.
package slack

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/trellis/internal/notify"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Sink posts notifications to one Slack channel.
type Sink struct {
	client    slackClient
	channelID string
	dir       notify.Directory
}

// Opts holds parameters for creating a Slack Sink.
type Opts struct {
	Token     string
	ChannelID string
	Directory notify.Directory
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Sink.
func New(opts Opts) (*Sink, error) {
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("slack: token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel ID is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.Token)
	}
	return &Sink{client: client, channelID: opts.ChannelID, dir: opts.Directory}, nil
}

// Send implements notify.Sink.
func (s *Sink) Send(ctx context.Context, n notify.Notification) error {
	text := notify.FormatMessage(n, s.dir)
	if _, _, err := s.client.PostMessageContext(ctx, s.channelID, slackapi.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}
