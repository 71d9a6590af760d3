package notify

import (
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"
)

// maxRetries bounds retries for rate-limited Slack API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts notifications to one Slack channel.
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
		return nil, fmt.Errorf("slack: channel ID is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Slack{client: client, channelID: opts.ChannelID}, nil
}

func (s *Slack) Name() string { return "slack" }

// Send posts the message, retrying when Slack rate-limits the call.
func (s *Slack) Send(msg Message) error {
	text := fmt.Sprintf("*%s*\n%s", msg.Subject, msg.Body)

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, _, err = s.client.PostMessage(s.channelID,
			slackapi.MsgOptionText(text, false),
			slackapi.MsgOptionDisableLinkUnfurl(),
		)
		if err == nil {
			return nil
		}
		if rle, ok := err.(*slackapi.RateLimitedError); ok {
			time.Sleep(rle.RetryAfter)
			continue
		}
		break
	}
	return fmt.Errorf("post to %s: %w", s.channelID, err)
}
