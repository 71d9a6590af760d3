package notify

import (
	"fmt"

	"github.com/switchyard-dev/switchyard/internal/config"
)

// FromConfig builds a Fanout with every destination the config enables. A
// config with no destinations yields an empty Fanout, which is valid and
// silently drops notifications.
func FromConfig(cfg config.NotifyConfig) (*Fanout, error) {
	f := NewFanout()

	if cfg.SlackToken != "" {
		s, err := NewSlack(SlackOpts{BotToken: cfg.SlackToken, ChannelID: cfg.SlackChannel})
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
		f.Add(s)
	}

	if cfg.DiscordToken != "" {
		d, err := NewDiscord(DiscordOpts{BotToken: cfg.DiscordToken, ChannelID: cfg.DiscordChannel})
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
		f.Add(d)
	}

	return f, nil
}
