package main

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"
)

// Notifier posts run summaries to a Slack channel. A nil Notifier is
// valid and does nothing, so callers never have to branch on
// configuration.
type Notifier struct {
	api       *slack.Client
	channelID string
}

func NewNotifier(cfg Config) *Notifier {
	if !cfg.SlackConfigured() {
		log.Println("Slack notifications disabled (slack_bot_token / slack_channel_id not set)")
		return nil
	}
	return &Notifier{
		api:       slack.New(cfg.SlackBotToken),
		channelID: cfg.SlackChannelID,
	}
}

// RunComplete posts a one-line summary after a run's terminal event.
func (n *Notifier) RunComplete(channel string, processed int) {
	if n == nil {
		return
	}
	text := fmt.Sprintf("Moderation complete for r/%s: %d items processed", channel, processed)
	_, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("slack notify error channel=%s: %v", channel, err)
	}
}
