package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/slack-go/slack"
)

// Slack posts events to a Slack incoming webhook.
type Slack struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlack creates a Slack notifier. channel may be empty to use the
// webhook's default channel.
func NewSlack(webhookURL, channel string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Slack) Enabled() bool {
	return s.webhookURL != ""
}

// Notify implements Notifier.
func (s *Slack) Notify(ctx context.Context, ev Event) error {
	if !s.Enabled() {
		return nil
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, s.message(ev)); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

func (s *Slack) message(ev Event) *slack.WebhookMessage {
	fields := []slack.AttachmentField{{Title: "Call", Value: ev.CallID, Short: true}}
	if ev.UserName != "" {
		fields = append(fields, slack.AttachmentField{Title: "Agent", Value: ev.UserName, Short: true})
	}
	for _, f := range ev.Fields {
		fields = append(fields, slack.AttachmentField{Title: f.Name, Value: f.Value, Short: f.Inline})
	}

	return &slack.WebhookMessage{
		Channel: s.channel,
		Text:    ev.Title,
		Attachments: []slack.Attachment{{
			Color:    fmt.Sprintf("#%06X", color(ev.Kind)),
			Fallback: ev.Title,
			Text:     ev.Message,
			Fields:   fields,
			Ts:       json.Number(strconv.FormatInt(ev.Timestamp.Unix(), 10)),
		}},
	}
}
