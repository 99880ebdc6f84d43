package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d.webhookURL != ""
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Notify implements Notifier.
func (d *Discord) Notify(ctx context.Context, ev Event) error {
	if !d.Enabled() {
		return nil
	}

	embed := discordEmbed{
		Title:       ev.Title,
		Description: ev.Message,
		Color:       color(ev.Kind),
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339),
		Fields: []embedField{
			{Name: "Call", Value: fmt.Sprintf("`%s`", ev.CallID), Inline: true},
		},
	}
	if ev.UserName != "" {
		embed.Fields = append(embed.Fields, embedField{Name: "Agent", Value: ev.UserName, Inline: true})
	}
	for _, f := range ev.Fields {
		embed.Fields = append(embed.Fields, embedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	msg := discordMessage{Embeds: []discordEmbed{embed}}
	if ev.Kind == KindFailure {
		msg.Content = "@here"
	}
	return d.send(ctx, msg)
}

func (d *Discord) send(ctx context.Context, msg discordMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("discord: failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
