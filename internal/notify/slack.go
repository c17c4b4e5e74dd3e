package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
)

var slackSeverityColors = map[string]string{
	"critical": "#FF0000",
	"high":     "#FFA500",
	"medium":   "#FFFF00",
	"low":      "#00FF00",
}

const slackDefaultColor = "#808080"

// SlackChannel delivers alerts to a Slack incoming webhook as a colored
// attachment.
type SlackChannel struct {
	cfg    config.SlackConfig
	client *http.Client
	now    func() time.Time
}

// NewSlack builds the Slack channel. The webhook URL is read from the
// configured environment variable at delivery time.
func NewSlack(cfg config.SlackConfig) *SlackChannel {
	return &SlackChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Fields    []slackField `json:"fields"`
	Footer    string       `json:"footer"`
	Timestamp int64        `json:"ts"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

// Deliver renders the alert into Slack's attachment format and posts it.
func (c *SlackChannel) Deliver(ctx context.Context, alert event.Alert) error {
	webhookURL := os.Getenv(c.cfg.WebhookURLEnv)
	if webhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured (%s)", c.cfg.WebhookURLEnv)
	}

	now := c.now()
	message := slackMessage{Attachments: []slackAttachment{{
		Color: severityColor(alert.Severity),
		Title: fmt.Sprintf("Security Alert: %s", defaultString(alert.Title, "Unknown Alert")),
		Fields: []slackField{
			{Title: "Severity", Value: defaultString(alert.Severity, "Unknown"), Short: true},
			{Title: "Source", Value: defaultString(alert.Source, "Unknown"), Short: true},
			{Title: "Description", Value: defaultString(alert.Description, "No description provided")},
			{Title: "Impact", Value: defaultString(alert.Impact, "No impact assessment")},
			{Title: "Recommendations", Value: joinOrDefault(alert.Recommendations, "No recommendations")},
		},
		Footer:    fmt.Sprintf("SentinelSOC | %s", now.UTC().Format("2006-01-02 15:04:05")),
		Timestamp: now.Unix(),
	}}}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

func severityColor(severity string) string {
	if color, ok := slackSeverityColors[strings.ToLower(severity)]; ok {
		return color
	}
	return slackDefaultColor
}

func joinOrDefault(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, "\n")
}
