package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
)

type fakeChannel struct {
	name      string
	err       error
	delivered []event.Alert
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(_ context.Context, alert event.Alert) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, alert)
	return nil
}

// One channel failing must not stop delivery through the others.
func TestSendAlertPartialFailure(t *testing.T) {
	broken := &fakeChannel{name: "slack", err: errors.New("webhook gone")}
	working := &fakeChannel{name: "email"}
	n := New([]Channel{broken, working}, zap.NewNop(), Options{})

	n.SendAlert(context.Background(), event.Alert{Title: "test alert"})

	if len(working.delivered) != 1 {
		t.Fatalf("working channel delivered %d alerts, want 1", len(working.delivered))
	}
	if working.delivered[0].Title != "test alert" {
		t.Errorf("delivered title = %q", working.delivered[0].Title)
	}
}

func TestSendAlertAllChannelsAttempted(t *testing.T) {
	a := &fakeChannel{name: "a", err: errors.New("down")}
	b := &fakeChannel{name: "b", err: errors.New("down")}
	c := &fakeChannel{name: "c"}
	n := New([]Channel{a, b, c}, zap.NewNop(), Options{})

	n.SendAlert(context.Background(), event.Alert{})

	if len(c.delivered) != 1 {
		t.Error("last channel skipped after earlier failures")
	}
}

func TestSlackDeliver(t *testing.T) {
	var got slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
	}))
	defer server.Close()

	t.Setenv("TEST_SLACK_WEBHOOK", server.URL)
	ch := NewSlack(config.SlackConfig{WebhookURLEnv: "TEST_SLACK_WEBHOOK", Timeout: 5 * time.Second})

	err := ch.Deliver(context.Background(), event.Alert{
		Title:           "SSH brute force",
		Severity:        "critical",
		Source:          "wazuh",
		Description:     "many failed logins",
		Impact:          "credential compromise",
		Recommendations: []string{"block source", "rotate keys"},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(got.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(got.Attachments))
	}
	att := got.Attachments[0]
	if att.Color != "#FF0000" {
		t.Errorf("color = %q, want #FF0000 for critical", att.Color)
	}
	if att.Title != "Security Alert: SSH brute force" {
		t.Errorf("title = %q", att.Title)
	}
	var recs string
	for _, f := range att.Fields {
		if f.Title == "Recommendations" {
			recs = f.Value
		}
	}
	if recs != "block source\nrotate keys" {
		t.Errorf("recommendations field = %q", recs)
	}
}

func TestSlackSeverityColors(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"critical", "#FF0000"},
		{"High", "#FFA500"},
		{"medium", "#FFFF00"},
		{"low", "#00FF00"},
		{"unknown", "#808080"},
		{"", "#808080"},
	}
	for _, tt := range tests {
		if got := severityColor(tt.severity); got != tt.want {
			t.Errorf("severityColor(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestSlackDeliverUnconfigured(t *testing.T) {
	ch := NewSlack(config.SlackConfig{WebhookURLEnv: "TEST_SLACK_MISSING", Timeout: time.Second})
	if err := ch.Deliver(context.Background(), event.Alert{}); err == nil {
		t.Error("expected error without a webhook URL")
	}
}

func TestEmailDeliver(t *testing.T) {
	t.Setenv("TEST_SMTP_USER", "soc")
	t.Setenv("TEST_SMTP_PASS", "secret")

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	ch := NewEmail(config.EmailConfig{
		Server:      "mail.example.com",
		Port:        587,
		UsernameEnv: "TEST_SMTP_USER",
		PasswordEnv: "TEST_SMTP_PASS",
		From:        "soc@example.com",
		Recipients:  []string{"oncall@example.com"},
	})
	ch.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	err := ch.Deliver(context.Background(), event.Alert{
		Title:    "Suspicious login",
		Severity: "high",
		Source:   "azure",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotAddr != "mail.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "soc@example.com" || len(gotTo) != 1 || gotTo[0] != "oncall@example.com" {
		t.Errorf("from/to = %q/%v", gotFrom, gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Security Alert: Suspicious login") {
		t.Errorf("message missing subject: %q", gotMsg)
	}
	if !strings.Contains(gotMsg, "Severity: high") {
		t.Errorf("message missing severity line")
	}
}

func TestEmailDeliverMissingCredentials(t *testing.T) {
	ch := NewEmail(config.EmailConfig{
		UsernameEnv: "TEST_SMTP_USER_MISSING",
		PasswordEnv: "TEST_SMTP_PASS_MISSING",
		Recipients:  []string{"oncall@example.com"},
	})
	if err := ch.Deliver(context.Background(), event.Alert{}); err == nil {
		t.Error("expected error without credentials")
	}
}

func TestFormatIncident(t *testing.T) {
	inc := event.Incident{
		ID:              "inc-7",
		Status:          "open",
		Severity:        "high",
		Source:          "wazuh",
		Description:     "coordinated brute force",
		AffectedSystems: []string{"web-1", "web-2"},
	}
	summary := event.Summary{
		Timeline:    []string{"10:00 first attempt"},
		RootCause:   "exposed SSH",
		Impact:      "two hosts probed",
		Remediation: []string{"restrict SSH ingress"},
	}

	alert := FormatIncident(inc, summary)

	if alert.Title != "Security Incident: inc-7" {
		t.Errorf("title = %q", alert.Title)
	}
	if alert.Severity != "high" || alert.Impact != "two hosts probed" {
		t.Errorf("severity/impact = %q/%q", alert.Severity, alert.Impact)
	}
	if alert.AdditionalInfo["root_cause"] != "exposed SSH" {
		t.Errorf("root_cause = %v", alert.AdditionalInfo["root_cause"])
	}

	// Empty incident falls back to placeholders.
	empty := FormatIncident(event.Incident{}, event.Summary{})
	if empty.Severity != "medium" {
		t.Errorf("default severity = %q, want medium", empty.Severity)
	}
	if empty.Recommendations[0] != "No recommendations" {
		t.Errorf("default recommendations = %v", empty.Recommendations)
	}
}
