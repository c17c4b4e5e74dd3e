package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
)

// EmailChannel delivers alerts as plain-text mail over authenticated SMTP
// with STARTTLS.
type EmailChannel struct {
	cfg  config.EmailConfig
	send sendMailFunc
	now  func() time.Time
}

// sendMailFunc matches smtp.SendMail, split out so delivery can be tested
// without a live SMTP server.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// NewEmail builds the email channel. Credentials are read from the
// configured environment variables at delivery time.
func NewEmail(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

func (c *EmailChannel) Name() string { return "email" }

// Deliver renders the alert into a plain-text body and sends it to the
// configured recipients.
func (c *EmailChannel) Deliver(ctx context.Context, alert event.Alert) error {
	username := os.Getenv(c.cfg.UsernameEnv)
	password := os.Getenv(c.cfg.PasswordEnv)
	if username == "" || password == "" {
		return fmt.Errorf("smtp credentials not configured (%s, %s)", c.cfg.UsernameEnv, c.cfg.PasswordEnv)
	}
	if len(c.cfg.Recipients) == 0 {
		return fmt.Errorf("no email recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("Security Alert: %s", defaultString(alert.Title, "Unknown Alert"))
	body := c.renderBody(alert)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(c.cfg.Recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", c.cfg.Server, c.cfg.Port)
	auth := smtp.PlainAuth("", username, password, c.cfg.Server)
	if err := c.send(addr, auth, c.cfg.From, c.cfg.Recipients, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail via %s: %w", addr, err)
	}
	return nil
}

func (c *EmailChannel) renderBody(alert event.Alert) string {
	var b strings.Builder
	b.WriteString("Security Alert Details:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", defaultString(alert.Title, "Unknown Alert"))
	fmt.Fprintf(&b, "Severity: %s\n", defaultString(alert.Severity, "Unknown"))
	fmt.Fprintf(&b, "Source: %s\n", defaultString(alert.Source, "Unknown"))
	fmt.Fprintf(&b, "Timestamp: %s\n\n", c.now().UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Description:\n%s\n\n", defaultString(alert.Description, "No description provided"))
	fmt.Fprintf(&b, "Impact:\n%s\n\n", defaultString(alert.Impact, "No impact assessment"))
	fmt.Fprintf(&b, "Recommendations:\n%s\n", joinOrDefault(alert.Recommendations, "No recommendations"))
	if len(alert.AdditionalInfo) > 0 {
		b.WriteString("\nAdditional Information:\n")
		for key, value := range alert.AdditionalInfo {
			fmt.Fprintf(&b, "%s: %v\n", key, value)
		}
	}
	return b.String()
}
