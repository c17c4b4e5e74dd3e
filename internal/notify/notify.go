// Package notify fans alerts out across delivery channels. A channel failure
// is logged and absorbed; the remaining channels are always attempted, and a
// partial delivery is never fatal.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/event"
)

// Channel delivers one rendered alert over a single transport.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, alert event.Alert) error
}

// MetricsSink receives delivery counters. Satisfied by the observability
// metrics adapter.
type MetricsSink interface {
	AlertSent(channel string)
	AlertFailed(channel string)
}

type nopSink struct{}

func (nopSink) AlertSent(string)   {}
func (nopSink) AlertFailed(string) {}

// Notifier fans one alert out across its channels.
type Notifier struct {
	channels []Channel
	logger   *zap.Logger
	sink     MetricsSink
}

// Options carries optional notifier dependencies.
type Options struct {
	Sink MetricsSink
}

// New builds a notifier over the given channels, attempted in order.
func New(channels []Channel, logger *zap.Logger, opts Options) *Notifier {
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Notifier{
		channels: channels,
		logger:   logger.Named("notify"),
		sink:     sink,
	}
}

// SendAlert attempts every channel independently. There is no retry within a
// call and no error return: each failure is logged per channel.
func (n *Notifier) SendAlert(ctx context.Context, alert event.Alert) {
	for _, ch := range n.channels {
		if err := ch.Deliver(ctx, alert); err != nil {
			n.logger.Error("alert delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("title", alert.Title),
				zap.Error(err))
			n.sink.AlertFailed(ch.Name())
			continue
		}
		n.sink.AlertSent(ch.Name())
	}
}

// FormatIncident renders an incident and its summary into an alert suitable
// for SendAlert.
func FormatIncident(inc event.Incident, summary event.Summary) event.Alert {
	sev := inc.Severity
	if sev == "" {
		sev = "medium"
	}
	recommendations := summary.Remediation
	if len(recommendations) == 0 {
		recommendations = []string{"No recommendations"}
	}
	return event.Alert{
		Title:           fmt.Sprintf("Security Incident: %s", defaultString(inc.ID, "Unknown")),
		Severity:        sev,
		Source:          defaultString(inc.Source, "Unknown"),
		Description:     defaultString(inc.Description, "No description provided"),
		Impact:          defaultString(summary.Impact, "No impact assessment"),
		Recommendations: recommendations,
		AdditionalInfo: map[string]any{
			"timeline":         summary.Timeline,
			"root_cause":       defaultString(summary.RootCause, "Unknown"),
			"affected_systems": inc.AffectedSystems,
			"status":           defaultString(inc.Status, "Unknown"),
		},
	}
}

func defaultString(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
