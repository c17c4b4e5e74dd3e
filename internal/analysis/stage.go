// Package analysis consumes canonical events from the bus, enriches them
// through an external completion service, parses the free-text response into
// a structured result, and raises alerts for high-severity findings.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/bus"
	"github.com/lvonguyen/sentinelsoc/internal/event"
	"github.com/lvonguyen/sentinelsoc/internal/severity"
)

// Publisher is the slice of the bus the stage needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// Notifier fans an alert out across delivery channels. Implementations absorb
// per-channel failures; the call itself never fails.
type Notifier interface {
	SendAlert(ctx context.Context, alert event.Alert)
}

// MetricsSink receives analysis counters. Satisfied by the observability
// metrics adapter.
type MetricsSink interface {
	AnalysisCompleted(duration time.Duration, fallback bool)
}

type nopSink struct{}

func (nopSink) AnalysisCompleted(time.Duration, bool) {}

// Stage processes one canonical event per delivery. Failures in enrichment or
// parsing degrade to the fallback result; only a failed publish of the
// analysis record is returned to the bus for redelivery. Redelivery is safe:
// the analysis record publish is the only downstream write and consumers
// tolerate duplicates.
type Stage struct {
	enricher  Enricher
	publisher Publisher
	notifier  Notifier
	logger    *zap.Logger
	sink      MetricsSink
}

// Options carries optional stage dependencies.
type Options struct {
	Sink MetricsSink
}

// New builds an analysis stage.
func New(enricher Enricher, publisher Publisher, notifier Notifier, logger *zap.Logger, opts Options) *Stage {
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Stage{
		enricher:  enricher,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger.Named("analysis"),
		sink:      sink,
	}
}

// HandleEvent is the consume handler for the raw-events queue.
func (s *Stage) HandleEvent(ctx context.Context, payload json.RawMessage) error {
	var ev event.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		// A payload that cannot decode will never decode; redelivering it
		// would wedge the queue. Acknowledge and drop.
		s.logger.Error("discarding undecodable event payload", zap.Error(err))
		return nil
	}

	_, err := s.Process(ctx, ev)
	return err
}

// Process analyzes one event, publishes its analysis record, and raises an
// alert for critical or high findings. Shared by the consume handler and the
// operational API.
func (s *Stage) Process(ctx context.Context, ev event.Event) (event.Analysis, error) {
	started := time.Now()
	result, fellBack := s.analyze(ctx, ev)
	s.sink.AnalysisCompleted(time.Since(started), fellBack)

	record := event.AnalysisRecord{EventID: ev.ID, Analysis: result}
	if err := s.publisher.Publish(ctx, bus.QueueAnalysis, record); err != nil {
		return result, fmt.Errorf("publish analysis for event %s: %w", ev.ID, err)
	}

	if result.SeverityLevel == severity.Critical || result.SeverityLevel == severity.High {
		s.raiseAlert(ctx, ev, result)
	}
	return result, nil
}

// analyze renders, enriches and parses one event, reporting whether the
// result is the fallback.
func (s *Stage) analyze(ctx context.Context, ev event.Event) (event.Analysis, bool) {
	response, err := s.enricher.Complete(ctx, RenderEventPrompt(ev))
	if err != nil {
		s.logger.Warn("enrichment failed, using fallback result",
			zap.String("event_id", ev.ID),
			zap.Error(err))
		result := FallbackAnalysis()
		result.SeverityLevel = severity.FromLabel(result.Severity)
		return result, true
	}

	result := ParseAnalysis(response)
	result.SeverityLevel = severity.FromLabel(result.Severity)
	return result, false
}

// raiseAlert publishes the rendered alert to the alerts queue and fans it out
// across notification channels. Neither failure reaches the bus handler: the
// analysis record is already published and alerting is best-effort.
func (s *Stage) raiseAlert(ctx context.Context, ev event.Event, result event.Analysis) {
	alert := event.Alert{
		Title:           fmt.Sprintf("Security Event: %s", ev.EventType),
		Severity:        result.Severity,
		Source:          ev.Source,
		Description:     ev.Message,
		Impact:          result.Impact,
		Recommendations: result.Recommendations,
		AdditionalInfo: map[string]any{
			"event_id": ev.ID,
			"iocs":     result.IOCs,
		},
	}

	if err := s.publisher.Publish(ctx, bus.QueueAlerts, alert); err != nil {
		s.logger.Error("failed to publish alert record",
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}
	if s.notifier != nil {
		s.notifier.SendAlert(ctx, alert)
	}
	s.logger.Info("alert raised",
		zap.String("event_id", ev.ID),
		zap.String("severity", result.Severity))
}

// SummarizeIncident enriches and parses an incident summary, publishing the
// result to the investigations queue. Enrichment failures degrade to the
// fallback summary; only a failed publish is returned.
func (s *Stage) SummarizeIncident(ctx context.Context, inc event.Incident) (event.Summary, error) {
	var summary event.Summary
	response, err := s.enricher.Complete(ctx, RenderIncidentPrompt(inc))
	if err != nil {
		s.logger.Warn("incident summarization failed, using fallback",
			zap.String("incident_id", inc.ID),
			zap.Error(err))
		summary = FallbackSummary()
	} else {
		summary = ParseSummary(response)
	}

	record := struct {
		IncidentID string        `json:"incident_id"`
		Summary    event.Summary `json:"summary"`
	}{IncidentID: inc.ID, Summary: summary}

	if err := s.publisher.Publish(ctx, bus.QueueInvestigations, record); err != nil {
		return summary, fmt.Errorf("publish summary for incident %s: %w", inc.ID, err)
	}
	return summary, nil
}
