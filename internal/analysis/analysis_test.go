package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/bus"
	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
	"github.com/lvonguyen/sentinelsoc/internal/severity"
)

func TestParseAnalysisSections(t *testing.T) {
	response := `Analysis complete.

Severity: High
Impact:
Credential theft is likely.
Lateral movement possible.
Recommendations:
Rotate the exposed credentials.
Block the source address.
Indicators of Compromise:
203.0.113.9
evil.example.com`

	got := ParseAnalysis(response)

	if got.Severity != "High" {
		t.Errorf("severity = %q, want %q", got.Severity, "High")
	}
	if got.Impact != "Credential theft is likely. Lateral movement possible." {
		t.Errorf("impact = %q", got.Impact)
	}
	wantRecs := []string{"Rotate the exposed credentials.", "Block the source address."}
	if !reflect.DeepEqual(got.Recommendations, wantRecs) {
		t.Errorf("recommendations = %v, want %v", got.Recommendations, wantRecs)
	}
	wantIOCs := []string{"203.0.113.9", "evil.example.com"}
	if !reflect.DeepEqual(got.IOCs, wantIOCs) {
		t.Errorf("iocs = %v, want %v", got.IOCs, wantIOCs)
	}
}

// A severity line anywhere in the response is captured verbatim from the text
// after the final colon, whatever section is active.
func TestParseAnalysisSeverityAnywhere(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", "Severity: High", "High"},
		{"lowercase keyword", "the severity: critical", "critical"},
		{"inside impact section", "Impact:\nserious\nOverall severity: Medium\nmore impact", "Medium"},
		{"multiple colons", "Severity: assessed as: Low", "Low"},
		{"absent", "Impact:\nnothing notable", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseAnalysis(tt.text).Severity; got != tt.want {
				t.Errorf("severity = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAnalysisEmptyResponse(t *testing.T) {
	got := ParseAnalysis("")
	if got.Severity != "unknown" {
		t.Errorf("severity = %q, want unknown", got.Severity)
	}
	if len(got.Recommendations) != 0 || len(got.IOCs) != 0 || got.Impact != "" {
		t.Errorf("empty response parsed to non-empty result: %+v", got)
	}
}

func TestParseSummarySections(t *testing.T) {
	response := `Timeline:
10:00 initial access
10:05 persistence established
Root Cause:
Compromised service account.
Impact:
One host affected.
Remediation:
Disable the account.`

	got := ParseSummary(response)

	if len(got.Timeline) != 2 {
		t.Errorf("timeline = %v, want 2 entries", got.Timeline)
	}
	if got.RootCause != "Compromised service account." {
		t.Errorf("root cause = %q", got.RootCause)
	}
	if got.Impact != "One host affected." {
		t.Errorf("impact = %q", got.Impact)
	}
	if !reflect.DeepEqual(got.Remediation, []string{"Disable the account."}) {
		t.Errorf("remediation = %v", got.Remediation)
	}
}

func TestRenderEventPromptSubstitutesUnknown(t *testing.T) {
	prompt := RenderEventPrompt(event.Event{
		ID:     "ev-1",
		Source: "wazuh",
	})
	if !strings.Contains(prompt, "Source: wazuh") {
		t.Error("populated field missing from prompt")
	}
	for _, field := range []string{"Timestamp: unknown", "User: unknown", "Source IP: unknown", "Message: unknown"} {
		if !strings.Contains(prompt, field) {
			t.Errorf("prompt missing placeholder line %q", field)
		}
	}
}

type fakeEnricher struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeEnricher) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

type capturingPublisher struct {
	byQueue  map[string][]any
	failures map[string]error
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{byQueue: map[string][]any{}, failures: map[string]error{}}
}

func (p *capturingPublisher) Publish(_ context.Context, queue string, payload any) error {
	if err := p.failures[queue]; err != nil {
		return err
	}
	p.byQueue[queue] = append(p.byQueue[queue], payload)
	return nil
}

type capturingNotifier struct {
	alerts []event.Alert
}

func (n *capturingNotifier) SendAlert(_ context.Context, alert event.Alert) {
	n.alerts = append(n.alerts, alert)
}

func eventPayload(t *testing.T, ev event.Event) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return raw
}

func TestHandleEventPublishesAndAlerts(t *testing.T) {
	enricher := &fakeEnricher{response: "Severity: Critical\nImpact:\nbad\nRecommendations:\nisolate host"}
	pub := newCapturingPublisher()
	notifier := &capturingNotifier{}
	stage := New(enricher, pub, notifier, zap.NewNop(), Options{})

	ev := event.Event{ID: "ev-1", Source: "wazuh", EventType: "auth failure", Message: "brute force"}
	if err := stage.HandleEvent(context.Background(), eventPayload(t, ev)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	records := pub.byQueue[bus.QueueAnalysis]
	if len(records) != 1 {
		t.Fatalf("analysis queue got %d records, want 1", len(records))
	}
	record := records[0].(event.AnalysisRecord)
	if record.EventID != "ev-1" {
		t.Errorf("event_id = %q", record.EventID)
	}
	if record.Analysis.Severity != "Critical" {
		t.Errorf("verbatim severity = %q", record.Analysis.Severity)
	}
	if record.Analysis.SeverityLevel != severity.Critical {
		t.Errorf("severity_level = %q", record.Analysis.SeverityLevel)
	}

	if len(pub.byQueue[bus.QueueAlerts]) != 1 {
		t.Errorf("alerts queue got %d records, want 1", len(pub.byQueue[bus.QueueAlerts]))
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("notifier got %d alerts, want 1", len(notifier.alerts))
	}
	if notifier.alerts[0].Title != "Security Event: auth failure" {
		t.Errorf("alert title = %q", notifier.alerts[0].Title)
	}
}

func TestHandleEventLowSeverityDoesNotAlert(t *testing.T) {
	enricher := &fakeEnricher{response: "Severity: Low\nImpact:\nminor"}
	pub := newCapturingPublisher()
	notifier := &capturingNotifier{}
	stage := New(enricher, pub, notifier, zap.NewNop(), Options{})

	ev := event.Event{ID: "ev-2", Source: "splunk"}
	if err := stage.HandleEvent(context.Background(), eventPayload(t, ev)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(pub.byQueue[bus.QueueAnalysis]) != 1 {
		t.Error("analysis record must publish regardless of severity")
	}
	if len(notifier.alerts) != 0 {
		t.Errorf("notifier got %d alerts, want 0", len(notifier.alerts))
	}
}

// Enrichment failure degrades to the fixed fallback result, still published.
func TestHandleEventEnrichmentFailureFallsBack(t *testing.T) {
	enricher := &fakeEnricher{err: errors.New("model unavailable")}
	pub := newCapturingPublisher()
	stage := New(enricher, pub, &capturingNotifier{}, zap.NewNop(), Options{})

	ev := event.Event{ID: "ev-3", Source: "aws"}
	if err := stage.HandleEvent(context.Background(), eventPayload(t, ev)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	records := pub.byQueue[bus.QueueAnalysis]
	if len(records) != 1 {
		t.Fatalf("analysis queue got %d records, want 1", len(records))
	}
	got := records[0].(event.AnalysisRecord).Analysis
	if got.Severity != "unknown" {
		t.Errorf("fallback severity = %q, want unknown", got.Severity)
	}
	if got.Impact != "Error during analysis" {
		t.Errorf("fallback impact = %q", got.Impact)
	}
	if !reflect.DeepEqual(got.Recommendations, []string{"Investigate analysis error"}) {
		t.Errorf("fallback recommendations = %v", got.Recommendations)
	}
	if len(got.IOCs) != 0 {
		t.Errorf("fallback iocs = %v, want empty", got.IOCs)
	}
}

func TestHandleEventPublishFailurePropagates(t *testing.T) {
	enricher := &fakeEnricher{response: "Severity: Low"}
	pub := newCapturingPublisher()
	pub.failures[bus.QueueAnalysis] = errors.New("bus unavailable")
	stage := New(enricher, pub, &capturingNotifier{}, zap.NewNop(), Options{})

	ev := event.Event{ID: "ev-4"}
	if err := stage.HandleEvent(context.Background(), eventPayload(t, ev)); err == nil {
		t.Fatal("expected error when the analysis publish fails")
	}
}

// Alert delivery problems must not fail the handler: the analysis record is
// already published.
func TestHandleEventAlertFailureDoesNotPropagate(t *testing.T) {
	enricher := &fakeEnricher{response: "Severity: High"}
	pub := newCapturingPublisher()
	pub.failures[bus.QueueAlerts] = errors.New("bus unavailable")
	stage := New(enricher, pub, &capturingNotifier{}, zap.NewNop(), Options{})

	ev := event.Event{ID: "ev-5", EventType: "intrusion"}
	if err := stage.HandleEvent(context.Background(), eventPayload(t, ev)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(pub.byQueue[bus.QueueAnalysis]) != 1 {
		t.Error("analysis record missing despite absorbed alert failure")
	}
}

func TestHandleEventDiscardsUndecodablePayload(t *testing.T) {
	stage := New(&fakeEnricher{}, newCapturingPublisher(), nil, zap.NewNop(), Options{})
	if err := stage.HandleEvent(context.Background(), json.RawMessage(`{not json`)); err != nil {
		t.Fatalf("undecodable payload must ack, got %v", err)
	}
}

func TestSummarizeIncident(t *testing.T) {
	enricher := &fakeEnricher{response: "Timeline:\n10:00 access\nRoot Cause:\nphishing\nRemediation:\nreset passwords"}
	pub := newCapturingPublisher()
	stage := New(enricher, pub, nil, zap.NewNop(), Options{})

	inc := event.Incident{ID: "inc-1", Status: "open", AffectedSystems: []string{"web-1"}}
	summary, err := stage.SummarizeIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("SummarizeIncident: %v", err)
	}
	if summary.RootCause != "phishing" {
		t.Errorf("root cause = %q", summary.RootCause)
	}
	if len(pub.byQueue[bus.QueueInvestigations]) != 1 {
		t.Errorf("investigations queue got %d records, want 1", len(pub.byQueue[bus.QueueInvestigations]))
	}

	enricher.err = errors.New("model unavailable")
	summary, err = stage.SummarizeIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("SummarizeIncident fallback: %v", err)
	}
	if summary.RootCause != "Error during analysis" {
		t.Errorf("fallback root cause = %q", summary.RootCause)
	}
}

func TestHTTPEnricherComplete(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "security-analyst" || req.Prompt == "" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]string{{"text": "Severity: Low"}},
		})
	}))
	defer server.Close()

	t.Setenv("TEST_LLM_KEY", "sk-test")
	enricher := NewHTTPEnricher(config.AnalysisConfig{
		Endpoint:  server.URL,
		Model:     "security-analyst",
		APIKeyEnv: "TEST_LLM_KEY",
		Timeout:   5 * time.Second,
		MaxTokens: 256,
	}, zap.NewNop())

	text, err := enricher.Complete(context.Background(), "analyze this")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "Severity: Low" {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("authorization = %q", gotAuth)
	}
}

func TestHTTPEnricherErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	enricher := NewHTTPEnricher(config.AnalysisConfig{
		Endpoint: server.URL,
		Timeout:  5 * time.Second,
	}, zap.NewNop())

	if _, err := enricher.Complete(context.Background(), "x"); err == nil {
		t.Error("expected error on non-200 response")
	}
}
