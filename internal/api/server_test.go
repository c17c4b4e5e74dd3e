package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/bus"
	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
	"github.com/lvonguyen/sentinelsoc/internal/scheduler"
)

type fakePipeline struct {
	analysis event.Analysis
	summary  event.Summary
	err      error
}

func (f *fakePipeline) Process(context.Context, event.Event) (event.Analysis, error) {
	return f.analysis, f.err
}

func (f *fakePipeline) SummarizeIncident(context.Context, event.Incident) (event.Summary, error) {
	return f.summary, f.err
}

type fakeStatuses map[string]scheduler.Status

func (f fakeStatuses) Statuses() map[string]scheduler.Status { return f }

type fakeBusInfo struct {
	pingErr error
	stats   bus.Stats
}

func (f *fakeBusInfo) Ping(context.Context) error { return f.pingErr }
func (f *fakeBusInfo) Stats() bus.Stats           { return f.stats }

func testServer(pipeline Pipeline, statuses StatusSource, busInfo BusInfo) *Server {
	cfg := config.ServerConfig{
		Port:            0,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: time.Second,
	}
	return New(cfg, "test", pipeline, statuses, busInfo, nil, zap.NewNop())
}

func TestHealth(t *testing.T) {
	s := testServer(&fakePipeline{}, fakeStatuses{}, &fakeBusInfo{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["version"] != "test" {
		t.Errorf("version = %v", body["version"])
	}
}

func TestReadyReflectsBus(t *testing.T) {
	busInfo := &fakeBusInfo{}
	s := testServer(&fakePipeline{}, fakeStatuses{}, busInfo)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want 200", rec.Code)
	}

	busInfo.pingErr = errors.New("connection refused")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status with bus down = %d, want 503", rec.Code)
	}
}

func TestStats(t *testing.T) {
	statuses := fakeStatuses{"wazuh": {Connector: "wazuh", Connected: true, Events: 42}}
	busInfo := &fakeBusInfo{stats: bus.Stats{Published: 10, Consumed: 8, Nacked: 1}}
	s := testServer(&fakePipeline{}, statuses, busInfo)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	var body struct {
		Bus        map[string]int64            `json:"bus"`
		Connectors map[string]scheduler.Status `json:"connectors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if body.Bus["published"] != 10 || body.Bus["nacked"] != 1 {
		t.Errorf("bus stats = %v", body.Bus)
	}
	if body.Connectors["wazuh"].Events != 42 {
		t.Errorf("connector stats = %+v", body.Connectors)
	}
}

func TestConnectorStatus(t *testing.T) {
	statuses := fakeStatuses{"splunk": {Connector: "splunk", Connected: true}}
	s := testServer(&fakePipeline{}, statuses, &fakeBusInfo{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/connectors/splunk", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("known connector status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/connectors/nessus", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown connector status = %d, want 404", rec.Code)
	}
}

func TestSubmitEvent(t *testing.T) {
	pipeline := &fakePipeline{analysis: event.Analysis{Severity: "High"}}
	s := testServer(pipeline, fakeStatuses{}, &fakeBusInfo{})

	payload := `{"source":"manual","event_type":"test","severity":"low"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status   string         `json:"status"`
		EventID  string         `json:"event_id"`
		Analysis event.Analysis `json:"analysis"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.EventID == "" {
		t.Error("submitted event without id did not receive one")
	}
	if body.Analysis.Severity != "High" {
		t.Errorf("analysis severity = %q", body.Analysis.Severity)
	}
}

func TestSubmitEventRejectsBadPayload(t *testing.T) {
	s := testServer(&fakePipeline{}, fakeStatuses{}, &fakeBusInfo{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSummarizeIncidentEndpoint(t *testing.T) {
	pipeline := &fakePipeline{summary: event.Summary{RootCause: "phishing"}}
	s := testServer(pipeline, fakeStatuses{}, &fakeBusInfo{})

	payload := `{"id":"inc-1","status":"open"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/summarize", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Summary event.Summary `json:"summary"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Summary.RootCause != "phishing" {
		t.Errorf("root cause = %q", body.Summary.RootCause)
	}
}
