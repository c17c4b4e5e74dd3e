package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
	"github.com/lvonguyen/sentinelsoc/internal/severity"
)

// GCPConnector collects Security Command Center findings, Cloud Logging
// entries, and Cloud Monitoring alert points from one project.
type GCPConnector struct {
	cfg       config.GCPConfig
	batchSize int
	logger    *zap.Logger

	client *http.Client
	token  string
}

// NewGCP creates a GCP connector.
func NewGCP(cfg config.GCPConfig, batchSize int, logger *zap.Logger) *GCPConnector {
	return &GCPConnector{
		cfg:       cfg,
		batchSize: batchSize,
		logger:    logger.Named("gcp"),
	}
}

func (c *GCPConnector) Name() string { return "gcp" }

func (c *GCPConnector) Connect(ctx context.Context) bool {
	c.token = os.Getenv(c.cfg.TokenEnv)
	if c.token == "" {
		c.logger.Warn("missing GCP access token", zap.String("token_env", c.cfg.TokenEnv))
		return false
	}
	if c.cfg.ProjectID == "" {
		c.logger.Warn("missing GCP project id")
		return false
	}
	c.client = &http.Client{Timeout: 30 * time.Second}
	return true
}

func (c *GCPConnector) Disconnect() {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	c.token = ""
}

func (c *GCPConnector) FetchWindow(ctx context.Context, start, end time.Time) ([]Record, error) {
	if c.client == nil {
		return nil, fmt.Errorf("gcp connector not connected")
	}

	var records []Record

	if c.cfg.OrganizationID != "" {
		findings, err := c.fetchFindings(ctx, start, end)
		if err != nil {
			c.logger.Error("fetch SCC findings failed", zap.Error(err))
		} else {
			records = append(records, findings...)
		}
	}

	entries, err := c.fetchLogEntries(ctx, start, end)
	if err != nil {
		c.logger.Error("fetch log entries failed", zap.Error(err))
	} else {
		records = append(records, entries...)
	}

	points, err := c.fetchMonitoringPoints(ctx, start, end)
	if err != nil {
		c.logger.Error("fetch monitoring points failed", zap.Error(err))
	} else {
		records = append(records, points...)
	}

	return records, nil
}

func (c *GCPConnector) fetchFindings(ctx context.Context, start, end time.Time) ([]Record, error) {
	filter := fmt.Sprintf(`event_time >= "%s" AND event_time <= "%s"`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf(
		"https://securitycenter.googleapis.com/v1/organizations/%s/sources/-/findings?filter=%s&pageSize=%d",
		c.cfg.OrganizationID, url.QueryEscape(filter), c.batchSize)

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, result := range sliceOfMaps(resp["listFindingsResults"]) {
		if finding, ok := result["finding"].(map[string]any); ok {
			records = append(records, Record{Service: "security_command_center", Data: finding})
		}
	}
	return records, nil
}

func (c *GCPConnector) fetchLogEntries(ctx context.Context, start, end time.Time) ([]Record, error) {
	body := map[string]any{
		"resourceNames": []string{"projects/" + c.cfg.ProjectID},
		"filter": fmt.Sprintf(`timestamp >= "%s" AND timestamp <= "%s" AND severity >= WARNING`,
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)),
		"orderBy":  "timestamp desc",
		"pageSize": c.batchSize,
	}

	resp, err := c.post(ctx, "https://logging.googleapis.com/v2/entries:list", body)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, entry := range sliceOfMaps(resp["entries"]) {
		records = append(records, Record{Service: "cloud_logging", Data: entry})
	}
	return records, nil
}

func (c *GCPConnector) fetchMonitoringPoints(ctx context.Context, start, end time.Time) ([]Record, error) {
	params := url.Values{}
	params.Set("filter", `metric.type = starts_with("custom.googleapis.com/security")`)
	params.Set("interval.startTime", start.UTC().Format(time.RFC3339))
	params.Set("interval.endTime", end.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("https://monitoring.googleapis.com/v3/projects/%s/timeSeries?%s",
		c.cfg.ProjectID, params.Encode())

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, series := range sliceOfMaps(resp["timeSeries"]) {
		metricType := str(series, "metric", "type")
		for _, point := range sliceOfMaps(series["points"]) {
			point["metric_type"] = metricType
			records = append(records, Record{Service: "monitoring", Data: point})
			if len(records) >= c.batchSize {
				return records, nil
			}
		}
	}
	return records, nil
}

func (c *GCPConnector) get(ctx context.Context, endpoint string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.doJSON(req)
}

func (c *GCPConnector) post(ctx context.Context, endpoint string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req)
}

func (c *GCPConnector) doJSON(req *http.Request) (map[string]any, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gcp API returned %d: %s", resp.StatusCode, msg)
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode gcp response: %w", err)
	}
	return decoded, nil
}

// ToCanonical translates one GCP record. SCC and Cloud Logging severities
// are enumerated labels; monitoring points map their 0-1 metric value
// through the ratio thresholds.
func (c *GCPConnector) ToCanonical(rec Record) (event.Event, error) {
	d := rec.Data
	switch rec.Service {
	case "security_command_center":
		return event.Event{
			ID:            eventID(str(d, "name")),
			Service:       "security_command_center",
			Source:        "gcp",
			Timestamp:     parseTime(str(d, "eventTime")),
			EventType:     defaultStr(str(d, "category"), "unknown"),
			Severity:      severity.GCPSecurityCommandCenter.Lookup(str(d, "severity")),
			SourceIP:      str(d, "sourceProperties", "source_ip"),
			DestinationIP: "",
			User:          str(d, "access", "principalEmail"),
			Action:        str(d, "state"),
			Status:        str(d, "state"),
			Message:       str(d, "description"),
			Raw:           rawJSON(d),
		}, nil
	case "cloud_logging":
		return event.Event{
			ID:            eventID(str(d, "insertId")),
			Service:       "cloud_logging",
			Source:        "gcp",
			Timestamp:     parseTime(str(d, "timestamp")),
			EventType:     defaultStr(str(d, "severity"), "unknown"),
			Severity:      severity.GCPLogging.Lookup(str(d, "severity")),
			SourceIP:      str(d, "resource", "labels", "source_ip"),
			DestinationIP: "",
			User:          str(d, "protoPayload", "authenticationInfo", "principalEmail"),
			Action:        str(d, "resource", "type"),
			Status:        str(d, "severity"),
			Message:       defaultStr(str(d, "textPayload"), str(d, "protoPayload", "methodName")),
			Raw:           rawJSON(d),
		}, nil
	case "monitoring":
		value := num(d, "value", "doubleValue")
		return event.Event{
			ID:            eventID(""),
			Service:       "monitoring",
			Source:        "gcp",
			Timestamp:     parseTime(str(d, "interval", "endTime")),
			EventType:     defaultStr(str(d, "metric_type"), "unknown"),
			Severity:      severity.FromMetricRatio(value),
			SourceIP:      "",
			DestinationIP: "",
			User:          "",
			Action:        "alert",
			Status:        "active",
			Message:       fmt.Sprintf("Alert: %s - %g", str(d, "metric_type"), value),
			Raw:           rawJSON(d),
		}, nil
	default:
		return event.Event{}, fmt.Errorf("unknown GCP record service %q", rec.Service)
	}
}
