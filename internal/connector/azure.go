package connector

import (
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

const azureManagementBase = "https://management.azure.com"

// AzureConnector collects Defender for Cloud alerts and assessments plus
// activity log entries from one subscription.
type AzureConnector struct {
	cfg       config.AzureConfig
	batchSize int
	logger    *zap.Logger

	client *http.Client
	token  string
}

// NewAzure creates an Azure connector.
func NewAzure(cfg config.AzureConfig, batchSize int, logger *zap.Logger) *AzureConnector {
	return &AzureConnector{
		cfg:       cfg,
		batchSize: batchSize,
		logger:    logger.Named("azure"),
	}
}

func (c *AzureConnector) Name() string { return "azure" }

// Connect loads the management-plane bearer token.
func (c *AzureConnector) Connect(ctx context.Context) bool {
	c.token = os.Getenv(c.cfg.TokenEnv)
	if c.token == "" {
		c.logger.Warn("missing Azure access token", zap.String("token_env", c.cfg.TokenEnv))
		return false
	}
	if c.cfg.SubscriptionID == "" {
		c.logger.Warn("missing Azure subscription id")
		return false
	}
	c.client = &http.Client{Timeout: 30 * time.Second}
	return true
}

func (c *AzureConnector) Disconnect() {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	c.token = ""
}

// FetchWindow retrieves security alerts, assessments, and activity log
// entries. A failing sub-fetch is logged and skipped.
func (c *AzureConnector) FetchWindow(ctx context.Context, start, end time.Time) ([]Record, error) {
	if c.client == nil {
		return nil, fmt.Errorf("azure connector not connected")
	}

	var records []Record

	alerts, err := c.fetchAlerts(ctx, start, end)
	if err != nil {
		c.logger.Error("fetch security alerts failed", zap.Error(err))
	} else {
		records = append(records, alerts...)
	}

	assessments, err := c.fetchAssessments(ctx, start, end)
	if err != nil {
		c.logger.Error("fetch assessments failed", zap.Error(err))
	} else {
		records = append(records, assessments...)
	}

	activity, err := c.fetchActivityLog(ctx, start, end)
	if err != nil {
		c.logger.Error("fetch activity log failed", zap.Error(err))
	} else {
		records = append(records, activity...)
	}

	return records, nil
}

func (c *AzureConnector) fetchAlerts(ctx context.Context, start, end time.Time) ([]Record, error) {
	endpoint := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.Security/alerts?api-version=2022-01-01",
		azureManagementBase, c.cfg.SubscriptionID)

	values, err := c.listValues(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, alert := range values {
		ts := parseTime(str(alert, "properties", "timeGeneratedUtc"))
		if ts.Before(start) || ts.After(end) {
			continue
		}
		records = append(records, Record{Service: "security_center", Data: alert})
		if len(records) >= c.batchSize {
			break
		}
	}
	return records, nil
}

func (c *AzureConnector) fetchAssessments(ctx context.Context, start, end time.Time) ([]Record, error) {
	endpoint := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.Security/assessments?api-version=2020-01-01",
		azureManagementBase, c.cfg.SubscriptionID)

	values, err := c.listValues(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, assessment := range values {
		records = append(records, Record{Service: "assessment", Data: assessment})
		if len(records) >= c.batchSize {
			break
		}
	}
	return records, nil
}

func (c *AzureConnector) fetchActivityLog(ctx context.Context, start, end time.Time) ([]Record, error) {
	filter := fmt.Sprintf("eventTimestamp ge '%s' and eventTimestamp le '%s'",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.Insights/eventtypes/management/values?api-version=2015-04-01&$filter=%s",
		azureManagementBase, c.cfg.SubscriptionID, url.QueryEscape(filter))

	values, err := c.listValues(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, entry := range values {
		records = append(records, Record{Service: "monitor", Data: entry})
		if len(records) >= c.batchSize {
			break
		}
	}
	return records, nil
}

// listValues issues a GET and returns the standard Azure `value` collection.
func (c *AzureConnector) listValues(ctx context.Context, endpoint string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("azure API returned %d: %s", resp.StatusCode, msg)
	}

	var decoded struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode azure response: %w", err)
	}
	return decoded.Value, nil
}

// ToCanonical translates one Azure record. Defender severities are an
// enumerated label set; activity log levels use their own table.
func (c *AzureConnector) ToCanonical(rec Record) (event.Event, error) {
	d := rec.Data
	switch rec.Service {
	case "security_center":
		return event.Event{
			ID:            eventID(str(d, "name")),
			Service:       "security_center",
			Source:        "azure",
			Timestamp:     parseTime(str(d, "properties", "timeGeneratedUtc")),
			EventType:     defaultStr(str(d, "properties", "alertType"), "unknown"),
			Severity:      severity.AzureSecurityCenter.Lookup(str(d, "properties", "severity")),
			SourceIP:      str(d, "properties", "extendedProperties", "source_ip"),
			DestinationIP: "",
			User:          str(d, "properties", "extendedProperties", "user name"),
			Action:        str(d, "properties", "remediationSteps"),
			Status:        str(d, "properties", "status"),
			Message:       str(d, "properties", "description"),
			Raw:           rawJSON(d),
		}, nil
	case "assessment":
		return event.Event{
			ID:            eventID(str(d, "name")),
			Service:       "security_center",
			Source:        "azure",
			Timestamp:     parseTime(str(d, "properties", "status", "firstEvaluationDate")),
			EventType:     "assessment",
			Severity:      severity.AzureSecurityCenter.Lookup(str(d, "properties", "metadata", "severity")),
			SourceIP:      "",
			DestinationIP: "",
			User:          "",
			Action:        str(d, "properties", "metadata", "remediationDescription"),
			Status:        str(d, "properties", "status", "code"),
			Message:       str(d, "properties", "displayName"),
			Raw:           rawJSON(d),
		}, nil
	case "monitor":
		return event.Event{
			ID:            eventID(str(d, "eventDataId")),
			Service:       "monitor",
			Source:        "azure",
			Timestamp:     parseTime(str(d, "eventTimestamp")),
			EventType:     defaultStr(str(d, "operationName", "value"), "unknown"),
			Severity:      severity.AzureMonitor.Lookup(str(d, "level")),
			SourceIP:      str(d, "caller"),
			DestinationIP: "",
			User:          str(d, "caller"),
			Action:        str(d, "operationName", "value"),
			Status:        str(d, "status", "value"),
			Message:       str(d, "description"),
			Raw:           rawJSON(d),
		}, nil
	default:
		return event.Event{}, fmt.Errorf("unknown Azure record service %q", rec.Service)
	}
}
