package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
	"github.com/lvonguyen/sentinelsoc/internal/severity"
)

// AWSConnector collects CloudTrail events and GuardDuty / Security Hub
// findings across the configured regions.
type AWSConnector struct {
	cfg       config.AWSConfig
	batchSize int
	logger    *zap.Logger

	client    *http.Client
	accessKey string
	secretKey string
}

// NewAWS creates an AWS connector. No credentials are read until Connect.
func NewAWS(cfg config.AWSConfig, batchSize int, logger *zap.Logger) *AWSConnector {
	return &AWSConnector{
		cfg:       cfg,
		batchSize: batchSize,
		logger:    logger.Named("aws"),
	}
}

func (c *AWSConnector) Name() string { return "aws" }

// Connect loads credentials and prepares the HTTP session. Returns false on
// missing credentials so the scheduler can skip this cycle.
func (c *AWSConnector) Connect(ctx context.Context) bool {
	c.accessKey = os.Getenv(c.cfg.AccessKeyEnv)
	c.secretKey = os.Getenv(c.cfg.SecretKeyEnv)
	if c.accessKey == "" || c.secretKey == "" {
		c.logger.Warn("missing AWS credentials",
			zap.String("access_key_env", c.cfg.AccessKeyEnv),
			zap.String("secret_key_env", c.cfg.SecretKeyEnv))
		return false
	}
	c.client = &http.Client{Timeout: 30 * time.Second}
	return true
}

// Disconnect releases the HTTP session. Safe to call repeatedly and before a
// successful Connect.
func (c *AWSConnector) Disconnect() {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	c.accessKey = ""
	c.secretKey = ""
}

// FetchWindow retrieves records from every configured service in every
// configured region. A single service failing is logged and skipped; the
// remaining services still contribute to the batch.
func (c *AWSConnector) FetchWindow(ctx context.Context, start, end time.Time) ([]Record, error) {
	if c.client == nil {
		return nil, fmt.Errorf("aws connector not connected")
	}

	var records []Record
	for _, region := range c.cfg.Regions {
		for _, service := range c.cfg.Services {
			var (
				batch []Record
				err   error
			)
			switch service {
			case "cloudtrail":
				batch, err = c.fetchCloudTrail(ctx, region, start, end)
			case "guardduty":
				batch, err = c.fetchGuardDuty(ctx, region, start, end)
			case "securityhub":
				batch, err = c.fetchSecurityHub(ctx, region, start, end)
			default:
				c.logger.Warn("unknown AWS service configured", zap.String("service", service))
				continue
			}
			if err != nil {
				c.logger.Error("fetch failed",
					zap.String("service", service),
					zap.String("region", region),
					zap.Error(err))
				continue
			}
			records = append(records, batch...)
		}
	}
	return records, nil
}

func (c *AWSConnector) fetchCloudTrail(ctx context.Context, region string, start, end time.Time) ([]Record, error) {
	body := map[string]any{
		"StartTime":  start.Unix(),
		"EndTime":    end.Unix(),
		"MaxResults": c.batchSize,
	}
	resp, err := c.do(ctx, region, "cloudtrail",
		fmt.Sprintf("https://cloudtrail.%s.amazonaws.com/", region),
		"CloudTrail_20131101.LookupEvents", body)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, ev := range sliceOfMaps(resp["Events"]) {
		records = append(records, Record{Service: "cloudtrail", Data: ev})
	}
	return records, nil
}

func (c *AWSConnector) fetchGuardDuty(ctx context.Context, region string, start, end time.Time) ([]Record, error) {
	base := fmt.Sprintf("https://guardduty.%s.amazonaws.com", region)

	detector := c.cfg.DetectorID
	if detector == "" {
		resp, err := c.do(ctx, region, "guardduty", base+"/detector", "", nil)
		if err != nil {
			return nil, fmt.Errorf("list detectors: %w", err)
		}
		ids, _ := resp["detectorIds"].([]any)
		if len(ids) == 0 {
			return nil, nil
		}
		detector, _ = ids[0].(string)
	}

	listBody := map[string]any{
		"findingCriteria": map[string]any{
			"criterion": map[string]any{
				"updatedAt": map[string]any{
					"gte": start.UnixMilli(),
					"lte": end.UnixMilli(),
				},
			},
		},
		"maxResults": c.batchSize,
	}
	listResp, err := c.do(ctx, region, "guardduty",
		fmt.Sprintf("%s/detector/%s/findings", base, detector), "", listBody)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	ids, _ := listResp["findingIds"].([]any)
	if len(ids) == 0 {
		return nil, nil
	}

	getResp, err := c.do(ctx, region, "guardduty",
		fmt.Sprintf("%s/detector/%s/findings/get", base, detector), "",
		map[string]any{"findingIds": ids})
	if err != nil {
		return nil, fmt.Errorf("get findings: %w", err)
	}

	var records []Record
	for _, finding := range sliceOfMaps(getResp["findings"]) {
		records = append(records, Record{Service: "guardduty", Data: finding})
	}
	return records, nil
}

func (c *AWSConnector) fetchSecurityHub(ctx context.Context, region string, start, end time.Time) ([]Record, error) {
	body := map[string]any{
		"Filters": map[string]any{
			"UpdatedAt": []map[string]any{{
				"Start": start.UTC().Format(time.RFC3339),
				"End":   end.UTC().Format(time.RFC3339),
			}},
		},
		"MaxResults": c.batchSize,
	}
	resp, err := c.do(ctx, region, "securityhub",
		fmt.Sprintf("https://securityhub.%s.amazonaws.com/findings", region), "", body)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, finding := range sliceOfMaps(resp["Findings"]) {
		records = append(records, Record{Service: "securityhub", Data: finding})
	}
	return records, nil
}

// do issues one signed request. target is the X-Amz-Target header used by
// the JSON-RPC style services (CloudTrail); REST-style services leave it
// empty. A nil body sends a GET.
func (c *AWSConnector) do(ctx context.Context, region, service, url, target string, body any) (map[string]any, error) {
	method := http.MethodPost
	var payload []byte
	if body == nil {
		method = http.MethodGet
	} else {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if target != "" {
		req.Header.Set("X-Amz-Target", target)
		req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	} else if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	signV4(req, payload, c.accessKey, c.secretKey, region, service, time.Now())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s returned %d: %s", service, resp.StatusCode, msg)
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", service, err)
	}
	return decoded, nil
}

// ToCanonical translates one AWS record. CloudTrail audit events carry no
// native severity and normalize to low; GuardDuty uses the 0-10 scale and
// Security Hub the normalized 0-100 scale.
func (c *AWSConnector) ToCanonical(rec Record) (event.Event, error) {
	switch rec.Service {
	case "cloudtrail":
		return c.cloudTrailEvent(rec), nil
	case "guardduty":
		return c.guardDutyEvent(rec), nil
	case "securityhub":
		return c.securityHubEvent(rec), nil
	default:
		return event.Event{}, fmt.Errorf("unknown AWS record service %q", rec.Service)
	}
}

func (c *AWSConnector) cloudTrailEvent(rec Record) event.Event {
	d := rec.Data
	return event.Event{
		ID:            eventID(str(d, "EventId")),
		Service:       "cloudtrail",
		Source:        "aws",
		Timestamp:     parseTime(d["EventTime"]),
		EventType:     defaultStr(str(d, "EventName"), "unknown"),
		Severity:      severity.Low,
		SourceIP:      str(d, "SourceIPAddress"),
		DestinationIP: "",
		User:          str(d, "Username"),
		Action:        str(d, "EventName"),
		Status:        str(d, "ResponseElements", "status"),
		Message:       str(d, "CloudTrailEvent"),
		Raw:           rawJSON(d),
	}
}

func (c *AWSConnector) guardDutyEvent(rec Record) event.Event {
	d := rec.Data
	return event.Event{
		ID:            eventID(str(d, "id")),
		Service:       "guardduty",
		Source:        "aws",
		Timestamp:     parseTime(d["updatedAt"]),
		EventType:     defaultStr(str(d, "type"), "unknown"),
		Severity:      severity.FromScale10(num(d, "severity")),
		SourceIP:      str(d, "service", "action", "networkConnectionAction", "remoteIpDetails", "ipAddressV4"),
		DestinationIP: "",
		User:          str(d, "resource", "accessKeyDetails", "userName"),
		Action:        str(d, "service", "action", "actionType"),
		Status:        str(d, "service", "action", "networkConnectionAction", "connectionDirection"),
		Message:       str(d, "description"),
		Raw:           rawJSON(d),
	}
}

func (c *AWSConnector) securityHubEvent(rec Record) event.Event {
	d := rec.Data
	ev := event.Event{
		ID:            eventID(str(d, "Id")),
		Service:       "securityhub",
		Source:        "aws",
		Timestamp:     parseTime(d["UpdatedAt"]),
		EventType:     defaultStr(str(d, "Types"), "unknown"),
		Severity:      severity.FromScale100(num(d, "Severity", "Normalized")),
		DestinationIP: "",
		Action:        str(d, "Remediation", "Recommendation", "Text"),
		Status:        str(d, "RecordState"),
		Message:       str(d, "Description"),
		Raw:           rawJSON(d),
	}
	if ev.EventType == "unknown" {
		if types, ok := d["Types"].([]any); ok && len(types) > 0 {
			if s, ok := types[0].(string); ok {
				ev.EventType = s
			}
		}
	}
	if resources, ok := d["Resources"].([]any); ok && len(resources) > 0 {
		if res, ok := resources[0].(map[string]any); ok {
			ev.SourceIP = str(res, "Details", "AwsEc2Instance", "PublicIpAddress")
		}
	}
	return ev
}

// sliceOfMaps coerces a decoded JSON array into its object elements,
// skipping anything that is not an object.
func sliceOfMaps(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// eventID keeps the native record identifier when present and mints one
// otherwise, so every canonical event is individually addressable downstream.
func eventID(native string) string {
	if native != "" {
		return native
	}
	return uuid.NewString()
}
