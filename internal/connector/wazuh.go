package connector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
	"github.com/lvonguyen/sentinelsoc/internal/severity"
)

// WazuhConnector collects alerts from the Wazuh manager API.
type WazuhConnector struct {
	cfg       config.WazuhConfig
	batchSize int
	logger    *zap.Logger

	client  *http.Client
	baseURL string
	apiKey  string
}

// NewWazuh creates a Wazuh connector.
func NewWazuh(cfg config.WazuhConfig, batchSize int, logger *zap.Logger) *WazuhConnector {
	return &WazuhConnector{
		cfg:       cfg,
		batchSize: batchSize,
		logger:    logger.Named("wazuh"),
	}
}

func (c *WazuhConnector) Name() string { return "wazuh" }

// Connect authenticates against the manager API.
func (c *WazuhConnector) Connect(ctx context.Context) bool {
	c.apiKey = os.Getenv(c.cfg.APIKeyEnv)
	if c.cfg.Host == "" || c.apiKey == "" {
		c.logger.Warn("missing Wazuh connection settings",
			zap.String("host", c.cfg.Host),
			zap.String("api_key_env", c.cfg.APIKeyEnv))
		return false
	}

	transport := &http.Transport{}
	if !c.cfg.VerifySSL {
		// Wazuh managers commonly run with self-signed certificates.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	c.client = &http.Client{Timeout: 30 * time.Second, Transport: transport}
	c.baseURL = fmt.Sprintf("https://%s:%d", c.cfg.Host, c.cfg.APIPort)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/security/user/authenticate", nil)
	if err != nil {
		c.logger.Warn("failed to build Wazuh probe request", zap.Error(err))
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("failed to connect to Wazuh", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Wazuh rejected credentials", zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

func (c *WazuhConnector) Disconnect() {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	c.apiKey = ""
}

// FetchWindow queries the alert store for the window, ascending by time.
func (c *WazuhConnector) FetchWindow(ctx context.Context, start, end time.Time) ([]Record, error) {
	if c.client == nil {
		return nil, fmt.Errorf("wazuh connector not connected")
	}

	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []map[string]any{{
					"range": map[string]any{
						"timestamp": map[string]any{
							"gte": start.UTC().Format(time.RFC3339),
							"lte": end.UTC().Format(time.RFC3339),
						},
					},
				}},
			},
		},
		"sort": []map[string]string{{"timestamp": "asc"}},
		"size": c.batchSize,
	}
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/alerts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alerts query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("wazuh returned %d: %s", resp.StatusCode, msg)
	}

	var decoded struct {
		Hits struct {
			Hits []map[string]any `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode wazuh response: %w", err)
	}

	var records []Record
	for _, hit := range decoded.Hits.Hits {
		records = append(records, Record{Service: "alerts", Data: hit})
	}
	return records, nil
}

// ToCanonical translates one Wazuh alert hit. Rule levels (0-16) map through
// the Wazuh thresholds.
func (c *WazuhConnector) ToCanonical(rec Record) (event.Event, error) {
	if rec.Service != "alerts" {
		return event.Event{}, fmt.Errorf("unknown Wazuh record service %q", rec.Service)
	}

	source, ok := rec.Data["_source"].(map[string]any)
	if !ok {
		return event.Event{}, fmt.Errorf("wazuh hit missing _source")
	}

	return event.Event{
		ID:            eventID(str(rec.Data, "_id")),
		Service:       "alerts",
		Source:        "wazuh",
		Timestamp:     parseTime(source["timestamp"]),
		EventType:     defaultStr(str(source, "rule", "description"), "unknown"),
		Severity:      severity.FromWazuhLevel(int(num(source, "rule", "level"))),
		SourceIP:      str(source, "sourceip"),
		DestinationIP: str(source, "destinationip"),
		User:          str(source, "data", "win", "eventdata", "user"),
		Action:        str(source, "rule", "action"),
		Status:        str(source, "rule", "status"),
		Message:       str(source, "rule", "description"),
		Raw:           rawJSON(source),
	}, nil
}
