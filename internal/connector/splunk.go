package connector

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
	"github.com/lvonguyen/sentinelsoc/internal/severity"
)

// SplunkConnector collects events from a Splunk index via the REST search
// API, streaming results as newline-delimited JSON.
type SplunkConnector struct {
	cfg       config.SplunkConfig
	batchSize int
	logger    *zap.Logger

	client  *http.Client
	baseURL string
}

// NewSplunk creates a Splunk connector.
func NewSplunk(cfg config.SplunkConfig, batchSize int, logger *zap.Logger) *SplunkConnector {
	return &SplunkConnector{
		cfg:       cfg,
		batchSize: batchSize,
		logger:    logger.Named("splunk"),
	}
}

func (c *SplunkConnector) Name() string { return "splunk" }

// Connect verifies credentials against the management endpoint.
func (c *SplunkConnector) Connect(ctx context.Context) bool {
	password := os.Getenv(c.cfg.PasswordEnv)
	if c.cfg.Host == "" || c.cfg.Username == "" || password == "" {
		c.logger.Warn("missing Splunk connection settings",
			zap.String("host", c.cfg.Host),
			zap.String("password_env", c.cfg.PasswordEnv))
		return false
	}

	transport := &http.Transport{}
	if !c.cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	c.client = &http.Client{Timeout: 60 * time.Second, Transport: transport}
	c.baseURL = fmt.Sprintf("https://%s:%d", c.cfg.Host, c.cfg.Port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/services/server/info?output_mode=json", nil)
	if err != nil {
		c.logger.Warn("failed to build Splunk probe request", zap.Error(err))
		return false
	}
	req.SetBasicAuth(c.cfg.Username, password)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("failed to connect to Splunk", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Splunk rejected credentials", zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

func (c *SplunkConnector) Disconnect() {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
}

// FetchWindow runs a blocking export search over the configured index.
func (c *SplunkConnector) FetchWindow(ctx context.Context, start, end time.Time) ([]Record, error) {
	if c.client == nil {
		return nil, fmt.Errorf("splunk connector not connected")
	}

	search := fmt.Sprintf("search index=%s earliest=%q latest=%q",
		c.cfg.Index,
		start.UTC().Format("2006-01-02T15:04:05"),
		end.UTC().Format("2006-01-02T15:04:05"))

	form := url.Values{}
	form.Set("search", search)
	form.Set("output_mode", "json")
	form.Set("count", fmt.Sprintf("%d", c.batchSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/services/search/jobs/export", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.Username, os.Getenv(c.cfg.PasswordEnv))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search export failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("splunk returned %d: %s", resp.StatusCode, msg)
	}

	// Export streams one JSON object per line; rows without a result field
	// are control messages and are skipped.
	var records []Record
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row struct {
			Result map[string]any `json:"result"`
		}
		if err := json.Unmarshal(line, &row); err != nil || row.Result == nil {
			continue
		}
		records = append(records, Record{Service: "search", Data: row.Result})
		if len(records) >= c.batchSize {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read export stream: %w", err)
	}
	return records, nil
}

// ToCanonical translates one Splunk search result using the standard field
// aliases (_time, src_ip, dest_ip). Native severity labels resolve through
// the Splunk table, unmapped values included.
func (c *SplunkConnector) ToCanonical(rec Record) (event.Event, error) {
	if rec.Service != "search" {
		return event.Event{}, fmt.Errorf("unknown Splunk record service %q", rec.Service)
	}
	d := rec.Data
	return event.Event{
		ID:            eventID(str(d, "_cd")),
		Service:       "search",
		Source:        "splunk",
		Timestamp:     parseTime(d["_time"]),
		EventType:     defaultStr(str(d, "eventtype"), "unknown"),
		Severity:      severity.Splunk.Lookup(str(d, "severity")),
		SourceIP:      str(d, "src_ip"),
		DestinationIP: str(d, "dest_ip"),
		User:          str(d, "user"),
		Action:        str(d, "action"),
		Status:        str(d, "status"),
		Message:       defaultStr(str(d, "message"), str(d, "_raw")),
		Raw:           rawJSON(d),
	}, nil
}
