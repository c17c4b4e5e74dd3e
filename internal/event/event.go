// Package event defines the wire contracts exchanged over the message bus:
// the canonical security event produced by every connector, the analysis
// record produced by the analysis stage, and the alert consumed by the
// notification fan-out. Adding fields to these types is backward compatible;
// removing or renaming them is not.
package event

import (
	"encoding/json"
	"time"

	"github.com/lvonguyen/sentinelsoc/internal/severity"
)

// Event is the canonical, source-agnostic representation of one
// security-relevant record. Every connector must populate every field,
// substituting empty strings where the native record lacks data. Severity is
// always one of the four canonical levels, never a source-native value.
type Event struct {
	ID            string         `json:"id"`
	Service       string         `json:"service"`
	Source        string         `json:"source"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     string         `json:"event_type"`
	Severity      severity.Level `json:"severity"`
	SourceIP      string         `json:"source_ip"`
	DestinationIP string         `json:"destination_ip"`
	User          string         `json:"user"`
	Action        string         `json:"action"`
	Status        string         `json:"status"`
	Message       string         `json:"message"`

	// Raw preserves the untranslated upstream record for audit and
	// debugging. Opaque to every consumer.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Analysis is the structured result extracted from a model response. Severity
// carries the model's wording verbatim; SeverityLevel is that wording resolved
// through the canonical taxonomy and is what alerting decisions use.
type Analysis struct {
	Severity        string         `json:"severity"`
	SeverityLevel   severity.Level `json:"severity_level"`
	Impact          string         `json:"impact"`
	Recommendations []string       `json:"recommendations"`
	IOCs            []string       `json:"iocs"`
}

// AnalysisRecord is published to the analysis queue for every consumed event,
// including events whose analysis fell back after an enrichment failure.
type AnalysisRecord struct {
	EventID  string   `json:"event_id"`
	Analysis Analysis `json:"analysis"`
}

// Alert is the notification payload fanned out across channels. Ephemeral:
// constructed by the analysis stage and discarded after delivery attempts.
type Alert struct {
	Title           string         `json:"title"`
	Severity        string         `json:"severity"`
	Source          string         `json:"source"`
	Description     string         `json:"description"`
	Impact          string         `json:"impact"`
	Recommendations []string       `json:"recommendations"`
	AdditionalInfo  map[string]any `json:"additional_info,omitempty"`
}

// Incident groups related events for summarization.
type Incident struct {
	ID              string    `json:"id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Status          string    `json:"status"`
	Severity        string    `json:"severity"`
	Source          string    `json:"source"`
	Description     string    `json:"description"`
	AffectedSystems []string  `json:"affected_systems"`
	Events          []Event   `json:"events"`
}

// Summary is the structured result of incident summarization.
type Summary struct {
	Timeline    []string `json:"timeline"`
	RootCause   string   `json:"root_cause"`
	Impact      string   `json:"impact"`
	Remediation []string `json:"remediation"`
}
