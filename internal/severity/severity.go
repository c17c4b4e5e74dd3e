// Package severity normalizes source-native severity representations into the
// four canonical levels used across the pipeline. Every mapping is total: any
// input outside a source's defined thresholds or label set resolves to Low.
package severity

import "strings"

// Level is a canonical severity level.
type Level string

const (
	Critical Level = "critical"
	High     Level = "high"
	Medium   Level = "medium"
	Low      Level = "low"
)

// Levels lists the canonical levels from most to least severe.
func Levels() []Level {
	return []Level{Critical, High, Medium, Low}
}

// FromScale10 maps a 0-10 severity scale (GuardDuty findings) to a canonical
// level. Boundaries are inclusive upward: a value of exactly 7 is critical.
func FromScale10(v float64) Level {
	switch {
	case v >= 7:
		return Critical
	case v >= 4:
		return High
	case v >= 2:
		return Medium
	default:
		return Low
	}
}

// FromScale100 maps a normalized 0-100 severity scale (Security Hub) to a
// canonical level.
func FromScale100(v float64) Level {
	switch {
	case v >= 70:
		return Critical
	case v >= 40:
		return High
	case v >= 20:
		return Medium
	default:
		return Low
	}
}

// FromWazuhLevel maps a Wazuh rule level (0-16) to a canonical level.
func FromWazuhLevel(level int) Level {
	switch {
	case level >= 15:
		return Critical
	case level >= 10:
		return High
	case level >= 5:
		return Medium
	default:
		return Low
	}
}

// FromMetricRatio maps a 0.0-1.0 monitoring metric value to a canonical level.
func FromMetricRatio(v float64) Level {
	switch {
	case v >= 0.8:
		return Critical
	case v >= 0.6:
		return High
	case v >= 0.4:
		return Medium
	default:
		return Low
	}
}

// Table maps a source's native severity labels to canonical levels. Lookups
// are case-sensitive; labels absent from the table resolve to Low.
type Table map[string]Level

// Lookup resolves a native label. Never fails.
func (t Table) Lookup(native string) Level {
	if lvl, ok := t[native]; ok {
		return lvl
	}
	return Low
}

// Label tables for enumerated-label sources.
var (
	// AzureSecurityCenter maps Microsoft Defender for Cloud alert severities.
	AzureSecurityCenter = Table{
		"Critical": Critical,
		"High":     High,
		"Medium":   Medium,
		"Low":      Low,
	}

	// AzureMonitor maps Azure activity log levels.
	AzureMonitor = Table{
		"Critical":      Critical,
		"Error":         High,
		"Warning":       Medium,
		"Informational": Low,
	}

	// GCPSecurityCommandCenter maps SCC finding severities.
	GCPSecurityCommandCenter = Table{
		"CRITICAL": Critical,
		"HIGH":     High,
		"MEDIUM":   Medium,
		"LOW":      Low,
	}

	// GCPLogging maps Cloud Logging entry severities.
	GCPLogging = Table{
		"CRITICAL": Critical,
		"ERROR":    High,
		"WARNING":  Medium,
		"INFO":     Low,
	}

	// Splunk maps common Splunk severity field values.
	Splunk = Table{
		"critical":      Critical,
		"high":          High,
		"error":         High,
		"medium":        Medium,
		"warn":          Medium,
		"warning":       Medium,
		"low":           Low,
		"info":          Low,
		"informational": Low,
	}
)

// FromLabel resolves a free-text severity label case-insensitively to a
// canonical level, defaulting to Low. Used for model-produced severities,
// which arrive as prose rather than a source taxonomy.
func FromLabel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return Critical
	case "high":
		return High
	case "medium":
		return Medium
	default:
		return Low
	}
}
