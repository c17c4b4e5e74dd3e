package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/lvonguyen/sentinelsoc/internal/event"
)

// The enrichment service returns free text, so prompts ask for the exact
// section headers the response parser scans for.

const eventPromptHeader = `You are a senior SOC analyst. Analyze the following security event and respond with four sections, each introduced by its header on its own line: "Severity:" (one of critical, high, medium, low), "Impact:", "Recommendations:" (one per line), "Indicators of Compromise:" (one per line).`

const incidentPromptHeader = `You are a senior SOC analyst. Summarize the following security incident and respond with four sections, each introduced by its header on its own line: "Timeline:" (one entry per line), "Root Cause:", "Impact:", "Remediation:" (one step per line).`

// RenderEventPrompt substitutes event fields into the analysis prompt.
// Fields the connector left empty render as the literal "unknown".
func RenderEventPrompt(ev event.Event) string {
	var b strings.Builder
	b.WriteString(eventPromptHeader)
	b.WriteString("\n\nEvent details:\n")
	writeField(&b, "Timestamp", timeField(ev.Timestamp))
	writeField(&b, "Source", ev.Source)
	writeField(&b, "Event Type", ev.EventType)
	writeField(&b, "Severity", string(ev.Severity))
	writeField(&b, "Source IP", ev.SourceIP)
	writeField(&b, "Destination IP", ev.DestinationIP)
	writeField(&b, "User", ev.User)
	writeField(&b, "Action", ev.Action)
	writeField(&b, "Status", ev.Status)
	writeField(&b, "Message", ev.Message)
	return b.String()
}

// RenderIncidentPrompt substitutes incident fields into the summary prompt.
func RenderIncidentPrompt(inc event.Incident) string {
	var b strings.Builder
	b.WriteString(incidentPromptHeader)
	b.WriteString("\n\nIncident details:\n")
	writeField(&b, "Incident ID", inc.ID)
	writeField(&b, "Start Time", timeField(inc.StartTime))
	writeField(&b, "End Time", timeField(inc.EndTime))
	writeField(&b, "Status", inc.Status)
	writeField(&b, "Events", fmt.Sprintf("%d", len(inc.Events)))
	writeField(&b, "Affected Systems", strings.Join(inc.AffectedSystems, ", "))
	writeField(&b, "Description", inc.Description)
	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		value = "unknown"
	}
	fmt.Fprintf(b, "%s: %s\n", name, value)
}

func timeField(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
