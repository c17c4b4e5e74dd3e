package analysis

import (
	"strings"

	"github.com/lvonguyen/sentinelsoc/internal/event"
)

// section is the parser's active accumulator. The enrichment service gives no
// structured-output guarantee, so responses are scanned line by line: a line
// containing a recognized keyword switches the section, and following lines
// accumulate into it. Heuristic and brittle by design.
type section int

const (
	sectionNone section = iota
	sectionImpact
	sectionRecommendations
	sectionIOCs
	sectionTimeline
	sectionRootCause
	sectionRemediation
)

// ParseAnalysis extracts a structured analysis from free response text.
// Severity is captured from the text after the final colon of any line
// containing "severity", regardless of the active section, and is NOT
// normalized here; the stage resolves it through the taxonomy separately.
// An empty or headerless response parses to an empty result, not an error.
func ParseAnalysis(text string) event.Analysis {
	result := event.Analysis{
		Severity:        "unknown",
		Recommendations: []string{},
		IOCs:            []string{},
	}
	var impact []string

	active := sectionNone
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.Contains(lower, "severity"):
			after := line[strings.LastIndex(line, ":")+1:]
			result.Severity = strings.TrimSpace(after)
		case strings.Contains(lower, "impact"):
			active = sectionImpact
		case strings.Contains(lower, "recommend"):
			active = sectionRecommendations
		case strings.Contains(lower, "indicator"):
			active = sectionIOCs
		default:
			switch active {
			case sectionImpact:
				impact = append(impact, line)
			case sectionRecommendations:
				result.Recommendations = append(result.Recommendations, line)
			case sectionIOCs:
				result.IOCs = append(result.IOCs, line)
			}
		}
	}

	result.Impact = strings.Join(impact, " ")
	return result
}

// ParseSummary extracts a structured incident summary from free response
// text, under the same line-scanning contract as ParseAnalysis.
func ParseSummary(text string) event.Summary {
	result := event.Summary{
		Timeline:    []string{},
		Remediation: []string{},
	}
	var rootCause, impact []string

	active := sectionNone
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.Contains(lower, "timeline"):
			active = sectionTimeline
		case strings.Contains(lower, "root cause"):
			active = sectionRootCause
		case strings.Contains(lower, "impact"):
			active = sectionImpact
		case strings.Contains(lower, "remediation"):
			active = sectionRemediation
		default:
			switch active {
			case sectionTimeline:
				result.Timeline = append(result.Timeline, line)
			case sectionRootCause:
				rootCause = append(rootCause, line)
			case sectionImpact:
				impact = append(impact, line)
			case sectionRemediation:
				result.Remediation = append(result.Remediation, line)
			}
		}
	}

	result.RootCause = strings.Join(rootCause, " ")
	result.Impact = strings.Join(impact, " ")
	return result
}

// FallbackAnalysis is the fixed result emitted when enrichment fails. The
// stage always produces a result; failures degrade, never propagate.
func FallbackAnalysis() event.Analysis {
	return event.Analysis{
		Severity:        "unknown",
		Impact:          "Error during analysis",
		Recommendations: []string{"Investigate analysis error"},
		IOCs:            []string{},
	}
}

// FallbackSummary is the fixed result emitted when incident summarization
// fails.
func FallbackSummary() event.Summary {
	return event.Summary{
		Timeline:    []string{},
		RootCause:   "Error during analysis",
		Impact:      "Error during analysis",
		Remediation: []string{"Investigate analysis error"},
	}
}
