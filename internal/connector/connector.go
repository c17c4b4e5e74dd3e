// Package connector implements the per-source collection capability: each
// connector establishes its own session, retrieves native records for a time
// window, and translates them into canonical events. Connectors own their
// session state exclusively; nothing here is shared between instances.
package connector

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
)

// Record is one untranslated provider record, tagged with the provider
// service that produced it so translation can pick the right field mapping.
type Record struct {
	Service string
	Data    map[string]any
}

// Connector is the capability every log source implements.
//
// Connect reports false rather than returning an error so the scheduler can
// skip a cycle without treating it as fatal. FetchWindow must return an empty
// slice, not an error, when the window holds no records. ToCanonical is a
// pure translation and must populate every canonical field, normalizing
// severity through the taxonomy. Disconnect must be safe to call even if
// Connect never succeeded.
type Connector interface {
	Name() string
	Connect(ctx context.Context) bool
	FetchWindow(ctx context.Context, start, end time.Time) ([]Record, error)
	ToCanonical(rec Record) (event.Event, error)
	Disconnect()
}

// Factory builds a connector from the source configuration.
type Factory func(sources config.SourcesConfig, batchSize int, logger *zap.Logger) Connector

// Registry maps connector names to factories. New sources register here;
// the scheduler never enumerates concrete connector types.
func Registry() map[string]Factory {
	return map[string]Factory{
		"aws": func(s config.SourcesConfig, n int, l *zap.Logger) Connector {
			return NewAWS(s.AWS, n, l)
		},
		"azure": func(s config.SourcesConfig, n int, l *zap.Logger) Connector {
			return NewAzure(s.Azure, n, l)
		},
		"gcp": func(s config.SourcesConfig, n int, l *zap.Logger) Connector {
			return NewGCP(s.GCP, n, l)
		},
		"splunk": func(s config.SourcesConfig, n int, l *zap.Logger) Connector {
			return NewSplunk(s.Splunk, n, l)
		},
		"wazuh": func(s config.SourcesConfig, n int, l *zap.Logger) Connector {
			return NewWazuh(s.Wazuh, n, l)
		},
	}
}

// str walks a nested path of map keys and returns the string at the leaf,
// or "" when any step is missing or not a string.
func str(m map[string]any, path ...string) string {
	v := walk(m, path)
	s, _ := v.(string)
	return s
}

// num walks a nested path and returns the numeric leaf as float64.
// JSON numbers decode as float64; anything else yields 0.
func num(m map[string]any, path ...string) float64 {
	v := walk(m, path)
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func walk(m map[string]any, path []string) any {
	var cur any = m
	for _, key := range path {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[key]
	}
	return cur
}

// rawJSON serializes the untranslated record for the canonical Raw field.
// Serialization of a decoded JSON map cannot fail; a nil return only happens
// for values that never come off the wire.
func rawJSON(data map[string]any) json.RawMessage {
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return b
}

// parseTime interprets the timestamp representations seen across providers:
// RFC3339 (with or without sub-second precision) and epoch seconds or
// milliseconds. The canonical timestamp is always present: when the native
// record lacks one, the current time is substituted.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC()
			}
		}
	case float64:
		if t > 1e12 { // epoch milliseconds
			return time.UnixMilli(int64(t)).UTC()
		}
		if t > 0 {
			return time.Unix(int64(t), 0).UTC()
		}
	}
	return time.Now().UTC()
}
