// Package scheduler drives periodic collection cycles over the configured
// source connectors and publishes canonical events onto the bus.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lvonguyen/sentinelsoc/internal/bus"
	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/connector"
)

// Publisher is the slice of the bus the scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// MetricsSink receives collection counters. Satisfied by the observability
// metrics adapter.
type MetricsSink interface {
	EventCollected(connector, service string)
	RecordDropped(connector string)
	CycleFailed(connector, stage string)
	CycleCompleted(connector string, duration time.Duration)
}

type nopSink struct{}

func (nopSink) EventCollected(string, string)        {}
func (nopSink) RecordDropped(string)                 {}
func (nopSink) CycleFailed(string, string)           {}
func (nopSink) CycleCompleted(string, time.Duration) {}

// Status is a point-in-time snapshot of one connector's collection state.
type Status struct {
	Connector string    `json:"connector"`
	Connected bool      `json:"connected"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Events    int64     `json:"events_collected"`
	Dropped   int64     `json:"records_dropped"`
}

// Scheduler runs one collection cycle per connector per interval. Each
// connector keeps a watermark; a cycle fetches the window from the watermark
// to cycle start and only advances the watermark when the cycle did not fail,
// so a failed fetch or publish is retried over the same window next pass.
type Scheduler struct {
	cfg        config.CollectorConfig
	connectors []connector.Connector
	publisher  Publisher
	limiter    *rate.Limiter
	logger     *zap.Logger
	sink       MetricsSink

	mu         sync.Mutex
	status     map[string]*Status
	watermarks map[string]time.Time
}

// Options carries optional scheduler dependencies.
type Options struct {
	Sink MetricsSink
}

// New builds a scheduler over the given connectors. The caller selects which
// connectors to schedule; the scheduler runs them all.
func New(cfg config.CollectorConfig, connectors []connector.Connector, publisher Publisher, logger *zap.Logger, opts Options) *Scheduler {
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	fetchRate := cfg.FetchRate
	if fetchRate <= 0 {
		fetchRate = 1
	}
	status := make(map[string]*Status, len(connectors))
	for _, conn := range connectors {
		status[conn.Name()] = &Status{Connector: conn.Name()}
	}
	return &Scheduler{
		cfg:        cfg,
		connectors: connectors,
		publisher:  publisher,
		limiter:    rate.NewLimiter(rate.Limit(fetchRate), 1),
		logger:     logger.Named("scheduler"),
		sink:       sink,
		status:     status,
		watermarks: make(map[string]time.Time, len(connectors)),
	}
}

// Run executes collection passes until the context is cancelled. Cancellation
// is observed between passes and between connectors, never mid-record, so a
// partially published batch is completed or retried whole.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("collection scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("connectors", len(s.connectors)))

	for {
		for _, conn := range s.connectors {
			if ctx.Err() != nil {
				s.logger.Info("collection scheduler stopped")
				return
			}
			s.runCycle(ctx, conn)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("collection scheduler stopped")
			return
		case <-time.After(s.cfg.Interval):
		}
	}
}

// Statuses returns a snapshot of every connector's collection state, keyed
// by connector name.
func (s *Scheduler) Statuses() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.status))
	for name, st := range s.status {
		out[name] = *st
	}
	return out
}

func (s *Scheduler) runCycle(ctx context.Context, conn connector.Connector) {
	name := conn.Name()
	started := time.Now()
	window := s.window(name, started)

	if !conn.Connect(ctx) {
		s.logger.Warn("connector unavailable, skipping cycle", zap.String("connector", name))
		s.sink.CycleFailed(name, "connect")
		s.setError(name, false, "connect failed")
		return
	}
	defer conn.Disconnect()

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	records, err := conn.FetchWindow(ctx, window.start, window.end)
	if err != nil {
		s.logger.Error("fetch failed",
			zap.String("connector", name),
			zap.Time("window_start", window.start),
			zap.Time("window_end", window.end),
			zap.Error(err))
		s.sink.CycleFailed(name, "fetch")
		s.setError(name, true, err.Error())
		return
	}

	published, dropped := 0, 0
	for _, rec := range records {
		ev, err := conn.ToCanonical(rec)
		if err != nil {
			// One bad record never poisons the batch.
			s.logger.Warn("dropping untranslatable record",
				zap.String("connector", name),
				zap.String("service", rec.Service),
				zap.Error(err))
			s.sink.RecordDropped(name)
			dropped++
			continue
		}
		if err := s.publisher.Publish(ctx, bus.QueueLogs, ev); err != nil {
			// Publish failures abort the cycle without moving the watermark,
			// so the whole window is refetched and redelivered next pass.
			s.logger.Error("publish failed, aborting cycle",
				zap.String("connector", name),
				zap.Error(err))
			s.sink.CycleFailed(name, "publish")
			s.setError(name, true, err.Error())
			return
		}
		s.sink.EventCollected(name, ev.Service)
		published++
	}

	s.mu.Lock()
	s.watermarks[name] = window.end
	st := s.status[name]
	st.Connected = true
	st.LastRun = started.UTC()
	st.LastError = ""
	st.Events += int64(published)
	st.Dropped += int64(dropped)
	s.mu.Unlock()

	s.sink.CycleCompleted(name, time.Since(started))
	s.logger.Info("collection cycle complete",
		zap.String("connector", name),
		zap.Int("published", published),
		zap.Int("dropped", dropped),
		zap.Duration("elapsed", time.Since(started)))
}

type fetchWindow struct {
	start, end time.Time
}

// window returns the next fetch window for a connector: from its watermark
// (or one interval back on the first cycle) to now.
func (s *Scheduler) window(name string, now time.Time) fetchWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.watermarks[name]
	if !ok {
		start = now.Add(-s.cfg.Interval)
	}
	return fetchWindow{start: start, end: now}
}

func (s *Scheduler) setError(name string, connected bool, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[name]
	st.Connected = connected
	st.LastError = msg
}
