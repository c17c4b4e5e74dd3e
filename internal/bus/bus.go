// Package bus provides the durable message bus between collection and
// analysis. Queues are Redis lists with a reliable-consume pattern: a
// delivery is atomically moved into a per-consumer processing list, then
// removed on acknowledgment or pushed back onto the source queue on negative
// acknowledgment. With Redis persistence enabled, queued and in-flight
// messages survive process and broker restarts.
//
// Delivery is at-least-once: a message nacked, or orphaned in a processing
// list by a crash, is redelivered. Handlers must tolerate duplicates.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Declared queue names. Publishing or consuming any other name is a
// programming error, not a runtime condition.
const (
	QueueLogs           = "security_logs"
	QueueAnalysis       = "security_analysis"
	QueueAlerts         = "security_alerts"
	QueueInvestigations = "security_investigations"
)

// ErrInvalidQueue is returned when a queue name is not one of the declared set.
var ErrInvalidQueue = errors.New("invalid queue")

var declaredQueues = map[string]struct{}{
	QueueLogs:           {},
	QueueAnalysis:       {},
	QueueAlerts:         {},
	QueueInvestigations: {},
}

// Queues returns the declared queue names.
func Queues() []string {
	return []string{QueueLogs, QueueAnalysis, QueueAlerts, QueueInvestigations}
}

// Envelope wraps every queued payload with its publication metadata.
type Envelope struct {
	Queue       string          `json:"queue"`
	PublishedAt time.Time       `json:"published_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Handler processes one delivery. A nil return acknowledges the message; an
// error negatively acknowledges it and triggers redelivery.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Stats counts bus activity for one Bus instance.
type Stats struct {
	Published int64
	Consumed  int64
	Nacked    int64
}

// StatsSink receives per-queue bus counters. Satisfied by the observability
// metrics; may be nil.
type StatsSink interface {
	MessagePublished(queue string)
	MessageConsumed(queue string)
	MessageNacked(queue string)
}

// Bus is one connection to the message bus. A Bus must not be shared for
// concurrent publish and consume; use separate instances per loop.
type Bus struct {
	client      *redis.Client
	consumer    string
	logger      *zap.Logger
	sink        StatsSink
	pollTimeout time.Duration
	mu          sync.Mutex
	stats       Stats
}

// Options configures a Bus.
type Options struct {
	// Consumer names this consumer's processing list. Consumers with
	// distinct names never contend for each other's in-flight messages.
	Consumer string
	Sink     StatsSink
}

// New creates a Bus over an established Redis client.
func New(client *redis.Client, logger *zap.Logger, opts Options) *Bus {
	consumer := opts.Consumer
	if consumer == "" {
		consumer = "default"
	}
	return &Bus{
		client:      client,
		consumer:    consumer,
		logger:      logger,
		sink:        opts.Sink,
		pollTimeout: 5 * time.Second,
	}
}

// Ping verifies broker connectivity.
func (b *Bus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("bus connection failed: %w", err)
	}
	return nil
}

// ValidateQueue checks a queue name against the declared set.
func ValidateQueue(queue string) error {
	if _, ok := declaredQueues[queue]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidQueue, queue)
	}
	return nil
}

// Publish serializes payload into an envelope stamped with the publication
// time and appends it durably to the named queue. The caller relinquishes
// ownership on return. Connection failures propagate.
func (b *Bus) Publish(ctx context.Context, queue string, payload any) error {
	if err := ValidateQueue(queue); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", queue, err)
	}

	env := Envelope{
		Queue:       queue,
		PublishedAt: time.Now().UTC(),
		Payload:     body,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope for %s: %w", queue, err)
	}

	if err := b.client.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	b.mu.Lock()
	b.stats.Published++
	b.mu.Unlock()
	if b.sink != nil {
		b.sink.MessagePublished(queue)
	}
	return nil
}

// processingKey names the in-flight list for this consumer on a queue.
func (b *Bus) processingKey(queue string) string {
	return queue + ":processing:" + b.consumer
}

// Consume blocks delivering messages from the named queue to handler, one
// in-flight message at a time. Messages are acknowledged on handler success
// and pushed back for redelivery on handler error. Consume returns when ctx
// is canceled or the broker connection fails; it never returns because of a
// handler error.
//
// On entry, messages left in this consumer's processing list by a previous
// crash are requeued before new deliveries begin.
func (b *Bus) Consume(ctx context.Context, queue string, handler Handler) error {
	if err := ValidateQueue(queue); err != nil {
		return err
	}
	if err := b.Ping(ctx); err != nil {
		return err
	}
	if err := b.recoverInFlight(ctx, queue); err != nil {
		return err
	}

	processing := b.processingKey(queue)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := b.client.BLMove(ctx, queue, processing, "RIGHT", "LEFT", b.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue // idle timeout, poll again
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to consume from %s: %w", queue, err)
		}

		b.deliver(ctx, queue, processing, raw, handler)
	}
}

// deliver invokes the handler for one raw delivery and settles it.
func (b *Bus) deliver(ctx context.Context, queue, processing, raw string, handler Handler) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// A payload that cannot even be framed would be redelivered
		// forever. Remove it and log loudly instead.
		b.logger.Error("discarding unreadable message",
			zap.String("queue", queue),
			zap.Error(err))
		b.client.LRem(ctx, processing, 1, raw)
		return
	}

	if err := handler(ctx, env.Payload); err != nil {
		b.logger.Warn("handler failed, requeueing message",
			zap.String("queue", queue),
			zap.Time("published_at", env.PublishedAt),
			zap.Error(err))

		// Requeue at the far end: a message whose handler keeps failing
		// waits behind everything already queued instead of spinning at
		// the consume end.
		pipe := b.client.TxPipeline()
		pipe.LRem(ctx, processing, 1, raw)
		pipe.LPush(ctx, queue, raw)
		if _, perr := pipe.Exec(ctx); perr != nil {
			// The message stays in the processing list and will be
			// requeued by crash recovery on the next Consume.
			b.logger.Error("failed to requeue message",
				zap.String("queue", queue),
				zap.Error(perr))
		}

		b.mu.Lock()
		b.stats.Nacked++
		b.mu.Unlock()
		if b.sink != nil {
			b.sink.MessageNacked(queue)
		}
		return
	}

	if err := b.client.LRem(ctx, processing, 1, raw).Err(); err != nil {
		b.logger.Error("failed to acknowledge message",
			zap.String("queue", queue),
			zap.Error(err))
		return
	}

	b.mu.Lock()
	b.stats.Consumed++
	b.mu.Unlock()
	if b.sink != nil {
		b.sink.MessageConsumed(queue)
	}
}

// recoverInFlight pushes messages orphaned in this consumer's processing
// list back onto the source queue for redelivery.
func (b *Bus) recoverInFlight(ctx context.Context, queue string) error {
	processing := b.processingKey(queue)

	for {
		raw, err := b.client.LMove(ctx, processing, queue, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to recover in-flight messages on %s: %w", queue, err)
		}
		b.logger.Info("requeued in-flight message from previous run",
			zap.String("queue", queue),
			zap.Int("bytes", len(raw)))
	}
}

// Stats returns this instance's counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Close releases the underlying connection, unblocking any Consume wait.
func (b *Bus) Close() error {
	return b.client.Close()
}
