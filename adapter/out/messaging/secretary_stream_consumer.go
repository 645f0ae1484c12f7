package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobHandler processes one stream entry's "data" payload.
type JobHandler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  JobHandler
	Logger   zerolog.Logger

	// Zero values fall back to defaults.
	ReadCount     int64
	ReadBlock     time.Duration
	ReclaimEvery  time.Duration
	ReclaimIdle   time.Duration
	MaxDeliveries int64
}

// Consumer reads a consumer group across several streams. Entries are acked
// only after the handler returns nil; anything left pending is reclaimed
// later and, after MaxDeliveries, moved to dlq:<stream>.
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig
	log    zerolog.Logger
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg ConsumerConfig) *Consumer {
	if cfg.ReadCount == 0 {
		cfg.ReadCount = 10
	}
	if cfg.ReadBlock == 0 {
		cfg.ReadBlock = 5 * time.Second
	}
	if cfg.ReclaimEvery == 0 {
		cfg.ReclaimEvery = 30 * time.Second
	}
	if cfg.ReclaimIdle == 0 {
		cfg.ReclaimIdle = 2 * time.Minute
	}
	if cfg.MaxDeliveries == 0 {
		cfg.MaxDeliveries = 3
	}
	return &Consumer{
		client: client,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "stream_consumer").Str("group", cfg.Group).Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.cfg.Streams) == 0 {
		return errors.New("consumer has no streams")
	}

	c.log.Info().Str("consumer", c.cfg.Consumer).Strs("streams", c.cfg.Streams).Msg("starting consumer")

	for _, stream := range c.cfg.Streams {
		if err := c.ensureGroup(ctx, stream); err != nil {
			return err
		}
	}

	go c.reclaimLoop(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batches, err := c.read(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Msg("error reading from streams")
			time.Sleep(time.Second)
			continue
		}

		for _, batch := range batches {
			for _, msg := range batch.Messages {
				c.deliver(ctx, batch.Stream, msg)
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context, stream string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
	}
	return nil
}

func (c *Consumer) read(ctx context.Context) ([]redis.XStream, error) {
	// XREADGROUP wants every stream name first, then one ">" per stream.
	args := make([]string, 0, len(c.cfg.Streams)*2)
	args = append(args, c.cfg.Streams...)
	for range c.cfg.Streams {
		args = append(args, ">")
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  args,
		Count:    c.cfg.ReadCount,
		Block:    c.cfg.ReadBlock,
	}).Result()
}

// deliver hands one entry to the handler and acks on success.
func (c *Consumer) deliver(ctx context.Context, stream string, msg redis.XMessage) {
	data, err := payloadOf(msg)
	if err != nil {
		// Malformed entries can never succeed.
		c.log.Warn().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("dropping malformed entry")
		c.deadLetter(ctx, stream, msg, err)
		return
	}

	if err := c.cfg.Handler.Handle(ctx, stream, data); err != nil {
		c.log.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("handler failed, leaving pending")
		return
	}

	if err := c.client.XAck(ctx, stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.log.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("error acknowledging entry")
	}
}

func payloadOf(msg redis.XMessage) ([]byte, error) {
	raw, ok := msg.Values["data"]
	if !ok {
		return nil, errors.New("missing data field")
	}
	s, ok := raw.(string)
	if !ok {
		return nil, errors.New("data field is not a string")
	}
	return []byte(s), nil
}

// =============================================================================
// Pending reclaim
// =============================================================================

func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ReclaimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stream := range c.cfg.Streams {
				c.reclaim(ctx, stream)
			}
		}
	}
}

func (c *Consumer) reclaim(ctx context.Context, stream string) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.cfg.Group,
		Idle:   c.cfg.ReclaimIdle,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error().Err(err).Str("stream", stream).Msg("error listing pending entries")
		}
		return
	}

	for _, p := range pending {
		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.ReclaimIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming entry")
			continue
		}

		for _, msg := range claimed {
			if p.RetryCount >= c.cfg.MaxDeliveries {
				c.log.Warn().Str("stream", stream).Str("id", msg.ID).Int64("deliveries", p.RetryCount).
					Msg("delivery limit reached")
				c.deadLetter(ctx, stream, msg, fmt.Errorf("exceeded %d deliveries", c.cfg.MaxDeliveries))
				continue
			}
			c.log.Info().Str("stream", stream).Str("id", msg.ID).Str("previous_owner", p.Consumer).
				Msg("redelivering stuck entry")
			c.deliver(ctx, stream, msg)
		}
	}
}

// deadLetter copies the entry to dlq:<stream> and acks the original.
func (c *Consumer) deadLetter(ctx context.Context, stream string, msg redis.XMessage, cause error) {
	values := map[string]any{
		"original_stream": stream,
		"original_id":     msg.ID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.cfg.Consumer,
		"reason":          cause.Error(),
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream(stream), Values: values}).Err(); err != nil {
		// 원본을 ack하지 않으면 다음 reclaim에서 다시 시도된다
		c.log.Error().Err(err).Str("id", msg.ID).Msg("error writing dead letter")
		return
	}
	if err := c.client.XAck(ctx, stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.log.Error().Err(err).Str("id", msg.ID).Msg("error acknowledging dead letter")
	}
}

// DeadLetterStream names the DLQ for a stream.
func DeadLetterStream(stream string) string {
	return "dlq:" + stream
}
