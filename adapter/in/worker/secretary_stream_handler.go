package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"secretary_server/adapter/out/messaging"
)

// StreamHandler bridges the stream consumer and the pool.
type StreamHandler struct {
	pool *Pool
	log  zerolog.Logger
}

func NewStreamHandler(pool *Pool, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{pool: pool, log: log.With().Str("component", "stream_handler").Logger()}
}

var _ messaging.JobHandler = (*StreamHandler)(nil)

// Handle submits the entry. A rejected submit leaves the entry pending so the
// consumer redelivers it later.
func (h *StreamHandler) Handle(_ context.Context, stream string, data []byte) error {
	msg := NewMessage(JobTypeForStream(stream), data)
	if !h.pool.Submit(msg) {
		return fmt.Errorf("pool rejected %s job", msg.Type)
	}
	h.log.Debug().Str("stream", stream).Str("job_id", msg.ID).Msg("job submitted")
	return nil
}

// RedisDeadLetter writes exhausted jobs to dlq:<stream>.
type RedisDeadLetter struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisDeadLetter(client *redis.Client, log zerolog.Logger) *RedisDeadLetter {
	return &RedisDeadLetter{client: client, log: log.With().Str("component", "dead_letter").Logger()}
}

var _ DeadLetterSink = (*RedisDeadLetter)(nil)

func (d *RedisDeadLetter) DeadLetter(ctx context.Context, msg *Message, cause error) {
	stream := strings.Replace(msg.Type, ".", ":", 1)
	err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: messaging.DeadLetterStream(stream),
		Values: map[string]any{
			"original_stream": stream,
			"job_id":          msg.ID,
			"retries":         msg.Retries,
			"reason":          cause.Error(),
			"failed_at":       time.Now().UTC().Format(time.RFC3339),
			"original_data":   string(msg.Payload),
		},
	}).Err()
	if err != nil {
		d.log.Error().Err(err).Str("job_id", msg.ID).Msg("job lost, dead letter write failed")
		return
	}
	d.log.Warn().Str("job_id", msg.ID).Str("job_type", msg.Type).Msg("job moved to dead letter stream")
}
