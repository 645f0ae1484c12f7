package messaging

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"secretary_server/core/port/out"
	"secretary_server/pkg/apperr"
)

// Stream names
const (
	StreamEmailProcess    = "email:process"
	StreamDocumentOCR     = "document:ocr"
	StreamDocumentAnalyze = "document:analyze"
	StreamDocumentDerive  = "document:derive"
	StreamInboxSweep      = "inbox:sweep"
)

// AllStreams is the consumer's subscription list.
var AllStreams = []string{
	StreamEmailProcess,
	StreamDocumentOCR,
	StreamDocumentAnalyze,
	StreamDocumentDerive,
	StreamInboxSweep,
}

// RedisProducer publishes jobs to Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

var _ out.TaskQueue = (*RedisProducer)(nil)

// =============================================================================
// Email
// =============================================================================

func (p *RedisProducer) PublishEmailProcess(ctx context.Context, job *out.EmailProcessJob) error {
	return p.publish(ctx, StreamEmailProcess, job)
}

// =============================================================================
// Documents
// =============================================================================

func (p *RedisProducer) PublishDocumentOCR(ctx context.Context, job *out.DocumentOCRJob) error {
	return p.publish(ctx, StreamDocumentOCR, job)
}

func (p *RedisProducer) PublishDocumentAnalyze(ctx context.Context, job *out.DocumentAnalyzeJob) error {
	return p.publish(ctx, StreamDocumentAnalyze, job)
}

func (p *RedisProducer) PublishDocumentDerive(ctx context.Context, job *out.DocumentDeriveJob) error {
	return p.publish(ctx, StreamDocumentDerive, job)
}

// =============================================================================
// Inbox
// =============================================================================

func (p *RedisProducer) PublishInboxSweep(ctx context.Context, job *out.InboxSweepJob) error {
	return p.publish(ctx, StreamInboxSweep, job)
}

// publish appends the job as a single "data" field.
func (p *RedisProducer) publish(ctx context.Context, stream string, job any) error {
	data, err := json.Marshal(job)
	if err != nil {
		return apperr.QueueError(stream, err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]any{"data": string(data)},
	}).Err()
	if err != nil {
		return apperr.QueueError(stream, err)
	}
	return nil
}
