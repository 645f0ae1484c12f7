package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// JobType represents the type of a job.
type JobType = string

// Job types. Each maps 1:1 to a Redis stream with ':' in place of '.'.
const (
	JobEmailProcess    JobType = "email.process"
	JobDocumentOCR     JobType = "document.ocr"
	JobDocumentAnalyze JobType = "document.analyze"
	JobDocumentDerive  JobType = "document.derive"
	JobInboxSweep      JobType = "inbox.sweep"
)

// Message is one unit of work inside the pool.
type Message struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Retries   int             `json:"retries"`
}

func NewMessage(jobType JobType, payload []byte) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// JobTypeForStream maps "document:ocr" to "document.ocr".
func JobTypeForStream(stream string) JobType {
	return strings.Replace(stream, ":", ".", 1)
}

// ParsePayload decodes the message payload into T.
func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", msg.Type, err)
	}
	return &payload, nil
}
