// Package realtime fans notification events out to open SSE streams.
package realtime

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

const channelPrefix = "notify:"

// =============================================================================
// Publisher - worker side
// =============================================================================

// RedisPublisher implements out.RealtimePort by publishing to notify:<user>.
// Workers have no SSE clients of their own; API nodes relay through Hub.Run.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

var _ out.RealtimePort = (*RedisPublisher)(nil)

func (p *RedisPublisher) Push(ctx context.Context, userID string, event *domain.RealtimeEvent) error {
	event.UserID = userID
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, channelPrefix+userID, data).Err()
}

// =============================================================================
// Hub - API side
// =============================================================================

// Hub holds the SSE subscriptions of this process.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[chan *domain.RealtimeEvent]struct{}
	seq     atomic.Int64
	dropped atomic.Int64

	bufferSize        int
	heartbeatInterval time.Duration
	log               zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:           make(map[string]map[chan *domain.RealtimeEvent]struct{}),
		bufferSize:        64,
		heartbeatInterval: 30 * time.Second,
		log:               log.With().Str("component", "sse_hub").Logger(),
	}
}

var _ out.RealtimePort = (*Hub)(nil)

// HeartbeatInterval is how often idle streams get a comment line.
func (h *Hub) HeartbeatInterval() time.Duration { return h.heartbeatInterval }

// Subscribe registers a stream for userID. Call the returned func to detach.
func (h *Hub) Subscribe(userID string) (<-chan *domain.RealtimeEvent, func()) {
	ch := make(chan *domain.RealtimeEvent, h.bufferSize)

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[chan *domain.RealtimeEvent]struct{})
	}
	h.clients[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.clients[userID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.clients, userID)
				}
			}
			close(ch)
		})
	}
}

// Push delivers to local subscribers. A full buffer drops the event.
func (h *Hub) Push(_ context.Context, userID string, event *domain.RealtimeEvent) error {
	event.Seq = h.seq.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients[userID] {
		select {
		case ch <- event:
		default:
			h.dropped.Add(1)
			h.log.Warn().Str("user_id", userID).Str("event_type", string(event.Type)).Msg("dropped event, buffer full")
		}
	}
	return nil
}

// Connections returns the number of open streams for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Dropped returns how many events were discarded because a stream lagged.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Run relays notify:* messages into the hub until ctx is done.
func (h *Hub) Run(ctx context.Context, client *redis.Client) error {
	sub := client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	h.log.Info().Msg("relaying realtime events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID := strings.TrimPrefix(msg.Channel, channelPrefix)
			var event domain.RealtimeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.log.Warn().Err(err).Str("channel", msg.Channel).Msg("undecodable realtime payload")
				continue
			}
			_ = h.Push(ctx, userID, &event)
		}
	}
}

// SerializeEvent renders the data line of an SSE frame.
func SerializeEvent(event *domain.RealtimeEvent) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      event.Type,
		"data":      event.Data,
		"seq":       event.Seq,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339),
	})
}
