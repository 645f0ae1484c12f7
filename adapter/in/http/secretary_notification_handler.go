package http

import (
	"bufio"
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"secretary_server/adapter/out/persistence"
	"secretary_server/adapter/out/realtime"
	"secretary_server/core/domain"
	"secretary_server/pkg/apperr"
	"secretary_server/pkg/response"
)

// NotificationService is the dashboard read side.
type NotificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error)
	MarkAsRead(ctx context.Context, userID, id string) error
}

// EventStream hands out per-user realtime subscriptions.
type EventStream interface {
	Subscribe(userID string) (<-chan *domain.RealtimeEvent, func())
	HeartbeatInterval() time.Duration
}

type NotificationHandler struct {
	notifications NotificationService
	stream        EventStream
	log           zerolog.Logger
}

func NewNotificationHandler(notifications NotificationService, stream EventStream, log zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		stream:        stream,
		log:           log.With().Str("handler", "notification").Logger(),
	}
}

func (h *NotificationHandler) Register(r fiber.Router) {
	n := r.Group("/notifications")
	n.Get("/", h.List)
	n.Get("/stream", h.Stream)
	n.Post("/:id/read", h.MarkAsRead)
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", 50)
	items, err := h.notifications.List(c.UserContext(), userID, c.QueryBool("unread"), limit)
	if err != nil {
		return err
	}
	return response.List(c, items, limit)
}

func (h *NotificationHandler) MarkAsRead(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	if err := h.notifications.MarkAsRead(c.UserContext(), userID, c.Params("id")); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return apperr.NotFound("notification")
		}
		return err
	}
	return response.NoContent(c)
}

// Stream serves Server-Sent Events until the client goes away.
func (h *NotificationHandler) Stream(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	events, cancel := h.stream.Subscribe(userID)
	heartbeat := h.stream.HeartbeatInterval()
	h.log.Info().Str("user_id", userID).Msg("SSE client connected")

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // Nginx buffering 비활성화

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		defer func() {
			cancel()
			h.log.Info().Str("user_id", userID).Msg("SSE client disconnected")
		}()

		w.WriteString("event: connected\ndata: {\"status\":\"connected\"}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(w, event); err != nil {
					h.log.Debug().Err(err).Msg("client disconnected during write")
					return
				}
			case <-ticker.C:
				w.WriteString(": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, event *domain.RealtimeEvent) error {
	data, err := realtime.SerializeEvent(event)
	if err != nil {
		return err
	}
	w.WriteString("event: ")
	w.WriteString(string(event.Type))
	w.WriteString("\ndata: ")
	w.Write(data)
	w.WriteString("\n\n")
	return w.Flush()
}
