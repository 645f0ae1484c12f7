package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/pkg/apperr"
	"secretary_server/pkg/response"
)

type InboxHandler struct {
	profiles map[string]domain.MailboxProfile
	queue    out.TaskQueue
}

func NewInboxHandler(profiles []domain.MailboxProfile, queue out.TaskQueue) *InboxHandler {
	byName := make(map[string]domain.MailboxProfile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}
	return &InboxHandler{profiles: byName, queue: queue}
}

func (h *InboxHandler) Register(r fiber.Router) {
	r.Post("/inbox/sweep", h.Sweep)
}

type sweepRequest struct {
	Mailbox string `json:"mailbox"`
}

// Sweep queues a sweep of one of the caller's mailboxes.
func (h *InboxHandler) Sweep(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	req, err := parseBody[sweepRequest](c)
	if err != nil {
		return err
	}
	if err := requireField("mailbox", req.Mailbox); err != nil {
		return err
	}

	profile, ok := h.profiles[req.Mailbox]
	if !ok || profile.UserID != userID {
		return apperr.NotFound("mailbox")
	}

	err = h.queue.PublishInboxSweep(c.UserContext(), &out.InboxSweepJob{
		Mailbox:    profile.Name,
		UserID:     profile.UserID,
		Provider:   profile.Provider,
		Query:      profile.Query,
		MaxMessage: profile.MaxMessages,
		QueuedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return response.Accepted(c, fiber.Map{"mailbox": profile.Name, "queued": "inbox.sweep"})
}
