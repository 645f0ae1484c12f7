package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"secretary_server/core/domain"
	"secretary_server/core/port/in"
	"secretary_server/core/port/out"
	"secretary_server/pkg/response"
)

// EmailHandler exposes the triage pipelines.
type EmailHandler struct {
	pipeline in.EmailPipeline
	triage   in.TriageWorkflow
	history  out.HistoryRepository
	queue    out.TaskQueue
}

func NewEmailHandler(pipeline in.EmailPipeline, triage in.TriageWorkflow, history out.HistoryRepository, queue out.TaskQueue) *EmailHandler {
	return &EmailHandler{pipeline: pipeline, triage: triage, history: history, queue: queue}
}

func (h *EmailHandler) Register(r fiber.Router) {
	emails := r.Group("/emails")
	emails.Post("/process", h.Process)
	emails.Post("/triage", h.Triage)
	emails.Get("/:id/history", h.History)
}

type processEmailRequest struct {
	Email    domain.InboundEmail `json:"email"`
	Tenant   *domain.Tenant      `json:"tenant,omitempty"`
	Property *domain.Property    `json:"property,omitempty"`
}

func normalizeEmail(e *domain.InboundEmail) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	return requireField("email.from", e.From)
}

// Process runs the pipeline inline, or queues it with ?async=true.
func (h *EmailHandler) Process(c *fiber.Ctx) error {
	if _, err := requireUser(c); err != nil {
		return err
	}
	req, err := parseBody[processEmailRequest](c)
	if err != nil {
		return err
	}
	if err := normalizeEmail(&req.Email); err != nil {
		return err
	}

	if c.QueryBool("async") {
		if err := h.queue.PublishEmailProcess(c.UserContext(), &out.EmailProcessJob{Email: req.Email}); err != nil {
			return err
		}
		return response.Accepted(c, fiber.Map{"email_id": req.Email.ID, "queued": true})
	}

	rec, err := h.pipeline.ProcessEmail(c.UserContext(), &req.Email, req.Tenant, req.Property)
	if err != nil {
		return err
	}
	return response.OK(c, rec)
}

func (h *EmailHandler) Triage(c *fiber.Ctx) error {
	if _, err := requireUser(c); err != nil {
		return err
	}
	email, err := parseBody[domain.InboundEmail](c)
	if err != nil {
		return err
	}
	if err := normalizeEmail(email); err != nil {
		return err
	}

	result, err := h.triage.Run(c.UserContext(), email)
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

func (h *EmailHandler) History(c *fiber.Ctx) error {
	if _, err := requireUser(c); err != nil {
		return err
	}
	entries, err := h.history.ListByEmail(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return response.List(c, entries, 0)
}
