package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"secretary_server/core/domain"
	"secretary_server/core/port/in"
	"secretary_server/core/port/out"
	"secretary_server/core/service/document"
	"secretary_server/pkg/apperr"
	"secretary_server/pkg/pathguard"
	"secretary_server/pkg/response"
)

// DocumentService is the document pipeline plus its read side.
type DocumentService interface {
	in.DocumentPipeline
	Artifacts(ctx context.Context, documentID string) ([]*domain.DocumentArtifact, error)
	UserArtifacts(ctx context.Context, userID string, kind domain.ArtifactKind, limit int) ([]*domain.DocumentArtifact, error)
	Events(ctx context.Context, userID string) ([]*domain.CalendarEvent, error)
}

// CaseIndex lists document ids recorded under a case.
type CaseIndex interface {
	CaseDocuments(ctx context.Context, userID, caseNumber string) ([]string, error)
}

type DocumentHandler struct {
	documents DocumentService
	cases     CaseIndex
	queue     out.TaskQueue
	paths     *pathguard.Guard
}

// NewDocumentHandler creates the handler. cases may be nil when Neo4j is not
// configured. Queued jobs may only name files that paths accepts.
func NewDocumentHandler(documents DocumentService, cases CaseIndex, queue out.TaskQueue, paths *pathguard.Guard) *DocumentHandler {
	return &DocumentHandler{documents: documents, cases: cases, queue: queue, paths: paths}
}

func (h *DocumentHandler) Register(r fiber.Router) {
	docs := r.Group("/documents")
	docs.Post("/:id/process", h.Process)
	docs.Post("/:id/ocr", h.EnqueueOCR)
	docs.Post("/:id/derive", h.EnqueueDerive)
	docs.Post("/:id/summarize", h.Summarize)
	docs.Post("/:id/qa", h.AnswerQuestion)
	docs.Post("/:id/analyze", h.AnalyzeForParty)
	docs.Get("/:id/artifacts", h.Artifacts)

	r.Get("/artifacts", h.UserArtifacts)
	r.Get("/cases/:number/documents", h.CaseDocuments)

	cal := r.Group("/calendar")
	cal.Get("/events", h.Events)
	cal.Get("/events.ics", h.EventsICS)
}

type documentTextRequest struct {
	Text     string `json:"text"`
	Question string `json:"question,omitempty"`
	Party    string `json:"party,omitempty"`
}

func (h *DocumentHandler) textRequest(c *fiber.Ctx) (string, *documentTextRequest, error) {
	userID, err := requireUser(c)
	if err != nil {
		return "", nil, err
	}
	req, err := parseBody[documentTextRequest](c)
	if err != nil {
		return "", nil, err
	}
	if err := requireField("text", req.Text); err != nil {
		return "", nil, err
	}
	return userID, req, nil
}

// Process extracts legal metadata inline. An unparseable model reply is not
// an error; the response just carries no artifact.
func (h *DocumentHandler) Process(c *fiber.Ctx) error {
	userID, req, err := h.textRequest(c)
	if err != nil {
		return err
	}
	artifact, err := h.documents.ProcessDocument(c.UserContext(), c.Params("id"), req.Text, userID)
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"extracted": artifact != nil, "artifact": artifact})
}

func (h *DocumentHandler) Summarize(c *fiber.Ctx) error {
	userID, req, err := h.textRequest(c)
	if err != nil {
		return err
	}
	artifact, err := h.documents.Summarize(c.UserContext(), c.Params("id"), req.Text, userID)
	if err != nil {
		return err
	}
	return response.Created(c, artifact)
}

func (h *DocumentHandler) AnswerQuestion(c *fiber.Ctx) error {
	userID, req, err := h.textRequest(c)
	if err != nil {
		return err
	}
	if err := requireField("question", req.Question); err != nil {
		return err
	}
	artifact, err := h.documents.AnswerQuestion(c.UserContext(), c.Params("id"), req.Text, req.Question, userID)
	if err != nil {
		return err
	}
	return response.Created(c, artifact)
}

func (h *DocumentHandler) AnalyzeForParty(c *fiber.Ctx) error {
	userID, req, err := h.textRequest(c)
	if err != nil {
		return err
	}
	if err := requireField("party", req.Party); err != nil {
		return err
	}
	artifact, err := h.documents.AnalyzeForParty(c.UserContext(), c.Params("id"), req.Text, req.Party, userID)
	if err != nil {
		return err
	}
	return response.Created(c, artifact)
}

// =============================================================================
// Background work
// =============================================================================

type ocrRequest struct {
	Path string `json:"path"`
}

func (h *DocumentHandler) EnqueueOCR(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	req, err := parseBody[ocrRequest](c)
	if err != nil {
		return err
	}
	pdfPath, err := h.confine("path", req.Path)
	if err != nil {
		return err
	}

	job := &out.DocumentOCRJob{DocumentID: c.Params("id"), UserID: userID, PDFPath: pdfPath}
	if err := h.queue.PublishDocumentOCR(c.UserContext(), job); err != nil {
		return err
	}
	return response.Accepted(c, fiber.Map{"document_id": job.DocumentID, "queued": "document.ocr"})
}

type deriveRequest struct {
	TextPath  string   `json:"text_path"`
	Summarize bool     `json:"summarize"`
	Questions []string `json:"questions"`
	Parties   []string `json:"parties"`
}

func (h *DocumentHandler) EnqueueDerive(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	req, err := parseBody[deriveRequest](c)
	if err != nil {
		return err
	}
	textPath, err := h.confine("text_path", req.TextPath)
	if err != nil {
		return err
	}
	if !req.Summarize && len(req.Questions) == 0 && len(req.Parties) == 0 {
		return apperr.BadRequest("nothing to derive")
	}

	job := &out.DocumentDeriveJob{
		DocumentID: c.Params("id"),
		UserID:     userID,
		TextPath:   textPath,
		Summarize:  req.Summarize,
		Questions:  req.Questions,
		Parties:    req.Parties,
	}
	if err := h.queue.PublishDocumentDerive(c.UserContext(), job); err != nil {
		return err
	}
	return response.Accepted(c, fiber.Map{"document_id": job.DocumentID, "queued": "document.derive"})
}

// confine resolves a body path inside the upload or OCR directory.
func (h *DocumentHandler) confine(field, path string) (string, error) {
	if err := requireField(field, path); err != nil {
		return "", err
	}
	resolved, err := h.paths.Resolve(path)
	if err != nil {
		return "", apperr.BadRequest(field + " must name an uploaded file")
	}
	return resolved, nil
}

// =============================================================================
// Read side
// =============================================================================

// Artifacts lists the caller's artifacts for a document.
func (h *DocumentHandler) Artifacts(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	all, err := h.documents.Artifacts(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	owned := make([]*domain.DocumentArtifact, 0, len(all))
	for _, a := range all {
		if a.UserID == userID {
			owned = append(owned, a)
		}
	}
	return response.List(c, owned, 0)
}

const maxArtifactPage = 200

// UserArtifacts lists the caller's artifacts across documents, optionally
// narrowed with ?kind=.
func (h *DocumentHandler) UserArtifacts(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	kind := domain.ArtifactKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		return apperr.BadRequest("unknown artifact kind: " + string(kind))
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > maxArtifactPage {
		limit = maxArtifactPage
	}

	items, err := h.documents.UserArtifacts(c.UserContext(), userID, kind, limit)
	if err != nil {
		return err
	}
	return response.List(c, items, limit)
}

func (h *DocumentHandler) CaseDocuments(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	if h.cases == nil {
		return apperr.NotFound("case index")
	}
	ids, err := h.cases.CaseDocuments(c.UserContext(), userID, c.Params("number"))
	if err != nil {
		return err
	}
	return response.List(c, ids, 0)
}

func (h *DocumentHandler) Events(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	events, err := h.documents.Events(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return response.List(c, events, 0)
}

func (h *DocumentHandler) EventsICS(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	events, err := h.documents.Events(c.UserContext(), userID)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="hearings.ics"`)
	return c.SendString(document.ExportICS(events, time.Now()))
}
