package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"secretary_server/core/domain"
	"secretary_server/core/port/in"
	"secretary_server/core/port/out"
	"secretary_server/core/service/document"
	"secretary_server/pkg/apperr"
	"secretary_server/pkg/logger"
	"secretary_server/pkg/pathguard"
)

// DocumentWorker is the part of document.Service the worker drives.
type DocumentWorker interface {
	ProcessDocument(ctx context.Context, documentID, text, userID string) (*domain.DocumentArtifact, error)
	DeriveAll(ctx context.Context, req document.DeriveRequest) ([]*domain.DocumentArtifact, error)
}

// HandlerDeps wires the services a Handler dispatches to.
type HandlerDeps struct {
	Pipeline     in.EmailPipeline
	Documents    DocumentWorker
	Sweeper      in.InboxSweeper
	OCR          out.OCRService
	Queue        out.TaskQueue
	Marker       out.ProcessedMarker
	ProcessedTTL time.Duration
	// Paths bounds every file a job may read. Nil rejects all file jobs.
	Paths *pathguard.Guard
}

// Handler dispatches a message to its processor.
type Handler struct {
	deps HandlerDeps
}

func NewHandler(deps HandlerDeps) *Handler {
	if deps.ProcessedTTL == 0 {
		deps.ProcessedTTL = 72 * time.Hour
	}
	return &Handler{deps: deps}
}

var _ Processor = (*Handler)(nil)

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s (%s)", msg.Type, msg.ID)

	var err error
	switch msg.Type {
	case JobEmailProcess:
		err = h.processEmail(ctx, msg)
	case JobDocumentOCR:
		err = h.processOCR(ctx, msg)
	case JobDocumentAnalyze:
		err = h.processAnalyze(ctx, msg)
	case JobDocumentDerive:
		err = h.processDerive(ctx, msg)
	case JobInboxSweep:
		err = h.processSweep(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}

	// A bad attachment will fail the same way on every retry.
	if apperr.IsAttachmentProcessing(err) {
		logger.WithError(err).Warn("[Worker] %s %s: attachment could not be processed", msg.Type, msg.ID)
		return nil
	}
	return err
}

// =============================================================================
// email.process
// =============================================================================

func (h *Handler) processEmail(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.EmailProcessJob](msg)
	if err != nil {
		logger.WithError(err).Error("[Worker] dropping malformed email job %s", msg.ID)
		return nil
	}

	key := "email:" + job.Email.ID
	if h.deps.Marker != nil {
		fresh, err := h.deps.Marker.MarkProcessed(ctx, key, h.deps.ProcessedTTL)
		if err != nil {
			return err
		}
		if !fresh {
			logger.Info("[Worker] email %s already processed, skipping", job.Email.ID)
			return nil
		}
	}

	rec, err := h.deps.Pipeline.ProcessEmail(ctx, &job.Email, nil, nil)
	if err != nil {
		if h.deps.Marker != nil {
			if clearErr := h.deps.Marker.Clear(context.WithoutCancel(ctx), key); clearErr != nil {
				logger.WithError(clearErr).Warn("[Worker] failed to clear processed mark for %s", job.Email.ID)
			}
		}
		return err
	}

	logger.Info("[Worker] email %s processed: category=%s actions=%d", job.Email.ID, rec.Category(), len(rec.Actions))
	return nil
}

// =============================================================================
// document.ocr / document.analyze / document.derive
// =============================================================================

func (h *Handler) processOCR(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.DocumentOCRJob](msg)
	if err != nil {
		logger.WithError(err).Error("[Worker] dropping malformed ocr job %s", msg.ID)
		return nil
	}

	pdfPath, err := h.confine(job.PDFPath)
	if err != nil {
		return err
	}
	textPath, err := h.deps.OCR.ExtractText(ctx, pdfPath)
	if err != nil {
		return err
	}

	return h.deps.Queue.PublishDocumentAnalyze(ctx, &out.DocumentAnalyzeJob{
		DocumentID: job.DocumentID,
		UserID:     job.UserID,
		TextPath:   textPath,
	})
}

func (h *Handler) processAnalyze(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.DocumentAnalyzeJob](msg)
	if err != nil {
		logger.WithError(err).Error("[Worker] dropping malformed analyze job %s", msg.ID)
		return nil
	}

	text, err := h.readText(job.TextPath)
	if err != nil {
		return err
	}

	artifact, err := h.deps.Documents.ProcessDocument(ctx, job.DocumentID, text, job.UserID)
	if err != nil {
		return err
	}
	if artifact == nil {
		logger.Warn("[Worker] document %s: no metadata extracted", job.DocumentID)
		return nil
	}
	logger.Info("[Worker] document %s analyzed, artifact %s", job.DocumentID, artifact.ID)
	return nil
}

func (h *Handler) processDerive(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.DocumentDeriveJob](msg)
	if err != nil {
		logger.WithError(err).Error("[Worker] dropping malformed derive job %s", msg.ID)
		return nil
	}

	text, err := h.readText(job.TextPath)
	if err != nil {
		return err
	}

	artifacts, err := h.deps.Documents.DeriveAll(ctx, document.DeriveRequest{
		DocumentID: job.DocumentID,
		UserID:     job.UserID,
		Text:       text,
		Summarize:  job.Summarize,
		Questions:  job.Questions,
		Parties:    job.Parties,
	})
	if err != nil {
		return err
	}
	logger.Info("[Worker] document %s: %d derived artifacts", job.DocumentID, len(artifacts))
	return nil
}

// confine maps a job path to a file inside the upload or OCR directories.
func (h *Handler) confine(path string) (string, error) {
	resolved, err := h.deps.Paths.Resolve(path)
	if err != nil {
		return "", apperr.AttachmentProcessing(path, err)
	}
	return resolved, nil
}

func (h *Handler) readText(path string) (string, error) {
	resolved, err := h.confine(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", apperr.AttachmentProcessing(path, fmt.Errorf("failed to read text: %w", err))
	}
	return string(data), nil
}

// =============================================================================
// inbox.sweep
// =============================================================================

func (h *Handler) processSweep(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.InboxSweepJob](msg)
	if err != nil {
		logger.WithError(err).Error("[Worker] dropping malformed sweep job %s", msg.ID)
		return nil
	}

	if h.deps.Sweeper == nil {
		logger.Warn("[Worker] no mailbox reader configured, skipping sweep of %s", job.Mailbox)
		return nil
	}
	n, err := h.deps.Sweeper.SweepInbox(ctx, job.Profile())
	if err != nil {
		return err
	}
	logger.Info("[Worker] mailbox %s swept: %d messages", job.Mailbox, n)
	return nil
}
