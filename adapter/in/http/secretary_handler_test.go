package http

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"secretary_server/adapter/out/persistence"
	"secretary_server/core/domain"
	"secretary_server/core/port/in"
	"secretary_server/core/port/out"
	"secretary_server/infra/middleware"
	"secretary_server/pkg/pathguard"
)

// =============================================================================
// Fakes
// =============================================================================

type recordingQueue struct {
	emails []*out.EmailProcessJob
	ocr    []*out.DocumentOCRJob
	derive []*out.DocumentDeriveJob
	sweeps []*out.InboxSweepJob
}

func (q *recordingQueue) PublishEmailProcess(_ context.Context, j *out.EmailProcessJob) error {
	q.emails = append(q.emails, j)
	return nil
}
func (q *recordingQueue) PublishDocumentOCR(_ context.Context, j *out.DocumentOCRJob) error {
	q.ocr = append(q.ocr, j)
	return nil
}
func (q *recordingQueue) PublishDocumentAnalyze(context.Context, *out.DocumentAnalyzeJob) error {
	return nil
}
func (q *recordingQueue) PublishDocumentDerive(_ context.Context, j *out.DocumentDeriveJob) error {
	q.derive = append(q.derive, j)
	return nil
}
func (q *recordingQueue) PublishInboxSweep(_ context.Context, j *out.InboxSweepJob) error {
	q.sweeps = append(q.sweeps, j)
	return nil
}

type stubPipeline struct{ calls int }

func (p *stubPipeline) ProcessEmail(_ context.Context, e *domain.InboundEmail, _ *domain.Tenant, _ *domain.Property) (*domain.ProcessingRecord, error) {
	p.calls++
	return &domain.ProcessingRecord{Email: e, Classification: &domain.ClassificationResult{Category: domain.CategoryRentInquiry}}, nil
}

type stubTriage struct{}

func (stubTriage) Run(_ context.Context, e *domain.InboundEmail) (*in.TriageResult, error) {
	return &in.TriageResult{EmailID: e.ID, Label: "spam"}, nil
}

type stubDocuments struct {
	artifacts []*domain.DocumentArtifact
	events    []*domain.CalendarEvent
	extract   bool
	// last UserArtifacts query
	feedUser  string
	feedKind  domain.ArtifactKind
	feedLimit int
}

func (d *stubDocuments) ProcessDocument(_ context.Context, id, _, userID string) (*domain.DocumentArtifact, error) {
	if !d.extract {
		return nil, nil
	}
	return &domain.DocumentArtifact{ID: "a1", DocumentID: id, UserID: userID, Kind: domain.ArtifactLegalMetadata}, nil
}
func (d *stubDocuments) Summarize(_ context.Context, id, _, userID string) (*domain.DocumentArtifact, error) {
	return &domain.DocumentArtifact{DocumentID: id, UserID: userID, Kind: domain.ArtifactSummary, Output: "short"}, nil
}
func (d *stubDocuments) AnswerQuestion(_ context.Context, id, _, q, userID string) (*domain.DocumentArtifact, error) {
	return &domain.DocumentArtifact{DocumentID: id, UserID: userID, Kind: domain.ArtifactQA, Question: &q}, nil
}
func (d *stubDocuments) AnalyzeForParty(_ context.Context, id, _, party, userID string) (*domain.DocumentArtifact, error) {
	return &domain.DocumentArtifact{DocumentID: id, UserID: userID, Kind: domain.ArtifactAnalysis, Party: &party}, nil
}
func (d *stubDocuments) Artifacts(context.Context, string) ([]*domain.DocumentArtifact, error) {
	return d.artifacts, nil
}
func (d *stubDocuments) UserArtifacts(_ context.Context, userID string, kind domain.ArtifactKind, limit int) ([]*domain.DocumentArtifact, error) {
	d.feedUser, d.feedKind, d.feedLimit = userID, kind, limit
	var res []*domain.DocumentArtifact
	for _, a := range d.artifacts {
		if a.UserID == userID && (kind == "" || a.Kind == kind) {
			res = append(res, a)
		}
	}
	return res, nil
}
func (d *stubDocuments) Events(context.Context, string) ([]*domain.CalendarEvent, error) {
	return d.events, nil
}

type stubNotifications struct{ known string }

func (n stubNotifications) List(context.Context, string, bool, int) ([]*domain.Notification, error) {
	return []*domain.Notification{{ID: "n1", Title: "Hearing scheduled"}}, nil
}
func (n stubNotifications) MarkAsRead(_ context.Context, _, id string) error {
	if id != n.known {
		return persistence.ErrNotFound
	}
	return nil
}

type stubStream struct{}

func (stubStream) Subscribe(string) (<-chan *domain.RealtimeEvent, func()) {
	ch := make(chan *domain.RealtimeEvent)
	close(ch)
	return ch, func() {}
}
func (stubStream) HeartbeatInterval() time.Duration { return time.Second }

// =============================================================================
// Harness
// =============================================================================

type registrar interface{ Register(fiber.Router) }

func newTestApp(handlers ...registrar) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	app.Use(func(c *fiber.Ctx) error {
		if user := c.Get("X-Test-User"); user != "" {
			c.Locals(middleware.LocalUserID, user)
		}
		return c.Next()
	})
	for _, h := range handlers {
		h.Register(app)
	}
	return app
}

func do(t *testing.T, app *fiber.App, method, path, user, body string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(raw)
}

// =============================================================================
// Tests
// =============================================================================

func TestEmailHandler(t *testing.T) {
	pipeline := &stubPipeline{}
	queue := &recordingQueue{}
	app := newTestApp(NewEmailHandler(pipeline, stubTriage{}, nil, queue))

	tests := []struct {
		name   string
		path   string
		user   string
		body   string
		status int
		want   string
	}{
		{"inline", "/emails/process", "u1", `{"email":{"id":"e1","from":"a@b.com","subject":"rent"}}`, 200, "rent_inquiry"},
		{"async", "/emails/process?async=true", "u1", `{"email":{"from":"a@b.com"}}`, 202, `"queued":true`},
		{"missing from", "/emails/process", "u1", `{"email":{"subject":"x"}}`, 400, "MISSING_FIELD"},
		{"bad body", "/emails/process", "u1", `{`, 400, "BAD_REQUEST"},
		{"anonymous", "/emails/process", "", `{"email":{"from":"a@b.com"}}`, 401, "UNAUTHORIZED"},
		{"triage", "/emails/triage", "u1", `{"from":"a@b.com","subject":"win"}`, 200, `"label":"spam"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, "POST", tt.path, tt.user, tt.body)
			if status != tt.status || !strings.Contains(body, tt.want) {
				t.Errorf("got %d %s, want %d containing %q", status, body, tt.status, tt.want)
			}
		})
	}

	if pipeline.calls != 1 {
		t.Errorf("expected one inline run, got %d", pipeline.calls)
	}
	if len(queue.emails) != 1 || queue.emails[0].Email.ID == "" {
		t.Errorf("expected a queued email with an assigned id, got %+v", queue.emails)
	}
}

func TestDocumentHandler(t *testing.T) {
	docs := &stubDocuments{
		artifacts: []*domain.DocumentArtifact{
			{ID: "mine", UserID: "u1"},
			{ID: "theirs", UserID: "u2"},
		},
	}
	queue := &recordingQueue{}
	uploads := t.TempDir()
	for _, name := range []string{"d1.pdf", "d1.txt"} {
		if err := os.WriteFile(filepath.Join(uploads, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	pdfPath, _ := filepath.EvalSymlinks(filepath.Join(uploads, "d1.pdf"))
	app := newTestApp(NewDocumentHandler(docs, nil, queue, pathguard.New(uploads)))

	status, body := do(t, app, "POST", "/documents/d1/process", "u1", `{"text":"SUMMONS"}`)
	if status != 200 || !strings.Contains(body, `"extracted":false`) {
		t.Errorf("unparseable extraction: got %d %s", status, body)
	}

	docs.extract = true
	status, body = do(t, app, "POST", "/documents/d1/process", "u1", `{"text":"SUMMONS"}`)
	if status != 200 || !strings.Contains(body, `"extracted":true`) {
		t.Errorf("extraction: got %d %s", status, body)
	}

	status, body = do(t, app, "POST", "/documents/d1/qa", "u1", `{"text":"t"}`)
	if status != 400 || !strings.Contains(body, "question") {
		t.Errorf("qa without question: got %d %s", status, body)
	}

	status, _ = do(t, app, "POST", "/documents/d1/analyze", "u1", `{"text":"t","party":"landlord"}`)
	if status != 201 {
		t.Errorf("analyze: got %d", status)
	}

	status, _ = do(t, app, "POST", "/documents/d1/ocr", "u1", fmt.Sprintf(`{"path":%q}`, filepath.Join(uploads, "d1.pdf")))
	if status != 202 || len(queue.ocr) != 1 || queue.ocr[0].UserID != "u1" || queue.ocr[0].PDFPath != pdfPath {
		t.Errorf("ocr enqueue: got %d %+v", status, queue.ocr)
	}

	status, _ = do(t, app, "POST", "/documents/d1/derive", "u1", `{"text_path":"d1.txt"}`)
	if status != 400 {
		t.Errorf("derive with nothing requested: got %d", status)
	}
	status, _ = do(t, app, "POST", "/documents/d1/derive", "u1", `{"text_path":"d1.txt","parties":["tenant"]}`)
	if status != 202 || len(queue.derive) != 1 || filepath.Base(queue.derive[0].TextPath) != "d1.txt" {
		t.Errorf("derive enqueue: got %d %+v", status, queue.derive)
	}

	status, body = do(t, app, "GET", "/documents/d1/artifacts", "u1", "")
	if status != 200 || !strings.Contains(body, "mine") || strings.Contains(body, "theirs") {
		t.Errorf("artifacts must be filtered to the caller: %s", body)
	}

	status, _ = do(t, app, "GET", "/cases/CV-1/documents", "u1", "")
	if status != 404 {
		t.Errorf("case lookup without an index: got %d", status)
	}
}

func TestUserArtifacts(t *testing.T) {
	docs := &stubDocuments{artifacts: []*domain.DocumentArtifact{
		{ID: "sum-1", UserID: "u1", Kind: domain.ArtifactSummary},
		{ID: "cls-1", UserID: "u1", Kind: domain.ArtifactClassification},
		{ID: "sum-2", UserID: "u2", Kind: domain.ArtifactSummary},
	}}
	app := newTestApp(NewDocumentHandler(docs, nil, &recordingQueue{}, nil))

	tests := []struct {
		name      string
		query     string
		status    int
		contains  []string
		excludes  []string
		wantKind  domain.ArtifactKind
		wantLimit int
	}{
		{"all kinds", "", 200, []string{"sum-1", "cls-1"}, []string{"sum-2"}, "", 50},
		{"filtered by kind", "?kind=summary&limit=10", 200, []string{"sum-1"}, []string{"cls-1", "sum-2"}, domain.ArtifactSummary, 10},
		{"limit capped", "?limit=5000", 200, nil, nil, "", maxArtifactPage},
		{"unknown kind", "?kind=secrets", 400, []string{"unknown artifact kind"}, nil, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs.feedUser, docs.feedKind, docs.feedLimit = "", "", 0
			status, body := do(t, app, "GET", "/artifacts"+tt.query, "u1", "")
			if status != tt.status {
				t.Fatalf("expected %d, got %d %s", tt.status, status, body)
			}
			for _, s := range tt.contains {
				if !strings.Contains(body, s) {
					t.Errorf("expected %q in %s", s, body)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(body, s) {
					t.Errorf("unexpected %q in %s", s, body)
				}
			}
			if tt.status == 200 && (docs.feedUser != "u1" || docs.feedKind != tt.wantKind || docs.feedLimit != tt.wantLimit) {
				t.Errorf("unexpected query user=%q kind=%q limit=%d", docs.feedUser, docs.feedKind, docs.feedLimit)
			}
		})
	}

	if status, _ := do(t, app, "GET", "/artifacts", "", ""); status != 401 {
		t.Errorf("anonymous feed: got %d", status)
	}
}

func TestDocumentHandlerRejectsPathsOutsideUploads(t *testing.T) {
	uploads := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	queue := &recordingQueue{}
	app := newTestApp(NewDocumentHandler(&stubDocuments{}, nil, queue, pathguard.New(uploads)))

	paths := []string{
		"/etc/passwd",
		"/proc/self/environ",
		secret,
		filepath.Join(uploads, "..", filepath.Base(outside), "secret.txt"),
		"../" + filepath.Base(outside) + "/secret.txt",
		filepath.Join(uploads, "missing.pdf"),
	}
	for _, p := range paths {
		status, body := do(t, app, "POST", "/documents/d1/ocr", "u1", fmt.Sprintf(`{"path":%q}`, p))
		if status != 400 || !strings.Contains(body, "uploaded file") {
			t.Errorf("ocr %q: got %d %s", p, status, body)
		}
		status, _ = do(t, app, "POST", "/documents/d1/derive", "u1", fmt.Sprintf(`{"text_path":%q,"summarize":true}`, p))
		if status != 400 {
			t.Errorf("derive %q: got %d", p, status)
		}
	}
	if len(queue.ocr) != 0 || len(queue.derive) != 0 {
		t.Errorf("rejected paths were queued: ocr=%+v derive=%+v", queue.ocr, queue.derive)
	}
}

func TestCalendarICS(t *testing.T) {
	docs := &stubDocuments{events: []*domain.CalendarEvent{{
		ID:       "CV-1_summons_20261101T090000_u1",
		Title:    "Hearing CV-1",
		StartsAt: time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC),
	}}}
	app := newTestApp(NewDocumentHandler(docs, nil, &recordingQueue{}, nil))

	req := httptest.NewRequest("GET", "/calendar/events.ics", nil)
	req.Header.Set("X-Test-User", "u1")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(string(raw), "BEGIN:VCALENDAR") || !strings.Contains(string(raw), "CV-1_summons_20261101T090000_u1") {
		t.Errorf("unexpected calendar body:\n%s", raw)
	}
}

func TestNotificationHandler(t *testing.T) {
	app := newTestApp(NewNotificationHandler(stubNotifications{known: "n1"}, stubStream{}, zerolog.Nop()))

	status, body := do(t, app, "GET", "/notifications?unread=true", "u1", "")
	if status != 200 || !strings.Contains(body, "Hearing scheduled") {
		t.Errorf("list: got %d %s", status, body)
	}
	if status, _ := do(t, app, "POST", "/notifications/n1/read", "u1", ""); status != 204 {
		t.Errorf("mark read: got %d", status)
	}
	if status, body := do(t, app, "POST", "/notifications/zz/read", "u1", ""); status != 404 || !strings.Contains(body, "NOT_FOUND") {
		t.Errorf("unknown notification: got %d %s", status, body)
	}

	status, body = do(t, app, "GET", "/notifications/stream", "u1", "")
	if status != 200 || !strings.Contains(body, "event: connected") {
		t.Errorf("stream: got %d %q", status, body)
	}
}

func TestInboxSweep(t *testing.T) {
	queue := &recordingQueue{}
	profiles := []domain.MailboxProfile{{Name: "office", UserID: "u1", Provider: "gmail", Query: "is:unread", MaxMessages: 10}}
	app := newTestApp(NewInboxHandler(profiles, queue))

	tests := []struct {
		name   string
		user   string
		body   string
		status int
	}{
		{"owner", "u1", `{"mailbox":"office"}`, 202},
		{"other user", "u2", `{"mailbox":"office"}`, 404},
		{"unknown", "u1", `{"mailbox":"home"}`, 404},
		{"missing", "u1", `{}`, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := do(t, app, "POST", "/inbox/sweep", tt.user, tt.body); status != tt.status {
				t.Errorf("got %d %s, want %d", status, body, tt.status)
			}
		})
	}
	if len(queue.sweeps) != 1 || queue.sweeps[0].Profile() != profiles[0] {
		t.Errorf("unexpected sweeps %+v", queue.sweeps)
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(NewHealthHandler(map[string]CheckFunc{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return context.DeadlineExceeded },
	}))
	if status, _ := do(t, app, "GET", "/health", "", ""); status != 200 {
		t.Errorf("health: got %d", status)
	}
	status, body := do(t, app, "GET", "/ready", "", "")
	if status != 503 || !strings.Contains(body, "postgres") {
		t.Errorf("ready: got %d %s", status, body)
	}
}
