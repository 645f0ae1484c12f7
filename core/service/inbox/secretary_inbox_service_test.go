package inbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
)

type fakeReader struct {
	messages []*domain.InboundEmail
	seen     []string
	seenErr  map[string]error
	// order records "seen:<id>" and "classify:<subject>" in call order
	order *[]string
}

func (f *fakeReader) ListUnseen(context.Context, domain.MailboxProfile) ([]*domain.InboundEmail, error) {
	return f.messages, nil
}

func (f *fakeReader) MarkSeen(_ context.Context, _ domain.MailboxProfile, id string) error {
	if err := f.seenErr[id]; err != nil {
		return err
	}
	f.seen = append(f.seen, id)
	*f.order = append(*f.order, "seen:"+id)
	return nil
}

type fakeLock struct {
	held     bool
	released []string
}

func (l *fakeLock) Acquire(context.Context, string, time.Duration) (string, error) {
	if l.held {
		return "", nil
	}
	l.held = true
	return "token-1", nil
}

func (l *fakeLock) Release(_ context.Context, _ string, token string) error {
	l.released = append(l.released, token)
	l.held = false
	return nil
}

type classifyLLM struct {
	order   *[]string
	failFor string
}

func (c *classifyLLM) Complete(_ context.Context, prompt string, _ float64) (domain.ModelReply, error) {
	for _, line := range strings.Split(prompt, "\n") {
		if subject, ok := strings.CutPrefix(line, "Email Subject: "); ok {
			*c.order = append(*c.order, "classify:"+subject)
			if subject == c.failFor {
				return domain.ModelReply{}, errors.New("vendor unavailable")
			}
		}
	}
	return domain.ModelReply{Text: `{"category": "rent_inquiry"}`}, nil
}

type memoryArtifacts struct {
	items []*domain.DocumentArtifact
}

func (m *memoryArtifacts) Insert(_ context.Context, a *domain.DocumentArtifact) error {
	m.items = append(m.items, a)
	return nil
}

func (m *memoryArtifacts) ListByDocument(context.Context, string) ([]*domain.DocumentArtifact, error) {
	return m.items, nil
}

func (m *memoryArtifacts) ListByUser(context.Context, string, domain.ArtifactKind, int) ([]*domain.DocumentArtifact, error) {
	return m.items, nil
}

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) SendEmailClassified(_ context.Context, userID, emailID, subject string, category domain.Category) error {
	r.messages = append(r.messages, userID+"|"+subject+"|"+string(category))
	return nil
}

var profile = domain.MailboxProfile{Name: "office", UserID: "u1", Provider: "gmail", Query: "is:unread", MaxMessages: 25}

func newSweeper(reader *fakeReader, lock *fakeLock, fake *classifyLLM) (*Service, *memoryArtifacts, *recordingNotifier) {
	artifacts := &memoryArtifacts{}
	notifier := &recordingNotifier{}
	svc := NewService(Config{
		Reader:    reader,
		Lock:      lock,
		Extractor: llm.NewExtractor(fake),
		Artifacts: artifacts,
		Notifier:  notifier,
		Logger:    zerolog.Nop(),
	})
	return svc, artifacts, notifier
}

func TestSweepInbox(t *testing.T) {
	var order []string
	reader := &fakeReader{
		messages: []*domain.InboundEmail{
			{ID: "m1", From: "a@example.com", Subject: "Rent due?", Body: "How much do I owe?"},
			{ID: "m2", From: "b@example.com", Subject: "Balance", Body: "Please confirm balance."},
		},
		order: &order,
	}
	lock := &fakeLock{}
	svc, artifacts, notifier := newSweeper(reader, lock, &classifyLLM{order: &order})

	n, err := svc.SweepInbox(context.Background(), profile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 processed, got %d", n)
	}
	if len(artifacts.items) != 2 || artifacts.items[0].Kind != domain.ArtifactClassification || artifacts.items[0].Category != domain.CategoryRentInquiry {
		t.Errorf("unexpected artifacts %+v", artifacts.items)
	}
	if len(notifier.messages) != 2 || notifier.messages[0] != "u1|Rent due?|rent_inquiry" {
		t.Errorf("unexpected notifications %v", notifier.messages)
	}

	want := []string{"seen:m1", "classify:Rent due?", "seen:m2", "classify:Balance"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("expected each message marked seen before classification, got %v", order)
	}
	if len(lock.released) != 1 || lock.released[0] != "token-1" {
		t.Errorf("expected lock released with its token, got %v", lock.released)
	}
}

func TestSweepInboxLockHeld(t *testing.T) {
	var order []string
	reader := &fakeReader{messages: []*domain.InboundEmail{{ID: "m1"}}, order: &order}
	lock := &fakeLock{held: true}
	svc, artifacts, _ := newSweeper(reader, lock, &classifyLLM{order: &order})

	n, err := svc.SweepInbox(context.Background(), profile)
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
	if len(reader.seen) != 0 || len(artifacts.items) != 0 {
		t.Error("a held lock must not touch the mailbox")
	}
}

func TestSweepInboxContinuesPastFailures(t *testing.T) {
	var order []string
	reader := &fakeReader{
		messages: []*domain.InboundEmail{
			{ID: "m1", Subject: "first"},
			{ID: "m2", Subject: "second"},
			{ID: "m3", Subject: "third"},
		},
		seenErr: map[string]error{"m3": errors.New("gmail 500")},
		order:   &order,
	}
	svc, artifacts, _ := newSweeper(reader, &fakeLock{}, &classifyLLM{order: &order, failFor: "first"})

	n, err := svc.SweepInbox(context.Background(), profile)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(artifacts.items) != 1 || artifacts.items[0].DocumentID != "m2" {
		t.Errorf("expected only m2 processed, got %d (%+v)", n, artifacts.items)
	}
	if len(reader.seen) != 2 {
		t.Errorf("expected m1 and m2 marked seen, got %v", reader.seen)
	}
}
