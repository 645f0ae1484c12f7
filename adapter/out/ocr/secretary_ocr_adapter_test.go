package ocr

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/rs/zerolog"

	"secretary_server/pkg/apperr"
)

func TestOutputPaths(t *testing.T) {
	tests := []struct {
		workDir, pdf, sidecar, ocrPDF string
	}{
		{"", "/data/in/motion.pdf", "/data/in/motion.txt", "/data/in/motion.ocr.pdf"},
		{"/tmp/ocr", "/data/in/motion.pdf", "/tmp/ocr/motion.txt", "/tmp/ocr/motion.ocr.pdf"},
		{"", "/data/in/scan.v2.PDF", "/data/in/scan.v2.txt", "/data/in/scan.v2.ocr.pdf"},
	}
	for _, tt := range tests {
		a := NewAdapter("", tt.workDir, zerolog.Nop())
		s, o := a.outputPaths(tt.pdf)
		if s != tt.sidecar || o != tt.ocrPDF {
			t.Errorf("outputPaths(%q) = (%q, %q), want (%q, %q)", tt.pdf, s, o, tt.sidecar, tt.ocrPDF)
		}
	}
}

func TestOCRArgsRecognizeTextPages(t *testing.T) {
	args := ocrArgs("/data/in/order.pdf", "/tmp/ocr/order.txt", "/tmp/ocr/order.ocr.pdf")

	if !slices.Contains(args, "--force-ocr") {
		t.Errorf("born-digital pages need --force-ocr, got %v", args)
	}
	for _, flag := range []string{"--skip-text", "--redo-ocr"} {
		if slices.Contains(args, flag) {
			t.Errorf("%s leaves text pages out of the sidecar, got %v", flag, args)
		}
	}
	i := slices.Index(args, "--sidecar")
	if i < 0 || i+1 >= len(args) || args[i+1] != "/tmp/ocr/order.txt" {
		t.Errorf("sidecar not passed, got %v", args)
	}
	if args[len(args)-2] != "/data/in/order.pdf" || args[len(args)-1] != "/tmp/ocr/order.ocr.pdf" {
		t.Errorf("input and output must be last, got %v", args)
	}
}

func TestExtractTextMissingFile(t *testing.T) {
	a := NewAdapter("", t.TempDir(), zerolog.Nop())
	called := false
	a.run = func(context.Context, string, ...string) ([]byte, error) {
		called = true
		return nil, nil
	}

	_, err := a.ExtractText(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	if !apperr.IsAttachmentProcessing(err) {
		t.Fatalf("expected ATTACHMENT_PROCESSING, got %v", err)
	}
	if called {
		t.Error("ocr must not run for a missing file")
	}
}

func TestExtractTextRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, []byte("plain text, not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := NewAdapter("", "", zerolog.Nop())
	a.run = func(context.Context, string, ...string) ([]byte, error) {
		t.Error("ocr must not run for an invalid pdf")
		return nil, nil
	}

	if _, err := a.ExtractText(context.Background(), path); !apperr.IsAttachmentProcessing(err) {
		t.Fatalf("expected ATTACHMENT_PROCESSING, got %v", err)
	}
}
