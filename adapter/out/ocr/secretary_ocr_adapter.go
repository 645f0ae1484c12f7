// Package ocr shells out to ocrmypdf to produce a plain-text sidecar.
package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"secretary_server/core/port/out"
	"secretary_server/pkg/apperr"
)

// runFunc executes a command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Adapter implements out.OCRService.
type Adapter struct {
	binary  string
	workDir string
	run     runFunc
	log     zerolog.Logger
}

// NewAdapter creates an OCR adapter. An empty workDir writes outputs next
// to the input PDF.
func NewAdapter(binary, workDir string, log zerolog.Logger) *Adapter {
	if binary == "" {
		binary = "ocrmypdf"
	}
	return &Adapter{
		binary:  binary,
		workDir: workDir,
		run:     execRun,
		log:     log.With().Str("component", "ocr").Logger(),
	}
}

var _ out.OCRService = (*Adapter)(nil)

// ExtractText validates the PDF, runs OCR and returns the sidecar path.
// Every failure is an ATTACHMENT_PROCESSING error.
func (a *Adapter) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	pages, err := inspectPDF(pdfPath)
	if err != nil {
		return "", apperr.AttachmentProcessing(pdfPath, err)
	}

	sidecar, ocrPDF := a.outputPaths(pdfPath)
	if err := os.MkdirAll(filepath.Dir(sidecar), 0o755); err != nil {
		return "", apperr.AttachmentProcessing(pdfPath, err)
	}

	output, err := a.run(ctx, a.binary, ocrArgs(pdfPath, sidecar, ocrPDF)...)
	if err != nil {
		return "", apperr.AttachmentProcessing(pdfPath,
			fmt.Errorf("%s failed: %w: %s", a.binary, err, strings.TrimSpace(string(output))))
	}
	if _, err := os.Stat(sidecar); err != nil {
		return "", apperr.AttachmentProcessing(pdfPath, fmt.Errorf("sidecar not written: %w", err))
	}

	a.log.Info().Str("pdf", pdfPath).Int("pages", pages).Str("sidecar", sidecar).Msg("OCR complete")
	return sidecar, nil
}

// ocrArgs builds the ocrmypdf command line. --force-ocr rasterizes pages
// that already carry text; with --skip-text the sidecar holds only a
// "[OCR skipped on page(s) N]" marker for them.
func ocrArgs(pdfPath, sidecar, ocrPDF string) []string {
	return []string{"--force-ocr", "--sidecar", sidecar, pdfPath, ocrPDF}
}

// outputPaths returns <base>.txt and <base>.ocr.pdf.
func (a *Adapter) outputPaths(pdfPath string) (sidecar, ocrPDF string) {
	dir := filepath.Dir(pdfPath)
	if a.workDir != "" {
		dir = a.workDir
	}
	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	return filepath.Join(dir, base+".txt"), filepath.Join(dir, base+".ocr.pdf")
}

// inspectPDF rejects files pdfcpu cannot read, before spending time on OCR.
func inspectPDF(path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, fmt.Errorf("invalid pdf: %w", err)
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}
