package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strings"

	"github.com/receiptflow/ocr-worker/internal/logging"
	"github.com/receiptflow/ocr-worker/internal/ocr"
)

// CLIEngine runs the tesseract binary once per page.
type CLIEngine struct {
	binary         string
	language       string
	tessdataPrefix string
	logger         *logging.Logger
}

// NewCLIEngine creates an engine that shells out to tesseract.
// An empty TesseractPath resolves "tesseract" on PATH.
func NewCLIEngine(cfg Config) *CLIEngine {
	binary := cfg.TesseractPath
	if binary == "" {
		binary = "tesseract"
	}
	return &CLIEngine{
		binary:         binary,
		language:       cfg.Language,
		tessdataPrefix: cfg.TessdataPrefix,
		logger:         logging.NewLogger("tesseract-cli"),
	}
}

func (e *CLIEngine) Name() string { return "tesseract" }

func (e *CLIEngine) args() []string {
	return []string{"stdin", "stdout", "-l", e.language, "--psm", "6", "tsv"}
}

// Recognize pipes the page as PNG into tesseract and parses the TSV report.
func (e *CLIEngine) Recognize(ctx context.Context, page *image.Gray) ([]ocr.RawToken, error) {
	data, err := encodePNG(page)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.binary, e.args()...)
	cmd.Stdin = bytes.NewReader(data)
	if e.tessdataPrefix != "" {
		cmd.Env = append(os.Environ(), "TESSDATA_PREFIX="+e.tessdataPrefix)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", e.binary, err, strings.TrimSpace(stderr.String()))
	}

	tokens, rowErrs, err := ParseTSV(&stdout)
	if err != nil {
		return nil, err
	}
	for _, re := range rowErrs {
		e.logger.Warn("Skipping unreadable TSV row", "line", re.Line, "reason", re.Reason)
	}

	return tokens, nil
}

func (e *CLIEngine) Close() error { return nil }
