package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/receiptflow/ocr-worker/internal/errors"
	"github.com/receiptflow/ocr-worker/internal/logging"
)

// DefaultDPI renders pages at twice the 72 dpi PDF user space.
const DefaultDPI = 144

// Rasterizer renders every page of a PDF, in document order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]image.Image, error)
}

// PopplerRasterizer validates PDFs with pdfcpu and renders them with pdftoppm.
type PopplerRasterizer struct {
	binary string
	dpi    int
	logger *logging.Logger
}

// NewPopplerRasterizer creates a rasterizer. An empty binary resolves
// "pdftoppm" on PATH; a non-positive dpi uses DefaultDPI.
func NewPopplerRasterizer(binary string, dpi int) *PopplerRasterizer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &PopplerRasterizer{
		binary: binary,
		dpi:    dpi,
		logger: logging.NewLogger("rasterizer"),
	}
}

// PageCount reads the page tree without rendering.
func PageCount(pdf []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(bytes.NewReader(pdf), conf)
	if err != nil {
		return 0, errors.NewDecodeError("", "pdf parse", err)
	}
	return n, nil
}

// Rasterize renders every page. A PDF without pages yields no images.
func (r *PopplerRasterizer) Rasterize(ctx context.Context, pdf []byte) ([]image.Image, error) {
	if len(pdf) == 0 {
		return nil, errors.NewDecodeError("", "pdf parse", fmt.Errorf("empty input"))
	}

	pageCount, err := PageCount(pdf)
	if err != nil {
		return nil, err
	}
	if pageCount == 0 {
		return []image.Image{}, nil
	}

	workDir, err := os.MkdirTemp("", "ocr-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	input := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(input, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}

	prefix := filepath.Join(workDir, "page")
	cmd := exec.CommandContext(ctx, r.binary, "-r", strconv.Itoa(r.dpi), "-png", input, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewDecodeError("", "pdf render",
			fmt.Errorf("%s: %w: %s", r.binary, err, strings.TrimSpace(stderr.String())))
	}

	files, err := pageFiles(workDir)
	if err != nil {
		return nil, err
	}
	if len(files) != pageCount {
		return nil, errors.NewDecodeError("", "pdf render",
			fmt.Errorf("rendered %d pages, document has %d", len(files), pageCount))
	}

	pages := make([]image.Image, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(workDir, f))
		if err != nil {
			return nil, fmt.Errorf("failed to read rendered page: %w", err)
		}
		img, _, err := DecodeImage(data)
		if err != nil {
			return nil, err
		}
		pages = append(pages, img)
	}

	r.logger.Debug("PDF rasterized", "pages", len(pages), "dpi", r.dpi)
	return pages, nil
}

// pageFiles lists pdftoppm outputs ("page-1.png", "page-01.png", ...)
// ordered by page number.
func pageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered pages: %w", err)
	}

	type numbered struct {
		name string
		n    int
	}
	var pages []numbered
	for _, e := range entries {
		if n, ok := pageNumber(e.Name()); ok {
			pages = append(pages, numbered{e.Name(), n})
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	names := make([]string, len(pages))
	for i, p := range pages {
		names[i] = p.name
	}
	return names, nil
}

func pageNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, "page-") || !strings.HasSuffix(name, ".png") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page-"), ".png"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
