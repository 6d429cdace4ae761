/**
 * Document Processor for the OCR worker
 *
 * Turns a stored upload into a DocumentResult:
 * - images become a single page, PDFs are rasterized page by page
 * - every page is normalized, recognized and reconstructed into lines
 * - the job flow persists the artifact or records a terminal failure
 */

package processor

import (
	"context"
	"fmt"
	"image"
	"time"
	"unicode/utf8"

	"github.com/receiptflow/ocr-worker/internal/errors"
	"github.com/receiptflow/ocr-worker/internal/logging"
	"github.com/receiptflow/ocr-worker/internal/ocr"
	"github.com/receiptflow/ocr-worker/internal/raster"
	"github.com/receiptflow/ocr-worker/internal/storage"
)

// maxFailureMessageLen bounds the message recorded on a failed document.
const maxFailureMessageLen = 500

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, documentID string) error
}

// PageNormalizer prepares a page raster for recognition.
type PageNormalizer interface {
	Normalize(img image.Image) (*image.Gray, error)
}

// ResultStore loads documents and records processing outcomes.
type ResultStore interface {
	LoadDocument(ctx context.Context, id string) (*storage.Document, []byte, error)
	MarkProcessing(ctx context.Context, id string) error
	StoreResult(ctx context.Context, id string, result *ocr.DocumentResult) error
	MarkFailed(ctx context.Context, id, message string) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Engine     ocr.Engine
	Rasterizer raster.Rasterizer
	Normalizer PageNormalizer
	Store      ResultStore // optional; required only by ProcessDocument
}

// Source is one document to process.
type Source struct {
	DocumentID string
	MimeType   string
	Data       []byte
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	engine     ocr.Engine
	rasterizer raster.Rasterizer
	normalizer PageNormalizer
	store      ResultStore
	logger     *logging.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("recognition engine is required")
	}
	if cfg.Rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}
	if cfg.Normalizer == nil {
		return nil, fmt.Errorf("normalizer is required")
	}

	return &DocumentProcessor{
		engine:     cfg.Engine,
		rasterizer: cfg.Rasterizer,
		normalizer: cfg.Normalizer,
		store:      cfg.Store,
		logger:     logging.NewLogger("processor"),
	}, nil
}

// Process runs the pipeline on one source. Any fatal error aborts the whole
// document; no partial result is returned.
func (p *DocumentProcessor) Process(ctx context.Context, src *Source) (*ocr.DocumentResult, error) {
	if src == nil {
		return nil, fmt.Errorf("source is required")
	}
	log := p.logger.With("documentId", src.DocumentID)
	startTime := time.Now()

	mediaType := raster.ResolveMediaType(src.MimeType, src.Data)
	if mediaType != raster.NormalizeMediaType(src.MimeType) {
		log.Info("Corrected media type from magic bytes", "declared", src.MimeType, "detected", mediaType)
	}

	var rasters []image.Image
	switch {
	case raster.IsImage(mediaType):
		img, _, err := raster.DecodeImage(src.Data)
		if err != nil {
			return nil, withDocumentID(err, src.DocumentID)
		}
		rasters = []image.Image{img}

	case mediaType == raster.MediaTypePDF:
		pages, err := p.rasterizer.Rasterize(ctx, src.Data)
		if err != nil {
			return nil, withDocumentID(err, src.DocumentID)
		}
		rasters = pages

	default:
		return nil, errors.NewUnsupportedMediaError(src.DocumentID, mediaType)
	}

	result := &ocr.DocumentResult{
		Engine: p.engine.Name(),
		Pages:  make([]ocr.PageResult, 0, len(rasters)),
	}

	for i, img := range rasters {
		page, err := p.processPage(ctx, src.DocumentID, i+1, img)
		if err != nil {
			return nil, err
		}
		result.Pages = append(result.Pages, *page)
	}

	log.Info("Document processed",
		"mediaType", mediaType,
		"pages", len(result.Pages),
		"words", result.WordCount(),
		"durationMs", time.Since(startTime).Milliseconds(),
	)
	return result, nil
}

// processPage runs normalize, recognize and reconstruct for one raster.
func (p *DocumentProcessor) processPage(ctx context.Context, documentID string, pageIndex int, img image.Image) (*ocr.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, err := p.normalizer.Normalize(img)
	if err != nil {
		return nil, withDocumentID(err, documentID)
	}

	raw, err := p.engine.Recognize(ctx, normalized)
	if err != nil {
		return nil, errors.NewRecognitionError(documentID, p.engine.Name(), pageIndex, err)
	}

	page, warnings := ocr.Reconstruct(raw, pageIndex)
	for _, w := range warnings {
		p.logger.Warn(w.Message,
			"documentId", documentID,
			"pageIndex", pageIndex,
			"code", w.Code,
			"cause", w.Cause,
		)
	}

	p.logger.Debug("Page recognized",
		"documentId", documentID,
		"pageIndex", pageIndex,
		"rawTokens", len(raw),
		"words", len(page.Items),
	)
	return page, nil
}

// ProcessDocument loads a stored document, processes it and records the
// outcome. A document that fails is marked failed and not retried.
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, documentID string) error {
	if p.store == nil {
		return fmt.Errorf("result store is not configured")
	}
	log := p.logger.With("documentId", documentID)

	doc, data, err := p.store.LoadDocument(ctx, documentID)
	if err != nil {
		return err
	}

	if err := p.store.MarkProcessing(ctx, documentID); err != nil {
		return fmt.Errorf("failed to mark document processing: %w", err)
	}
	log.Info("Starting OCR", "mimeType", doc.MimeType, "sizeBytes", doc.SizeBytes)

	result, err := p.Process(ctx, &Source{
		DocumentID: documentID,
		MimeType:   doc.MimeType,
		Data:       data,
	})
	if err != nil {
		p.recordFailure(ctx, documentID, err)
		return err
	}

	if err := p.store.StoreResult(ctx, documentID, result); err != nil {
		storeErr := errors.NewStorageFailedError(documentID, err)
		p.recordFailure(ctx, documentID, storeErr)
		return storeErr
	}

	log.Info("OCR result stored", "pages", len(result.Pages), "words", result.WordCount())
	return nil
}

func (p *DocumentProcessor) recordFailure(ctx context.Context, documentID string, cause error) {
	message := FailureMessage(cause)
	p.logger.Error("OCR failed", "documentId", documentID, "error", message)

	// Record the failure even if the job context was cancelled.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.store.MarkFailed(markCtx, documentID, message); err != nil {
		p.logger.Error("Failed to record failure", "documentId", documentID, "error", err)
	}
}

// FailureMessage renders err as "OCR failed: <kind>: <message>", bounded
// to the width of the error_message column.
func FailureMessage(err error) string {
	msg := "OCR failed: " + errors.Describe(err)
	if utf8.RuneCountInString(msg) > maxFailureMessageLen {
		msg = string([]rune(msg)[:maxFailureMessageLen])
	}
	return msg
}

// withDocumentID attaches the document ID to structured errors raised below
// the processor, which do not know it.
func withDocumentID(err error, documentID string) error {
	if pe, ok := err.(*errors.ProcessingError); ok && pe.DocumentID == "" {
		pe.DocumentID = documentID
	}
	return err
}
