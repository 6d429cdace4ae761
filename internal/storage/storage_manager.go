/**
 * Storage Manager for the OCR worker
 *
 * Coordinates the documents table (PostgreSQL) and the file store (originals
 * and JSON artifacts). A document is either fully processed, with artifact
 * and row in agreement, or marked failed; no half-updated state is kept.
 */

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/receiptflow/ocr-worker/internal/errors"
	"github.com/receiptflow/ocr-worker/internal/logging"
	"github.com/receiptflow/ocr-worker/internal/ocr"
	"github.com/receiptflow/ocr-worker/internal/raster"
)

// StorageManager coordinates PostgreSQL and file store operations
type StorageManager struct {
	documents DocumentRepository
	files     *FileStore
	postgres  *PostgresClient // nil when documents is not PostgreSQL-backed
	logger    *logging.Logger
}

// IngestRequest describes an upload to store.
type IngestRequest struct {
	Filename string
	MimeType string
	Content  io.Reader
	MaxSize  int64
}

// NewStorageManager connects to PostgreSQL, ensures the schema and opens
// the file store under storageDir.
func NewStorageManager(ctx context.Context, databaseURL, storageDir string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close()
		return nil, err
	}

	files, err := NewFileStore(storageDir)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to initialize file store: %w", err)
	}

	sm := NewStorageManagerWith(postgres, files)
	sm.postgres = postgres
	return sm, nil
}

// NewStorageManagerWith builds a manager over an existing repository and file store.
func NewStorageManagerWith(documents DocumentRepository, files *FileStore) *StorageManager {
	return &StorageManager{
		documents: documents,
		files:     files,
		logger:    logging.NewLogger("storage"),
	}
}

// IsAcceptedMediaType reports whether uploads of this type can be
// processed: PDFs and the raster formats the worker decodes.
func IsAcceptedMediaType(mimeType string) bool {
	return raster.IsImage(mimeType) || raster.NormalizeMediaType(mimeType) == raster.MediaTypePDF
}

// IngestDocument stores an upload under a new document ID and records it
// with status "uploaded".
func (sm *StorageManager) IngestDocument(ctx context.Context, req *IngestRequest) (*Document, error) {
	if req == nil || req.Content == nil {
		return nil, fmt.Errorf("content is required")
	}
	if !IsAcceptedMediaType(req.MimeType) {
		return nil, errors.NewUnsupportedMediaError("", req.MimeType)
	}

	id := uuid.New().String()

	stored, err := sm.files.SaveOriginal(id, req.Filename, req.MimeType, req.Content, req.MaxSize)
	if err != nil {
		return nil, errors.NewStorageFailedError(id, err)
	}

	doc := &Document{
		ID:               id,
		OriginalFilename: stored.OriginalFilename,
		MimeType:         stored.MimeType,
		StoragePath:      stored.RelativePath,
		SHA256:           stored.SHA256,
		SizeBytes:        stored.SizeBytes,
		Status:           StatusUploaded,
	}

	if err := sm.documents.CreateDocument(ctx, doc); err != nil {
		if rmErr := sm.files.RemoveDocument(id); rmErr != nil {
			sm.logger.Error("Failed to clean up after insert failure", "documentId", id, "error", rmErr)
		}
		return nil, errors.NewStorageFailedError(id, err)
	}

	sm.logger.Info("Document ingested",
		"documentId", id,
		"mimeType", doc.MimeType,
		"sizeBytes", doc.SizeBytes,
		"sha256", doc.SHA256,
	)
	return doc, nil
}

// LoadDocument returns the row and original bytes for a document.
func (sm *StorageManager) LoadDocument(ctx context.Context, id string) (*Document, []byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil, errors.NewDocumentNotFoundError(id)
	}

	doc, err := sm.documents.GetDocument(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	data, err := sm.files.ReadOriginal(doc.StoragePath)
	if err != nil {
		return nil, nil, errors.NewStorageFailedError(id, err)
	}
	return doc, data, nil
}

// GetDocument returns a document row.
func (sm *StorageManager) GetDocument(ctx context.Context, id string) (*Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NewDocumentNotFoundError(id)
	}
	return sm.documents.GetDocument(ctx, id)
}

// MarkProcessing records that OCR has started.
func (sm *StorageManager) MarkProcessing(ctx context.Context, id string) error {
	return sm.documents.MarkProcessing(ctx, id)
}

// StoreResult stages the artifact, records the transcript and artifact
// path, then publishes the artifact. If the row cannot be updated the
// staged file is dropped and any earlier artifact stays untouched; the
// row no longer references it because MarkProcessing cleared the path.
func (sm *StorageManager) StoreResult(ctx context.Context, id string, result *ocr.DocumentResult) error {
	staged, err := sm.files.StageOCRResult(id, result)
	if err != nil {
		return err
	}

	if err := sm.documents.MarkProcessed(ctx, id, result.AggregatedText(), staged.Path()); err != nil {
		if rmErr := staged.Discard(); rmErr != nil {
			sm.logger.Error("Failed to discard staged artifact", "documentId", id, "error", rmErr)
		}
		return err
	}

	if err := staged.Commit(); err != nil {
		// The caller marks the document failed, which clears the path.
		return err
	}

	return nil
}

// MarkFailed records a terminal failure and drops any artifact left by
// an earlier run, since the row no longer points at it.
func (sm *StorageManager) MarkFailed(ctx context.Context, id, message string) error {
	if err := sm.documents.MarkFailed(ctx, id, message); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if err := sm.files.RemoveOCRResult(id); err != nil {
		sm.logger.Warn("Failed to remove stale artifact", "documentId", id, "error", err)
	}
	return nil
}

// ReadOCRResult loads a document's JSON artifact.
func (sm *StorageManager) ReadOCRResult(id string) (*ocr.DocumentResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NewDocumentNotFoundError(id)
	}
	return sm.files.ReadOCRResult(id)
}

// GetStats returns connection pool statistics
func (sm *StorageManager) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"storage_root": sm.files.Root(),
	}
	if sm.postgres != nil {
		pgStats := sm.postgres.GetStats()
		stats["postgres"] = map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		}
	}
	return stats
}

// Ping checks the database connection and that the storage root is reachable.
func (sm *StorageManager) Ping(ctx context.Context) error {
	if sm.postgres != nil {
		if err := sm.postgres.Ping(ctx); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
	}
	if _, err := os.Stat(sm.files.Root()); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	if sm.postgres != nil {
		if err := sm.postgres.Close(); err != nil {
			return fmt.Errorf("failed to close PostgreSQL: %w", err)
		}
	}
	return nil
}

// IngestBytes is IngestDocument for in-memory content.
func (sm *StorageManager) IngestBytes(ctx context.Context, filename, mimeType string, data []byte, maxSize int64) (*Document, error) {
	return sm.IngestDocument(ctx, &IngestRequest{
		Filename: filename,
		MimeType: mimeType,
		Content:  bytes.NewReader(data),
		MaxSize:  maxSize,
	})
}
