/**
 * PostgreSQL Client for the OCR worker
 *
 * Persists the documents table: upload metadata, processing status, the
 * aggregated transcript and the location of the JSON artifact.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/lib/pq"

	"github.com/receiptflow/ocr-worker/internal/errors"
)

// Document statuses
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// maxErrorMessageLen matches the error_message column width.
const maxErrorMessageLen = 500

// Document is one row of the documents table.
type Document struct {
	ID               string
	OriginalFilename string
	MimeType         string
	StoragePath      string // relative to the storage root
	SHA256           string
	SizeBytes        int64
	Status           string
	OCRTextPlain     string
	OCRJSONPath      string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentRepository is the subset of document persistence the storage
// manager coordinates with the artifact store.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkProcessed(ctx context.Context, id, textPlain, jsonPath string) error
	MarkFailed(ctx context.Context, id, message string) error
}

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		id                VARCHAR(36) PRIMARY KEY,
		original_filename VARCHAR(255) NOT NULL,
		mime_type         VARCHAR(100) NOT NULL,
		storage_path      VARCHAR(500) NOT NULL,
		sha256            VARCHAR(64) NOT NULL,
		size_bytes        BIGINT NOT NULL,
		status            VARCHAR(20) NOT NULL DEFAULT 'uploaded',
		ocr_text_plain    TEXT,
		ocr_json_path     VARCHAR(500),
		error_message     VARCHAR(500),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS ix_documents_sha256 ON documents (sha256);
	CREATE INDEX IF NOT EXISTS ix_documents_status ON documents (status);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the documents table when it does not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create documents schema: %w", err)
	}
	return nil
}

// CreateDocument inserts a freshly uploaded document.
func (p *PostgresClient) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}

	query := `
		INSERT INTO documents (
			id, original_filename, mime_type, storage_path,
			sha256, size_bytes, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := p.db.QueryRowContext(
		ctx,
		query,
		doc.ID,
		truncateRunes(doc.OriginalFilename, 255),
		doc.MimeType,
		doc.StoragePath,
		doc.SHA256,
		doc.SizeBytes,
		doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}

	return nil
}

// GetDocument loads a document by ID. Unknown IDs yield DOCUMENT_NOT_FOUND.
func (p *PostgresClient) GetDocument(ctx context.Context, id string) (*Document, error) {
	if id == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	query := `
		SELECT
			id, original_filename, mime_type, storage_path, sha256, size_bytes,
			status, ocr_text_plain, ocr_json_path, error_message, created_at, updated_at
		FROM documents
		WHERE id = $1
	`

	var (
		doc                               Document
		textPlain, jsonPath, errorMessage sql.NullString
	)

	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.OriginalFilename, &doc.MimeType, &doc.StoragePath, &doc.SHA256, &doc.SizeBytes,
		&doc.Status, &textPlain, &jsonPath, &errorMessage, &doc.CreatedAt, &doc.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, errors.NewDocumentNotFoundError(id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}

	doc.OCRTextPlain = textPlain.String
	doc.OCRJSONPath = jsonPath.String
	doc.ErrorMessage = errorMessage.String

	return &doc, nil
}

// MarkProcessing records that OCR has started and drops the previous
// run's transcript and artifact path.
func (p *PostgresClient) MarkProcessing(ctx context.Context, id string) error {
	return p.updateStatus(ctx, `
		UPDATE documents
		SET status = $2, ocr_text_plain = NULL, ocr_json_path = NULL,
			error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, StatusProcessing)
}

// MarkProcessed stores the transcript and artifact path and clears any
// earlier error.
func (p *PostgresClient) MarkProcessed(ctx context.Context, id, textPlain, jsonPath string) error {
	return p.updateStatus(ctx, `
		UPDATE documents
		SET status = $2, ocr_text_plain = $3, ocr_json_path = $4,
			error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, StatusProcessed, sanitizeTextForPostgres(textPlain), jsonPath)
}

// MarkFailed records a terminal failure with a readable message and
// clears the transcript and artifact path.
func (p *PostgresClient) MarkFailed(ctx context.Context, id, message string) error {
	return p.updateStatus(ctx, `
		UPDATE documents
		SET status = $2, ocr_text_plain = NULL, ocr_json_path = NULL,
			error_message = $3, updated_at = NOW()
		WHERE id = $1
	`, id, StatusFailed, truncateRunes(sanitizeTextForPostgres(message), maxErrorMessageLen))
}

func (p *PostgresClient) updateStatus(ctx context.Context, query, id string, args ...interface{}) error {
	if id == "" {
		return fmt.Errorf("document ID is required")
	}

	res, err := p.db.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	if n == 0 {
		return errors.NewDocumentNotFoundError(id)
	}

	return nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

// sanitizeTextForPostgres drops NUL characters, which PostgreSQL text
// columns reject.
func sanitizeTextForPostgres(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// truncateRunes shortens s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
