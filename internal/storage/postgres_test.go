package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/receiptflow/ocr-worker/internal/errors"
)

func TestTruncateRunes(t *testing.T) {
	long := strings.Repeat("è", 600)
	got := truncateRunes(long, maxErrorMessageLen)
	if utf8.RuneCountInString(got) != maxErrorMessageLen || !utf8.ValidString(got) {
		t.Fatalf("truncateRunes() = %d runes, valid=%v", utf8.RuneCountInString(got), utf8.ValidString(got))
	}
	if truncateRunes("short", 10) != "short" {
		t.Fatal("short string modified")
	}
}

func TestSanitizeTextForPostgres(t *testing.T) {
	if got := sanitizeTextForPostgres("TOT\x00 12.34"); got != "TOT 12.34" {
		t.Fatalf("sanitizeTextForPostgres() = %q", got)
	}
}

// TestPostgresLifecycle runs against a real database when TEST_DATABASE_URL is set.
func TestPostgresLifecycle(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pg, err := NewPostgresClient(url)
	if err != nil {
		t.Fatalf("NewPostgresClient() error = %v", err)
	}
	defer pg.Close()

	if err := pg.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	doc := &Document{
		ID:               uuid.New().String(),
		OriginalFilename: "r.png",
		MimeType:         "image/png",
		StoragePath:      "documents/x/original.png",
		SHA256:           strings.Repeat("a", 64),
		SizeBytes:        10,
	}
	if err := pg.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}

	if err := pg.MarkProcessing(ctx, doc.ID); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	if err := pg.MarkFailed(ctx, doc.ID, strings.Repeat("x", 900)); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	got, err := pg.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got.Status != StatusFailed || len(got.ErrorMessage) != maxErrorMessageLen {
		t.Fatalf("after MarkFailed: status=%s len(error)=%d", got.Status, len(got.ErrorMessage))
	}

	if err := pg.MarkProcessed(ctx, doc.ID, "A", "documents/x/ocr_result.json"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	got, err = pg.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got.Status != StatusProcessed || got.OCRTextPlain != "A" || got.ErrorMessage != "" {
		t.Fatalf("after MarkProcessed: %+v", got)
	}

	if err := pg.MarkProcessing(ctx, doc.ID); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	got, err = pg.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got.OCRJSONPath != "" || got.OCRTextPlain != "" {
		t.Fatalf("reprocessing kept the previous result: %+v", got)
	}

	_, err = pg.GetDocument(ctx, uuid.New().String())
	if !errors.IsCode(err, errors.ErrorDocumentNotFound) {
		t.Fatalf("GetDocument(unknown) error = %v", err)
	}
}
