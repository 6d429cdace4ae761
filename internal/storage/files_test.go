package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/receiptflow/ocr-worker/internal/ocr"
)

func sampleResult() *ocr.DocumentResult {
	page, _ := ocr.Reconstruct([]ocr.RawToken{
		{Text: "CAFFÈ", Confidence: "90", Left: 0, Top: 0, Width: 10, Height: 10, Block: 1, Paragraph: 1, Line: 1, Word: 1},
		{Text: "<1,20>", Confidence: "80", Left: 12, Top: 0, Width: 18, Height: 10, Block: 1, Paragraph: 1, Line: 1, Word: 2},
	}, 1)
	return &ocr.DocumentResult{Engine: "tesseract", Pages: []ocr.PageResult{*page}}
}

func TestSaveOriginal(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	content := []byte("%PDF-1.4 receipt")
	stored, err := fs.SaveOriginal("doc-1", "Scontrino.PDF", "application/pdf", bytes.NewReader(content), 1024)
	if err != nil {
		t.Fatalf("SaveOriginal() error = %v", err)
	}

	sum := sha256.Sum256(content)
	if stored.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("sha256 = %s", stored.SHA256)
	}
	if stored.SizeBytes != int64(len(content)) {
		t.Errorf("size = %d, want %d", stored.SizeBytes, len(content))
	}
	if stored.RelativePath != "documents/doc-1/original.pdf" {
		t.Errorf("relative path = %q", stored.RelativePath)
	}

	got, err := fs.ReadOriginal(stored.RelativePath)
	if err != nil || !bytes.Equal(got, content) {
		t.Fatalf("ReadOriginal() = %q, %v", got, err)
	}

	meta, err := os.ReadFile(filepath.Join(fs.Root(), "documents", "doc-1", "metadata.json"))
	if err != nil {
		t.Fatalf("metadata.json missing: %v", err)
	}
	var decoded StoredFile
	if err := json.Unmarshal(meta, &decoded); err != nil {
		t.Fatalf("metadata.json invalid: %v", err)
	}
	if decoded.SHA256 != stored.SHA256 || decoded.OriginalFilename != "Scontrino.PDF" {
		t.Errorf("metadata = %+v", decoded)
	}
}

func TestSaveOriginalRejectsOversize(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = fs.SaveOriginal("big", "a.png", "image/png", strings.NewReader(strings.Repeat("x", 2048)), 1024)
	if err == nil {
		t.Fatal("SaveOriginal() expected size error")
	}
	if _, statErr := os.Stat(filepath.Join(fs.Root(), "documents", "big")); !os.IsNotExist(statErr) {
		t.Errorf("oversized upload left files behind: %v", statErr)
	}
}

func TestOriginalExtension(t *testing.T) {
	tests := []struct {
		filename, mime, want string
	}{
		{"receipt.JPG", "image/jpeg", ".jpg"},
		{"", "application/pdf", ".pdf"},
		{"scan", "image/png", ".img"},
		{"", "text/plain", ".bin"},
	}
	for _, tc := range tests {
		if got := originalExtension(tc.filename, tc.mime); got != tc.want {
			t.Errorf("originalExtension(%q, %q) = %q, want %q", tc.filename, tc.mime, got, tc.want)
		}
	}
}

func TestWriteOCRResult(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rel, err := fs.WriteOCRResult("doc-2", sampleResult())
	if err != nil {
		t.Fatalf("WriteOCRResult() error = %v", err)
	}
	if rel != "documents/doc-2/ocr_result.json" {
		t.Errorf("path = %q", rel)
	}

	data, err := os.ReadFile(filepath.Join(fs.Root(), filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "\n  \"pages\": [") {
		t.Errorf("artifact not indented with two spaces:\n%s", text)
	}
	if !strings.Contains(text, "CAFFÈ <1,20>") {
		t.Errorf("artifact escaped text:\n%s", text)
	}

	entries, _ := os.ReadDir(filepath.Join(fs.Root(), "documents", "doc-2"))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	back, err := fs.ReadOCRResult("doc-2")
	if err != nil {
		t.Fatalf("ReadOCRResult() error = %v", err)
	}
	if back.AggregatedText() != "CAFFÈ <1,20>" {
		t.Errorf("round trip text = %q", back.AggregatedText())
	}

	if err := fs.RemoveOCRResult("doc-2"); err != nil {
		t.Fatalf("RemoveOCRResult() error = %v", err)
	}
	if err := fs.RemoveOCRResult("doc-2"); err != nil {
		t.Fatalf("RemoveOCRResult() on missing artifact error = %v", err)
	}
}

func TestStagedResultDiscardKeepsPublishedArtifact(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.WriteOCRResult("doc-3", sampleResult()); err != nil {
		t.Fatal(err)
	}

	staged, err := fs.StageOCRResult("doc-3", sampleResult())
	if err != nil {
		t.Fatalf("StageOCRResult() error = %v", err)
	}
	if staged.Path() != OCRResultPath("doc-3") {
		t.Errorf("staged path = %q", staged.Path())
	}
	if err := staged.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}

	if _, err := fs.ReadOCRResult("doc-3"); err != nil {
		t.Fatalf("published artifact lost after Discard: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(fs.Root(), "documents", "doc-3"))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
