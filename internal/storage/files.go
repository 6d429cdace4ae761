package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/receiptflow/ocr-worker/internal/ocr"
)

const (
	documentsDir   = "documents"
	metadataFile   = "metadata.json"
	ocrResultFile  = "ocr_result.json"
	originalPrefix = "original"
)

// StoredFile describes an original written to the file store.
type StoredFile struct {
	DocumentID       string    `json:"document_id"`
	OriginalFilename string    `json:"original_filename"`
	MimeType         string    `json:"mime_type"`
	SizeBytes        int64     `json:"size_bytes"`
	SHA256           string    `json:"sha256"`
	RelativePath     string    `json:"stored_relative_path"`
	CreatedAt        time.Time `json:"created_at"`
}

// FileStore keeps originals and OCR artifacts under
// <root>/documents/<id>/.
type FileStore struct {
	root string
}

// NewFileStore creates the storage root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, documentsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the storage root directory.
func (fs *FileStore) Root() string { return fs.root }

func (fs *FileStore) documentDir(id string) string {
	return filepath.Join(fs.root, documentsDir, id)
}

// abs resolves a slash-separated path relative to the root.
func (fs *FileStore) abs(rel string) string {
	return filepath.Join(fs.root, filepath.FromSlash(rel))
}

// SaveOriginal streams r to documents/<id>/original<ext>, hashing as it
// writes, and records metadata.json beside it. Inputs larger than maxSize
// bytes are rejected and nothing is kept.
func (fs *FileStore) SaveOriginal(id, filename, mimeType string, r io.Reader, maxSize int64) (*StoredFile, error) {
	dir := fs.documentDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}

	name := originalPrefix + originalExtension(filename, mimeType)
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create original: %w", err)
	}

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hash), io.LimitReader(r, maxSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > maxSize {
		err = fmt.Errorf("file exceeds maximum size of %d bytes", maxSize)
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to store original: %w", err)
	}

	if filename == "" {
		filename = "uploaded_file"
	}
	stored := &StoredFile{
		DocumentID:       id,
		OriginalFilename: filename,
		MimeType:         mimeType,
		SizeBytes:        n,
		SHA256:           hex.EncodeToString(hash.Sum(nil)),
		RelativePath:     path.Join(documentsDir, id, name),
		CreatedAt:        time.Now().UTC(),
	}

	meta, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), meta, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	return stored, nil
}

// originalExtension keeps the upload's extension, falling back to one
// derived from the media type.
func originalExtension(filename, mimeType string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return strings.ToLower(ext)
	}
	switch {
	case mimeType == "application/pdf":
		return ".pdf"
	case strings.HasPrefix(mimeType, "image/"):
		return ".img"
	default:
		return ".bin"
	}
}

// ReadOriginal reads a stored original by its root-relative path.
func (fs *FileStore) ReadOriginal(rel string) ([]byte, error) {
	data, err := os.ReadFile(fs.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("failed to read original %s: %w", rel, err)
	}
	return data, nil
}

// OCRResultPath returns the root-relative artifact path for a document.
func OCRResultPath(id string) string {
	return path.Join(documentsDir, id, ocrResultFile)
}

// StagedResult is an encoded artifact sitting in a temp file beside its
// final path. Nothing reads it until Commit.
type StagedResult struct {
	rel string
	tmp string
	dst string
}

// Path returns the root-relative path the artifact is published at.
func (s *StagedResult) Path() string {
	return s.rel
}

// Commit renames the staged file over the published artifact.
func (s *StagedResult) Commit() error {
	if err := os.Rename(s.tmp, s.dst); err != nil {
		os.Remove(s.tmp)
		return fmt.Errorf("failed to publish artifact: %w", err)
	}
	return nil
}

// Discard removes the staged file and leaves any published artifact alone.
func (s *StagedResult) Discard() error {
	err := os.Remove(s.tmp)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard staged artifact: %w", err)
	}
	return nil
}

// StageOCRResult encodes and syncs the artifact to a temp file in the
// document directory.
func (fs *FileStore) StageOCRResult(id string, result *ocr.DocumentResult) (*StagedResult, error) {
	rel := OCRResultPath(id)
	dir := fs.documentDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ocrResultFile+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if err := EncodeResult(tmp, result); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to close artifact: %w", err)
	}

	return &StagedResult{rel: rel, tmp: tmpName, dst: fs.abs(rel)}, nil
}

// WriteOCRResult writes the artifact atomically and returns its
// root-relative path. Readers see either the previous artifact or the
// complete new one.
func (fs *FileStore) WriteOCRResult(id string, result *ocr.DocumentResult) (string, error) {
	staged, err := fs.StageOCRResult(id, result)
	if err != nil {
		return "", err
	}
	if err := staged.Commit(); err != nil {
		return "", err
	}
	return staged.Path(), nil
}

// ReadOCRResult loads a previously written artifact.
func (fs *FileStore) ReadOCRResult(id string) (*ocr.DocumentResult, error) {
	data, err := os.ReadFile(fs.abs(OCRResultPath(id)))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	var result ocr.DocumentResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	return &result, nil
}

// RemoveOCRResult deletes a document's artifact. A missing artifact is not an error.
func (fs *FileStore) RemoveOCRResult(id string) error {
	err := os.Remove(fs.abs(OCRResultPath(id)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}

// RemoveDocument deletes everything stored for a document.
func (fs *FileStore) RemoveDocument(id string) error {
	if err := os.RemoveAll(fs.documentDir(id)); err != nil {
		return fmt.Errorf("failed to remove document files: %w", err)
	}
	return nil
}

// EncodeResult writes the artifact JSON with two-space indentation and
// without HTML escaping.
func EncodeResult(w io.Writer, result *ocr.DocumentResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	return nil
}
