package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the OCR worker
 *
 * Every fatal failure of a document carries an ErrorCode so the job flow can
 * record a terminal state with a readable message. Malformed confidence is
 * the only non-fatal kind; it is reported as a warning and processing continues.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Processing errors
	ErrorUnsupportedMedia  ErrorCode = "UNSUPPORTED_MEDIA"
	ErrorDecodeFailed      ErrorCode = "DECODE_FAILED"
	ErrorRecognitionFailed ErrorCode = "RECOGNITION_FAILED"

	// Warnings
	ErrorMalformedConfidence ErrorCode = "MALFORMED_CONFIDENCE"

	// Storage errors
	ErrorStorageFailed    ErrorCode = "STORAGE_FAILED"
	ErrorDocumentNotFound ErrorCode = "DOCUMENT_NOT_FOUND"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code       ErrorCode
	Message    string
	DocumentID string
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the error aborts processing of the whole document.
func (e *ProcessingError) Fatal() bool {
	return e.Code != ErrorMalformedConfidence
}

// Factory functions for common errors

func NewUnsupportedMediaError(documentID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorUnsupportedMedia,
		Message:    fmt.Sprintf("Unsupported media type: %s", mimeType),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewDecodeError(documentID string, stage string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorDecodeFailed,
		Message:    fmt.Sprintf("Cannot interpret input during %s", stage),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"stage": stage,
		},
		Cause: cause,
	}
}

func NewRecognitionError(documentID string, engine string, pageIndex int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorRecognitionFailed,
		Message:    fmt.Sprintf("Recognition failed on page %d (engine: %s)", pageIndex, engine),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"engine":     engine,
			"page_index": pageIndex,
		},
		Cause: cause,
	}
}

// NewMalformedConfidenceWarning reports a token whose confidence could not be parsed.
func NewMalformedConfidenceWarning(text string, raw string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorMalformedConfidence,
		Message:   fmt.Sprintf("Discarded token %q with malformed confidence %q", text, raw),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"text":           text,
			"raw_confidence": raw,
		},
		Cause: cause,
	}
}

func NewStorageFailedError(documentID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorStorageFailed,
		Message:    "Failed to store processing results",
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewDocumentNotFoundError(documentID string) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorDocumentNotFound,
		Message:    fmt.Sprintf("Document not found: %s", documentID),
		DocumentID: documentID,
		Timestamp:  time.Now(),
	}
}

// IsCode reports whether any error in err's chain is a ProcessingError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// Describe renders err as "<kind>: <text>" for recording on a failed document.
// Errors outside this package are reported with kind "INTERNAL".
func Describe(err error) string {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		if pe.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", pe.Code, pe.Message, pe.Cause)
		}
		return fmt.Sprintf("%s: %s", pe.Code, pe.Message)
	}
	return fmt.Sprintf("INTERNAL: %v", err)
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.DocumentID != "" {
		result["document_id"] = e.DocumentID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
