/**
 * Job payloads shared by the Redis list and Asynq queue backends
 */

package queue

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/receiptflow/ocr-worker/internal/errors"
)

// TaskTypeProcessDocument is the job type for a single OCR run.
const TaskTypeProcessDocument = "ocr:process-document"

// Job status names used for Redis status sets and events.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// JobPayload identifies the stored document to process.
type JobPayload struct {
	DocumentID string `json:"documentId"`
}

// RedisJobData represents a job stored in the <queue>:data hash
type RedisJobData struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Payload   JobPayload `json:"payload"`
	CreatedAt time.Time  `json:"createdAt"`
}

// NewJob builds a job for documentID with a fresh job ID.
func NewJob(documentID string) (*RedisJobData, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("document ID is required")
	}
	return &RedisJobData{
		ID:        uuid.NewString(),
		Type:      TaskTypeProcessDocument,
		Payload:   JobPayload{DocumentID: documentID},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EncodePayload serializes the task payload.
func EncodePayload(documentID string) ([]byte, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("document ID is required")
	}
	return json.Marshal(JobPayload{DocumentID: documentID})
}

// DecodePayload parses a task payload and checks it names a document.
func DecodePayload(data []byte) (*JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	if strings.TrimSpace(p.DocumentID) == "" {
		return nil, fmt.Errorf("job payload has no documentId")
	}
	return &p, nil
}

// decodeJob parses a job record from the data hash.
func decodeJob(data string) (*RedisJobData, error) {
	var job RedisJobData
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Type != "" && job.Type != TaskTypeProcessDocument {
		return nil, fmt.Errorf("unknown job type %q", job.Type)
	}
	if strings.TrimSpace(job.Payload.DocumentID) == "" {
		return nil, fmt.Errorf("job %s has no documentId", job.ID)
	}
	return &job, nil
}

// failureDetails is the record kept in the <queue>:errors hash.
func failureDetails(err error) map[string]interface{} {
	var pe *errors.ProcessingError
	if stderrors.As(err, &pe) {
		return pe.ToMap()
	}
	return map[string]interface{}{
		"error_code": "INTERNAL",
		"message":    err.Error(),
		"timestamp":  time.Now(),
	}
}
