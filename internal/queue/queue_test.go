package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/receiptflow/ocr-worker/internal/errors"
)

type recordingProcessor struct {
	mu    sync.Mutex
	calls []string
	err   error
	done  chan string
}

func (p *recordingProcessor) ProcessDocument(ctx context.Context, documentID string) error {
	p.mu.Lock()
	p.calls = append(p.calls, documentID)
	p.mu.Unlock()
	if p.done != nil {
		p.done <- documentID
	}
	return p.err
}

func TestPayloadCodec(t *testing.T) {
	data, err := EncodePayload("0b7c3f1e-8d55-4c4e-9f8a-2f3d7e1a9b10")
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}
	if string(data) != `{"documentId":"0b7c3f1e-8d55-4c4e-9f8a-2f3d7e1a9b10"}` {
		t.Fatalf("payload = %s", data)
	}

	p, err := DecodePayload(data)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if p.DocumentID != "0b7c3f1e-8d55-4c4e-9f8a-2f3d7e1a9b10" {
		t.Errorf("DocumentID = %q", p.DocumentID)
	}

	if _, err := EncodePayload("  "); err == nil {
		t.Error("EncodePayload(blank) expected error")
	}
	for _, bad := range []string{`{}`, `{"documentId":""}`, `not json`} {
		if _, err := DecodePayload([]byte(bad)); err == nil {
			t.Errorf("DecodePayload(%s) expected error", bad)
		}
	}
}

func TestNewJob(t *testing.T) {
	job, err := NewJob("doc-1")
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}
	if job.ID == "" || job.Type != TaskTypeProcessDocument || job.Payload.DocumentID != "doc-1" {
		t.Fatalf("unexpected job %+v", job)
	}

	data, _ := json.Marshal(job)
	back, err := decodeJob(string(data))
	if err != nil {
		t.Fatalf("decodeJob() error = %v", err)
	}
	if back.ID != job.ID || back.Payload.DocumentID != "doc-1" {
		t.Errorf("decoded job = %+v", back)
	}

	if _, err := decodeJob(`{"id":"x","type":"other","payload":{"documentId":"d"}}`); err == nil {
		t.Error("decodeJob accepted a foreign job type")
	}
	if _, err := NewJob(""); err == nil {
		t.Error("NewJob(\"\") expected error")
	}
}

func TestFailureDetails(t *testing.T) {
	details := failureDetails(errors.NewUnsupportedMediaError("doc-1", "text/plain"))
	if details["error_code"] != string(errors.ErrorUnsupportedMedia) {
		t.Errorf("error_code = %v", details["error_code"])
	}
	if details["document_id"] != "doc-1" {
		t.Errorf("document_id = %v", details["document_id"])
	}

	details = failureDetails(stderrors.New("boom"))
	if details["error_code"] != "INTERNAL" || details["message"] != "boom" {
		t.Errorf("details = %v", details)
	}
}

func TestHandlerProcessesDocument(t *testing.T) {
	proc := &recordingProcessor{}
	h := newDocumentHandler(proc)

	task, err := NewProcessDocumentTask("doc-7")
	if err != nil {
		t.Fatalf("NewProcessDocumentTask() error = %v", err)
	}
	if task.Type() != TaskTypeProcessDocument {
		t.Errorf("task type = %q", task.Type())
	}

	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}
	if len(proc.calls) != 1 || proc.calls[0] != "doc-7" {
		t.Fatalf("calls = %v", proc.calls)
	}
}

func TestHandlerFailureSkipsRetry(t *testing.T) {
	cause := errors.NewRecognitionError("doc-7", "tesseract", 1, stderrors.New("missing language pack"))
	proc := &recordingProcessor{err: cause}
	h := newDocumentHandler(proc)

	task, _ := NewProcessDocumentTask("doc-7")
	err := h.ProcessTask(context.Background(), task)
	if err == nil {
		t.Fatal("expected error")
	}
	if !stderrors.Is(err, asynq.SkipRetry) {
		t.Errorf("error %v does not wrap asynq.SkipRetry", err)
	}
	if len(proc.calls) != 1 {
		t.Errorf("ProcessDocument called %d times, want 1", len(proc.calls))
	}
}

func TestHandlerRejectsBadPayload(t *testing.T) {
	proc := &recordingProcessor{}
	h := newDocumentHandler(proc)

	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskTypeProcessDocument, []byte(`{}`)))
	if !stderrors.Is(err, asynq.SkipRetry) {
		t.Fatalf("error = %v, want SkipRetry", err)
	}
	if len(proc.calls) != 0 {
		t.Errorf("processor called for bad payload")
	}
}

func TestKeysAndLock(t *testing.T) {
	keys := keysFor("ocr:documents")
	if keys.data != "ocr:documents:data" || keys.events != "ocr:documents:events" || keys.failed != "ocr:documents:failed" {
		t.Errorf("keys = %+v", keys)
	}
	if LockKey("abc") != "ocr:lock:abc" {
		t.Errorf("LockKey = %q", LockKey("abc"))
	}
}

func TestConsumerConfigValidation(t *testing.T) {
	if _, err := NewRedisConsumer(&RedisConsumerConfig{QueueName: "q", Processor: &recordingProcessor{}}); err == nil {
		t.Error("expected error without RedisURL")
	}
	if _, err := NewRedisConsumer(&RedisConsumerConfig{RedisURL: "redis://localhost:6379/0"}); err == nil {
		t.Error("expected error without Processor")
	}
	if _, err := NewAsynqConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379/0", Processor: &recordingProcessor{}}); err == nil {
		t.Error("expected error without QueueName")
	}
	if _, err := NewConsumer("kafka", "redis://localhost:6379/0", "q", 1, &recordingProcessor{}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := NewProducer("kafka", "redis://localhost:6379/0", "q"); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg := &RedisConsumerConfig{RedisURL: "redis://x", Processor: &recordingProcessor{}}
	if err := cfg.applyDefaults(); err != nil {
		t.Fatalf("applyDefaults() error = %v", err)
	}
	if cfg.QueueName != "ocr:documents" || cfg.Concurrency != 1 || cfg.LockTTL != 10*time.Minute || cfg.PollTimeout != 5*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
}

// TestRedisQueueRoundTrip needs a disposable Redis instance.
func TestRedisQueueRoundTrip(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	queueName := "ocr:test:" + time.Now().Format("150405.000000")

	producer, err := NewRedisProducer(redisURL, queueName)
	if err != nil {
		t.Fatalf("NewRedisProducer() error = %v", err)
	}
	defer producer.Close()

	proc := &recordingProcessor{done: make(chan string, 2)}
	consumer, err := NewRedisConsumer(&RedisConsumerConfig{
		RedisURL:    redisURL,
		QueueName:   queueName,
		Processor:   proc,
		PollTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewRedisConsumer() error = %v", err)
	}

	ctx := context.Background()
	if _, err := producer.Enqueue(ctx, "doc-ok"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := consumer.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case id := <-proc.done:
		if id != "doc-ok" {
			t.Fatalf("processed %q", id)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("document was not processed")
	}

	// Status sets are written after ProcessDocument returns.
	var stats map[string]int64
	for i := 0; i < 50; i++ {
		stats, err = producer.GetStats(ctx)
		if err != nil {
			t.Fatalf("GetStats() error = %v", err)
		}
		if stats["completed"] == 1 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if stats["completed"] != 1 || stats["waiting"] != 0 {
		t.Errorf("stats = %v", stats)
	}

	if err := consumer.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	keys := keysFor(queueName)
	producer.client.Del(ctx, keys.list, keys.data, keys.processing, keys.completed, keys.failed, keys.errors)
}
