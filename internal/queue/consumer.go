/**
 * Asynq Queue Consumer for the OCR worker
 *
 * One task per document, identified by the document ID. Tasks are enqueued
 * with no retries and handlers wrap failures with asynq.SkipRetry, so a
 * failed document stays failed until it is submitted again.
 */

package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/receiptflow/ocr-worker/internal/logging"
	"github.com/receiptflow/ocr-worker/internal/processor"
)

// ErrAlreadyQueued is returned when the document already has a pending or active task.
var ErrAlreadyQueued = stderrors.New("document is already queued")

// NewProcessDocumentTask builds the task for documentID.
func NewProcessDocumentTask(documentID string) (*asynq.Task, error) {
	payload, err := EncodePayload(documentID)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeProcessDocument, payload), nil
}

// documentHandler runs ProcessDocument for one task.
type documentHandler struct {
	processor processor.DocumentProcessorInterface
	logger    *logging.Logger
}

func newDocumentHandler(p processor.DocumentProcessorInterface) *documentHandler {
	return &documentHandler{
		processor: p,
		logger:    logging.NewLogger("asynq-consumer"),
	}
}

// ProcessTask implements asynq.Handler.
func (h *documentHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := DecodePayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	startTime := time.Now()
	if err := h.processor.ProcessDocument(ctx, payload.DocumentID); err != nil {
		h.logger.Error("Document processing failed",
			"documentId", payload.DocumentID,
			"durationMs", time.Since(startTime).Milliseconds(),
			"error", err,
		)
		return fmt.Errorf("document %s: %v: %w", payload.DocumentID, err, asynq.SkipRetry)
	}

	h.logger.Info("Document processed",
		"documentId", payload.DocumentID,
		"durationMs", time.Since(startTime).Milliseconds(),
	)
	return nil
}

// AsynqConsumer handles job consumption through an asynq server
type AsynqConsumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	config *ConsumerConfig
	logger *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.DocumentProcessorInterface
}

// NewAsynqConsumer creates a new queue consumer
func NewAsynqConsumer(cfg *ConsumerConfig) (*AsynqConsumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("asynq-consumer").With("queue", cfg.QueueName)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn("Task failed", "type", task.Type(), "payload", string(task.Payload()), "error", err)
			}),
			Logger:          logger.Entry(),
			ShutdownTimeout: 30 * time.Second,
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeProcessDocument, newDocumentHandler(cfg.Processor))

	return &AsynqConsumer{
		server: server,
		mux:    mux,
		config: cfg,
		logger: logger,
	}, nil
}

// Start starts the asynq server; it returns once workers are running.
func (c *AsynqConsumer) Start() error {
	c.logger.Info("Starting asynq consumer", "concurrency", c.config.Concurrency)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop waits for active tasks up to the shutdown timeout and stops the server.
func (c *AsynqConsumer) Stop() error {
	c.logger.Info("Stopping asynq consumer")
	c.server.Shutdown()
	return nil
}

// AsynqProducer enqueues documents as asynq tasks.
type AsynqProducer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queueName string
}

// NewAsynqProducer creates a producer for queueName.
func NewAsynqProducer(redisURL, queueName string) (*AsynqProducer, error) {
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &AsynqProducer{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queueName: queueName,
	}, nil
}

func (p *AsynqProducer) taskOptions(documentID string) []asynq.Option {
	return []asynq.Option{
		asynq.TaskID(documentID),
		asynq.Queue(p.queueName),
		asynq.MaxRetry(0),
	}
}

// Enqueue submits documentID. A task left archived by an earlier failure is
// replaced; a pending or active one yields ErrAlreadyQueued.
func (p *AsynqProducer) Enqueue(ctx context.Context, documentID string) (string, error) {
	task, err := NewProcessDocumentTask(documentID)
	if err != nil {
		return "", err
	}

	info, err := p.client.EnqueueContext(ctx, task, p.taskOptions(documentID)...)
	if stderrors.Is(err, asynq.ErrTaskIDConflict) {
		existing, inspectErr := p.inspector.GetTaskInfo(p.queueName, documentID)
		if inspectErr != nil {
			return "", fmt.Errorf("failed to inspect task %s: %w", documentID, inspectErr)
		}
		if existing.State != asynq.TaskStateArchived && existing.State != asynq.TaskStateCompleted {
			return "", fmt.Errorf("%w: %s is %s", ErrAlreadyQueued, documentID, existing.State)
		}
		if err := p.inspector.DeleteTask(p.queueName, documentID); err != nil {
			return "", fmt.Errorf("failed to delete finished task %s: %w", documentID, err)
		}
		info, err = p.client.EnqueueContext(ctx, task, p.taskOptions(documentID)...)
	}
	if err != nil {
		return "", fmt.Errorf("failed to enqueue document %s: %w", documentID, err)
	}
	return info.ID, nil
}

// Close closes the asynq client and inspector.
func (p *AsynqProducer) Close() error {
	if err := p.inspector.Close(); err != nil {
		p.client.Close()
		return fmt.Errorf("failed to close inspector: %w", err)
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}
