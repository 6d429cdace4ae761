/**
 * Direct Redis Queue Consumer for the OCR worker
 *
 * Uses simple Redis LIST operations: job IDs are pushed onto the queue list
 * and the job record lives in the <queue>:data hash.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/receiptflow/ocr-worker/internal/logging"
	"github.com/receiptflow/ocr-worker/internal/processor"
	"github.com/redis/go-redis/v9"
)

const (
	defaultQueueName   = "ocr:documents"
	defaultLockTTL     = 10 * time.Minute
	defaultPollTimeout = 5 * time.Second
	lockKeyPrefix      = "ocr:lock:"
)

var (
	errNoJobs         = stderrors.New("no jobs available")
	errDocumentLocked = stderrors.New("document is locked by another worker")
)

// releaseLock deletes the lock only if this worker still holds it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockKey is the Redis key guarding one document against concurrent runs.
func LockKey(documentID string) string {
	return lockKeyPrefix + documentID
}

// queueKeys names every key derived from a queue name.
type queueKeys struct {
	list       string
	data       string
	processing string
	completed  string
	failed     string
	errors     string
	events     string
}

func keysFor(queueName string) queueKeys {
	return queueKeys{
		list:       queueName,
		data:       queueName + ":data",
		processing: queueName + ":processing",
		completed:  queueName + ":completed",
		failed:     queueName + ":failed",
		errors:     queueName + ":errors",
		events:     queueName + ":events",
	}
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.DocumentProcessorInterface
	config    *RedisConsumerConfig
	keys      queueKeys
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.DocumentProcessorInterface
	LockTTL     time.Duration // default 10 minutes
	PollTimeout time.Duration // BRPOP block time, default 5 seconds
}

func (cfg *RedisConsumerConfig) applyDefaults() error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("RedisURL is required")
	}
	if cfg.Processor == nil {
		return fmt.Errorf("Processor is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = defaultQueueName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return nil
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	client, err := connectRedis(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		keys:      keysFor(cfg.QueueName),
		logger:    logging.NewLogger("redis-consumer").With("queue", cfg.QueueName),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

func connectRedis(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop stops polling, waits for in-flight documents and closes the client.
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log := c.logger.With("worker", id)
	log.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			log.Debug("Worker stopping")
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			switch {
			case stderrors.Is(err, errNoJobs), c.ctx.Err() != nil:
				continue
			case stderrors.Is(err, errDocumentLocked):
				log.Debug("Document busy, re-queued")
			default:
				log.Error("Worker error", "error", err)
			}
			// Small delay before trying again
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, c.config.PollTimeout, c.keys.list).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	jobID := result[1]

	// In-flight work runs outside the consumer context so Stop lets it finish.
	ctx := context.Background()

	jobData, err := c.client.HGet(ctx, c.keys.data, jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", jobID, err)
	}

	job, err := decodeJob(jobData)
	if err != nil {
		c.client.HDel(ctx, c.keys.data, jobID)
		return err
	}
	documentID := job.Payload.DocumentID

	lockKey := LockKey(documentID)
	acquired, err := c.client.SetNX(ctx, lockKey, job.ID, c.config.LockTTL).Result()
	if err != nil {
		c.client.LPush(ctx, c.keys.list, job.ID)
		return fmt.Errorf("failed to lock document %s: %w", documentID, err)
	}
	if !acquired {
		c.client.LPush(ctx, c.keys.list, job.ID)
		return errDocumentLocked
	}
	defer func() {
		if err := releaseLock.Run(ctx, c.client, []string{lockKey}, job.ID).Err(); err != nil {
			c.logger.Warn("Failed to release document lock", "documentId", documentID, "error", err)
		}
	}()

	c.updateJobStatus(ctx, job, StatusProcessing, nil)

	startTime := time.Now()
	if err := c.processor.ProcessDocument(ctx, documentID); err != nil {
		c.logger.Error("Job failed",
			"jobId", job.ID,
			"documentId", documentID,
			"durationMs", time.Since(startTime).Milliseconds(),
			"error", err,
		)
		c.updateJobStatus(ctx, job, StatusFailed, err)
		return nil
	}

	c.logger.Info("Job completed",
		"jobId", job.ID,
		"documentId", documentID,
		"durationMs", time.Since(startTime).Milliseconds(),
	)
	c.updateJobStatus(ctx, job, StatusCompleted, nil)
	return nil
}

// updateJobStatus moves the document between status sets and publishes an event.
// Terminal states drop the job record; failed documents are never re-queued.
func (c *RedisConsumer) updateJobStatus(ctx context.Context, job *RedisJobData, status string, cause error) {
	documentID := job.Payload.DocumentID

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch status {
		case StatusProcessing:
			pipe.SAdd(ctx, c.keys.processing, documentID)
		case StatusCompleted:
			pipe.SRem(ctx, c.keys.processing, documentID)
			pipe.SRem(ctx, c.keys.failed, documentID)
			pipe.SAdd(ctx, c.keys.completed, documentID)
			pipe.HDel(ctx, c.keys.errors, documentID)
			pipe.HDel(ctx, c.keys.data, job.ID)
		case StatusFailed:
			pipe.SRem(ctx, c.keys.processing, documentID)
			pipe.SAdd(ctx, c.keys.failed, documentID)
			if cause != nil {
				errorData, _ := json.Marshal(failureDetails(cause))
				pipe.HSet(ctx, c.keys.errors, documentID, errorData)
			}
			pipe.HDel(ctx, c.keys.data, job.ID)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Failed to update job status", "documentId", documentID, "status", status, "error", err)
	}

	// Publish event for subscribers
	event := map[string]interface{}{
		"event":      fmt.Sprintf("document:%s", status),
		"jobId":      job.ID,
		"documentId": documentID,
		"timestamp":  time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	if err := c.client.Publish(ctx, c.keys.events, eventData).Err(); err != nil {
		c.logger.Debug("Failed to publish event", "documentId", documentID, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, c.client, c.keys)
}

func queueStats(ctx context.Context, client *redis.Client, keys queueKeys) (map[string]int64, error) {
	pipe := client.Pipeline()
	waiting := pipe.LLen(ctx, keys.list)
	processing := pipe.SCard(ctx, keys.processing)
	completed := pipe.SCard(ctx, keys.completed)
	failed := pipe.SCard(ctx, keys.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}

// RedisProducer submits documents to the Redis list queue.
type RedisProducer struct {
	client *redis.Client
	keys   queueKeys
}

// NewRedisProducer connects to Redis for enqueueing onto queueName.
func NewRedisProducer(redisURL, queueName string) (*RedisProducer, error) {
	if queueName == "" {
		queueName = defaultQueueName
	}
	client, err := connectRedis(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisProducer{client: client, keys: keysFor(queueName)}, nil
}

// Enqueue stores the job record and pushes its ID onto the queue.
func (p *RedisProducer) Enqueue(ctx context.Context, documentID string) (string, error) {
	job, err := NewJob(documentID)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.keys.data, job.ID, data)
		pipe.LPush(ctx, p.keys.list, job.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue document %s: %w", documentID, err)
	}
	return job.ID, nil
}

// GetStats returns queue statistics
func (p *RedisProducer) GetStats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, p.client, p.keys)
}

// Close closes the Redis client.
func (p *RedisProducer) Close() error {
	return p.client.Close()
}
