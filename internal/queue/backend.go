package queue

import (
	"context"
	"fmt"

	"github.com/receiptflow/ocr-worker/internal/processor"
)

// Queue backends selected by QUEUE_BACKEND.
const (
	BackendRedis = "redis"
	BackendAsynq = "asynq"
)

// Consumer delivers queued documents to a processor.
type Consumer interface {
	Start() error
	Stop() error
}

// Producer submits stored documents for processing.
type Producer interface {
	Enqueue(ctx context.Context, documentID string) (string, error)
	Close() error
}

// NewConsumer builds the consumer for backend.
func NewConsumer(backend, redisURL, queueName string, concurrency int, p processor.DocumentProcessorInterface) (Consumer, error) {
	switch backend {
	case BackendRedis, "":
		return NewRedisConsumer(&RedisConsumerConfig{
			RedisURL:    redisURL,
			QueueName:   queueName,
			Concurrency: concurrency,
			Processor:   p,
		})
	case BackendAsynq:
		return NewAsynqConsumer(&ConsumerConfig{
			RedisURL:    redisURL,
			QueueName:   queueName,
			Concurrency: concurrency,
			Processor:   p,
		})
	default:
		return nil, fmt.Errorf("unknown queue backend %q", backend)
	}
}

// NewProducer builds the producer for backend.
func NewProducer(backend, redisURL, queueName string) (Producer, error) {
	switch backend {
	case BackendRedis, "":
		return NewRedisProducer(redisURL, queueName)
	case BackendAsynq:
		return NewAsynqProducer(redisURL, queueName)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", backend)
	}
}
