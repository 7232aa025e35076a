package fileevents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultQueue is the Redis list file events are pushed onto.
const DefaultQueue = "fileflow:file-events"

// RedisSource pops JSON file events from a Redis list.
type RedisSource struct {
	client  redis.UniversalClient
	queue   string
	logger  *slog.Logger
	timeout time.Duration
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRedisSource parses a redis:// URL and verifies the connection.
func NewRedisSource(ctx context.Context, redisURL, queue string, logger *slog.Logger) (*RedisSource, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSourceWithClient(client, queue, logger), nil
}

// NewRedisSourceWithClient wraps an existing client.
func NewRedisSourceWithClient(client redis.UniversalClient, queue string, logger *slog.Logger) *RedisSource {
	if queue == "" {
		queue = DefaultQueue
	}

	return &RedisSource{
		client:  client,
		queue:   queue,
		logger:  logger.With("module", "file_events_redis", "queue", queue),
		timeout: time.Second,
		stopCh:  make(chan struct{}),
	}
}

func (s *RedisSource) Start(ctx context.Context, handler Handler) error {
	s.logger.InfoContext(ctx, "Starting file event consumer")

	s.wg.Add(1)

	go s.consume(ctx, handler)

	return nil
}

func (s *RedisSource) consume(ctx context.Context, handler Handler) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			err := s.processMessage(ctx, handler)
			if err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "Error processing file event", "error", err)

				select {
				case <-time.After(time.Second):
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *RedisSource) processMessage(ctx context.Context, handler Handler) error {
	result, err := s.client.BLPop(ctx, s.timeout, s.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop file event: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	event, err := Decode([]byte(result[1]))
	if err != nil {
		s.logger.WarnContext(ctx, "Discarding file event", "error", err)

		return nil
	}

	return handler(ctx, event)
}

// Push enqueues a raw event. Used by tooling and tests.
func (s *RedisSource) Push(ctx context.Context, payload []byte) error {
	return s.client.RPush(ctx, s.queue, payload).Err()
}

func (s *RedisSource) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping file event consumer")

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	s.wg.Wait()

	return s.client.Close()
}
