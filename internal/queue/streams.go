package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/policy"
)

type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
	// Block bounds each XREADGROUP call so cancellation is noticed.
	Block time.Duration
}

func (cfg StreamsConfig) withDefaults() StreamsConfig {
	if cfg.Stream == "" {
		cfg.Stream = "audio_report_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "audio_report_jobs_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "audio_report_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return cfg
}

// StreamsQueue implements Producer+Consumer backed by Redis Streams.
type StreamsQueue struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	block       time.Duration
	logger      zerolog.Logger
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig, logger zerolog.Logger) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue, err := NewStreamsQueueWithClient(ctx, client, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

// NewStreamsQueueWithClient wraps an existing client. The queue takes
// ownership of it and closes it on Close.
func NewStreamsQueueWithClient(ctx context.Context, client *redis.Client, cfg StreamsConfig, logger zerolog.Logger) (*StreamsQueue, error) {
	cfg = cfg.withDefaults()
	queue := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		block:       cfg.Block,
		logger:      logger.With().Str("queue", "redis").Str("stream", cfg.Stream).Logger(),
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: streamValues(message),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

// Consume reads one entry at a time so several consumer loops can share the
// stream while a handler runs for minutes.
func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    q.block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handle(ctx, item, handler)
			}
		}
	}
}

func (q *StreamsQueue) handle(ctx context.Context, item redis.XMessage, handler func(context.Context, domain.QueueMessage) error) {
	message, parseErr := parseStreamMessage(item)
	if parseErr != nil {
		q.logger.Error().Str("stream_id", item.ID).Err(parseErr).Msg("unreadable stream entry moved to dlq")
		_ = q.sendToDLQ(ctx, domain.QueueMessage{}, item, parseErr.Error())
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	handleErr := handler(ctx, message)
	if handleErr == nil {
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		q.logger.Error().Str("job_id", message.JobID).Int("attempt", message.Attempt).Str("error", policy.SanitizeError(handleErr)).Msg("message moved to dlq")
		_ = q.sendToDLQ(ctx, message, item, handleErr.Error())
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	if requeueErr := q.Enqueue(ctx, message); requeueErr != nil {
		_ = q.sendToDLQ(ctx, message, item, fmt.Sprintf("requeue failed: %v", requeueErr))
	}
	_ = q.ackAndDelete(ctx, item.ID)
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(
	ctx context.Context,
	message domain.QueueMessage,
	item redis.XMessage,
	errorMessage string,
) error {
	values := streamValues(message)
	values["stream_id"] = item.ID
	values["error"] = errorMessage
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func streamValues(message domain.QueueMessage) map[string]any {
	return map[string]any{
		"job_id":       message.JobID,
		"payload":      string(message.Payload),
		"attempt":      message.Attempt,
		"requested_at": message.RequestedAt.Format(time.RFC3339Nano),
	}
}

func parseStreamMessage(item redis.XMessage) (domain.QueueMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	if jobID == "" {
		return domain.QueueMessage{}, errors.New("empty job_id")
	}

	payloadString, err := getString("payload")
	if err != nil {
		return domain.QueueMessage{}, err
	}

	attemptString, err := getString("attempt")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}

	requestedAtString, err := getString("requested_at")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, requestedAtString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	return domain.QueueMessage{
		JobID:       jobID,
		Payload:     []byte(payloadString),
		Attempt:     attempt,
		RequestedAt: requestedAt,
	}, nil
}
