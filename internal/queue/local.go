package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/policy"
)

var ErrLocalQueueFull = errors.New("local queue is full")

// LocalQueue is the in-process queue used when Redis is not configured.
// Several goroutines may consume it at once.
type LocalQueue struct {
	ch          chan domain.QueueMessage
	maxAttempts int
	retryDelay  time.Duration
	logger      zerolog.Logger

	dlqMu sync.Mutex
	dlq   []domain.QueueMessage
}

func NewLocalQueue(bufferSize, maxAttempts int, logger zerolog.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LocalQueue{
		ch:          make(chan domain.QueueMessage, bufferSize),
		maxAttempts: maxAttempts,
		retryDelay:  500 * time.Millisecond,
		logger:      logger.With().Str("queue", "local").Logger(),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, message)
				q.dlqMu.Unlock()
				q.logger.Error().
					Str("job_id", message.JobID).
					Int("attempt", message.Attempt).
					Int("dlq_size", q.DLQSize()).
					Str("error", policy.SanitizeError(err)).
					Msg("message moved to dlq")
				continue
			}

			delay := time.Duration(message.Attempt) * q.retryDelay
			go func(retryMessage domain.QueueMessage) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
				case <-timer.C:
					_ = q.Enqueue(ctx, retryMessage)
				}
			}(message)
		}
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

func (q *LocalQueue) Pending() int {
	return len(q.ch)
}

// Ping reports a full buffer, which makes submissions block until a worker
// frees a slot.
func (q *LocalQueue) Ping(context.Context) error {
	if pending := q.Pending(); pending >= cap(q.ch) {
		return fmt.Errorf("%w: %d jobs waiting", ErrLocalQueueFull, pending)
	}
	return nil
}
