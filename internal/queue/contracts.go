package queue

import (
	"context"

	"github.com/iago/analytics-audio-reports/internal/domain"
)

// Producer sends report jobs to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer receives report jobs and executes handlers. A handler error means
// the message should be delivered again.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error
}
