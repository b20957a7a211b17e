package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/queue"
	"github.com/iago/analytics-audio-reports/internal/repository"
)

// JobRunner executes one queued report job.
type JobRunner interface {
	ProcessJob(ctx context.Context, jobID string, req domain.ReportRequest) error
	Fail(ctx context.Context, jobID, reason string) error
}

// Processor consumes queue jobs with a fixed number of concurrent loops.
type Processor struct {
	consumer     queue.Consumer
	runner       JobRunner
	concurrency  int
	restartDelay time.Duration
	logger       zerolog.Logger
}

func NewProcessor(consumer queue.Consumer, runner JobRunner, concurrency int, logger zerolog.Logger) *Processor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Processor{
		consumer:     consumer,
		runner:       runner,
		concurrency:  concurrency,
		restartDelay: 2 * time.Second,
		logger:       logger.With().Str("component", "worker").Logger(),
	}
}

// Start blocks until ctx is done and every consume loop has returned.
func (p *Processor) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(loop int) {
			defer wg.Done()
			p.loop(ctx, loop)
		}(i)
	}
	wg.Wait()
}

func (p *Processor) loop(ctx context.Context, loop int) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error().Int("loop", loop).Err(err).Msg("worker consume loop error")

		timer := time.NewTimer(p.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// processMessage returns an error only when redelivery could help.
func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	logger := p.logger.With().Str("job_id", message.JobID).Int("attempt", message.Attempt).Logger()

	var req domain.ReportRequest
	if err := json.Unmarshal(message.Payload, &req); err != nil {
		logger.Error().Err(err).Msg("unreadable job request")
		if failErr := p.runner.Fail(ctx, message.JobID, "unreadable job request"); failErr != nil && !isFinal(failErr) {
			return fmt.Errorf("fail job %s: %w", message.JobID, failErr)
		}
		return nil
	}

	err := p.runner.ProcessJob(ctx, message.JobID, req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrTerminal):
		logger.Debug().Msg("job already finished, skipping")
		return nil
	case errors.Is(err, repository.ErrNotFound):
		logger.Warn().Msg("job not found, dropping message")
		return nil
	default:
		return err
	}
}

func isFinal(err error) bool {
	return errors.Is(err, repository.ErrTerminal) || errors.Is(err, repository.ErrNotFound)
}
