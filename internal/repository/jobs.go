package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iago/analytics-audio-reports/internal/domain"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrTerminal          = errors.New("job already reached a terminal state")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// JobsRepository is the job registry. Updates are checked against the job
// lifecycle and never move updated_at backwards.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.AudioJob) error
	UpdateJob(ctx context.Context, job *domain.AudioJob) error
	GetJob(ctx context.Context, jobID string) (*domain.AudioJob, error)
}

// MemoryJobsRepository stores jobs in memory for single-process deployments.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.AudioJob
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.AudioJob),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.AudioJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return ErrAlreadyExists
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.AudioJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(current.Status, job.Status); err != nil {
		return err
	}

	next := cloneJob(job)
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = latest(current.UpdatedAt, job.UpdatedAt)
	r.jobs[job.ID] = next
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.AudioJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func checkTransition(from, to domain.JobStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, from)
	}
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func cloneJob(job *domain.AudioJob) *domain.AudioJob {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Request = append([]byte(nil), job.Request...)
	return &clone
}
