package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/condense"
	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/media"
	"github.com/iago/analytics-audio-reports/internal/policy"
	"github.com/iago/analytics-audio-reports/internal/queue"
	"github.com/iago/analytics-audio-reports/internal/report"
	"github.com/iago/analytics-audio-reports/internal/repository"
)

const (
	canceledMessage   = "canceled"
	finalWriteTimeout = 10 * time.Second
)

type Aggregator interface {
	Aggregate(ctx context.Context, req domain.ReportRequest) (domain.ReportSnapshot, error)
}

type Condenser interface {
	Condense(ctx context.Context, text string) condense.Script
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Uploader interface {
	Upload(ctx context.Context, audio []byte) (media.Result, error)
}

type Dependencies struct {
	Aggregator  Aggregator
	Condenser   Condenser
	Synthesizer Synthesizer
	Uploader    Uploader
	Jobs        repository.JobsRepository
	Producer    queue.Producer
	Logger      zerolog.Logger
}

// Service runs the report, condense, speech and upload stages either inline
// or as a queued job.
type Service struct {
	aggregator  Aggregator
	condenser   Condenser
	synthesizer Synthesizer
	uploader    Uploader
	jobs        repository.JobsRepository
	producer    queue.Producer
	logger      zerolog.Logger
	now         func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewService(deps Dependencies) *Service {
	return &Service{
		aggregator:  deps.Aggregator,
		condenser:   deps.Condenser,
		synthesizer: deps.Synthesizer,
		uploader:    deps.Uploader,
		jobs:        deps.Jobs,
		producer:    deps.Producer,
		logger:      deps.Logger.With().Str("component", "pipeline").Logger(),
		now:         time.Now,
		running:     make(map[string]context.CancelFunc),
	}
}

type CategoryOutcome struct {
	Category domain.Category `json:"category"`
	OK       bool            `json:"ok"`
	Failure  string          `json:"failure,omitempty"`
}

// Report is the synchronous pipeline result. Error carries the sanitized
// failure of a stage that ran after the report text was produced.
type Report struct {
	Text        string            `json:"report_text"`
	Script      string            `json:"script"`
	ScriptWords int               `json:"script_words"`
	Truncated   bool              `json:"truncated"`
	TimeRange   domain.TimeRange  `json:"time_range"`
	Categories  []CategoryOutcome `json:"categories"`
	UploadID    string            `json:"upload_id,omitempty"`
	AssetID     string            `json:"asset_id,omitempty"`
	PlayerURL   string            `json:"player_url,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Outcome is what Run returns: a finished report in sync mode or the queued
// job in async mode.
type Outcome struct {
	Report *Report
	Job    *domain.AudioJob
}

// Run dispatches on req.AsyncMode.
func (s *Service) Run(ctx context.Context, req domain.ReportRequest) (Outcome, error) {
	if req.AsyncMode {
		job, err := s.Submit(ctx, req)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Job: job}, nil
	}
	result, err := s.RunSync(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Report: &result}, nil
}

// RunSync blocks for every stage. Only a failure before any report text
// exists is returned as an error.
func (s *Service) RunSync(ctx context.Context, req domain.ReportRequest) (Report, error) {
	result, err := s.execute(ctx, req, nil)
	if err != nil {
		if result.Text == "" {
			return Report{}, err
		}
		result.Error = policy.SanitizeError(err)
		s.logger.Warn().Str("error", result.Error).Msg("sync report finished with partial result")
	}
	return result, nil
}

// Submit registers a queued job and hands it to the queue.
func (s *Service) Submit(ctx context.Context, req domain.ReportRequest) (*domain.AudioJob, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode report request: %w", err)
	}

	now := s.now().UTC()
	job := &domain.AudioJob{
		ID:        uuid.NewString(),
		Status:    domain.JobStatusQueued,
		Request:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	message := domain.QueueMessage{
		JobID:       job.ID,
		Payload:     payload,
		RequestedAt: now,
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		job.Status = domain.JobStatusError
		job.ErrorMessage = policy.SanitizeError(err)
		job.UpdatedAt = s.now().UTC()
		_ = s.jobs.UpdateJob(context.WithoutCancel(ctx), job)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info().Str("job_id", job.ID).Str("focus_area", string(req.FocusArea)).Msg("report job queued")
	return job, nil
}

// GetStatus returns a snapshot of the job or repository.ErrNotFound.
func (s *Service) GetStatus(ctx context.Context, jobID string) (*domain.AudioJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// Cancel stops a job running in this process or fails a job that has not
// started. Jobs already finished return repository.ErrTerminal.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s", repository.ErrTerminal, job.Status)
	}

	s.mu.Lock()
	cancel, running := s.running[jobID]
	s.mu.Unlock()
	if running {
		cancel()
		s.logger.Info().Str("job_id", jobID).Msg("running job canceled")
		return nil
	}

	if err := s.fail(ctx, job, canceledMessage); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Msg("queued job canceled")
	return nil
}

// Fail moves a job that cannot be processed, such as one whose queued
// request is unreadable, to the error state.
func (s *Service) Fail(ctx context.Context, jobID, reason string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return s.fail(ctx, job, policy.RedactCredentials(reason))
}

func (s *Service) fail(ctx context.Context, job *domain.AudioJob, reason string) error {
	job.Status = domain.JobStatusError
	job.ErrorMessage = reason
	job.UpdatedAt = s.now().UTC()
	return s.jobs.UpdateJob(ctx, job)
}

// ProcessJob is the worker entry point. Pipeline failures end the job in the
// error state and are not returned; only registry failures are. A job that
// is already terminal yields repository.ErrTerminal.
func (s *Service) ProcessJob(ctx context.Context, jobID string, req domain.ReportRequest) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s", repository.ErrTerminal, job.Status)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.track(jobID, cancel)
	defer s.untrack(jobID)

	logger := s.logger.With().Str("job_id", jobID).Logger()
	started := s.now()

	job.Status = domain.JobStatusProcessing
	job.UpdatedAt = started.UTC()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	result, runErr := s.execute(jobCtx, req, func(partial Report) {
		job.ReportText = partial.Text
		job.Script = partial.Script
		job.UpdatedAt = s.now().UTC()
		if err := s.jobs.UpdateJob(jobCtx, job); err != nil {
			logger.Warn().Str("error", policy.SanitizeError(err)).Msg("record job progress failed")
		}
	})

	job.ReportText = result.Text
	job.Script = result.Script
	job.UploadID = result.UploadID
	job.AssetID = result.AssetID
	job.PlayerURL = result.PlayerURL
	job.UpdatedAt = s.now().UTC()
	if runErr != nil {
		job.Status = domain.JobStatusError
		job.ErrorMessage = failureMessage(jobCtx, runErr)
	} else {
		job.Status = domain.JobStatusUploaded
		job.ErrorMessage = ""
	}

	finalCtx, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer finalCancel()
	if err := s.jobs.UpdateJob(finalCtx, job); err != nil {
		return fmt.Errorf("mark %s: %w", job.Status, err)
	}

	event := logger.Info()
	if runErr != nil {
		event = logger.Warn().Str("error", job.ErrorMessage)
	}
	event.Str("status", string(job.Status)).
		Bool("asset_confirmed", job.AssetID != "").
		Dur("elapsed", s.now().Sub(started)).
		Msg("report job finished")
	return nil
}

func (s *Service) track(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[jobID] = cancel
}

func (s *Service) untrack(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

// execute runs the stages in order. The returned report carries whatever
// was produced before a failure. progress, when set, is called once the
// script exists.
func (s *Service) execute(ctx context.Context, req domain.ReportRequest, progress func(Report)) (Report, error) {
	snapshot, err := s.aggregator.Aggregate(ctx, req)
	if err != nil {
		return Report{}, fmt.Errorf("aggregate analytics: %w", err)
	}

	result := Report{
		Text:       report.Build(snapshot),
		TimeRange:  snapshot.TimeRange,
		Categories: outcomes(snapshot),
	}

	script := s.condenser.Condense(ctx, result.Text)
	result.Script = script.Text
	result.ScriptWords = script.Words
	result.Truncated = script.Truncated
	if progress != nil {
		progress(result)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	audio, err := s.synthesizer.Synthesize(ctx, script.Text)
	if err != nil {
		return result, fmt.Errorf("synthesize speech: %w", err)
	}

	upload, err := s.uploader.Upload(ctx, audio)
	result.UploadID = upload.UploadID
	if err != nil {
		return result, fmt.Errorf("upload audio: %w", err)
	}
	result.AssetID = upload.AssetID
	result.PlayerURL = upload.PlayerURL
	return result, nil
}

func outcomes(snapshot domain.ReportSnapshot) []CategoryOutcome {
	out := make([]CategoryOutcome, 0, len(snapshot.Results))
	for _, result := range snapshot.Results {
		out = append(out, CategoryOutcome{
			Category: result.Category,
			OK:       result.OK(),
			Failure:  result.Failure,
		})
	}
	return out
}

func failureMessage(jobCtx context.Context, err error) string {
	if errors.Is(err, context.Canceled) && jobCtx.Err() != nil {
		return canceledMessage
	}
	return policy.SanitizeError(err)
}
