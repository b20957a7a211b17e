package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/analytics-audio-reports/internal/analytics"
	"github.com/iago/analytics-audio-reports/internal/condense"
	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/media"
	"github.com/iago/analytics-audio-reports/internal/queue"
	"github.com/iago/analytics-audio-reports/internal/repository"
)

const testAssetID = "asset0123456789abcd"

type stubSource struct {
	payloads map[domain.Category]*domain.CategoryPayload
}

func (s stubSource) Fetch(_ context.Context, category domain.Category, _ *domain.TimeRange) (*domain.CategoryPayload, error) {
	payload, ok := s.payloads[category]
	if !ok {
		return nil, errors.New("category unavailable")
	}
	return payload, nil
}

type stubSynthesizer struct {
	mu    sync.Mutex
	texts []string
	err   error
	block bool
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return []byte("RIFF-audio"), nil
}

type stubUploader struct {
	result media.Result
	err    error
}

func (u stubUploader) Upload(context.Context, []byte) (media.Result, error) {
	return u.result, u.err
}

type failingProducer struct {
	sent []domain.QueueMessage
}

func (p *failingProducer) Enqueue(_ context.Context, message domain.QueueMessage) error {
	p.sent = append(p.sent, message)
	return errors.New("queue is full")
}

func confirmedUpload() stubUploader {
	return stubUploader{result: media.Result{
		UploadID:  "up-1",
		AssetID:   testAssetID,
		PlayerURL: media.PlayerURL("https://player.example.com", testAssetID),
	}}
}

func healthySource() stubSource {
	return stubSource{payloads: map[domain.Category]*domain.CategoryPayload{
		domain.CategoryErrors: {Metrics: map[string]float64{"total_errors": 0, "error_rate": 0}},
		domain.CategoryViews:  {Metrics: map[string]float64{"total_views": 1200}},
	}}
}

type testService struct {
	*Service
	jobs  *repository.MemoryJobsRepository
	queue *queue.LocalQueue
	synth *stubSynthesizer
}

func newTestService(t *testing.T, source analytics.Source, uploader Uploader) testService {
	t.Helper()
	jobs := repository.NewMemoryJobsRepository()
	q := queue.NewLocalQueue(8, 3, zerolog.Nop())
	synth := &stubSynthesizer{}
	svc := NewService(Dependencies{
		Aggregator:  analytics.NewAggregator(source, zerolog.Nop()),
		Condenser:   condense.New(condense.Dependencies{Logger: zerolog.Nop()}),
		Synthesizer: synth,
		Uploader:    uploader,
		Jobs:        jobs,
		Producer:    q,
		Logger:      zerolog.Nop(),
	})
	return testService{Service: svc, jobs: jobs, queue: q, synth: synth}
}

func lastSevenDays(t *testing.T) *domain.TimeRange {
	t.Helper()
	tr, err := domain.ParseTimeframe(json.RawMessage(`"last 7 days"`), time.Now())
	require.NoError(t, err)
	return tr
}

func TestRunSyncHealthyErrorsReport(t *testing.T) {
	svc := newTestService(t, healthySource(), confirmedUpload())
	req := domain.ReportRequest{TimeRange: lastSevenDays(t), FocusArea: domain.FocusErrors}

	outcome, err := svc.Run(context.Background(), req)

	require.NoError(t, err)
	require.NotNil(t, outcome.Report)
	assert.Nil(t, outcome.Job)
	result := outcome.Report
	assert.NotContains(t, result.Text, "Top errors")
	assert.Contains(t, result.Text, "playback was healthy")
	assert.Equal(t, media.PlayerURL("https://player.example.com", testAssetID), result.PlayerURL)
	assert.Empty(t, result.Error)
	require.Len(t, result.Categories, 1)
	assert.True(t, result.Categories[0].OK)
	assert.Equal(t, *req.TimeRange, result.TimeRange)
	assert.Equal(t, []string{result.Script}, svc.synth.texts)
}

func TestRunSyncReportsLateStageFailureAlongsideText(t *testing.T) {
	secret := "sk0123456789abcdefghijklmnop"
	svc := newTestService(t, healthySource(), confirmedUpload())
	svc.synth.err = errors.New("provider rejected key " + secret)

	result, err := svc.RunSync(context.Background(), domain.ReportRequest{FocusArea: domain.FocusGeneral})

	require.NoError(t, err)
	assert.NotEmpty(t, result.Text)
	assert.Contains(t, result.Error, "synthesize speech")
	assert.NotContains(t, result.Error, secret)
	assert.Empty(t, result.PlayerURL)
}

func TestRunSyncSurvivesEveryCategoryFailing(t *testing.T) {
	svc := newTestService(t, stubSource{}, confirmedUpload())

	result, err := svc.RunSync(context.Background(), domain.ReportRequest{FocusArea: domain.FocusComprehensive})

	require.NoError(t, err)
	assert.Contains(t, result.Text, "could not be retrieved")
	require.Len(t, result.Categories, 4)
	for _, category := range result.Categories {
		assert.False(t, category.OK)
		assert.NotEmpty(t, category.Failure)
	}
}

func TestAsyncJobConvergesToTerminalState(t *testing.T) {
	svc := newTestService(t, healthySource(), confirmedUpload())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcome, err := svc.Run(ctx, domain.ReportRequest{FocusArea: domain.FocusErrors, AsyncMode: true})
	require.NoError(t, err)
	require.NotNil(t, outcome.Job)
	jobID := outcome.Job.ID

	first, err := svc.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Contains(t, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing}, first.Status)

	go func() {
		_ = svc.queue.Consume(ctx, func(ctx context.Context, message domain.QueueMessage) error {
			var req domain.ReportRequest
			if err := json.Unmarshal(message.Payload, &req); err != nil {
				return err
			}
			return svc.ProcessJob(ctx, message.JobID, req)
		})
	}()

	require.Eventually(t, func() bool {
		job, err := svc.GetStatus(ctx, jobID)
		return err == nil && job.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	final, err := svc.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusUploaded, final.Status)
	assert.Equal(t, testAssetID, final.AssetID)
	assert.NotEmpty(t, final.ReportText)
	assert.False(t, final.UpdatedAt.Before(final.CreatedAt))

	for i := 0; i < 3; i++ {
		again, err := svc.GetStatus(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, final.Status, again.Status)
		assert.Equal(t, final.UpdatedAt, again.UpdatedAt)
	}
	assert.ErrorIs(t, svc.Cancel(ctx, jobID), repository.ErrTerminal)
	assert.ErrorIs(t, svc.ProcessJob(ctx, jobID, domain.ReportRequest{FocusArea: domain.FocusErrors}), repository.ErrTerminal)
}

func TestProcessJobRedactsUploadSlotAuthFailure(t *testing.T) {
	secret := "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"messages":["Unauthorized request for token ` + secret + `"]}}`))
	}))
	defer server.Close()

	host := media.NewHTTPHost(media.HTTPHostConfig{BaseURL: server.URL, TokenID: "id", TokenSecret: secret})
	uploader := media.NewUploader(host, media.UploaderConfig{PlayerBaseURL: "https://player.example.com"}, zerolog.Nop())
	svc := newTestService(t, healthySource(), uploader)
	ctx := context.Background()

	job, err := svc.Submit(ctx, domain.ReportRequest{FocusArea: domain.FocusErrors, AsyncMode: true})
	require.NoError(t, err)
	require.NoError(t, svc.ProcessJob(ctx, job.ID, domain.ReportRequest{FocusArea: domain.FocusErrors}))

	final, err := svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, final.Status)
	assert.NotEmpty(t, final.ErrorMessage)
	assert.NotContains(t, final.ErrorMessage, secret)
	assert.Empty(t, final.PlayerURL)
	assert.Empty(t, final.AssetID)
}

func TestProcessJobCompletesWithoutConfirmedAsset(t *testing.T) {
	svc := newTestService(t, healthySource(), stubUploader{result: media.Result{UploadID: "up-9"}})
	ctx := context.Background()

	job, err := svc.Submit(ctx, domain.ReportRequest{FocusArea: domain.FocusErrors, AsyncMode: true})
	require.NoError(t, err)
	require.NoError(t, svc.ProcessJob(ctx, job.ID, domain.ReportRequest{FocusArea: domain.FocusErrors}))

	final, err := svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusUploaded, final.Status)
	assert.Equal(t, "up-9", final.UploadID)
	assert.Empty(t, final.AssetID)
	assert.Empty(t, final.PlayerURL)
}

func TestCancelRunningJob(t *testing.T) {
	svc := newTestService(t, healthySource(), confirmedUpload())
	svc.synth.block = true
	ctx := context.Background()

	job, err := svc.Submit(ctx, domain.ReportRequest{FocusArea: domain.FocusErrors, AsyncMode: true})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- svc.ProcessJob(ctx, job.ID, domain.ReportRequest{FocusArea: domain.FocusErrors})
	}()

	require.Eventually(t, func() bool {
		svc.synth.mu.Lock()
		defer svc.synth.mu.Unlock()
		return len(svc.synth.texts) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Cancel(ctx, job.ID))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop after cancel")
	}

	final, err := svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, final.Status)
	assert.Equal(t, "canceled", final.ErrorMessage)
	assert.NotEmpty(t, final.Script)
}

func TestCancelQueuedAndUnknownJobs(t *testing.T) {
	svc := newTestService(t, healthySource(), confirmedUpload())
	ctx := context.Background()

	job, err := svc.Submit(ctx, domain.ReportRequest{FocusArea: domain.FocusErrors, AsyncMode: true})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, job.ID))

	canceled, err := svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, canceled.Status)

	assert.ErrorIs(t, svc.ProcessJob(ctx, job.ID, domain.ReportRequest{FocusArea: domain.FocusErrors}), repository.ErrTerminal)
	assert.Empty(t, svc.synth.texts)

	assert.ErrorIs(t, svc.Cancel(ctx, "missing"), repository.ErrNotFound)
	_, err = svc.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSubmitMarksJobFailedWhenQueueRejects(t *testing.T) {
	jobs := repository.NewMemoryJobsRepository()
	producer := &failingProducer{}
	svc := NewService(Dependencies{Jobs: jobs, Producer: producer, Logger: zerolog.Nop()})

	_, err := svc.Submit(context.Background(), domain.ReportRequest{FocusArea: domain.FocusGeneral, AsyncMode: true})

	require.Error(t, err)
	require.Len(t, producer.sent, 1)
	job, getErr := jobs.GetJob(context.Background(), producer.sent[0].JobID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusError, job.Status)
	assert.Contains(t, job.ErrorMessage, "queue is full")
}
