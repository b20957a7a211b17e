package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/analytics-audio-reports/internal/condense"
	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/http/handlers"
	"github.com/iago/analytics-audio-reports/internal/http/middleware"
	"github.com/iago/analytics-audio-reports/internal/media"
	"github.com/iago/analytics-audio-reports/internal/pipeline"
	"github.com/iago/analytics-audio-reports/internal/queue"
	"github.com/iago/analytics-audio-reports/internal/repository"
)

const authToken = "router-test-token"

type snapshotAggregator struct{}

func (snapshotAggregator) Aggregate(_ context.Context, req domain.ReportRequest) (domain.ReportSnapshot, error) {
	results := make([]domain.CategoryResult, 0)
	for _, category := range req.FocusArea.Categories(req.IncludeAssetList) {
		results = append(results, domain.CategoryResult{
			Category: category,
			Payload:  &domain.CategoryPayload{Metrics: map[string]float64{"total_errors": 0, "total_views": 10}},
		})
	}
	timeRange := domain.TimeRange{Start: 1700000000, End: 1700086400}
	if req.TimeRange != nil {
		timeRange = *req.TimeRange
	}
	return domain.ReportSnapshot{Results: results, TimeRange: timeRange}, nil
}

type audioSynth struct{}

func (audioSynth) Synthesize(context.Context, string) ([]byte, error) { return []byte("RIFF"), nil }

type assetUploader struct{}

func (assetUploader) Upload(context.Context, []byte) (media.Result, error) {
	return media.Result{UploadID: "up-1", AssetID: "asset0123456789", PlayerURL: "https://player.example.com/player?assetId=asset0123456789"}, nil
}

type failingPing struct{}

func (failingPing) Ping(context.Context) error { return errors.New("connection refused") }

func newTestRouter(t *testing.T, checks map[string]handlers.Pinger) (http.Handler, *pipeline.Service) {
	t.Helper()
	svc := pipeline.NewService(pipeline.Dependencies{
		Aggregator:  snapshotAggregator{},
		Condenser:   condense.New(condense.Dependencies{Logger: zerolog.Nop()}),
		Synthesizer: audioSynth{},
		Uploader:    assetUploader{},
		Jobs:        repository.NewMemoryJobsRepository(),
		Producer:    queue.NewLocalQueue(16, 3, zerolog.Nop()),
		Logger:      zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	router := NewRouter(ctx, RouterDependencies{
		API:       handlers.NewAPI(svc, checks),
		Logger:    zerolog.Nop(),
		AuthToken: authToken,
		CORS:      middleware.CORSConfig{AllowedOrigins: []string{"https://dashboard.example.com"}},
	})
	return router, svc
}

func do(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	request.Header.Set("Authorization", "Bearer "+authToken)
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, recorder)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	return errBody["code"].(string)
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "ok", decode(t, recorder)["status"])
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	router, _ := newTestRouter(t, map[string]handlers.Pinger{"redis": failingPing{}})
	recorder := do(t, router, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	body := decode(t, recorder)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"redis": "unavailable"}, body["checks"])
}

func TestCreateReportSync(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	recorder := do(t, router, http.MethodPost, "/v1/reports", `{"timeframe":"last 7 days","focus_area":"errors"}`, nil)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	body := decode(t, recorder)
	assert.Contains(t, body["report_text"], "playback was healthy")
	assert.Equal(t, "https://player.example.com/player?assetId=asset0123456789", body["player_url"])
	assert.NotContains(t, body, "error")
}

func TestCreateReportAsyncThenPollAndCancel(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	accepted := do(t, router, http.MethodPost, "/v1/reports", `{"focus_area":"general","async_mode":true}`, nil)
	require.Equal(t, http.StatusAccepted, accepted.Code, accepted.Body.String())
	assert.Equal(t, "2", accepted.Header().Get("Retry-After"))
	body := decode(t, accepted)
	jobID := body["job_id"].(string)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "/v1/jobs/"+jobID, body["status_url"])

	status := do(t, router, http.MethodGet, "/v1/jobs/"+jobID, "", nil)
	require.Equal(t, http.StatusOK, status.Code)
	assert.Equal(t, "queued", decode(t, status)["status"])

	canceled := do(t, router, http.MethodDelete, "/v1/jobs/"+jobID, "", nil)
	assert.Equal(t, http.StatusAccepted, canceled.Code)

	status = do(t, router, http.MethodGet, "/v1/jobs/"+jobID, "", nil)
	final := decode(t, status)
	assert.Equal(t, "error", final["status"])
	assert.Equal(t, "canceled", final["error"])

	again := do(t, router, http.MethodDelete, "/v1/jobs/"+jobID, "", nil)
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "job_finished", errorCode(t, again))
}

func TestUnknownJobIsNotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	status := do(t, router, http.MethodGet, "/v1/jobs/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, status.Code)
	assert.Equal(t, "not_found", errorCode(t, status))

	canceled := do(t, router, http.MethodDelete, "/v1/jobs/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, canceled.Code)
}

func TestIdempotentAsyncSubmission(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	key := map[string]string{"Idempotency-Key": "report-key-0123456789"}
	payload := `{"focus_area":"views","async_mode":true}`

	first := do(t, router, http.MethodPost, "/v1/reports", payload, key)
	second := do(t, router, http.MethodPost, "/v1/reports", payload, key)
	require.Equal(t, http.StatusAccepted, first.Code)
	require.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, decode(t, first)["job_id"], decode(t, second)["job_id"])

	conflict := do(t, router, http.MethodPost, "/v1/reports", `{"focus_area":"errors","async_mode":true}`, key)
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, "idempotency_conflict", errorCode(t, conflict))

	short := do(t, router, http.MethodPost, "/v1/reports", payload, map[string]string{"Idempotency-Key": "short"})
	assert.Equal(t, http.StatusBadRequest, short.Code)
}

func TestCreateReportValidation(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	cases := map[string]string{
		"unknown focus":  `{"focus_area":"revenue"}`,
		"bad timeframe":  `{"timeframe":"sometime soon"}`,
		"inverted range": `{"timeframe":[1700086400,1700000000]}`,
		"unknown field":  `{"focus":"errors"}`,
		"malformed json": `{"focus_area":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			recorder := do(t, router, http.MethodPost, "/v1/reports", body, nil)
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Equal(t, "invalid_request", errorCode(t, recorder))
		})
	}
}

func TestVersionedRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	request := httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil)
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	missing := do(t, router, http.MethodGet, "/v1/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	wrongMethod := do(t, router, http.MethodPut, "/v1/reports", "{}", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, wrongMethod.Code)
	assert.Equal(t, "method_not_allowed", errorCode(t, wrongMethod))
}
