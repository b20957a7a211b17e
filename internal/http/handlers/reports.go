package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/policy"
)

func (api *API) CreateReport(w http.ResponseWriter, r *http.Request) {
	var request reportRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	focusArea, err := domain.ParseFocusArea(request.FocusArea)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request",
			"focus_area must be general, errors, comprehensive, views, performance or engagement")
		return
	}
	timeRange, err := domain.ParseTimeframe(request.Timeframe, api.now())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", policy.SanitizeError(err))
		return
	}

	req := domain.ReportRequest{
		TimeRange:        timeRange,
		FocusArea:        focusArea,
		IncludeAssetList: request.IncludeAssetList,
		AsyncMode:        request.AsyncMode,
	}
	if req.AsyncMode {
		api.submitReport(w, r, request, req)
		return
	}

	result, err := api.reports.RunSync(r.Context(), req)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Str("error", policy.SanitizeError(err)).Msg("sync report failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", policy.SanitizeError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *API) submitReport(w http.ResponseWriter, r *http.Request, wire reportRequest, req domain.ReportRequest) {
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" && len(idempotencyKey) < minIdempotencyKeyLength {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Idempotency-Key must be at least 16 characters")
		return
	}

	payloadHash := hashPayload(wire)
	if idempotencyKey != "" {
		if entry, exists := api.idempotency.Get(idempotencyKey); exists {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
				return
			}
			job, err := api.reports.GetStatus(r.Context(), entry.JobID)
			if err == nil {
				writeAccepted(w, job)
				return
			}
		}
	}

	job, err := api.reports.Submit(r.Context(), req)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Str("error", policy.SanitizeError(err)).Msg("report job submission failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to enqueue report job")
		return
	}
	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, job.ID, job.CreatedAt)
	}
	writeAccepted(w, job)
}

func writeAccepted(w http.ResponseWriter, job *domain.AudioJob) {
	w.Header().Set("Retry-After", "2")
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"status_url":  "/v1/jobs/" + job.ID,
		"accepted_at": job.CreatedAt.Format(time.RFC3339Nano),
	})
}
