package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/repository"
)

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	job, err := api.reports.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("job_id", jobID).Msg("load job failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (api *API) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	err := api.reports.Cancel(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID, "status": "canceling"})
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, repository.ErrTerminal):
		writeError(w, r, http.StatusConflict, "job_finished", "job already finished")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("job_id", jobID).Msg("cancel job failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to cancel job")
	}
}

func jobResponse(job *domain.AudioJob) map[string]any {
	response := map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"created_at": job.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	optional := map[string]string{
		"player_url": job.PlayerURL,
		"asset_id":   job.AssetID,
		"upload_id":  job.UploadID,
		"script":     job.Script,
		"error":      job.ErrorMessage,
	}
	for key, value := range optional {
		if strings.TrimSpace(value) != "" {
			response[key] = value
		}
	}
	return response
}
