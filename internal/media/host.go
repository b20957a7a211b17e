package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/policy"
	"github.com/iago/analytics-audio-reports/internal/retry"
)

// Upload states reported by the host.
const (
	UploadWaiting      = "waiting"
	UploadAssetCreated = "asset_created"
	UploadErrored      = "errored"
	UploadCancelled    = "cancelled"
	UploadTimedOut     = "timed_out"
)

// Host is the media host's direct-upload API.
type Host interface {
	CreateUpload(ctx context.Context) (domain.UploadSlot, error)
	PutBytes(ctx context.Context, uploadURL string, data []byte, contentType string) error
	GetUpload(ctx context.Context, uploadID string) (UploadStatus, error)
}

type UploadStatus struct {
	Status  string
	AssetID string
	Error   string
}

// HostError is a non-2xx answer from the media host. Message is redacted.
type HostError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("media host %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

type HTTPHostConfig struct {
	BaseURL        string
	TokenID        string
	TokenSecret    string
	CORSOrigin     string
	PlaybackPolicy string
	PosterURL      string
	APITimeout     time.Duration
	PutTimeout     time.Duration
}

// HTTPHost talks to a Mux-style video API.
type HTTPHost struct {
	baseURL        string
	tokenID        string
	tokenSecret    string
	corsOrigin     string
	playbackPolicy string
	posterURL      string
	apiClient      *http.Client
	putClient      *http.Client
}

func NewHTTPHost(cfg HTTPHostConfig) *HTTPHost {
	apiTimeout := cfg.APITimeout
	if apiTimeout <= 0 {
		apiTimeout = 15 * time.Second
	}
	putTimeout := cfg.PutTimeout
	if putTimeout <= 0 {
		putTimeout = 120 * time.Second
	}
	playbackPolicy := cfg.PlaybackPolicy
	if playbackPolicy == "" {
		playbackPolicy = "public"
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &HTTPHost{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		tokenID:        cfg.TokenID,
		tokenSecret:    cfg.TokenSecret,
		corsOrigin:     corsOrigin,
		playbackPolicy: playbackPolicy,
		posterURL:      cfg.PosterURL,
		apiClient:      &http.Client{Timeout: apiTimeout},
		putClient:      &http.Client{Timeout: putTimeout},
	}
}

func (h *HTTPHost) Available() bool {
	return h != nil && h.baseURL != "" && h.tokenID != "" && h.tokenSecret != ""
}

type uploadEnvelope struct {
	Data struct {
		ID      string `json:"id"`
		URL     string `json:"url"`
		Status  string `json:"status"`
		AssetID string `json:"asset_id"`
		Error   *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"data"`
}

func (h *HTTPHost) CreateUpload(ctx context.Context) (domain.UploadSlot, error) {
	if !h.Available() {
		return domain.UploadSlot{}, errors.New("media host is not configured")
	}

	settings := map[string]any{"playback_policy": []string{h.playbackPolicy}}
	if h.posterURL != "" {
		settings["poster_url"] = h.posterURL
	}
	body, err := json.Marshal(map[string]any{
		"cors_origin":        h.corsOrigin,
		"new_asset_settings": settings,
	})
	if err != nil {
		return domain.UploadSlot{}, fmt.Errorf("marshal upload request: %w", err)
	}

	var envelope uploadEnvelope
	if err := h.callAPI(ctx, "create upload", http.MethodPost, "/video/v1/uploads", body, &envelope); err != nil {
		return domain.UploadSlot{}, err
	}
	if envelope.Data.ID == "" || envelope.Data.URL == "" {
		return domain.UploadSlot{}, errors.New("media host create upload: response without id or url")
	}
	return domain.UploadSlot{
		UploadID:  envelope.Data.ID,
		UploadURL: envelope.Data.URL,
		AssetID:   envelope.Data.AssetID,
	}, nil
}

// PutBytes sends the audio to the single-use upload URL. Errors are tagged
// for the retry executor: transport failures, 429 and 5xx are transient.
func (h *HTTPHost) PutBytes(ctx context.Context, uploadURL string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create upload request: %w", err))
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", contentType)

	resp, err := h.putClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.Transient(errors.New("upload transfer failed: " + policy.SanitizeError(err)))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return retry.FromStatus(resp.StatusCode, &HostError{Op: "upload bytes", StatusCode: resp.StatusCode})
	}
	return nil
}

func (h *HTTPHost) GetUpload(ctx context.Context, uploadID string) (UploadStatus, error) {
	var envelope uploadEnvelope
	if err := h.callAPI(ctx, "get upload", http.MethodGet, "/video/v1/uploads/"+url.PathEscape(uploadID), nil, &envelope); err != nil {
		return UploadStatus{}, err
	}
	status := UploadStatus{Status: envelope.Data.Status, AssetID: envelope.Data.AssetID}
	if envelope.Data.Error != nil {
		status.Error = policy.RedactCredentials(strings.TrimSpace(envelope.Data.Error.Type + " " + envelope.Data.Error.Message))
	}
	return status, nil
}

func (h *HTTPHost) callAPI(ctx context.Context, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("media host %s: build request: %w", op, err)
	}
	req.SetBasicAuth(h.tokenID, h.tokenSecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.apiClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("media host %s: %s", op, policy.SanitizeError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("media host %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return retry.FromStatus(resp.StatusCode, &HostError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    policy.Excerpt(raw, 300),
		})
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("media host %s: decode response: %w", op, err)
	}
	return nil
}
