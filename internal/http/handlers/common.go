package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/http/middleware"
	"github.com/iago/analytics-audio-reports/internal/pipeline"
)

var errInvalidPayload = errors.New("invalid payload")

const minIdempotencyKeyLength = 16

// ReportService is the part of the pipeline the HTTP API drives.
type ReportService interface {
	RunSync(ctx context.Context, req domain.ReportRequest) (pipeline.Report, error)
	Submit(ctx context.Context, req domain.ReportRequest) (*domain.AudioJob, error)
	GetStatus(ctx context.Context, jobID string) (*domain.AudioJob, error)
	Cancel(ctx context.Context, jobID string) error
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	reports     ReportService
	checks      map[string]Pinger
	idempotency *idempotencyStore
	now         func() time.Time
}

func NewAPI(reports ReportService, checks map[string]Pinger) *API {
	return &API{
		reports:     reports,
		checks:      checks,
		idempotency: newIdempotencyStore(),
		now:         time.Now,
	}
}

type reportRequest struct {
	Timeframe        json.RawMessage `json:"timeframe,omitempty"`
	FocusArea        string          `json:"focus_area,omitempty"`
	IncludeAssetList bool            `json:"include_asset_list,omitempty"`
	AsyncMode        bool            `json:"async_mode,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	middleware.WriteError(w, r, statusCode, code, message)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

// idempotencyStore remembers async submissions for this process only.
type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]idempotencyEntry),
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, jobID string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		JobID:       jobID,
		CreatedAt:   createdAt,
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
