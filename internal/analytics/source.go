package analytics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/policy"
)

const maxResponseBytes = 1 << 20

// Source fetches one analytics category for an optional time range.
type Source interface {
	Fetch(ctx context.Context, category domain.Category, timeRange *domain.TimeRange) (*domain.CategoryPayload, error)
}

type HTTPSourceConfig struct {
	BaseURL     string
	TokenID     string
	TokenSecret string
	Timeout     time.Duration
}

// HTTPSource reads category reports from the video platform data API.
type HTTPSource struct {
	baseURL     string
	tokenID     string
	tokenSecret string
	httpClient  *http.Client
}

func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		tokenID:     cfg.TokenID,
		tokenSecret: cfg.TokenSecret,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Available() bool {
	return s != nil && s.baseURL != "" && s.tokenID != "" && s.tokenSecret != ""
}

func (s *HTTPSource) Fetch(
	ctx context.Context,
	category domain.Category,
	timeRange *domain.TimeRange,
) (*domain.CategoryPayload, error) {
	if !s.Available() {
		return nil, errors.New("analytics source is not configured")
	}

	endpoint := s.baseURL + "/data/v1/reports/" + url.PathEscape(string(category))
	if timeRange != nil {
		query := url.Values{}
		query.Add("timeframe[]", strconv.FormatInt(timeRange.Start, 10))
		query.Add("timeframe[]", strconv.FormatInt(timeRange.End, 10))
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build analytics request: %w", err)
	}
	req.SetBasicAuth(s.tokenID, s.tokenSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analytics api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read analytics response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure *SourceFailure
		if _, decodeErr := DecodeResponse(body); errors.As(decodeErr, &failure) {
			return nil, fmt.Errorf("analytics api status %d: %w", resp.StatusCode, failure)
		}
		return nil, fmt.Errorf("analytics api status %d: %s", resp.StatusCode, policy.Excerpt(body, 300))
	}

	payload, err := DecodeResponse(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s report: %w", category, err)
	}
	return payload, nil
}
