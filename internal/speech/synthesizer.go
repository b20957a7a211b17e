package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iago/analytics-audio-reports/internal/policy"
)

const (
	speechPath       = "/v1/generate/speech"
	contentTypeJSON  = "application/json"
	contentTypeAudio = "audio/wav"
	maxAudioBytes    = 50 << 20
)

var (
	ErrEmptyText        = errors.New("text is empty after normalization")
	ErrSpeechDisabled   = errors.New("speech provider is not configured")
	ErrEmptyAudio       = errors.New("speech provider returned empty audio")
	ErrUnexpectedFormat = errors.New("speech provider returned non-audio content")
)

// ProviderError is a non-2xx answer from the speech provider. Message is
// already redacted.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("speech provider status %d", e.StatusCode)
	}
	return fmt.Sprintf("speech provider status %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	BaseURL string
	APIKey  string
	Voice   string
	Model   string
	Timeout time.Duration
}

// Synthesizer converts a script into WAV audio through an HTTP speech
// provider. Calls are not retried.
type Synthesizer struct {
	baseURL    string
	apiKey     string
	voice      string
	model      string
	httpClient *http.Client
}

type synthesisRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Model  string `json:"model,omitempty"`
	Format string `json:"format"`
}

func NewSynthesizer(cfg Config) *Synthesizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Synthesizer{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		voice:      cfg.Voice,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *Synthesizer) Available() bool {
	return s != nil && s.baseURL != ""
}

// Synthesize normalizes text and returns the provider's audio bytes.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !s.Available() {
		return nil, ErrSpeechDisabled
	}
	spoken := Normalize(text)
	if spoken == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(synthesisRequest{Text: spoken, Voice: s.voice, Model: s.model, Format: "wav"})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+speechPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create speech request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeAudio)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New("speech request failed: " + policy.SanitizeError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseProviderError(resp)
	}

	if contentType := resp.Header.Get("Content-Type"); contentType != "" && !strings.HasPrefix(contentType, "audio/") &&
		contentType != "application/octet-stream" {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedFormat, contentType)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}

func parseProviderError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		for _, candidate := range []string{payload.Message, payload.Error, payload.Detail} {
			if candidate != "" {
				return &ProviderError{StatusCode: resp.StatusCode, Message: policy.Truncate(policy.RedactCredentials(candidate), 300)}
			}
		}
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: policy.Excerpt(raw, 300)}
}
