package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/policy"
	"github.com/iago/analytics-audio-reports/internal/retry"
)

var ErrUploadErrored = errors.New("media host reported the upload as failed")

const DefaultMinAssetIDLength = 12

type UploaderConfig struct {
	PutPolicy        retry.Policy
	PollInterval     time.Duration
	MaxPolls         int
	MinAssetIDLength int
	PlayerBaseURL    string
	ContentType      string
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result describes a finished upload. AssetID and PlayerURL are empty when
// the host did not confirm an asset before polling gave up.
type Result struct {
	UploadID  string
	AssetID   string
	PlayerURL string
}

func (r Result) Confirmed() bool { return r.AssetID != "" }

// Uploader publishes audio through the host's create, put and poll protocol.
type Uploader struct {
	host   Host
	cfg    UploaderConfig
	logger zerolog.Logger
}

func NewUploader(host Host, cfg UploaderConfig, logger zerolog.Logger) *Uploader {
	if cfg.PutPolicy.MaxAttempts <= 0 {
		cfg.PutPolicy.MaxAttempts = 3
	}
	if cfg.PutPolicy.BaseDelay <= 0 {
		cfg.PutPolicy.BaseDelay = time.Second
	}
	if cfg.PutPolicy.Multiplier <= 0 {
		cfg.PutPolicy.Multiplier = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 30
	}
	if cfg.MinAssetIDLength <= 0 {
		cfg.MinAssetIDLength = DefaultMinAssetIDLength
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "audio/wav"
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.PutPolicy.Sleep == nil {
		cfg.PutPolicy.Sleep = cfg.Sleep
	}
	return &Uploader{host: host, cfg: cfg, logger: logger.With().Str("component", "uploader").Logger()}
}

// Upload creates a slot, transfers audio with retries and polls for the
// asset id. Slot creation is never retried. Polling that runs out of
// attempts is not an error; the result simply has no asset.
func (u *Uploader) Upload(ctx context.Context, audio []byte) (Result, error) {
	slot, err := u.host.CreateUpload(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("create upload slot: %w", err)
	}
	result := Result{UploadID: slot.UploadID}
	logger := u.logger.With().Str("upload_id", slot.UploadID).Logger()

	attempt := 0
	err = retry.Execute(ctx, u.cfg.PutPolicy, func(ctx context.Context) error {
		attempt++
		putErr := u.host.PutBytes(ctx, slot.UploadURL, audio, u.cfg.ContentType)
		if putErr != nil {
			logger.Warn().Int("attempt", attempt).Bool("transient", retry.IsTransient(putErr)).Str("error", policy.SanitizeError(putErr)).Msg("upload transfer failed")
		}
		return putErr
	})
	if err != nil {
		return result, fmt.Errorf("upload audio bytes: %w", err)
	}

	assetID := u.validAssetID(slot.AssetID)
	if assetID == "" {
		assetID, err = u.pollAsset(ctx, slot.UploadID, logger)
		if err != nil {
			return result, err
		}
	}
	if assetID == "" {
		logger.Warn().Int("polls", u.cfg.MaxPolls).Msg("asset not confirmed before polling gave up")
		return result, nil
	}

	result.AssetID = assetID
	result.PlayerURL = PlayerURL(u.cfg.PlayerBaseURL, assetID)
	return result, nil
}

func (u *Uploader) pollAsset(ctx context.Context, uploadID string, logger zerolog.Logger) (string, error) {
	for poll := 1; poll <= u.cfg.MaxPolls; poll++ {
		status, err := u.host.GetUpload(ctx, uploadID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.Debug().Int("poll", poll).Str("error", policy.SanitizeError(err)).Msg("upload status check failed")
		case status.Status == UploadErrored || status.Status == UploadCancelled || status.Status == UploadTimedOut:
			if status.Error != "" {
				return "", fmt.Errorf("%w: %s: %s", ErrUploadErrored, status.Status, status.Error)
			}
			return "", fmt.Errorf("%w: %s", ErrUploadErrored, status.Status)
		default:
			if assetID := u.validAssetID(status.AssetID); assetID != "" {
				return assetID, nil
			}
		}

		if poll < u.cfg.MaxPolls {
			if err := u.cfg.Sleep(ctx, u.cfg.PollInterval); err != nil {
				return "", err
			}
		}
	}
	return "", nil
}

// validAssetID treats implausibly short ids as absent.
func (u *Uploader) validAssetID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) < u.cfg.MinAssetIDLength {
		return ""
	}
	return id
}

// PlayerURL builds the public playback link for an asset.
func PlayerURL(base, assetID string) string {
	return strings.TrimRight(base, "/") + "/player?assetId=" + url.QueryEscape(assetID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
