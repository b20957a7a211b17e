package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port      string
	LogLevel  string
	AuthToken string

	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         time.Duration
	RateLimitRPS       float64
	RateLimitBurst     int

	DatabaseURL string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisStream      string
	RedisDLQ         string
	RedisGroup       string
	RedisConsumer    string
	QueueMaxAttempts int
	QueueBufferSize  int

	WorkerEnabled     bool
	WorkerConcurrency int

	OpenAIAPIKey                string
	OpenAIBaseURL               string
	OpenAIOrganization          string
	OpenAITimeout               time.Duration
	OpenAIMaxRetries            int
	OpenAIModelCondensePrimary  string
	OpenAIModelCondenseFallback string

	CondenseMaxWords      int
	CondenseMinWords      int
	ScriptCacheTTL        time.Duration
	ScriptCacheMaxEntries int

	AnalyticsBaseURL     string
	AnalyticsTokenID     string
	AnalyticsTokenSecret string
	AnalyticsTimeout     time.Duration

	TTSBaseURL string
	TTSAPIKey  string
	TTSVoice   string
	TTSModel   string
	TTSTimeout time.Duration

	MediaBaseURL        string
	MediaTokenID        string
	MediaTokenSecret    string
	MediaCORSOrigin     string
	MediaPlaybackPolicy string
	MediaPosterURL      string
	MediaTimeout        time.Duration

	UploadPutTimeout        time.Duration
	UploadMaxAttempts       int
	UploadBaseDelay         time.Duration
	UploadBackoffMultiplier float64
	UploadPollInterval      time.Duration
	UploadMaxPolls          int
	PlayerBaseURL           string
	AssetIDMinLength        int
}

var defaults = map[string]any{
	"PORT":             "8080",
	"LOG_LEVEL":        "info",
	"RATE_LIMIT_RPS":   20.0,
	"RATE_LIMIT_BURST": 40,

	"CORS_MAX_AGE_SECONDS": 600,

	"REDIS_DB":           0,
	"REDIS_STREAM":       "audio_report_jobs",
	"REDIS_DLQ_STREAM":   "audio_report_jobs_dlq",
	"REDIS_GROUP":        "audio_report_workers",
	"REDIS_CONSUMER":     "api-1",
	"QUEUE_MAX_ATTEMPTS": 3,
	"QUEUE_BUFFER_SIZE":  512,

	"WORKER_ENABLED":     true,
	"WORKER_CONCURRENCY": 2,

	"OPENAI_BASE_URL":                "https://api.openai.com/v1",
	"OPENAI_TIMEOUT_MS":              15000,
	"OPENAI_MAX_RETRIES":             2,
	"OPENAI_MODEL_CONDENSE_PRIMARY":  "gpt-4.1-mini",
	"OPENAI_MODEL_CONDENSE_FALLBACK": "gpt-4.1-nano",

	"CONDENSE_MAX_WORDS":       90,
	"CONDENSE_MIN_WORDS":       75,
	"SCRIPT_CACHE_TTL_SECONDS": 900,
	"SCRIPT_CACHE_MAX_ENTRIES": 500,

	"ANALYTICS_BASE_URL":   "https://api.mux.com",
	"ANALYTICS_TIMEOUT_MS": 15000,

	"TTS_VOICE":      "narrator",
	"TTS_TIMEOUT_MS": 60000,

	"MEDIA_BASE_URL":        "https://api.mux.com",
	"MEDIA_CORS_ORIGIN":     "*",
	"MEDIA_PLAYBACK_POLICY": "public",
	"MEDIA_TIMEOUT_MS":      15000,

	"UPLOAD_PUT_TIMEOUT_MS":     120000,
	"UPLOAD_MAX_ATTEMPTS":       3,
	"UPLOAD_BASE_DELAY_MS":      1000,
	"UPLOAD_BACKOFF_MULTIPLIER": 2.0,
	"UPLOAD_POLL_INTERVAL_MS":   2000,
	"UPLOAD_MAX_POLLS":          30,
	"PLAYER_BASE_URL":           "https://player.mux.com",
	"ASSET_ID_MIN_LENGTH":       12,
}

// LoadDotEnv loads .env-like files. Missing files are skipped and existing
// process variables keep precedence.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if err := godotenv.Load(trimmed); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", trimmed, err)
		}
	}
	return nil
}

// Load reads settings from the environment. configFile, when set, is read
// first and environment variables override it.
func Load(configFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Port:      v.GetString("PORT"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		AuthToken: v.GetString("API_AUTH_TOKEN"),

		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		CORSAllowedMethods: splitList(v.GetString("CORS_ALLOWED_METHODS")),
		CORSAllowedHeaders: splitList(v.GetString("CORS_ALLOWED_HEADERS")),
		CORSMaxAge:         time.Duration(v.GetInt("CORS_MAX_AGE_SECONDS")) * time.Second,
		RateLimitRPS:       v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:     v.GetInt("RATE_LIMIT_BURST"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		RedisAddr:        v.GetString("REDIS_ADDR"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		RedisDB:          v.GetInt("REDIS_DB"),
		RedisStream:      v.GetString("REDIS_STREAM"),
		RedisDLQ:         v.GetString("REDIS_DLQ_STREAM"),
		RedisGroup:       v.GetString("REDIS_GROUP"),
		RedisConsumer:    v.GetString("REDIS_CONSUMER"),
		QueueMaxAttempts: v.GetInt("QUEUE_MAX_ATTEMPTS"),
		QueueBufferSize:  v.GetInt("QUEUE_BUFFER_SIZE"),

		WorkerEnabled:     v.GetBool("WORKER_ENABLED"),
		WorkerConcurrency: v.GetInt("WORKER_CONCURRENCY"),

		OpenAIAPIKey:                v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:               v.GetString("OPENAI_BASE_URL"),
		OpenAIOrganization:          v.GetString("OPENAI_ORGANIZATION"),
		OpenAITimeout:               millis(v, "OPENAI_TIMEOUT_MS"),
		OpenAIMaxRetries:            v.GetInt("OPENAI_MAX_RETRIES"),
		OpenAIModelCondensePrimary:  v.GetString("OPENAI_MODEL_CONDENSE_PRIMARY"),
		OpenAIModelCondenseFallback: v.GetString("OPENAI_MODEL_CONDENSE_FALLBACK"),

		CondenseMaxWords:      v.GetInt("CONDENSE_MAX_WORDS"),
		CondenseMinWords:      v.GetInt("CONDENSE_MIN_WORDS"),
		ScriptCacheTTL:        time.Duration(v.GetInt("SCRIPT_CACHE_TTL_SECONDS")) * time.Second,
		ScriptCacheMaxEntries: v.GetInt("SCRIPT_CACHE_MAX_ENTRIES"),

		AnalyticsBaseURL:     v.GetString("ANALYTICS_BASE_URL"),
		AnalyticsTokenID:     v.GetString("ANALYTICS_TOKEN_ID"),
		AnalyticsTokenSecret: v.GetString("ANALYTICS_TOKEN_SECRET"),
		AnalyticsTimeout:     millis(v, "ANALYTICS_TIMEOUT_MS"),

		TTSBaseURL: v.GetString("TTS_BASE_URL"),
		TTSAPIKey:  v.GetString("TTS_API_KEY"),
		TTSVoice:   v.GetString("TTS_VOICE"),
		TTSModel:   v.GetString("TTS_MODEL"),
		TTSTimeout: millis(v, "TTS_TIMEOUT_MS"),

		MediaBaseURL:        v.GetString("MEDIA_BASE_URL"),
		MediaTokenID:        v.GetString("MEDIA_TOKEN_ID"),
		MediaTokenSecret:    v.GetString("MEDIA_TOKEN_SECRET"),
		MediaCORSOrigin:     v.GetString("MEDIA_CORS_ORIGIN"),
		MediaPlaybackPolicy: v.GetString("MEDIA_PLAYBACK_POLICY"),
		MediaPosterURL:      v.GetString("MEDIA_POSTER_URL"),
		MediaTimeout:        millis(v, "MEDIA_TIMEOUT_MS"),

		UploadPutTimeout:        millis(v, "UPLOAD_PUT_TIMEOUT_MS"),
		UploadMaxAttempts:       v.GetInt("UPLOAD_MAX_ATTEMPTS"),
		UploadBaseDelay:         millis(v, "UPLOAD_BASE_DELAY_MS"),
		UploadBackoffMultiplier: v.GetFloat64("UPLOAD_BACKOFF_MULTIPLIER"),
		UploadPollInterval:      millis(v, "UPLOAD_POLL_INTERVAL_MS"),
		UploadMaxPolls:          v.GetInt("UPLOAD_MAX_POLLS"),
		PlayerBaseURL:           v.GetString("PLAYER_BASE_URL"),
		AssetIDMinLength:        v.GetInt("ASSET_ID_MIN_LENGTH"),
	}

	// The data and upload APIs usually share one access token.
	if cfg.MediaTokenID == "" && cfg.MediaTokenSecret == "" {
		cfg.MediaTokenID = cfg.AnalyticsTokenID
		cfg.MediaTokenSecret = cfg.AnalyticsTokenSecret
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the pipeline cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.CondenseMaxWords <= 0 {
		problems = append(problems, "CONDENSE_MAX_WORDS must be positive")
	}
	if c.UploadMaxAttempts <= 0 {
		problems = append(problems, "UPLOAD_MAX_ATTEMPTS must be positive")
	}
	if c.UploadBackoffMultiplier < 1 {
		problems = append(problems, "UPLOAD_BACKOFF_MULTIPLIER must be at least 1")
	}
	if c.UploadMaxPolls <= 0 {
		problems = append(problems, "UPLOAD_MAX_POLLS must be positive")
	}
	if c.AssetIDMinLength <= 0 {
		problems = append(problems, "ASSET_ID_MIN_LENGTH must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		problems = append(problems, "WORKER_CONCURRENCY must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Millisecond
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
