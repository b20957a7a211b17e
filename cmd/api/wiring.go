package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/ai"
	"github.com/iago/analytics-audio-reports/internal/analytics"
	"github.com/iago/analytics-audio-reports/internal/cache"
	"github.com/iago/analytics-audio-reports/internal/condense"
	"github.com/iago/analytics-audio-reports/internal/config"
	"github.com/iago/analytics-audio-reports/internal/http/handlers"
	"github.com/iago/analytics-audio-reports/internal/media"
	"github.com/iago/analytics-audio-reports/internal/pipeline"
	"github.com/iago/analytics-audio-reports/internal/queue"
	"github.com/iago/analytics-audio-reports/internal/repository"
	"github.com/iago/analytics-audio-reports/internal/retry"
	"github.com/iago/analytics-audio-reports/internal/speech"
)

type app struct {
	pipeline *pipeline.Service
	consumer queue.Consumer
	checks   map[string]handlers.Pinger
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires every stage. With durable false the job registry and queue
// stay in memory, which is enough for one-shot commands.
func buildApp(ctx context.Context, cfg config.Config, logger zerolog.Logger, durable bool) *app {
	a := &app{checks: make(map[string]handlers.Pinger)}

	var (
		repo     repository.JobsRepository = repository.NewMemoryJobsRepository()
		producer queue.Producer
		consumer queue.Consumer
	)
	if durable {
		repo = setupRepository(ctx, cfg, logger, a)
		producer, consumer = setupQueue(ctx, cfg, logger, a)
	} else {
		local := queue.NewLocalQueue(cfg.QueueBufferSize, cfg.QueueMaxAttempts, logger)
		producer, consumer = local, local
	}
	a.consumer = consumer

	source := analytics.NewHTTPSource(analytics.HTTPSourceConfig{
		BaseURL:     cfg.AnalyticsBaseURL,
		TokenID:     cfg.AnalyticsTokenID,
		TokenSecret: cfg.AnalyticsTokenSecret,
		Timeout:     cfg.AnalyticsTimeout,
	})
	if !source.Available() {
		logger.Warn().Msg("analytics credentials not configured, every category will be reported as unavailable")
	}

	llm := ai.NewOpenAIClient(ai.OpenAIClientConfig{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Timeout:      cfg.OpenAITimeout,
		MaxRetries:   cfg.OpenAIMaxRetries,
		Organization: cfg.OpenAIOrganization,
	})
	if !llm.Available() {
		logger.Warn().Msg("OPENAI_API_KEY not configured, long reports will be truncated")
	}
	condenser := condense.New(condense.Dependencies{
		Client: llm,
		Router: ai.NewModelRouter(ai.ModelRouterConfig{
			CondensePrimary:  cfg.OpenAIModelCondensePrimary,
			CondenseFallback: cfg.OpenAIModelCondenseFallback,
		}),
		Cache: cache.NewScriptCache(cache.Config{
			TTL:        cfg.ScriptCacheTTL,
			MaxEntries: cfg.ScriptCacheMaxEntries,
		}),
		Logger:   logger,
		MaxWords: cfg.CondenseMaxWords,
		MinWords: cfg.CondenseMinWords,
	})

	synthesizer := speech.NewSynthesizer(speech.Config{
		BaseURL: cfg.TTSBaseURL,
		APIKey:  cfg.TTSAPIKey,
		Voice:   cfg.TTSVoice,
		Model:   cfg.TTSModel,
		Timeout: cfg.TTSTimeout,
	})
	if !synthesizer.Available() {
		logger.Warn().Msg("TTS_BASE_URL not configured, jobs will fail at speech synthesis")
	}

	host := media.NewHTTPHost(media.HTTPHostConfig{
		BaseURL:        cfg.MediaBaseURL,
		TokenID:        cfg.MediaTokenID,
		TokenSecret:    cfg.MediaTokenSecret,
		CORSOrigin:     cfg.MediaCORSOrigin,
		PlaybackPolicy: cfg.MediaPlaybackPolicy,
		PosterURL:      cfg.MediaPosterURL,
		APITimeout:     cfg.MediaTimeout,
		PutTimeout:     cfg.UploadPutTimeout,
	})
	uploader := media.NewUploader(host, media.UploaderConfig{
		PutPolicy: retry.Policy{
			MaxAttempts: cfg.UploadMaxAttempts,
			BaseDelay:   cfg.UploadBaseDelay,
			Multiplier:  cfg.UploadBackoffMultiplier,
		},
		PollInterval:     cfg.UploadPollInterval,
		MaxPolls:         cfg.UploadMaxPolls,
		MinAssetIDLength: cfg.AssetIDMinLength,
		PlayerBaseURL:    cfg.PlayerBaseURL,
	}, logger)

	a.pipeline = pipeline.NewService(pipeline.Dependencies{
		Aggregator:  analytics.NewAggregator(source, logger),
		Condenser:   condenser,
		Synthesizer: synthesizer,
		Uploader:    uploader,
		Jobs:        repo,
		Producer:    producer,
		Logger:      logger,
	})
	return a
}

func setupRepository(ctx context.Context, cfg config.Config, logger zerolog.Logger, a *app) repository.JobsRepository {
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository()
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize postgres repository, fallback to memory")
		return repository.NewMemoryJobsRepository()
	}
	logger.Info().Msg("postgres repository initialized")
	a.checks["postgres"] = pgRepo
	a.closers = append(a.closers, pgRepo.Close)
	return pgRepo
}

func setupQueue(ctx context.Context, cfg config.Config, logger zerolog.Logger, a *app) (queue.Producer, queue.Consumer) {
	if cfg.RedisAddr == "" {
		logger.Info().Msg("REDIS_ADDR not configured, using local queue")
		local := queue.NewLocalQueue(cfg.QueueBufferSize, cfg.QueueMaxAttempts, logger)
		a.checks["local_queue"] = local
		return local, local
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: cfg.QueueMaxAttempts,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize redis streams queue, fallback to local")
		local := queue.NewLocalQueue(cfg.QueueBufferSize, cfg.QueueMaxAttempts, logger)
		a.checks["local_queue"] = local
		return local, local
	}
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("redis queue without DATABASE_URL: jobs are only visible to the process that created them")
	}
	logger.Info().Msg("redis streams queue initialized")
	a.checks["redis"] = streams
	a.closers = append(a.closers, func() { _ = streams.Close() })
	return streams, streams
}
