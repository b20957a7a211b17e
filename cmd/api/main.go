package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iago/analytics-audio-reports/internal/config"
	"github.com/iago/analytics-audio-reports/internal/domain"
	httpserver "github.com/iago/analytics-audio-reports/internal/http"
	"github.com/iago/analytics-audio-reports/internal/http/handlers"
	"github.com/iago/analytics-audio-reports/internal/http/middleware"
	"github.com/iago/analytics-audio-reports/internal/worker"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "api",
		Short:         "Analytics audio reports API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional config file read before the environment")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the job worker",
		RunE:  runServe,
	})
	rootCmd.AddCommand(newReportCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "failed loading .env files: %v\n", err)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "audio-reports").Logger()
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	app := buildApp(ctx, cfg, logger, true)
	defer app.Close()

	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:       handlers.NewAPI(app.pipeline, app.checks),
		Logger:    logger,
		AuthToken: cfg.AuthToken,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: cfg.CORSAllowedMethods,
			AllowedHeaders: cfg.CORSAllowedHeaders,
			MaxAge:         cfg.CORSMaxAge,
		},
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(app.consumer, app.pipeline, cfg.WorkerConcurrency, logger)
		go func() {
			defer close(workerDone)
			processor.Start(ctx)
		}()
		logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker enabled and started")
	} else {
		close(workerDone)
		logger.Info().Msg("worker disabled by configuration")
	}

	// Sync reports block for the whole pipeline, so writes get a long deadline.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api listening")
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("worker did not stop before shutdown deadline")
	}
	return nil
}

func newReportCommand() *cobra.Command {
	var (
		timeframe     string
		focusArea     string
		includeAssets bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run one synchronous report and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})

			focus, err := domain.ParseFocusArea(focusArea)
			if err != nil {
				return err
			}
			var raw json.RawMessage
			if timeframe != "" {
				raw, _ = json.Marshal(timeframe)
			}
			timeRange, err := domain.ParseTimeframe(raw, time.Now())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app := buildApp(ctx, cfg, logger, false)
			defer app.Close()

			result, err := app.pipeline.RunSync(ctx, domain.ReportRequest{
				TimeRange:        timeRange,
				FocusArea:        focus,
				IncludeAssetList: includeAssets,
			})
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&timeframe, "timeframe", "t", "last 7 days", "relative timeframe such as \"last 24 hours\"")
	cmd.Flags().StringVarP(&focusArea, "focus", "f", "general", "focus area")
	cmd.Flags().BoolVar(&includeAssets, "assets", false, "include the asset list category")
	return cmd
}
