package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/notescribe/internal/api"
	"github.com/snarg/notescribe/internal/config"
	"github.com/snarg/notescribe/internal/database"
	"github.com/snarg/notescribe/internal/download"
	"github.com/snarg/notescribe/internal/extract"
	"github.com/snarg/notescribe/internal/metrics"
	"github.com/snarg/notescribe/internal/mqttclient"
	"github.com/snarg/notescribe/internal/notify"
	"github.com/snarg/notescribe/internal/pipeline"
	"github.com/snarg/notescribe/internal/progress"
	"github.com/snarg/notescribe/internal/storage"
	"github.com/snarg/notescribe/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	// CLI flags
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.ScratchDir, "scratch-dir", "", "scratch directory for downloads (overrides SCRATCH_DIR)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("notescribe", version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("notescribe starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Scratch storage
	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ScratchDir).Msg("failed to create scratch directory")
	}
	sweeper := pipeline.NewSweeper(cfg.ScratchDir, cfg.ScratchRetention, log)
	sweeper.Start()

	// Transcription process: the embedded Whisper helper unless overridden
	transcribeArgs := cfg.TranscribeArgs
	if len(transcribeArgs) == 0 {
		script, err := transcribe.InstallHelper(filepath.Join(cfg.ScratchDir, ".helper"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to install transcription helper")
		}
		transcribeArgs = []string{script}
	}
	log.Info().
		Str("command", cfg.TranscribeCommand).
		Strs("args", transcribeArgs).
		Str("model", cfg.WhisperModel).
		Msg("transcription process configured")

	// Pipeline
	registry := progress.NewRegistry()
	orch := pipeline.New(pipeline.Options{
		Extractor:  extract.NewYtdlpExtractor(cfg.YtdlpPath, cfg.YtdlpFormat, log),
		Downloader: download.New(nil),
		Transcriber: transcribe.NewProcessTranscriber(transcribe.ProcessOptions{
			Command: cfg.TranscribeCommand,
			Args:    transcribeArgs,
			Env:     []string{"WHISPER_MODEL=" + cfg.WhisperModel},
			Log:     log,
		}),
		Progress:     registry,
		ScratchDir:   cfg.ScratchDir,
		Log:          log,
		OnTransition: pipeline.TrackState,
	})
	pool := pipeline.NewPool(pipeline.PoolOptions{
		Runner:    orch,
		Workers:   cfg.MaxConcurrent,
		QueueSize: cfg.QueueSize,
		Log:       log,
	})
	pool.Start()

	prometheus.MustRegister(metrics.NewCollector(liveStats{registry: registry, pool: pool}))

	health := api.HealthOptions{
		Queue:     pool,
		Streams:   registry,
		Version:   version,
		StartTime: startTime,
	}
	var collabs []notify.Collaborator

	// Database (optional usage analytics)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err := database.Connect(ctx, database.Options{
			URL:     cfg.DatabaseURL,
			Writers: cfg.MaxConcurrent,
			Log:     dbLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		health.DB = db
		health.Usage = db
		collabs = append(collabs, notify.Usage{DB: db})
	}

	// MQTT (optional completion notifications)
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		health.MQTT = mqtt
		collabs = append(collabs, notify.Publish{Client: mqtt})
	}

	// Transcript archive (optional, S3 or local)
	store, err := storage.New(cfg.S3, cfg.TranscriptDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transcript archive")
	}
	var transcripts *api.TranscriptsHandler
	if store != nil {
		health.Archive = store.Type()
		transcripts = api.NewTranscriptsHandler(store)
		collabs = append(collabs, notify.Archive{Store: store})
	}

	dispatcher := notify.NewDispatcher(notify.DefaultTimeout, log, collabs...)
	log.Info().Strs("collaborators", dispatcher.Names()).Msg("downstream collaborators configured")

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	transcriptions := api.NewTranscriptionsHandler(pool, dispatcher, cfg.PipelineTimeout)
	srv := api.NewServer(cfg, api.Handlers{
		Health:         api.NewHealthHandler(health),
		Events:         api.NewEventsHandler(registry, cfg.SSEKeepalive),
		Transcriptions: transcriptions,
		Transcripts:    transcripts,
	}, httpLog)
	srv.OnShutdown(registry.CloseAll)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	// Runs outlive the HTTP deadline: finish them, let their handlers respond
	// and dispatch, then flush the collaborators before closing their clients.
	pool.Stop()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDrain()
	if err := transcriptions.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Msg("transcription handlers did not finish")
	}
	dispatcher.Close()
	sweeper.Stop()

	log.Info().Msg("notescribe stopped")
}

// liveStats adapts in-process state for the scrape-time collector.
type liveStats struct {
	registry *progress.Registry
	pool     *pipeline.Pool
}

func (s liveStats) SinkCount() int  { return s.registry.Len() }
func (s liveStats) QueueDepth() int { return s.pool.QueueDepth() }
