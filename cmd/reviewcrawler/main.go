// Package main wires together the review crawler service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/api"
	"github.com/reviewlens/review-crawler/internal/cache"
	"github.com/reviewlens/review-crawler/internal/clock/system"
	"github.com/reviewlens/review-crawler/internal/config"
	"github.com/reviewlens/review-crawler/internal/consent"
	"github.com/reviewlens/review-crawler/internal/extractor"
	"github.com/reviewlens/review-crawler/internal/id/uuid"
	"github.com/reviewlens/review-crawler/internal/keyhealth"
	"github.com/reviewlens/review-crawler/internal/logging"
	"github.com/reviewlens/review-crawler/internal/progress"
	"github.com/reviewlens/review-crawler/internal/progress/sinks"
	"github.com/reviewlens/review-crawler/internal/review"
	"github.com/reviewlens/review-crawler/internal/robots"
	"github.com/reviewlens/review-crawler/internal/session"
	"github.com/reviewlens/review-crawler/internal/storage"
	"github.com/reviewlens/review-crawler/internal/storage/memory"
	"github.com/reviewlens/review-crawler/internal/storage/postgres"
	"github.com/reviewlens/review-crawler/internal/storage/sqlite"
	"github.com/reviewlens/review-crawler/internal/summarize"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("storage close failed", zap.Error(err))
		}
	}()

	clk := system.New()

	snapshot := sinks.NewSnapshotSink()
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register crawl metrics: %w", err)
	}
	sinkList := []progress.Sink{sinks.NewLogSink(logger), promSink, snapshot}
	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSub.TopicName)
		sinkList = append(sinkList, sinks.NewPubSubSink(sinks.NewTopicPublisher(topic), logger))
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		}()
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, sinkList...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	pager, closePager, err := buildPager(cfg, logger)
	if err != nil {
		return fmt.Errorf("build pager: %w", err)
	}
	defer closePager()

	summaryCache := cache.New(store, clk, cfg.CacheTTL(), logger)
	summarizer := summarize.NewGemini(summarize.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: time.Duration(cfg.Gemini.TimeoutSec) * time.Second,
	}, logger)

	svc := session.NewService(session.Options{
		Store:      store,
		Consent:    consent.New(store, clk, logger),
		Robots:     robots.New(cfg.Crawler.UserAgent, logger),
		Pager:      pager,
		Cache:      summaryCache,
		Summarizer: summarizer,
		Clock:      clk,
		IDs:        uuid.New(),
		Emitter:    hub,
		Engine: session.Config{
			NavTimeout:    cfg.NavTimeout(),
			SettleDelay:   time.Duration(cfg.Crawler.SettleDelayMs) * time.Millisecond,
			PoliteMean:    time.Duration(cfg.Crawler.PoliteMeanMs) * time.Millisecond,
			PoliteJitter:  time.Duration(cfg.Crawler.PoliteJitterMs) * time.Millisecond,
			PoliteFloor:   time.Duration(cfg.Crawler.PoliteFloorMs) * time.Millisecond,
			RetryAttempts: cfg.Crawler.RetryAttempts,
			RetryBase:     time.Duration(cfg.Crawler.RetryBaseMs) * time.Millisecond,
			RetryCap:      time.Duration(cfg.Crawler.RetryCapMs) * time.Millisecond,
		},
		MaxPages:   cfg.Crawler.MaxPages,
		MaxReviews: cfg.Crawler.MaxReviews,
		Logger:     logger,
	})
	defer svc.Close()

	monitor := keyhealth.NewMonitor(summarizer, store, clk, cfg.KeyHealthInterval(), func(h review.KeyHealth) {
		hub.Emit(progress.Event{
			TS:        clk.Now().UTC(),
			Stage:     progress.StageKeyHealth,
			KeyStatus: h.Status,
			Note:      h.Message,
		})
	}, logger)
	go monitor.Run(ctx)

	if resumed, err := svc.Resume(ctx); err != nil {
		logger.Warn("session resume failed", zap.Error(err))
	} else if resumed {
		logger.Info("resumed interrupted crawl session")
	}

	server := api.NewServer(svc, monitor, snapshot, api.AuthConfig{
		Enabled: cfg.Auth.Enabled,
		APIKey:  cfg.Auth.APIKey,
	}, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	logger.Info("review crawler listening", zap.Int("port", cfg.Server.Port))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	return nil
}

func openStorage(ctx context.Context, cfg config.Config) (storage.Provider, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.Storage.SQLitePath)
	case "postgres":
		return postgres.New(ctx, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildPager assembles the page driver: plain HTTP, headless Chrome, or the
// auto mode that starts static and escalates to rendering when a page looks
// script-driven.
func buildPager(cfg config.Config, logger *zap.Logger) (review.Pager, func(), error) {
	static := extractor.NewStaticPager(cfg.Crawler.UserAgent, logger)
	switch cfg.Crawler.Pager {
	case "static":
		return static, func() {}, nil
	case "rendered":
		rendered, err := extractor.NewRenderingPager(cfg.Crawler.UserAgent, logger)
		if err != nil {
			return nil, nil, err
		}
		return rendered, rendered.Close, nil
	default: // auto
		rendered, err := extractor.NewRenderingPager(cfg.Crawler.UserAgent, logger)
		if err != nil {
			// A missing browser downgrades to static crawling.
			logger.Warn("headless browser unavailable, using static fetching", zap.Error(err))
			return extractor.NewFallbackPager(static, nil, extractor.DefaultDetector(), logger), func() {}, nil
		}
		return extractor.NewFallbackPager(static, rendered, extractor.DefaultDetector(), logger), rendered.Close, nil
	}
}
