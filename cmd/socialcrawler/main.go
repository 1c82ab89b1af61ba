// Package main wires together the social crawler service binary.
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

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/crowdlens/social-crawler/internal/actor"
	"github.com/crowdlens/social-crawler/internal/api"
	"github.com/crowdlens/social-crawler/internal/clock/system"
	"github.com/crowdlens/social-crawler/internal/config"
	"github.com/crowdlens/social-crawler/internal/discover"
	"github.com/crowdlens/social-crawler/internal/enrich"
	"github.com/crowdlens/social-crawler/internal/hash/sha256"
	"github.com/crowdlens/social-crawler/internal/id/uuid"
	"github.com/crowdlens/social-crawler/internal/logging"
	"github.com/crowdlens/social-crawler/internal/metrics"
	memorypublisher "github.com/crowdlens/social-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/crowdlens/social-crawler/internal/publisher/pubsub"
	queuememory "github.com/crowdlens/social-crawler/internal/queue/memory"
	"github.com/crowdlens/social-crawler/internal/ratelimit"
	"github.com/crowdlens/social-crawler/internal/scrape"
	"github.com/crowdlens/social-crawler/internal/storage/gcs"
	"github.com/crowdlens/social-crawler/internal/storage/local"
	memorystorage "github.com/crowdlens/social-crawler/internal/storage/memory"
	"github.com/crowdlens/social-crawler/internal/storage/postgres"
	"github.com/crowdlens/social-crawler/internal/worker"
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
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var (
		jobStore  scrape.JobStore
		seenStore scrape.SeenStore
	)
	switch cfg.Store.Provider {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Store.DSN,
			MaxConns: int32(cfg.Store.MaxOpenConns),
		})
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		defer store.Close()
		jobStore, seenStore = store, store
	default:
		jobStore = memorystorage.NewJobStore()
		seenStore = memorystorage.NewSeenStore()
	}

	var blobStore scrape.BlobStore
	switch cfg.Blob.Provider {
	case "local":
		store, err := local.New(cfg.Blob.LocalDir)
		if err != nil {
			return fmt.Errorf("local blob store: %w", err)
		}
		blobStore = store
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		defer client.Close()
		store, err := gcs.New(client, cfg.Blob.GCSBucket)
		if err != nil {
			return fmt.Errorf("gcs blob store: %w", err)
		}
		blobStore = store
	default:
		blobStore = memorystorage.NewBlobStore()
	}

	var publisher scrape.Publisher
	switch cfg.Publisher.Provider {
	case "pubsub":
		client, err := gpubsub.NewClient(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		defer client.Close()
		pub, err := pubsubpublisher.New(client)
		if err != nil {
			return fmt.Errorf("pubsub publisher: %w", err)
		}
		defer pub.Stop()
		publisher = pub
	default:
		publisher = memorypublisher.New()
	}

	queue := queuememory.NewQueue(cfg.Queue.Depth)
	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.New()
	limiter := ratelimit.New(cfg.Actor.RPS, cfg.Actor.Burst)
	actorClient := actor.NewClient(cfg.Actor, limiter, logger.Named("actor"))

	discoverers := map[scrape.Platform]scrape.Discoverer{
		scrape.PlatformInstagram: actor.NewInstagramDiscoverer(
			actorClient,
			cfg.Actor.InstagramActor,
			cfg.Actor.WaitTimeout(),
			logger.Named("instagram"),
		),
	}
	if cfg.Discovery.Headless {
		engine, err := discover.NewEngine(cfg.Discovery, logger.Named("discover"))
		if err != nil {
			logger.Warn("headless engine init failed, falling back to static discovery", zap.Error(err))
			discoverers[scrape.PlatformTikTok] = discover.NewStatic(cfg.Discovery, logger.Named("discover"))
		} else {
			defer engine.Close()
			discoverers[scrape.PlatformTikTok] = engine
		}
	} else {
		discoverers[scrape.PlatformTikTok] = discover.NewStatic(cfg.Discovery, logger.Named("discover"))
	}

	enricher := enrich.New(actorClient, cfg.Enrichment, map[scrape.Platform]string{
		scrape.PlatformTikTok:    cfg.Actor.TikTokComments,
		scrape.PlatformInstagram: cfg.Actor.InstaComments,
	}, logger.Named("enrich"))

	topic := cfg.Publisher.TopicName
	if topic == "" {
		topic = "scrape-completions"
	}
	w := worker.New(
		queue,
		jobStore,
		seenStore,
		blobStore,
		publisher,
		hasher,
		clock,
		discoverers,
		enricher,
		worker.Config{
			ContentType: cfg.Blob.ContentType,
			BlobPrefix:  cfg.Blob.Prefix,
			Topic:       topic,
		},
		logger.Named("worker"),
	)

	apiServer := api.NewServer(jobStore, queue, w, idGen, clock, limiter, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
