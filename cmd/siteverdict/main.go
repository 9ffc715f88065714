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
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/siteverdict/siteverdict/internal/api"
	"github.com/siteverdict/siteverdict/internal/apikey"
	"github.com/siteverdict/siteverdict/internal/archive"
	"github.com/siteverdict/siteverdict/internal/cache"
	"github.com/siteverdict/siteverdict/internal/classify"
	"github.com/siteverdict/siteverdict/internal/clock/system"
	"github.com/siteverdict/siteverdict/internal/config"
	"github.com/siteverdict/siteverdict/internal/hash/sha256"
	"github.com/siteverdict/siteverdict/internal/inference"
	"github.com/siteverdict/siteverdict/internal/logging"
	"github.com/siteverdict/siteverdict/internal/probe"
	"github.com/siteverdict/siteverdict/internal/publish"
	"github.com/siteverdict/siteverdict/internal/ratelimit"
	"github.com/siteverdict/siteverdict/internal/render"
	"github.com/siteverdict/siteverdict/internal/store"
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
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	clock := system.New()
	results := cache.New(cfg.CacheTTL(), time.Duration(cfg.Cache.CleanupSeconds)*time.Second)
	keys := apikey.New(st, clock)
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.RateLimit.RPS,
		Burst: cfg.RateLimit.Burst,
	})

	renderer, err := render.NewChromedp(render.Config{
		NavTimeout:  cfg.RenderTimeout(),
		MaxParallel: cfg.Render.MaxParallel,
		Quality:     cfg.Render.Quality,
		UserAgent:   cfg.Render.UserAgent,
	}, logger.Named("render"))
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}
	defer renderer.Close()

	capturer := render.NewCapturer(renderer, render.CaptureConfig{
		MaxAttempts: cfg.Render.MaxAttempts,
		Backoff:     cfg.RetryBackoff(),
	}, logger.Named("capture"))

	model := inference.New(inference.Config{
		BaseURL:   cfg.Model.BaseURL,
		APIKey:    cfg.Model.APIKey,
		Model:     cfg.Model.Name,
		MaxTokens: cfg.Model.MaxTokens,
		Timeout:   time.Duration(cfg.Model.TimeoutSeconds) * time.Second,
	})
	classifier := classify.NewClassifier(model, classify.Label(cfg.Classify.DefaultLabel), logger.Named("classifier"))

	var prober classify.Prober
	if cfg.Probe.Enabled {
		prober = probe.New(probe.Config{
			Timeout:   time.Duration(cfg.Probe.TimeoutSeconds) * time.Second,
			UserAgent: cfg.Render.UserAgent,
		}, logger.Named("probe"))
	}

	archiver, err := buildArchiver(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, cleanup, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	pipeline := classify.NewPipeline(
		capturer,
		classifier,
		prober,
		archiver,
		sha256.New(),
		classify.PipelineConfig{
			DefaultScheme: cfg.Render.DefaultScheme,
			Fallback:      classify.FallbackMode(cfg.Classify.FallbackMode),
			ArchivePrefix: cfg.Archive.Prefix,
		},
		logger.Named("pipeline"),
	)

	apiServer := api.NewServer(pipeline, st, results, keys, limiter, publisher, clock, cfg, logger.Named("api"))

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

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.DB.Provider {
	case "postgres":
		logger.Info("connecting to postgres")
		st, err := store.NewPostgres(ctx, store.PostgresConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return st, nil
	case "memory":
		logger.Info("using in-memory store; results will not survive restarts")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown db.provider %q", cfg.DB.Provider)
	}
}

func buildArchiver(ctx context.Context, cfg config.Config) (classify.Archiver, error) {
	switch cfg.Archive.Provider {
	case "none":
		return nil, nil
	case "local":
		a, err := archive.NewLocal(archive.LocalConfig{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return a, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a, err := archive.NewGCS(client, archive.GCSConfig{Bucket: cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive.provider %q", cfg.Archive.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (publish.Publisher, func(), error) {
	noop := func() {}
	switch cfg.Events.Provider {
	case "none":
		return publish.Noop{}, noop, nil
	case "memory":
		return publish.NewMemory(), noop, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, noop, fmt.Errorf("init pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Events.Topic)
		pub, err := publish.NewPubSub(topic)
		if err != nil {
			return nil, noop, fmt.Errorf("init pubsub publisher: %w", err)
		}
		cleanup := func() {
			topic.Stop()
			_ = client.Close()
		}
		return pub, cleanup, nil
	default:
		return nil, noop, fmt.Errorf("unknown events.provider %q", cfg.Events.Provider)
	}
}
