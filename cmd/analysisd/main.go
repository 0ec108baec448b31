// Package main wires together the analysis broker service.
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

	"go.uber.org/zap"

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/api"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/archive"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/broker"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/clock/system"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/config"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/jobcache"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/logging"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/notify"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/pubprofile"
	memoryStorage "github.com/FallThunder/hack-at-davidson-26-sub000/internal/storage/memory"
	postgresStorage "github.com/FallThunder/hack-at-davidson-26-sub000/internal/storage/postgres"
	sqliteStorage "github.com/FallThunder/hack-at-davidson-26-sub000/internal/storage/sqlite"
	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/upstream"
)

// store is what every persistence provider must offer.
type store interface {
	broker.AnalysisRepository
	broker.PublisherRepository
	Close() error
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("analysisd", cfg.Logging.Development)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("open store failed", zap.Error(err))
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("close store failed", zap.Error(closeErr))
		}
	}()

	archiver, err := openArchive(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open archive failed", zap.Error(err))
	}

	notifier, err := openNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open notifier failed", zap.Error(err))
	}
	defer func() {
		if closeErr := notifier.Close(); closeErr != nil {
			logger.Error("close notifier failed", zap.Error(closeErr))
		}
	}()

	clock := system.New()
	invoker := upstream.NewOpenAIInvoker(upstream.OpenAIConfig{
		ResponsesURL: cfg.Upstream.ResponsesURL,
		Model:        cfg.Upstream.Model,
		APIKey:       cfg.Upstream.APIKey,
		Logger:       logger.Named("upstream"),
	})
	resolver := pubprofile.NewSiteResolver(pubprofile.SiteResolverConfig{
		UserAgent: cfg.Publisher.UserAgent,
		Timeout:   cfg.PublisherTimeout(),
	}, clock)

	jobs := jobcache.New(db, invoker, clock, jobcache.Config{
		Archive:     archiver,
		Notifier:    notifier,
		BaseContext: context.Background(),
		Logger:      logger.Named("jobcache"),
	})
	publishers := pubprofile.New(db, resolver, clock, logger.Named("pubprofile"))

	apiServer := api.NewServer(jobs, publishers, api.Options{
		AllowedOrigin: cfg.CORS.AllowedOrigin,
		Logger:        logger.Named("api"),
		ReadyCheck: func(ctx context.Context) error {
			_, err := db.GetPublisher(ctx, "readiness-probe")
			if errors.Is(err, broker.ErrNotFound) {
				return nil
			}
			return err
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config) (store, error) {
	switch cfg.Store.Provider {
	case config.StoreSQLite:
		return sqliteStorage.Open(ctx, sqliteStorage.Config{Path: cfg.Store.SQLite.Path})
	case config.StorePostgres:
		return postgresStorage.Open(ctx, cfg.Store.Postgres.DSN)
	case config.StoreMemory:
		return memoryStorage.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

func openArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (archive.Provider, error) {
	switch cfg.Archive.Provider {
	case config.ArchiveNoop:
		return &archive.NoOpProvider{}, nil
	case config.ArchiveLocal:
		return archive.NewLocalProvider(cfg.Archive.LocalDir)
	case config.ArchiveGCS:
		return archive.NewGCSProvider(ctx, cfg.Archive.GCSBucket, logger.Named("archive"))
	default:
		return nil, fmt.Errorf("unknown archive provider %q", cfg.Archive.Provider)
	}
}

func openNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Provider, error) {
	switch cfg.Notify.Provider {
	case config.NotifyNoop:
		return &notify.NoOpProvider{}, nil
	case config.NotifyPubSub:
		return notify.NewPubSubProvider(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicID, logger.Named("notify"))
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Notify.Provider)
	}
}
