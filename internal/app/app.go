package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/abdulachik/multipost/internal/api"
	"github.com/abdulachik/multipost/internal/blob"
	"github.com/abdulachik/multipost/internal/config"
	"github.com/abdulachik/multipost/internal/db"
	"github.com/abdulachik/multipost/internal/notify"
	"github.com/abdulachik/multipost/internal/queue"
	"github.com/abdulachik/multipost/internal/scheduler"
	"github.com/abdulachik/multipost/internal/session"
	"github.com/abdulachik/multipost/internal/validation"
	"github.com/abdulachik/multipost/internal/website"
)

const shutdownTimeout = 10 * time.Second

// App is the main application container holding all dependencies.
type App struct {
	Config    *config.Config
	Store     *db.Store
	Sessions  *session.Manager
	Registry  *website.Registry
	Validator *validation.Engine
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
}

// New creates a new application instance with all dependencies wired up.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Create database connection
	store, err := db.NewStore(ctx, cfg.DatabasePath, db.WithBlobs(blobs))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// The queue lives in memory, so flags left by a previous run are stale.
	if n, err := store.ResetQueued(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("reset queued flags: %w", err)
	} else if n > 0 {
		slog.Info("cleared stale queued flags", "count", n)
	}

	sessions := session.NewManager(store, cfg.RequestTimeout)

	registry, err := website.NewDefaultRegistry(website.Deps{
		Sessions: sessions,
		AuthURL:  cfg.AuthBrokerURL,
		Client: website.ClientConfig{
			Timeout:   cfg.RequestTimeout,
			RateLimit: cfg.SiteRateLimit,
		},
		Advertise: cfg.Advertise,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build registry: %w", err)
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	validator := validation.New(registry)
	store.SetValidator(validator)
	q := queue.New(queue.Config{
		Registry:    registry,
		Validator:   validator,
		Submissions: store,
		Recorder:    NewHistoryRecorder(store),
		Notifier:    notifier,
	})

	sched, err := scheduler.New(scheduler.Config{
		Store:          store,
		Queue:          q,
		Sites:          registry,
		ScheduleSpec:   cfg.ScheduleSpec,
		StatusSpec:     cfg.StatusSpec,
		StatusProfiles: cfg.StatusProfiles,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &App{
		Config:    cfg,
		Store:     store,
		Sessions:  sessions,
		Registry:  registry,
		Validator: validator,
		Queue:     q,
		Scheduler: sched,
	}, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.S3Endpoint != "" {
		slog.Info("using s3 blob storage", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
		s3, err := blob.NewS3(ctx, blob.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to s3: %w", err)
		}
		return s3, nil
	}

	dir := cfg.BlobDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(cfg.DatabasePath), "blobs")
	}
	local, err := blob.NewLocal(dir)
	if err != nil {
		return nil, fmt.Errorf("open blob dir: %w", err)
	}
	return local, nil
}

func newNotifier(cfg *config.Config) (*notify.Dispatcher, error) {
	senders := []notify.Notifier{notify.LogNotifier{}}
	if cfg.DiscordWebhookURL != "" {
		discord, err := notify.NewDiscordNotifier(cfg.DiscordWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("create discord notifier: %w", err)
		}
		senders = append(senders, discord)
	}
	return notify.NewDispatcher(senders...), nil
}

// Handler builds the HTTP API over the app's components.
func (a *App) Handler() http.Handler {
	return api.NewServer(api.Config{
		Queue:       a.Queue,
		Submissions: a.Store,
		Changes:     a.Store,
		Sites:       a.Registry,
		History:     a.Store,
		Health:      a.Scheduler.Health(),
	}).Router()
}

// Serve runs the queue, the scheduler and the HTTP API until ctx is done or
// one of them fails.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() { errCh <- a.Queue.Run(ctx) }()
	go func() { errCh <- a.Scheduler.Run(ctx) }()
	go func() {
		slog.Info("http api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("http shutdown failed", "error", serr)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes all resources.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
