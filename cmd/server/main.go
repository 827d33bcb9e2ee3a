package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/lostfound/internal/attachments"
	"github.com/mmynk/lostfound/internal/auth"
	"github.com/mmynk/lostfound/internal/config"
	"github.com/mmynk/lostfound/internal/inbox"
	"github.com/mmynk/lostfound/internal/ledger"
	"github.com/mmynk/lostfound/internal/metrics"
	"github.com/mmynk/lostfound/internal/middleware"
	"github.com/mmynk/lostfound/internal/service"
	"github.com/mmynk/lostfound/internal/storage"
	"github.com/mmynk/lostfound/internal/storage/filestore"
	"github.com/mmynk/lostfound/internal/storage/sqlite"
	"github.com/mmynk/lostfound/internal/web"
	"github.com/mmynk/lostfound/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	photos, err := openPhotos(ctx, cfg.Uploads)
	if err != nil {
		return fmt.Errorf("failed to initialize uploads: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	secret := cfg.Session.Secret
	if secret == "" {
		secret, err = auth.GenerateSecret()
		if err != nil {
			return err
		}
		slog.Warn("No session secret configured; sessions will not survive a restart")
	}
	jwtManager := auth.NewJWTManager(secret, cfg.Session.TTL)

	authenticator := auth.NewPasswordAuthenticator(store)
	items := ledger.New(store, ledger.WithMetrics(m))
	gate := middleware.NewSessionGate(jwtManager, middleware.SessionOptions{
		CookieName: cfg.Session.CookieName,
	})

	mux := http.NewServeMux()

	// Register Connect services
	readLimit := connect.WithReadMaxBytes(int(2 * cfg.Uploads.MaxBytes))
	authPath, authHandler := service.NewAuthServiceHandler(
		service.NewAuthService(authenticator, jwtManager, m, nil),
		jwtManager,
	)
	mux.Handle(authPath, middleware.CORS(authHandler))

	itemPath, itemHandler := service.NewItemServiceHandler(
		service.NewItemService(items, inbox.NewProjector(items), photos, nil),
		jwtManager,
		readLimit,
	)
	mux.Handle(itemPath, middleware.CORS(itemHandler))

	// HTML pages
	app, err := web.New(authenticator, items, photos, gate, web.Options{
		Metrics:        m,
		MaxUploadBytes: cfg.Uploads.MaxBytes,
	})
	if err != nil {
		return err
	}
	app.Register(mux)

	if m != nil {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
		slog.Info("Metrics enabled", "path", cfg.Metrics.Path)
	}

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	handler := h2c.NewHandler(middleware.Logging(m)(mux), &http2.Server{})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting",
			"address", cfg.HTTPAddr,
			"storage", cfg.Storage.Driver,
			"uploads", cfg.Uploads.Driver,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := sqlite.New(cfg.SQLitePath, sqlite.Options{Strict: cfg.Strict})
		if err != nil {
			return nil, err
		}
		slog.Info("Storage initialized", "driver", "sqlite", "database", cfg.SQLitePath, "strict", cfg.Strict)
		return store, nil
	default:
		store, err := filestore.New(cfg.DataDir, filestore.Options{Strict: cfg.Strict})
		if err != nil {
			return nil, err
		}
		slog.Info("Storage initialized", "driver", "file", "data_dir", cfg.DataDir, "strict", cfg.Strict)
		return store, nil
	}
}

func openPhotos(ctx context.Context, cfg config.UploadsConfig) (attachments.Store, error) {
	switch cfg.Driver {
	case "s3":
		photos, err := attachments.NewS3(ctx, attachments.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("Uploads stored in S3", "bucket", cfg.S3.Bucket, "endpoint", cfg.S3.Endpoint)
		return photos, nil
	default:
		photos, err := attachments.NewLocal(cfg.Dir)
		if err != nil {
			return nil, err
		}
		slog.Info("Uploads stored locally", "dir", cfg.Dir)
		return photos, nil
	}
}
