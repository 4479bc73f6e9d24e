package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openmusicplayer/authgate/internal/api"
	"github.com/openmusicplayer/authgate/internal/auth"
	"github.com/openmusicplayer/authgate/internal/cache"
	"github.com/openmusicplayer/authgate/internal/config"
	"github.com/openmusicplayer/authgate/internal/crud"
	"github.com/openmusicplayer/authgate/internal/db"
	"github.com/openmusicplayer/authgate/internal/docstore"
	"github.com/openmusicplayer/authgate/internal/health"
	"github.com/openmusicplayer/authgate/internal/logger"
	"github.com/openmusicplayer/authgate/internal/metrics"
	"github.com/openmusicplayer/authgate/internal/password"
	"github.com/openmusicplayer/authgate/internal/storage"
	"github.com/openmusicplayer/authgate/internal/store"
	"github.com/openmusicplayer/authgate/internal/token"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error(context.Background(), "failed to load configuration", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "authgate")
	logger.SetDefault(log)

	if err := run(cfg, log); err != nil {
		logger.Error(context.Background(), "server stopped with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.GeneratedSecret {
		log.Warn(ctx, "JWT_SECRET not set, using a random development secret; tokens will not survive a restart")
	}

	docs, err := openDocuments(ctx, cfg, log)
	if err != nil {
		return err
	}

	checks := map[string]health.CheckFunc{"documents": docs.Ping}

	var users store.Users = docs
	var resets store.ResetTokens = docs

	if cfg.StoreBackend == config.StorePostgres {
		database, err := db.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return err
		}
		users = db.NewUserRepository(database.DB)
		resets = db.NewResetTokenRepository(database.DB)
		checks["credential_store"] = database.Ping
		log.Info(ctx, "using postgres credential store")
	}

	if cfg.ResetTokenBackend == config.ResetTokensRedis {
		redisStore, err := cache.New(ctx, cfg.RedisAddr, cfg.TokenTTL)
		if err != nil {
			return err
		}
		defer redisStore.Close()

		resets = redisStore
		checks["redis"] = redisStore.Ping
		log.Info(ctx, "using redis reset token store", map[string]interface{}{"addr": cfg.RedisAddr})
	}

	codec, err := token.NewCodec(token.Config{
		Secret: []byte(cfg.JWTSecret),
		TTL:    cfg.TokenTTL,
		Issuer: cfg.TokenIssuer,
	})
	if err != nil {
		return err
	}

	extra, err := auth.ParseRules(cfg.PublicRoutes)
	if err != nil {
		return fmt.Errorf("PUBLIC_ROUTES: %w", err)
	}

	m := metrics.New()
	hasher := password.NewHasher(cfg.BcryptCost)
	sessions := auth.NewService(users, hasher, codec, log, m)
	recovery := auth.NewRecovery(users, resets, hasher, codec, log, m)

	deps := api.Deps{
		Auth:    auth.NewHandler(sessions, recovery, log),
		Gate:    auth.NewGate(codec, append(auth.DefaultRules(), extra...), log, m),
		Health:  health.NewHandler(health.NewChecker(&health.CheckerConfig{Checks: checks, Version: version})),
		Metrics: m,
		Logger:  log,
	}
	if cfg.CRUDUpstreamURL != "" {
		proxy, err := crud.NewProxy(cfg.CRUDUpstreamURL, log)
		if err != nil {
			return err
		}
		deps.Upstream = proxy
		log.Info(ctx, "proxying document routes", map[string]interface{}{"upstream": cfg.CRUDUpstreamURL})
	} else {
		deps.Documents = crud.NewRouter(docs, log)
	}

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return serve(ctx, server, cfg.ShutdownTimeout, log)
}

// openDocuments loads the document store from a local file or a MinIO object.
func openDocuments(ctx context.Context, cfg *config.Config, log *logger.Logger) (*docstore.Store, error) {
	var backend docstore.Backend
	switch cfg.DocstoreBackend {
	case config.DocstoreMinio:
		client, err := storage.New(&storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		backend = client.DocumentBackend(cfg.MinioObjectKey)
		log.Info(ctx, "using minio document backend", map[string]interface{}{
			"bucket": cfg.MinioBucket,
			"object": cfg.MinioObjectKey,
		})
	default:
		backend = docstore.NewFileBackend(cfg.DocstorePath)
		log.Info(ctx, "using file document backend", map[string]interface{}{"path": cfg.DocstorePath})
	}

	return docstore.Open(ctx, backend)
}

func serve(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, log *logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server starting", map[string]interface{}{"addr": server.Addr})
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

	log.Info(context.Background(), "shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info(context.Background(), "server stopped")
	return nil
}
