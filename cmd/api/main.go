package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"richform/internal/http/handlers"
	"richform/internal/http/httpapi"
	"richform/internal/infra"
	"richform/internal/providers/formstore"
	"richform/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	var store storage.BlobStore
	switch cfg.StorageBackend {
	case "memory":
		store = storage.NewMemoryStore()
	case "postgres":
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		store, err = storage.NewPGStore(pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init postgres store")
		}
	default:
		store, err = storage.NewFileStore(cfg.StoragePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init file store")
		}
	}

	// Submission relay is optional: without a credential the endpoint
	// answers with a configuration error instead of refusing to boot.
	var formStore *formstore.Client
	if cfg.FormStoreAPIKey != "" {
		formStore, err = formstore.New(formstore.Options{
			APIKey:  cfg.FormStoreAPIKey,
			BaseURL: cfg.FormStoreBaseURL,
			Logger:  &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init form store client")
		}
	} else {
		logger.Warn().Msg("FORM_STORE_API_KEY not set, submission relay disabled")
	}

	fetch := &http.Client{Timeout: cfg.ProxyFetchTimeout}
	app := handlers.NewApp(store, storage.NewKeyGenerator(), cfg.PublicBaseURL, formStore, fetch, logger)

	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("backend", cfg.StorageBackend).
			Msgf("gateway listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
