// Package main is the entrypoint for the MFLOW license server.
package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense"
	"github.com/mflowhq/mflow-license-sdk/mflowlicense/httpapi"
	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

// Config is loaded from MFLOW_-prefixed environment variables. The key
// derivation secret is injected here, never embedded in source.
type Config struct {
	Addr      string `envconfig:"ADDR" default:":8080"`
	Secret    string `envconfig:"SECRET" required:"true"`
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"MFLOW"`
	APIKey    string `envconfig:"API_KEY"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	Store         string `envconfig:"STORE" default:"memory"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN"`
	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"mflow"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("MFLOW", &cfg); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := licensestore.Open(ctx, licensestore.Config{
		Driver:        cfg.Store,
		PostgresDSN:   cfg.PostgresDSN,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed to open license store",
			slog.String("driver", cfg.Store),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer store.Close(context.Background())
	logger.Info("license store ready", slog.String("driver", cfg.Store))

	deriver, err := mflowlicense.NewDeriver([]byte(cfg.Secret), mflowlicense.WithKeyPrefix(cfg.KeyPrefix))
	if err != nil {
		logger.Error("failed to configure key derivation", slog.String("error", err.Error()))
		os.Exit(1)
	}
	engine := mflowlicense.NewEngine(deriver, store, mflowlicense.WithEngineLogger(logger))
	handler := httpapi.NewHandler(engine, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if cfg.APIKey != "" {
		r.Use(requireAPIKey(cfg.APIKey))
	}
	r.Mount("/v1", handler.Routes())

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("license server listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
}

func initLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// requireAPIKey rejects requests whose X-API-Key header does not match.
func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"invalid API key"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
