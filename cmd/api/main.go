package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hordegraphy/internal/api"
	"hordegraphy/internal/auth"
	"hordegraphy/internal/config"
	"hordegraphy/internal/httpmiddleware"
	"hordegraphy/internal/remote"
	"hordegraphy/internal/reportclient"
	"hordegraphy/internal/store"
	"hordegraphy/internal/store/sqlite"
	"hordegraphy/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logger.New(cfg.LogLevel)

	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App, log *logrus.Logger) error {
	ctx := context.Background()

	ch, err := remote.Open(ctx, remote.Options{
		Backend:     cfg.RemoteBackend,
		RedisAddr:   cfg.RedisAddr,
		RedisPrefix: cfg.RedisPrefix,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return err
	}
	defer ch.Close()

	opts := []store.Option{store.WithLogger(log.WithField("component", "store"))}
	cache, err := sqlite.Open(cfg.CachePath)
	if err != nil {
		log.WithError(err).Warn("local cache unavailable, running without persistence")
	} else {
		defer cache.Close()
		opts = append(opts, store.WithBacking(cache))
	}
	st := store.New(ch, opts...)

	reports := reportclient.New(cfg.ReportServiceURL, cfg.ReportSkip)
	if !cfg.ReportSkip {
		if err := reports.Health(ctx); err != nil {
			log.WithError(err).Warn("report service not available")
		}
	}

	srv := api.New(api.Deps{
		Store:    st,
		Signer:   auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL),
		Reports:  reports,
		Limiter:  httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		AdminKey: cfg.AdminKey,
		Log:      log.WithField("component", "api"),
	})
	if cfg.AdminKey == "" {
		log.Warn("ADMIN_KEY not set, admin sessions are disabled")
	}

	if err := st.Open(ctx, srv.OnSnapshot); err != nil {
		return err
	}
	defer st.Close()

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("backend", cfg.RemoteBackend).Infof("starting server on :%s", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced shutdown")
	}
	if err := st.Flush(shutdownCtx); err != nil {
		log.WithError(err).Warn("pending pushes not delivered")
	}

	log.Info("server exited")
	return nil
}
