package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"hordegraphy/internal/config"
	"hordegraphy/internal/remote"
	"hordegraphy/internal/store"
	"hordegraphy/internal/store/sqlite"
	"hordegraphy/pkg/logger"
)

// Worker mirrors the remote document into a local cache and writes
// periodic backups of it.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	ch, err := remote.Open(ctx, remote.Options{
		Backend:     cfg.RemoteBackend,
		RedisAddr:   cfg.RedisAddr,
		RedisPrefix: cfg.RedisPrefix,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		log.Fatalf("remote connect failed: %v", err)
	}
	defer ch.Close()

	cache, err := sqlite.Open(cfg.CachePath)
	if err != nil {
		log.Fatalf("local cache open failed: %v", err)
	}
	defer cache.Close()

	st := store.New(ch, store.WithBacking(cache), store.WithLogger(log.WithField("component", "mirror")))
	err = st.Open(ctx, func(snap store.Snapshot) {
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		log.WithField("keys", keys).Debug("snapshot mirrored")
	})
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		log.Fatalf("backup dir: %v", err)
	}

	log.WithField("interval", cfg.BackupInterval).Info("worker started")
	ticker := time.NewTicker(cfg.BackupInterval)
	defer ticker.Stop()
	for {
		if path, err := writeBackup(st, cfg.BackupDir, time.Now()); err != nil {
			log.WithError(err).Error("backup failed")
		} else {
			log.WithField("path", path).Info("backup written")
		}

		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func writeBackup(st *store.Store, dir string, now time.Time) (string, error) {
	data, err := st.Export(now)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	path := filepath.Join(dir, store.BackupFilename(now))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	return path, os.Rename(tmp, path)
}
