// Command sweepd is a small daemon that periodically runs the crash-recovery sweep and WAL
// garbage collection over a dynatx store, optionally archiving terminal transactions to S3
// first, using the same aws_s3 connection shape for the archive leg.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/coordinator"
	"github.com/sop-txmanager/dynatx/internal/backend"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/store/archive"
)

func main() {
	dynatx.ConfigureLogging()

	cfg, err := backend.LoadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	client, err := backend.NewClient(cfg)
	if err != nil {
		slog.Error("construct store client", "error", err)
		os.Exit(1)
	}

	var archiver coordinator.Archiver
	if cfg.ArchiveBucket != "" {
		s3Client := archive.Connect(archive.Config{
			Bucket:          cfg.ArchiveBucket,
			Region:          cfg.ArchiveRegion,
			HostEndpointURL: cfg.ArchiveEndpoint,
		})
		archiver = archive.NewS3Archiver(s3Client, cfg.ArchiveBucket, cfg.ArchiveKeyPrefix)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Bootstrap(ctx, client, cfg); err != nil {
		slog.Error("bootstrap auxiliary tables", "error", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	slog.Info("sweepd started", "backend", cfg.Backend, "interval", cfg.SweepInterval)
	runPass(ctx, client, cfg, archiver)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweepd stopping")
			return
		case <-ticker.C:
			runPass(ctx, client, cfg, archiver)
		}
	}
}

func runPass(ctx context.Context, client store.Client, cfg dynatx.Config, archiver coordinator.Archiver) {
	collected, err := coordinator.CollectGarbage(ctx, client, cfg, cfg.GCOlderThan, archiver)
	if err != nil {
		slog.Error("gc pass failed", "error", err)
	} else if collected > 0 {
		slog.Info("collected terminal transactions", "count", collected, "archived", archiver != nil)
	}

	swept, err := coordinator.Sweep(ctx, client, cfg, cfg.SweepOlderThan)
	if err != nil {
		slog.Error("sweep pass failed", "error", err)
		return
	}
	if len(swept) > 0 {
		slog.Info("swept abandoned transactions", "count", len(swept))
	}
}
