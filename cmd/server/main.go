package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gyaneshwarpardhi/blockgate/internal/api"
	"github.com/gyaneshwarpardhi/blockgate/internal/config"
	"github.com/gyaneshwarpardhi/blockgate/internal/gate"
	"github.com/gyaneshwarpardhi/blockgate/internal/maintainer"
	"github.com/gyaneshwarpardhi/blockgate/internal/queue"
	"github.com/gyaneshwarpardhi/blockgate/internal/registry"
	"github.com/gyaneshwarpardhi/blockgate/internal/snapshot"
)

func main() {
	flags := pflag.NewFlagSet("blockgate", pflag.ExitOnError)
	addr := flags.String("addr", ":8080", "HTTP listen address")
	catPath := flags.String("catalog", "configs/jobs.yaml", "path to the job catalog (.yaml, .json, .jsonc or .hcl)")
	snapPath := flags.String("snapshot", "data/pipeline.cbor", "pipeline config snapshot file (empty disables persistence)")
	logLevel := flags.String("log-level", "info", "log level: debug, info, warn or error")
	logFormat := flags.String("log-format", "text", "log format: text or json")
	watch := flags.Bool("watch", true, "hot-reload the catalog when the file changes")
	_ = flags.Parse(os.Args[1:])

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	// ── Load catalog ─────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*catPath)
	if err != nil {
		slog.Error("failed to load catalog", "err", err)
		os.Exit(1)
	}
	cat := loader.Catalog()

	// ── Registry ─────────────────────────────────────────────────────────────
	reg := registry.New(logger)
	if err := reg.Sync(cat); err != nil {
		slog.Error("failed to build job registry", "err", err)
		os.Exit(1)
	}

	// ── Snapshot overlay ─────────────────────────────────────────────────────
	var snap *snapshot.File
	if *snapPath != "" {
		snap = snapshot.NewFile(*snapPath)
		if err := restore(reg, snap); err != nil {
			slog.Error("failed to restore pipeline snapshot", "err", err)
			os.Exit(1)
		}
	}
	persist := func() {
		if snap == nil {
			return
		}
		if err := snap.Save(snapshot.Capture(reg)); err != nil {
			slog.Error("failed to save pipeline snapshot", "path", snap.Path(), "err", err)
		}
	}

	// ── Consistency maintenance ──────────────────────────────────────────────
	m := maintainer.New(reg, logger)
	m.Subscribe(reg)
	m.OnChange(func(maintainer.Result) { persist() })

	// ── Gate and queue ───────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := gate.New(reg, logger)
	q := queue.New(ctx, reg, g, cat.Gate, logger)
	go q.Run(ctx)

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(next *config.Catalog) {
		if err := reg.Sync(next); err != nil {
			slog.Warn("catalog reload not applied", "err", err)
			return
		}
		q.Reconfigure(next.Gate)
		persist()
		slog.Info("catalog reloaded", "version", next.Version, "jobs", len(next.Jobs))
	})
	if *watch {
		stopWatch, err := loader.Watch()
		if err != nil {
			slog.Warn("catalog watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	handler := api.New(api.Deps{
		Registry: reg,
		Gate:     g,
		Queue:    q,
		Loader:   loader,
		Snapshot: snap,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr, "jobs", len(cat.Jobs))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop admission loop and preview workers
	q.Shutdown()
	persist()
	reg.Close()
	slog.Info("goodbye")
}

// restore overlays the saved operator edits onto the registry.
func restore(reg *registry.Registry, snap *snapshot.File) error {
	recs, err := snap.Load()
	if err != nil {
		return err
	}
	skipped, err := snapshot.Apply(reg, recs)
	if err != nil {
		return err
	}
	if len(skipped) > 0 {
		slog.Warn("snapshot records for unknown jobs ignored", "jobs", skipped)
	}
	return nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q", format)
}
