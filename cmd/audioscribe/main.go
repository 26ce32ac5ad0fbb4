package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/jo-hoe/audioscribe/internal/auth"
	"github.com/jo-hoe/audioscribe/internal/common"
	appcfg "github.com/jo-hoe/audioscribe/internal/config"
	"github.com/jo-hoe/audioscribe/internal/export"
	"github.com/jo-hoe/audioscribe/internal/export/pdf"
	"github.com/jo-hoe/audioscribe/internal/jobs"
	"github.com/jo-hoe/audioscribe/internal/poller"
	"github.com/jo-hoe/audioscribe/internal/processor"
	"github.com/jo-hoe/audioscribe/internal/server"
	"github.com/jo-hoe/audioscribe/internal/storage"
	"github.com/jo-hoe/audioscribe/internal/targets"
	"github.com/jo-hoe/audioscribe/internal/targets/dir"
	"github.com/jo-hoe/audioscribe/internal/transcriber"
)

func main() {
	// Bootstrap logger until the configured one is known
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("load .env", "err", err)
	}

	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	logger = newLogger(os.Stdout, cfg.Server)
	slog.SetDefault(logger)

	// Store (SQLite)
	store, err := jobs.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		logger.Error("sqlite open", "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// Uploader
	uploader := storage.NewUploader(cfg.Server.StorageDir)

	// Transcription service client, optionally signed in
	client := transcriber.New(logger, cfg.Service)
	if cfg.Service.Auth.Enabled {
		tokens := auth.NewTokenSource(logger, auth.NewClient(cfg.Service.Auth), cfg.Service.Auth)
		client.WithTokenSource(tokens)
	}
	statusPoller := poller.New(logger, client, cfg.Service)

	// Export and delivery targets
	renderer, err := pdf.New(cfg.Export.Title).WithUTF8Font(cfg.Export.FontFile)
	if err != nil {
		logger.Error("load pdf font", "font", cfg.Export.FontFile, "err", err)
		os.Exit(1)
	}
	exporter := export.New(renderer)
	reg := targets.NewRegistry()
	if cfg.Export.Directory != "" {
		t, err := dir.New(cfg.Export.Directory)
		if err != nil {
			logger.Error("init export dir", "dir", cfg.Export.Directory, "err", err)
			os.Exit(1)
		}
		reg.Add(t)
	}

	// Worker and queue
	worker, err := processor.New(logger, cfg, store, client, statusPoller, exporter, reg)
	if err != nil {
		logger.Error("init worker", "err", err)
		os.Exit(1)
	}
	queue := jobs.NewQueue(logger, common.DefaultQueueCapacity, cfg.Server.WorkerCount)
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := queue.Start(rootCtx, worker); err != nil {
		logger.Error("start queue", "err", err)
		os.Exit(1)
	}

	// HTTP server
	svc := &server.Service{
		Log:       logger,
		Cfg:       cfg,
		Store:     store,
		Queue:     queue,
		Uploader:  uploader,
		Exporter:  exporter,
		Processor: worker,
	}
	httpSrv := server.NewHTTPServer(svc)

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting",
			"address", cfg.Server.Addr,
			"service", cfg.Service.BaseURL,
			"workers", cfg.Server.WorkerCount,
			"max_upload", cfg.Server.MaxUploadSize.String(),
			"targets", reg.Names())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	// Stop workers; running jobs end as cancelled
	queue.Shutdown(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
}

// newLogger picks a text handler for terminals and JSON otherwise, unless the format is fixed.
func newLogger(w io.Writer, cfg appcfg.ServerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	useText := cfg.LogFormat == "text"
	if cfg.LogFormat == "auto" || cfg.LogFormat == "" {
		if f, ok := w.(*os.File); ok {
			useText = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	if useText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
