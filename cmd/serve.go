package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/South-Winder12138/mineru-service/config"
	"github.com/South-Winder12138/mineru-service/handler"
	"github.com/South-Winder12138/mineru-service/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// engine bundles the processing components shared by serve and extract
type engine struct {
	offline  service.OfflineEnv
	mineru   *service.MineruService
	pipeline *service.Pipeline
}

func newEngine(cfg *config.Config) (*engine, error) {
	if font := cfg.Layout.FontPath; font != "" {
		if _, err := service.NewUnicodePageWriter(font); err != nil {
			return nil, fmt.Errorf("invalid layout.font_path: %w", err)
		}
	} else {
		slog.Warn("no layout.font_path configured, non-latin text is dropped when converting to pdf")
	}

	offline := service.NewOfflineEnv(cfg.Storage.DataDir)
	if err := offline.Prepare(); err != nil {
		slog.Warn("failed to prepare offline model cache", "error", err)
	}

	mineru := service.NewMineruService(&cfg.Mineru, offline)
	if !mineru.Available() {
		slog.Warn("mineru not found, documents will use fallback extraction", "binary", mineru.Binary())
	}
	slog.Info("offline environment ready", "hf_home", offline.Get("HF_HOME"), "device", mineru.Device())

	return &engine{
		offline:  offline,
		mineru:   mineru,
		pipeline: service.NewPipeline(service.NewConverters(&cfg.Office, &cfg.Layout), mineru, cfg.Storage.OutputDir),
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	slog.Info("configuration loaded", "addr", cfg.Addr(), "workers", cfg.Processing.MaxConcurrentTasks)

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}

	var opts []service.TaskManagerOption
	if cfg.Minio.Enabled {
		minioSvc, err := service.NewMinioService(&cfg.Minio)
		if err != nil {
			return fmt.Errorf("failed to initialize minio: %w", err)
		}
		if err := minioSvc.EnsureBucket(cmd.Context()); err != nil {
			return fmt.Errorf("failed to ensure minio bucket: %w", err)
		}
		opts = append(opts, service.WithArchiver(minioSvc))
		slog.Info("archiving results to minio", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
	}

	tasks := service.NewTaskManager(
		service.NewMemoryTaskStore(),
		eng.pipeline,
		service.NewWorkerPool(cfg.Processing.MaxConcurrentTasks),
		cfg.Storage.OutputDir,
		opts...,
	)

	docs := handler.NewDocumentHandler(tasks, cfg.Storage.UploadDir, cfg.Storage.MaxFileSize)
	health := handler.NewHealthHandler(cfg.App.Name, cfg.App.Version, eng.mineru, tasks, eng.offline)

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(cfg, docs, health)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-quit:
	}
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := tasks.Shutdown(ctx); err != nil {
		slog.Warn("processing did not drain before the deadline", "error", err)
	}

	slog.Info("server exited gracefully")
	return nil
}
