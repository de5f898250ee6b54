package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/clipvault/clipvault/pkg/clipvault/config"
	"github.com/clipvault/clipvault/pkg/clipvault/worker"
)

// ToolConfig locates the media binaries; everything else comes from
// config.WithEnv.
type ToolConfig struct {
	FFmpegPath  string `env:"FFMPEG_PATH" env-default:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" env-default:"ffprobe"`
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var tools ToolConfig
	if err := cleanenv.ReadEnv(&tools); err != nil {
		logger.Error("failed to read tool config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(config.WithEnv(""))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	repo, err := cfg.BuildRepository()
	if err != nil {
		logger.Error("failed to build repository", "error", err)
		os.Exit(1)
	}
	store, err := cfg.BuildBlobStore()
	if err != nil {
		logger.Error("failed to build blob store", "error", err)
		os.Exit(1)
	}
	queue, err := cfg.BuildJobQueue()
	if err != nil {
		logger.Error("failed to build job queue", "error", err)
		os.Exit(1)
	}

	ffmpeg := &worker.FFmpeg{
		FFmpegPath:  tools.FFmpegPath,
		FFprobePath: tools.FFprobePath,
	}

	opts := []worker.Option{worker.WithLogger(logger)}
	if cfg.ScratchDir != "" {
		opts = append(opts, worker.WithScratchDir(cfg.ScratchDir))
	}
	if cfg.MaxConcurrentJobs > 0 {
		opts = append(opts, worker.WithConcurrency(cfg.MaxConcurrentJobs))
	}
	if cfg.ThumbnailCount > 0 {
		opts = append(opts, worker.WithThumbnailCount(cfg.ThumbnailCount))
	}

	w, err := worker.New(queue, repo, store, ffmpeg, ffmpeg, opts...)
	if err != nil {
		logger.Error("failed to build worker", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}
