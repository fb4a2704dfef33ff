// Package bootstrap wires the recap services from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maauso/photo-recap/internal/audio"
	"github.com/maauso/photo-recap/internal/config"
	"github.com/maauso/photo-recap/internal/imageload"
	"github.com/maauso/photo-recap/internal/job"
	"github.com/maauso/photo-recap/internal/media"
	"github.com/maauso/photo-recap/internal/pipeline"
	"github.com/maauso/photo-recap/internal/storage"
	"github.com/maauso/photo-recap/internal/upload"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Pipeline     *pipeline.Pipeline
	RecapService *job.RecapService
	Storage      storage.Storage

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := NewStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Photos submitted over HTTP never resolve to files on this host.
	p, err := NewPipeline(ctx, cfg, store, logger, imageload.WithLocalFiles(false))
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Pipeline: p, Storage: store}

	repo, err := deps.newRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []job.ServiceOption{
		job.WithServiceLogger(logger),
		job.WithMaxConcurrentRenders(cfg.MaxConcurrentRenders),
	}
	if cfg.S3Enabled() {
		opts = append(opts, job.WithUploader(upload.NewSink(store, upload.WithLogger(logger))))
	}
	deps.RecapService = job.NewRecapService(repo, p, store, opts...)

	return deps, nil
}

// Close releases the resources opened by NewDependencies.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewPipeline probes the local ffmpeg and builds the render pipeline. The
// store keeps downloaded music and transient artifacts.
func NewPipeline(ctx context.Context, cfg *config.Config, store pipeline.TempStore, logger *slog.Logger, imageOpts ...imageload.Option) (*pipeline.Pipeline, error) {
	music := audio.NewLoader(store,
		audio.WithFFmpegPath(cfg.FFmpegPath),
		audio.WithLogger(logger),
	)
	deps := pipeline.Dependencies{
		Prober:  media.NewFFmpegProber(cfg.FFmpegPath, logger),
		Images:  imageload.NewResourceLoader(imageOpts...),
		Audio:   music,
		Encoder: media.NewFFmpegEncoder(cfg.FFmpegPath, logger),
		Temp:    store,
		Logger:  logger,
	}

	p, err := pipeline.New(ctx, deps,
		pipeline.WithTimeout(cfg.PipelineTimeout),
		pipeline.WithContainer(strings.ToLower(cfg.VideoContainer)),
		pipeline.WithBitrate(cfg.VideoBitrateKbps),
		pipeline.WithPacing(cfg.PaceFrames),
		pipeline.WithDefaultMusicURL(cfg.DefaultMusicURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	logger.Info("render pipeline ready",
		slog.String("ffmpeg", cfg.FFmpegPath),
		slog.String("container", p.Container()),
		slog.Duration("timeout", cfg.PipelineTimeout),
	)
	return p, nil
}

// NewStorage creates the appropriate storage backend based on configuration.
func NewStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", localStore.TempDir()),
	)
	return localStore, nil
}

func (d *Dependencies) newRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Repository, error) {
	if strings.ToLower(cfg.JobStore) != config.JobStoreSQLite {
		return job.NewMemoryRepository(), nil
	}

	repo, err := job.OpenSQLiteRepository(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	d.closers = append(d.closers, repo.Close)

	logger.Info("sqlite job store configured", slog.String("path", repo.Path()))
	return repo, nil
}
