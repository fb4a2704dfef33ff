package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/photo-recap/internal/bootstrap"
	"github.com/maauso/photo-recap/internal/media"
	"github.com/maauso/photo-recap/internal/pipeline"
	"github.com/maauso/photo-recap/internal/recaperr"
	"github.com/maauso/photo-recap/internal/storage"
)

type renderOptions struct {
	out       string
	perImage  time.Duration
	width     int
	height    int
	fps       int
	fadeIn    float64
	fadeOut   float64
	music     string
	silent    bool
	container string
	bitrate   int
	timeout   time.Duration
	pace      bool
}

func newRenderCommand(global *globalOptions) *cobra.Command {
	opts := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render [flags] <photo>...",
		Short: "Render photos into a recap video",
		Long: "Render photos (paths, file:// or http(s) URLs, data URIs) into a video.\n" +
			"Each photo is shown for --duration with a fade in and out.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := opts.request(cmd, args)

			// Reject bad input before probing ffmpeg.
			if _, err := pipeline.Validate(req); err != nil {
				return localized(err)
			}

			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if opts.container != "" {
				cfg.VideoContainer = opts.container
			}
			if opts.bitrate > 0 {
				cfg.VideoBitrateKbps = opts.bitrate
			}
			if opts.timeout > 0 {
				cfg.PipelineTimeout = opts.timeout
			}
			if cmd.Flags().Changed("pace") {
				cfg.PaceFrames = opts.pace
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger(cfg, cmd.ErrOrStderr())
			store, err := storage.NewLocalStorage(cfg.TempDir)
			if err != nil {
				return err
			}

			p, err := bootstrap.NewPipeline(cmd.Context(), cfg, store, logger)
			if err != nil {
				return localized(err)
			}

			progress := newProgressReporter(cmd.ErrOrStderr(), logger)
			req.OnProgress = progress.Update
			artifact, err := p.Run(cmd.Context(), req)
			progress.Finish()
			if err != nil {
				return localized(err)
			}
			defer func() { _ = artifact.Release() }()

			out := opts.out
			if out == "" {
				out = "recap" + media.ExtensionFor(artifact.MimeType)
			}
			if err := os.WriteFile(out, artifact.Buffer, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}

			logger.Info("recap written",
				slog.String("path", out),
				slog.String("mime_type", artifact.MimeType),
				slog.Int("bytes", len(artifact.Buffer)),
				slog.Duration("duration", artifact.TotalDuration),
			)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.out, "out", "o", "", "Output file (default recap.<container>)")
	flags.DurationVarP(&opts.perImage, "duration", "d", pipeline.DefaultPerImage, "How long each photo is shown")
	flags.IntVar(&opts.width, "width", pipeline.DefaultWidth, "Output width in pixels")
	flags.IntVar(&opts.height, "height", pipeline.DefaultHeight, "Output height in pixels")
	flags.IntVar(&opts.fps, "fps", pipeline.DefaultFPS, "Frames per second")
	flags.Float64Var(&opts.fadeIn, "fade-in", pipeline.DefaultFade, "Fade-in fraction of each photo")
	flags.Float64Var(&opts.fadeOut, "fade-out", pipeline.DefaultFade, "Fade-out fraction of each photo")
	flags.StringVar(&opts.music, "music", "", "Background music URL or path (default from DEFAULT_MUSIC_URL)")
	flags.BoolVar(&opts.silent, "silent", false, "Render without music")
	flags.StringVar(&opts.container, "container", "", "Output container: webm or mp4 (default from VIDEO_CONTAINER)")
	flags.IntVar(&opts.bitrate, "bitrate", 0, "Video bitrate in kbps (default from VIDEO_BITRATE_KBPS)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Render time limit (default from PIPELINE_TIMEOUT)")
	flags.BoolVar(&opts.pace, "pace", false, "Release frames in real time")

	return cmd
}

// request builds the render request; unset fade flags keep the pipeline default.
func (o *renderOptions) request(cmd *cobra.Command, photos []string) pipeline.Request {
	req := pipeline.Request{
		Photos:   photos,
		PerImage: o.perImage,
		Width:    o.width,
		Height:   o.height,
		FPS:      o.fps,
		MusicURL: o.music,
		Silent:   o.silent,
	}
	if cmd.Flags().Changed("fade-in") {
		req.FadeIn = pipeline.Float(o.fadeIn)
	}
	if cmd.Flags().Changed("fade-out") {
		req.FadeOut = pipeline.Float(o.fadeOut)
	}
	return req
}

// localizedError shows a classified failure in the user's language.
type localizedError struct {
	err *recaperr.Error
	msg string
}

func (e *localizedError) Error() string { return e.msg }

func (e *localizedError) Unwrap() error { return e.err }

func localized(err error) error {
	rerr, ok := recaperr.As(err)
	if !ok {
		return err
	}
	tag := recaperr.MatchLanguage(localeFromEnv(os.Getenv))
	return &localizedError{err: rerr, msg: fmt.Sprintf("%s (%s)", rerr.Localize(tag), rerr.Code())}
}
