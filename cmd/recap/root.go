package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/photo-recap/internal/config"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	ffmpegPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "recap",
		Short:         "Turn photos into a short slideshow video",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.ffmpegPath, "ffmpeg", "", "Path to the ffmpeg binary (default from FFMPEG_PATH)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newRenderCommand(opts))
	rootCmd.AddCommand(newProbeCommand(opts))

	return rootCmd
}

// loadConfig reads the environment configuration and applies global flags.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.ffmpegPath != "" {
		cfg.FFmpegPath = o.ffmpegPath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// newLogger logs to w; the video or table owns stdout.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return cfg.NewLoggerTo(w)
}

// localeFromEnv turns a POSIX locale such as es_ES.UTF-8 into a language tag.
func localeFromEnv(lookup func(string) string) string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := lookup(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return ""
}
