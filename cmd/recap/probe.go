package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/photo-recap/internal/media"
)

func newProbeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "List the video formats the local ffmpeg can produce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			caps, err := media.NewFFmpegProber(cfg.FFmpegPath, logger).Probe(cmd.Context())
			if err != nil {
				return fmt.Errorf("probe %s: %w", cfg.FFmpegPath, err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Container", "MIME type", "Video", "Audio", "Supported", "Selected"},
				probeRows(caps),
			))
			return nil
		},
	}
}

// probeRows lists every candidate profile and marks the one negotiation picks
// for each container.
func probeRows(caps media.Capabilities) [][]string {
	var rows [][]string
	for _, container := range media.Containers() {
		selected, err := media.Negotiate(caps, container)
		for _, p := range media.Profiles(container) {
			rows = append(rows, []string{
				p.Container,
				p.MimeType,
				orDefault(p.VideoCodec),
				orDefault(p.AudioCodec),
				yesNo(caps.Supported(p)),
				yesNo(err == nil && selected == p),
			})
		}
	}
	return rows
}

func orDefault(codec string) string {
	if strings.TrimSpace(codec) == "" {
		return "(default)"
	}
	return codec
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
