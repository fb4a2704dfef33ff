package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Capabilities lists the encoders and muxers available to the local ffmpeg.
type Capabilities struct {
	Encoders map[string]bool
	Muxers   map[string]bool
}

// HasEncoder reports whether the named encoder is available.
func (c Capabilities) HasEncoder(name string) bool {
	return c.Encoders[name]
}

// HasMuxer reports whether the named muxer is available.
func (c Capabilities) HasMuxer(name string) bool {
	return c.Muxers[name]
}

// Prober discovers the encoding capabilities of the runtime.
type Prober interface {
	Probe(ctx context.Context) (Capabilities, error)
}

// FFmpegProber implements Prober by listing the encoders and muxers of an ffmpeg binary.
type FFmpegProber struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewFFmpegProber creates a new FFmpegProber.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProber(ffmpegPath string, logger *slog.Logger) *FFmpegProber {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegProber{ffmpegPath: ffmpegPath, logger: logger}
}

// Probe runs `ffmpeg -encoders` and `ffmpeg -muxers`.
func (p *FFmpegProber) Probe(ctx context.Context) (Capabilities, error) {
	encoders, err := runFFmpeg(ctx, p.ffmpegPath, []string{"-hide_banner", "-encoders"})
	if err != nil {
		return Capabilities{}, fmt.Errorf("list encoders: %w", err)
	}
	muxers, err := runFFmpeg(ctx, p.ffmpegPath, []string{"-hide_banner", "-muxers"})
	if err != nil {
		return Capabilities{}, fmt.Errorf("list muxers: %w", err)
	}

	caps := Capabilities{
		Encoders: parseEncoders(encoders),
		Muxers:   parseMuxers(muxers),
	}

	p.logger.Debug("ffmpeg capabilities probed",
		slog.String("ffmpeg", p.ffmpegPath),
		slog.Int("encoders", len(caps.Encoders)),
		slog.Int("muxers", len(caps.Muxers)),
	)

	return caps, nil
}

// parseEncoders parses the table printed by `ffmpeg -encoders`:
//
//	V....D libvpx-vp9           libvpx VP9 (codec vp9)
func parseEncoders(out []byte) map[string]bool {
	result := make(map[string]bool)
	for _, fields := range tableRows(out) {
		if len(fields) < 2 {
			continue
		}
		result[fields[1]] = true
	}
	return result
}

// parseMuxers parses the table printed by `ffmpeg -muxers`:
//
//	 E webm            WebM
func parseMuxers(out []byte) map[string]bool {
	result := make(map[string]bool)
	for _, fields := range tableRows(out) {
		if len(fields) < 2 || !strings.Contains(fields[0], "E") {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			if name != "" {
				result[name] = true
			}
		}
	}
	return result
}

// tableRows returns the whitespace-split rows following the dashed separator line.
func tableRows(out []byte) [][]string {
	var rows [][]string
	inTable := false

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !inTable {
			inTable = strings.Trim(line, "-") == ""
			continue
		}
		rows = append(rows, strings.Fields(line))
	}

	return rows
}
