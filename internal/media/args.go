package media

import (
	"fmt"
	"strconv"
	"time"
)

// DefaultBitrateKbps is the fixed video bitrate used when none is configured.
const DefaultBitrateKbps = 5000

// audioBitrate is applied whenever an audio track is mixed in.
const audioBitrate = "128k"

// AudioSource is an audio input mixed under the video. InputArgs returns the
// ffmpeg input arguments (ending with "-i <source>") for the track.
type AudioSource interface {
	InputArgs() []string
}

// SessionOptions configures one encode session.
type SessionOptions struct {
	Width  int
	Height int
	FPS    int
	// BitrateKbps is the fixed target video bitrate.
	BitrateKbps int
	Profile     Profile
	// Audio is optional; nil produces a silent video.
	Audio AudioSource
	// TotalDuration trims the output; zero leaves it untrimmed.
	TotalDuration time.Duration
	// OnChunk observes every encoded chunk in arrival order. It runs on the
	// session's reader goroutine.
	OnChunk func(chunk []byte)
}

func (o SessionOptions) validate() error {
	if o.Width <= 0 || o.Height <= 0 || o.Width%2 != 0 || o.Height%2 != 0 {
		return fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, o.Width, o.Height)
	}
	if o.FPS <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidFrameRate, o.FPS)
	}
	if o.Profile.Container == "" {
		return fmt.Errorf("%w: empty container", ErrNoSupportedProfile)
	}
	return nil
}

// BuildArgs returns the ffmpeg argument graph for a session: raw RGBA frames
// on stdin, an optional looping audio input, and the container on stdout.
func BuildArgs(opts SessionOptions) []string {
	bitrate := opts.BitrateKbps
	if bitrate <= 0 {
		bitrate = DefaultBitrateKbps
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", strconv.Itoa(opts.FPS),
		"-i", "pipe:0",
	}

	if opts.Audio != nil {
		args = append(args, opts.Audio.InputArgs()...)
		args = append(args, "-map", "0:v:0", "-map", "1:a:0")
	}

	if opts.Profile.VideoCodec != "" {
		args = append(args, "-c:v", opts.Profile.VideoCodec)
	}
	args = append(args,
		"-b:v", fmt.Sprintf("%dk", bitrate),
		"-pix_fmt", "yuv420p",
	)

	if opts.Audio != nil {
		if opts.Profile.AudioCodec != "" {
			args = append(args, "-c:a", opts.Profile.AudioCodec)
		}
		args = append(args, "-b:a", audioBitrate)
	}

	if opts.TotalDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(opts.TotalDuration.Seconds(), 'f', 3, 64))
	}

	if opts.Profile.Container == ContainerMP4 {
		// mp4 needs a fragmented layout to be written to a non-seekable pipe.
		args = append(args, "-movflags", "frag_keyframe+empty_moov")
	}

	return append(args, "-f", opts.Profile.Container, "pipe:1")
}
