// Package audio loads the optional background music of a recap. Loading is
// best effort: any failure produces a silent recap instead of an error.
package audio

import (
	"sync"
	"time"
)

// Track is a probed audio file mixed under the video. It is owned by one
// render and released exactly once.
type Track struct {
	// Path is the local file handed to the encoder.
	Path string
	// Duration is the probed length of one play of the file.
	Duration time.Duration
	// Loop repeats the file until the video ends.
	Loop bool

	release func()
	once    sync.Once
}

// NewTrack creates a looping Track. release runs on the first Release call.
func NewTrack(path string, duration time.Duration, release func()) *Track {
	return &Track{
		Path:     path,
		Duration: duration,
		Loop:     true,
		release:  release,
	}
}

// InputArgs returns the encoder input arguments for the track.
func (t *Track) InputArgs() []string {
	if t.Loop {
		return []string{"-stream_loop", "-1", "-i", t.Path}
	}
	return []string{"-i", t.Path}
}

// Release frees the track's resources. It is safe to call more than once.
func (t *Track) Release() {
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}
