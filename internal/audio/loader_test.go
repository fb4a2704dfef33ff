package audio

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/photo-recap/internal/storage"
)

const probeHeader = `Input #0, mp3, from 'music.mp3':
  Duration: 00:01:02.50, start: 0.025057, bitrate: 128 kb/s
  Stream #0:0: Audio: mp3, 44100 Hz, stereo, fltp, 128 kb/s
At least one output file must be specified`

// fakeFFmpeg writes a script that prints stderr like `ffmpeg -i` does.
func fakeFFmpeg(t *testing.T, stderr string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\ncat >&2 <<'EOF'\n" + stderr + "\nEOF\nexit 1\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755)) // #nosec G306 - test executable
	return path
}

func newTestLoader(t *testing.T, stderr string) (*Loader, *storage.LocalStorage) {
	t.Helper()
	temp, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewLoader(temp, WithFFmpegPath(fakeFFmpeg(t, stderr))), temp
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "music_*"))
	require.NoError(t, err)
	return matches
}

func TestParseProbeOutput(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    time.Duration
		wantErr bool
	}{
		{"mp3 header", probeHeader, 62500 * time.Millisecond, false},
		{"hours", "Duration: 01:00:00.1\nStream #0:0(und): Audio: aac", time.Hour + 100*time.Millisecond, false},
		{"no audio stream", "Duration: 00:00:05.00\nStream #0:0: Video: h264", 0, true},
		{"no duration", "Stream #0:0: Audio: opus\nDuration: N/A", 0, true},
		{"zero duration", "Duration: 00:00:00.00\nStream #0:0: Audio: opus", 0, true},
		{"garbage", "Invalid data found when processing input", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbeOutput(tt.output)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUndecodable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoader_TryLoad_Remote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ID3 fake mp3"))
	}))
	defer server.Close()

	loader, temp := newTestLoader(t, probeHeader)

	track := loader.TryLoad(context.Background(), server.URL+"/songs/theme.mp3")
	require.NotNil(t, track)

	assert.Equal(t, 62500*time.Millisecond, track.Duration)
	assert.True(t, track.Loop)
	assert.Equal(t, ".mp3", filepath.Ext(track.Path))
	assert.Equal(t, []string{"-stream_loop", "-1", "-i", track.Path}, track.InputArgs())

	content, err := os.ReadFile(track.Path)
	require.NoError(t, err)
	assert.Equal(t, "ID3 fake mp3", string(content))

	track.Release()
	assert.NoFileExists(t, track.Path)
	assert.Empty(t, tempFiles(t, temp.TempDir()))

	// Release is idempotent.
	track.Release()
}

func TestLoader_TryLoad_Failures(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	large := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 64))
	}))
	defer large.Close()

	t.Run("empty source", func(t *testing.T) {
		loader, _ := newTestLoader(t, probeHeader)
		assert.Nil(t, loader.TryLoad(context.Background(), "  "))
	})

	t.Run("non-2xx", func(t *testing.T) {
		loader, temp := newTestLoader(t, probeHeader)
		assert.Nil(t, loader.TryLoad(context.Background(), notFound.URL+"/music.mp3"))
		assert.Empty(t, tempFiles(t, temp.TempDir()))

		_, err := loader.Load(context.Background(), notFound.URL+"/music.mp3")
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
	})

	t.Run("undecodable audio removes download", func(t *testing.T) {
		loader, temp := newTestLoader(t, "Invalid data found when processing input")
		assert.Nil(t, loader.TryLoad(context.Background(), large.URL+"/music.mp3"))
		assert.Empty(t, tempFiles(t, temp.TempDir()))
	})

	t.Run("too large", func(t *testing.T) {
		temp, err := storage.NewLocalStorage(t.TempDir())
		require.NoError(t, err)
		loader := NewLoader(temp, WithFFmpegPath(fakeFFmpeg(t, probeHeader)), WithMaxBytes(16))

		_, err = loader.Load(context.Background(), large.URL+"/music.mp3")
		assert.ErrorIs(t, err, ErrTooLarge)
		assert.Empty(t, tempFiles(t, temp.TempDir()))
	})

	t.Run("unreachable", func(t *testing.T) {
		loader, _ := newTestLoader(t, probeHeader)
		assert.Nil(t, loader.TryLoad(context.Background(), "http://127.0.0.1:1/music.mp3"))
	})
}

func TestLoader_LocalFile(t *testing.T) {
	loader, _ := newTestLoader(t, probeHeader)

	path := filepath.Join(t.TempDir(), "local.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	for _, source := range []string{path, "file://" + filepath.ToSlash(path)} {
		track := loader.TryLoad(context.Background(), source)
		require.NotNil(t, track, source)
		assert.Equal(t, path, track.Path)

		track.Release()
		assert.FileExists(t, path, "local sources are not owned by the track")
	}
}

func TestTrack_Release(t *testing.T) {
	calls := 0
	track := NewTrack("a.mp3", time.Second, func() { calls++ })

	track.Release()
	track.Release()
	assert.Equal(t, 1, calls)

	track.Loop = false
	assert.Equal(t, []string{"-i", "a.mp3"}, track.InputArgs())

	assert.NotPanics(t, func() { NewTrack("b.mp3", time.Second, nil).Release() })
}
