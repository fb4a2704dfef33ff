package pipeline

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// TempStore keeps transient copies of rendered artifacts.
type TempStore interface {
	SaveTemp(ctx context.Context, name string, data io.Reader) (string, error)
	CleanupTemp(ctx context.Context, paths []string) error
}

// Artifact is the result of a successful render. The caller owns it and must
// Release it once the video has been consumed.
type Artifact struct {
	// Buffer holds the encoded container bytes.
	Buffer []byte
	// MimeType tags the container and codecs.
	MimeType string
	// TotalDuration is image count × per-image duration.
	TotalDuration time.Duration
	// Ref points at a transient on-disk copy of Buffer. Nil when no temp
	// store is configured.
	Ref *TransientRef
}

// TotalDurationMs returns TotalDuration in milliseconds.
func (a *Artifact) TotalDurationMs() int64 {
	return a.TotalDuration.Milliseconds()
}

// Release frees the transient copy.
func (a *Artifact) Release() error {
	if a == nil || a.Ref == nil {
		return nil
	}
	return a.Ref.Release()
}

// TransientRef is a revocable handle to a transient file.
type TransientRef struct {
	Path string

	store TempStore
	once  sync.Once
	err   error
}

func newTransientRef(ctx context.Context, store TempStore, name string, data []byte) (*TransientRef, error) {
	path, err := store.SaveTemp(ctx, name, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &TransientRef{Path: path, store: store}, nil
}

// Release removes the file. Later calls return the first result.
func (r *TransientRef) Release() error {
	r.once.Do(func() {
		r.err = r.store.CleanupTemp(context.Background(), []string{r.Path})
	})
	return r.err
}
