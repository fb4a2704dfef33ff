package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/maauso/photo-recap/internal/media"
)

// Publisher stores an object and returns its URL.
type Publisher interface {
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (string, error)
}

// Request is one recap handed to the sink.
type Request struct {
	OwnerFamilyID   string   `validate:"required,max=128,excludesall=/\\"`
	SourceImageRefs []string `validate:"required,min=1,max=50,dive,required"`
	VideoBase64     string   `validate:"required,base64"`
	MimeType        string   `validate:"required"`
}

// Result is the outcome of an upload. Error is set on failure.
type Result struct {
	URL   string
	Key   string
	Error error
}

// Manifest is stored next to every published video.
type Manifest struct {
	ID           string    `json:"id"`
	FamilyID     string    `json:"family_id"`
	VideoKey     string    `json:"video_key"`
	VideoURL     string    `json:"video_url"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int       `json:"size_bytes"`
	SourceImages []string  `json:"source_images"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sink publishes recaps under families/<family>/recaps/.
type Sink struct {
	publisher Publisher
	validator *validator.Validate
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the manifest timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides object id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Sink) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewSink creates a Sink backed by publisher.
func NewSink(publisher Publisher, opts ...Option) *Sink {
	s := &Sink{
		publisher: publisher,
		validator: validator.New(),
		logger:    slog.Default(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload validates req, publishes the video and its manifest, and reports the
// outcome. It never panics; failures are returned in Result.Error.
func (s *Sink) Upload(ctx context.Context, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Error: fmt.Errorf("upload: %v", r)}
		}
	}()

	if err := s.validator.Struct(req); err != nil {
		return Result{Error: fmt.Errorf("invalid upload request: %w", err)}
	}

	data, err := DecodeVideo(req.VideoBase64)
	if err != nil {
		return Result{Error: err}
	}

	objectID := s.newID()
	prefix := fmt.Sprintf("families/%s/recaps/%s", req.OwnerFamilyID, objectID)
	videoKey := prefix + media.ExtensionFor(req.MimeType)

	url, err := s.publisher.UploadToS3(ctx, videoKey, req.MimeType, bytes.NewReader(data))
	if err != nil {
		s.logger.Error("recap upload failed",
			slog.String("key", videoKey),
			slog.String("error", err.Error()),
		)
		return Result{Key: videoKey, Error: err}
	}

	manifest, err := json.Marshal(Manifest{
		ID:           objectID,
		FamilyID:     req.OwnerFamilyID,
		VideoKey:     videoKey,
		VideoURL:     url,
		MimeType:     req.MimeType,
		SizeBytes:    len(data),
		SourceImages: req.SourceImageRefs,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return Result{URL: url, Key: videoKey, Error: fmt.Errorf("encode manifest: %w", err)}
	}

	if _, err := s.publisher.UploadToS3(ctx, prefix+".json", "application/json", bytes.NewReader(manifest)); err != nil {
		s.logger.Warn("recap manifest upload failed",
			slog.String("key", prefix+".json"),
			slog.String("error", err.Error()),
		)
		return Result{URL: url, Key: videoKey, Error: fmt.Errorf("upload manifest: %w", err)}
	}

	s.logger.Info("recap uploaded",
		slog.String("family_id", req.OwnerFamilyID),
		slog.String("key", videoKey),
		slog.Int("bytes", len(data)),
	)

	return Result{URL: url, Key: videoKey}
}
