package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"github.com/maauso/photo-recap/internal/job"
	"github.com/maauso/photo-recap/internal/media"
	"github.com/maauso/photo-recap/internal/recaperr"
	"github.com/maauso/photo-recap/internal/upload"
)

// DefaultInlineVideoLimit caps the size of videos returned as video_base64.
const DefaultInlineVideoLimit = 32 << 20

// maxBodyBytes caps the JSON request body.
const maxBodyBytes = 8 << 20

// maxPhotoURLLength caps http(s) photo references; data URIs are bounded by
// the body size.
const maxPhotoURLLength = 2048

// RecapService is the job use case the handlers drive.
type RecapService interface {
	Submit(ctx context.Context, input job.CreateInput) (*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context) ([]*job.Job, error)
	Cancel(ctx context.Context, id string) error
	OpenVideo(ctx context.Context, id string) (io.ReadCloser, *job.Job, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service     RecapService
	validator   *validator.Validate
	logger      *slog.Logger
	container   string
	inlineLimit int
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithContainer reports the negotiated output container on /health.
func WithContainer(name string) HandlerOption {
	return func(h *Handlers) {
		h.container = name
	}
}

// WithInlineVideoLimit sets the largest video returned inline as base64.
// Zero disables inline videos.
func WithInlineVideoLimit(n int) HandlerOption {
	return func(h *Handlers) {
		if n >= 0 {
			h.inlineLimit = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service RecapService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("photo_ref", isPhotoRef)

	h := &Handlers{
		service:     service,
		validator:   v,
		logger:      logger,
		inlineLimit: DefaultInlineVideoLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Container: h.container})
}

// CreateRecap handles POST /recaps requests.
func (h *Handlers) CreateRecap(w http.ResponseWriter, r *http.Request) {
	var req CreateRecapRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		rerr := requestError(err)
		writeError(w, http.StatusBadRequest, rerr.Localize(languageOf(r)), rerr.Code())
		return
	}

	input := job.CreateInput{
		Photos:   req.Photos,
		FamilyID: req.FamilyID,
		Options: job.Options{
			PerImageMs: req.DurationMs,
			Width:      req.Width,
			Height:     req.Height,
			FPS:        req.FPS,
			FadeIn:     req.FadeIn,
			FadeOut:    req.FadeOut,
			MusicURL:   req.MusicURL,
			Silent:     req.Silent,
		},
	}

	created, err := h.service.Submit(r.Context(), input)
	if err != nil {
		if rerr, ok := recaperr.As(err); ok {
			writeError(w, http.StatusBadRequest, rerr.Localize(languageOf(r)), rerr.Code())
			return
		}
		h.logger.Error("failed to create recap",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create recap", "JOB_CREATION_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, CreateRecapResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// ListRecaps handles GET /recaps requests.
func (h *Handlers) ListRecaps(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list recaps", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list recaps", "JOB_FETCH_FAILED")
		return
	}

	resp := RecapListResponse{Recaps: make([]RecapSummary, 0, len(jobs))}
	for _, j := range jobs {
		resp.Recaps = append(resp.Recaps, RecapSummary{
			ID:        j.ID,
			Status:    string(j.Status),
			Progress:  j.Progress,
			Images:    len(j.Photos),
			CreatedAt: j.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRecap handles GET /recaps/{id} requests.
func (h *Handlers) GetRecap(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	found, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		h.writeJobError(w, id, err)
		return
	}

	resp := RecapResponse{
		ID:        found.ID,
		Status:    string(found.Status),
		Stage:     found.Stage,
		Progress:  found.Progress,
		CreatedAt: found.CreatedAt,
		UpdatedAt: found.UpdatedAt,
	}

	if f := found.Failure; f.Code != "" {
		resp.Error = &RecapError{
			Code:    f.Code,
			Message: recaperr.Localize(recaperr.Kind(f.Code), recaperr.Detail(f.Detail), f.Index, languageOf(r)),
			Index:   f.Index,
		}
	}

	if found.Status == job.StatusCompleted {
		resp.MimeType = found.MimeType
		resp.DurationMs = found.DurationMs
		resp.SizeBytes = found.SizeBytes
		resp.VideoURL = found.VideoURL
		if resp.VideoURL == "" && found.SizeBytes <= h.inlineLimit {
			resp.VideoBase64 = h.inlineVideo(r.Context(), id)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// inlineVideo returns the encoded video, or "" when it cannot be read.
func (h *Handlers) inlineVideo(ctx context.Context, id string) string {
	rc, _, err := h.service.OpenVideo(ctx, id)
	if err != nil {
		h.logger.Error("failed to open recap video",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		return ""
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.logger.Error("failed to read recap video",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return upload.EncodeVideo(data)
}

// GetVideo handles GET /recaps/{id}/video requests.
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rc, found, err := h.service.OpenVideo(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrVideoNotReady) {
			writeError(w, http.StatusConflict, "video is not available", "VIDEO_NOT_READY")
			return
		}
		h.writeJobError(w, id, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", found.MimeType)
	if found.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.Itoa(found.SizeBytes))
	}
	w.Header().Set("Content-Disposition", `inline; filename="`+found.ID+media.ExtensionFor(found.MimeType)+`"`)
	w.Header().Set("Last-Modified", found.CompletedAt.UTC().Format(time.RFC1123))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream recap video",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// CancelRecap handles POST /recaps/{id}/cancel requests.
func (h *Handlers) CancelRecap(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, job.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "recap already finished", "JOB_NOT_CANCELLABLE")
			return
		}
		h.writeJobError(w, id, err)
		return
	}

	found, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		h.writeJobError(w, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CreateRecapResponse{ID: found.ID, Status: string(found.Status)})
}

func (h *Handlers) writeJobError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "recap not found", "JOB_NOT_FOUND")
		return
	}
	h.logger.Error("failed to get recap",
		slog.String("job_id", id),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to get recap", "JOB_FETCH_FAILED")
}

// isPhotoRef accepts http(s) URLs with a host and base64 data URIs. Server
// photos never resolve to local files.
func isPhotoRef(fl validator.FieldLevel) bool {
	ref := fl.Field().String()
	if strings.HasPrefix(ref, "data:") {
		return true
	}
	if len(ref) > maxPhotoURLLength {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// requestError maps a DTO validation failure onto the localized taxonomy.
func requestError(err error) *recaperr.Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if strings.HasPrefix(fe.StructField(), "Photos") {
				return recaperr.InvalidPhotos(err)
			}
		}
	}
	return recaperr.InvalidSettings(err)
}

func languageOf(r *http.Request) language.Tag {
	return recaperr.MatchLanguage(r.Header.Get("Accept-Language"))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
