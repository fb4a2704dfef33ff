package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/photo-recap/internal/job"
	"github.com/maauso/photo-recap/internal/pipeline"
	"github.com/maauso/photo-recap/internal/recaperr"
	"github.com/maauso/photo-recap/internal/storage"
	"github.com/maauso/photo-recap/internal/upload"
)

// stubRenderer implements job.Renderer for testing.
type stubRenderer struct {
	data    string
	err     error
	started chan struct{}
}

func (s *stubRenderer) Run(ctx context.Context, req pipeline.Request) (*pipeline.Artifact, error) {
	if s.started != nil {
		close(s.started)
		<-ctx.Done()
		return nil, recaperr.New(recaperr.KindCancelled, ctx.Err())
	}
	if s.err != nil {
		return nil, s.err
	}
	return &pipeline.Artifact{
		Buffer:        []byte(s.data),
		MimeType:      "video/webm;codecs=vp9,opus",
		TotalDuration: time.Duration(len(req.Photos)) * 3 * time.Second,
	}, nil
}

// mockService implements RecapService for error paths.
type mockService struct {
	mock.Mock
}

func (m *mockService) Submit(ctx context.Context, input job.CreateInput) (*job.Job, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *mockService) GetJob(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *mockService) ListJobs(ctx context.Context) ([]*job.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*job.Job), args.Error(1)
}

func (m *mockService) Cancel(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockService) OpenVideo(ctx context.Context, id string) (io.ReadCloser, *job.Job, error) {
	args := m.Called(ctx, id)
	return nil, nil, args.Error(2)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRouter(t *testing.T, r job.Renderer, opts ...HandlerOption) (http.Handler, *job.RecapService) {
	t.Helper()
	temp, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	svc := job.NewRecapService(job.NewMemoryRepository(), r, temp, job.WithServiceLogger(testLogger()))
	t.Cleanup(svc.Wait)

	h := NewHandlers(svc, testLogger(), opts...)
	return NewRouter(h, testLogger(), DefaultConfig()), svc
}

func do(t *testing.T, router http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func createRecap(t *testing.T, router http.Handler, body CreateRecapRequest) string {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/recaps", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	return decode[CreateRecapResponse](t, rec).ID
}

func TestHealth(t *testing.T) {
	svc := new(mockService)
	h := NewHandlers(svc, testLogger(), WithContainer("webm"))

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "webm", resp.Container)
}

func TestCreateRecap_Success(t *testing.T) {
	router, svc := newTestRouter(t, &stubRenderer{data: "video"})

	rec := do(t, router, http.MethodPost, "/recaps", CreateRecapRequest{
		Photos:     []string{"https://example.com/a.jpg", "https://example.com/b.jpg"},
		DurationMs: 2000,
		Width:      640,
		Height:     360,
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[CreateRecapResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.ID, "job-"))
	assert.Equal(t, "IN_QUEUE", resp.Status)

	svc.Wait()
	j, err := svc.GetJob(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.Equal(t, 2000, j.Options.PerImageMs)
}

func TestCreateRecap_InvalidJSON(t *testing.T) {
	router, _ := newTestRouter(t, &stubRenderer{})

	req := httptest.NewRequest(http.MethodPost, "/recaps", strings.NewReader("invalid json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decode[ErrorResponse](t, rec).Code)
}

func TestCreateRecap_Validation(t *testing.T) {
	tooMany := make([]string, pipeline.MaxImages+1)
	for i := range tooMany {
		tooMany[i] = "https://example.com/a.jpg"
	}

	tests := []struct {
		name        string
		body        CreateRecapRequest
		lang        string
		wantMessage string
	}{
		{
			name:        "no photos",
			body:        CreateRecapRequest{},
			wantMessage: "No images selected. Please choose at least one photo.",
		},
		{
			name:        "no photos in spanish",
			body:        CreateRecapRequest{},
			lang:        "es-ES,es;q=0.9",
			wantMessage: "No se seleccionaron imágenes. Elige al menos una foto.",
		},
		{
			name:        "too many photos",
			body:        CreateRecapRequest{Photos: tooMany},
			wantMessage: "Too many images selected. Please choose at most 50 photos.",
		},
		{
			name:        "odd width",
			body:        CreateRecapRequest{Photos: []string{"https://example.com/a.jpg"}, Width: 641, Height: 360},
			wantMessage: "Invalid video settings. Please check duration, size and frame rate.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &stubRenderer{})

			rec := do(t, router, http.MethodPost, "/recaps", tt.body, "Accept-Language", tt.lang)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)
			assert.Equal(t, tt.wantMessage, resp.Error)
		})
	}
}

func TestCreateRecap_DTOValidation(t *testing.T) {
	router, _ := newTestRouter(t, &stubRenderer{})

	for _, body := range []CreateRecapRequest{
		{Photos: []string{"https://example.com/a.jpg", ""}},
		{Photos: []string{"https://example.com/a.jpg"}, FamilyID: "a/b"},
		{Photos: []string{"https://example.com/a.jpg"}, MusicURL: "not a url"},
		{Photos: []string{"https://example.com/a.jpg"}, FPS: -1},
	} {
		rec := do(t, router, http.MethodPost, "/recaps", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "VALIDATION_ERROR", resp.Code)
		assert.NotContains(t, resp.Error, "CreateRecapRequest")
	}
}

func TestCreateRecap_RejectsLocalReferences(t *testing.T) {
	renderer := &stubRenderer{data: "webm-bytes"}
	router, svc := newTestRouter(t, renderer)

	tests := []struct {
		name        string
		body        CreateRecapRequest
		lang        string
		wantMessage string
	}{
		{
			name:        "absolute path",
			body:        CreateRecapRequest{Photos: []string{"/etc/hosts"}},
			wantMessage: "Some photos cannot be used. Please choose photos from the web or upload them directly.",
		},
		{
			name:        "file URL after a valid photo",
			body:        CreateRecapRequest{Photos: []string{"https://example.com/a.jpg", "file:///etc/passwd"}},
			lang:        "es",
			wantMessage: "Algunas fotos no se pueden usar. Elige fotos de la web o súbelas directamente.",
		},
		{
			name:        "relative path",
			body:        CreateRecapRequest{Photos: []string{"photos/a.jpg"}},
			wantMessage: "Some photos cannot be used. Please choose photos from the web or upload them directly.",
		},
		{
			name:        "local music",
			body:        CreateRecapRequest{Photos: []string{"https://example.com/a.jpg"}, MusicURL: "file:///etc/passwd"},
			wantMessage: "Invalid video settings. Please check duration, size and frame rate.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/recaps", tt.body, "Accept-Language", tt.lang)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)
			assert.Equal(t, tt.wantMessage, resp.Error)
		})
	}

	jobs, err := svc.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)

	createRecap(t, router, CreateRecapRequest{
		Photos:   []string{"https://example.com/a.jpg", "data:image/png;base64,iVBORw0KGgo="},
		MusicURL: "https://cdn.example.com/theme.mp3",
	})
}

func TestCreateRecap_ServiceError(t *testing.T) {
	svc := new(mockService)
	svc.On("Submit", mock.Anything, mock.Anything).Return(nil, errors.New("disk full"))
	router := NewRouter(NewHandlers(svc, testLogger()), testLogger(), DefaultConfig())

	rec := do(t, router, http.MethodPost, "/recaps", CreateRecapRequest{Photos: []string{"https://example.com/a.jpg"}})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "JOB_CREATION_FAILED", decode[ErrorResponse](t, rec).Code)
}

func TestGetRecap_CompletedInline(t *testing.T) {
	router, svc := newTestRouter(t, &stubRenderer{data: "webm-bytes"})
	id := createRecap(t, router, CreateRecapRequest{Photos: []string{"https://example.com/a.jpg", "https://example.com/b.jpg"}})
	svc.Wait()

	rec := do(t, router, http.MethodGet, "/recaps/"+id, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RecapResponse](t, rec)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "video/webm;codecs=vp9,opus", resp.MimeType)
	assert.Equal(t, int64(6000), resp.DurationMs)

	data, err := upload.DecodeVideo(resp.VideoBase64)
	require.NoError(t, err)
	assert.Equal(t, "webm-bytes", string(data))
}

func TestGetRecap_InlineLimit(t *testing.T) {
	router, svc := newTestRouter(t, &stubRenderer{data: "webm-bytes"}, WithInlineVideoLimit(4))
	id := createRecap(t, router, CreateRecapRequest{Photos: []string{"https://example.com/a.jpg"}})
	svc.Wait()

	resp := decode[RecapResponse](t, do(t, router, http.MethodGet, "/recaps/"+id, nil))
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Empty(t, resp.VideoBase64)
	assert.Equal(t, len("webm-bytes"), resp.SizeBytes)
}

func TestGetRecap_FailedLocalized(t *testing.T) {
	router, svc := newTestRouter(t, &stubRenderer{err: recaperr.ImageLoad(2, errors.New("404"))})
	id := createRecap(t, router, CreateRecapRequest{Photos: []string{"https://example.com/a.jpg", "https://example.com/b.jpg"}})
	svc.Wait()

	resp := decode[RecapResponse](t, do(t, router, http.MethodGet, "/recaps/"+id, nil))
	assert.Equal(t, "FAILED", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "IMAGE_LOAD_FAILED", resp.Error.Code)
	assert.Equal(t, 2, resp.Error.Index)
	assert.Equal(t, "Could not load image 2. Please check the photo and try again.", resp.Error.Message)
	assert.Empty(t, resp.VideoBase64)

	resp = decode[RecapResponse](t, do(t, router, http.MethodGet, "/recaps/"+id, nil, "Accept-Language", "es"))
	assert.Equal(t, "No se pudo cargar la imagen 2. Revisa la foto e inténtalo de nuevo.", resp.Error.Message)
}

func TestGetRecap_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, &stubRenderer{})

	rec := do(t, router, http.MethodGet, "/recaps/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decode[ErrorResponse](t, rec).Code)
}

func TestGetRecap_RepositoryError(t *testing.T) {
	svc := new(mockService)
	svc.On("GetJob", mock.Anything, "job-1").Return(nil, errors.New("database is locked"))
	router := NewRouter(NewHandlers(svc, testLogger()), testLogger(), DefaultConfig())

	rec := do(t, router, http.MethodGet, "/recaps/job-1", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "JOB_FETCH_FAILED", decode[ErrorResponse](t, rec).Code)
}

func TestGetVideo(t *testing.T) {
	router, svc := newTestRouter(t, &stubRenderer{data: "webm-bytes"})
	id := createRecap(t, router, CreateRecapRequest{Photos: []string{"https://example.com/a.jpg"}})
	svc.Wait()

	rec := do(t, router, http.MethodGet, "/recaps/"+id+"/video", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/webm;codecs=vp9,opus", rec.Header().Get("Content-Type"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), id+".webm")
	assert.Equal(t, "webm-bytes", rec.Body.String())
}

func TestGetVideo_NotReady(t *testing.T) {
	router, svc := newTestRouter(t, &stubRenderer{err: recaperr.New(recaperr.KindTimeout, nil)})
	id := createRecap(t, router, CreateRecapRequest{Photos: []string{"https://example.com/a.jpg"}})
	svc.Wait()

	rec := do(t, router, http.MethodGet, "/recaps/"+id+"/video", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "VIDEO_NOT_READY", decode[ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodGet, "/recaps/missing/video", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRecap(t *testing.T) {
	started := make(chan struct{})
	router, svc := newTestRouter(t, &stubRenderer{started: started})
	id := createRecap(t, router, CreateRecapRequest{Photos: []string{"https://example.com/a.jpg"}})
	<-started

	rec := do(t, router, http.MethodPost, "/recaps/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	svc.Wait()

	resp := decode[RecapResponse](t, do(t, router, http.MethodGet, "/recaps/"+id, nil))
	assert.Equal(t, "CANCELLED", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CANCELLED", resp.Error.Code)

	rec = do(t, router, http.MethodPost, "/recaps/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_NOT_CANCELLABLE", decode[ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodPost, "/recaps/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRecaps(t *testing.T) {
	router, svc := newTestRouter(t, &stubRenderer{data: "x"})
	first := createRecap(t, router, CreateRecapRequest{Photos: []string{"https://example.com/a.jpg"}})
	time.Sleep(2 * time.Millisecond)
	second := createRecap(t, router, CreateRecapRequest{Photos: []string{"https://example.com/a.jpg", "https://example.com/b.jpg"}})
	svc.Wait()

	resp := decode[RecapListResponse](t, do(t, router, http.MethodGet, "/recaps", nil))
	require.Len(t, resp.Recaps, 2)
	assert.Equal(t, first, resp.Recaps[0].ID)
	assert.Equal(t, second, resp.Recaps[1].ID)
	assert.Equal(t, 2, resp.Recaps[1].Images)
}

func TestRequestIDMiddleware(t *testing.T) {
	router, _ := newTestRouter(t, &stubRenderer{})

	rec := do(t, router, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = do(t, router, http.MethodGet, "/health", nil, RequestIDHeader, "req-42")
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestCORSMiddleware(t *testing.T) {
	h := NewHandlers(new(mockService), testLogger())
	router := NewRouter(h, testLogger(), Config{AllowedOrigins: []string{"https://example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Accept-Language")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/recaps", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("test panic")
	})
	handler := RecoveryMiddleware(testLogger())(panicHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode[ErrorResponse](t, rec).Code)
}
