package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}
}

func TestNewS3Storage(t *testing.T) {
	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config("http://localhost:4566"))
	require.NoError(t, err)

	assert.Equal(t, "test-bucket", storage.bucket)
	assert.Equal(t, "us-east-1", storage.region)
	assert.Equal(t, "http://localhost:4566", storage.endpoint)
}

func TestS3Storage_InheritsLocalStorage(t *testing.T) {
	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config("http://localhost:4566"))
	require.NoError(t, err)

	ctx := context.Background()
	path, err := storage.SaveTemp(ctx, "test", bytes.NewReader([]byte("test data")))
	require.NoError(t, err)

	reader, err := storage.LoadTemp(ctx, path)
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	_ = reader.Close()
	require.NoError(t, err)
	assert.Equal(t, "test data", string(content))

	require.NoError(t, storage.CleanupTemp(ctx, []string{path}))
	assert.NoFileExists(t, path)
}

func TestS3Storage_UploadToS3_MockServer(t *testing.T) {
	var (
		mu          sync.Mutex
		gotPath     string
		gotBody     string
		contentType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		mu.Lock()
		gotPath = r.URL.Path
		gotBody = string(body)
		contentType = r.Header.Get("Content-Type")
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config(server.URL))
	require.NoError(t, err)

	url, err := storage.UploadToS3(context.Background(), "families/f1/recaps/r1.webm", "video/webm", strings.NewReader("test content"))
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/test-bucket/families/f1/recaps/r1.webm", url)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/test-bucket/families/f1/recaps/r1.webm", gotPath)
	assert.Equal(t, "test content", gotBody)
	assert.Equal(t, "video/webm", contentType)
}

func TestS3Storage_UploadToS3_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config(server.URL))
	require.NoError(t, err)

	_, err = storage.UploadToS3(context.Background(), "key", "", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload to S3")
}

func TestS3Storage_ObjectURL(t *testing.T) {
	s := &S3Storage{bucket: "b", region: "eu-west-1"}
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/a%20b.webm", s.objectURL("a b.webm"))
}
