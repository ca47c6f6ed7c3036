package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewS3Service_IncompleteConfigReturnsDisabledService(t *testing.T) {
	svc, err := NewS3Service(S3Config{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.False(t, svc.isConfigured())

	err = svc.UploadJSON(context.Background(), "some/key.json", []byte(`{}`))
	assert.Error(t, err)
}

func TestS3Service_UploadJSON_PutsToConfiguredEndpoint(t *testing.T) {
	var gotPath, gotMethod, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, err := NewS3Service(S3Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		AccessKey: "test-key",
		SecretKey: "test-secret",
		Bucket:    "canvas-snapshots",
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.True(t, svc.isConfigured())

	err = svc.UploadJSON(context.Background(), "canvases/c1/123.json", []byte(`{"hello":"world"}`))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Contains(t, gotPath, "canvas-snapshots")
	assert.Contains(t, gotPath, "canvases/c1/123.json")
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, `{"hello":"world"}`, string(gotBody))
}
