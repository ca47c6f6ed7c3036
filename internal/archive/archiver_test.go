package archive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"canvashub/internal/store"
)

func newTestArchiver(t *testing.T) (*Archiver, sqlmock.Sqlmock, *httptest.Server, *[]byte) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := store.NewWithDB(sqlx.NewDb(db, "postgres"))

	var uploaded []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploaded, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s3Service, err := NewS3Service(S3Config{
		Endpoint: srv.URL, Region: "us-east-1", AccessKey: "k", SecretKey: "s", Bucket: "snapshots",
	}, zap.NewNop().Sugar())
	require.NoError(t, err)

	return NewArchiver(s, s3Service, time.Minute, zap.NewNop().Sugar()), mock, srv, &uploaded
}

func TestArchiver_ArchiveOne_UploadsHistoryAsJSON(t *testing.T) {
	a, mock, _, uploaded := newTestArchiver(t)

	mock.ExpectQuery(`SELECT blob FROM canvas_events WHERE canvas_id = \$1 ORDER BY sequence ASC`).
		WithArgs("canvas-1").
		WillReturnRows(sqlmock.NewRows([]string{"blob"}).AddRow(`{"a":1}`).AddRow(`{"a":2}`))

	err := a.ArchiveOne(context.Background(), "canvas-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	var got []string
	require.NoError(t, json.Unmarshal(*uploaded, &got))
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, got)
}

func TestArchiver_ArchiveOne_PropagatesStoreError(t *testing.T) {
	a, mock, _, _ := newTestArchiver(t)

	mock.ExpectQuery(`SELECT blob FROM canvas_events`).
		WithArgs("canvas-1").
		WillReturnError(assert.AnError)

	err := a.ArchiveOne(context.Background(), "canvas-1")
	assert.Error(t, err)
}

func TestArchiver_Run_StopsOnContextCancellation(t *testing.T) {
	a, _, _, _ := newTestArchiver(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, func(context.Context) ([]string, error) { return nil, nil })
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run must return promptly once its context is cancelled")
	}
}

func TestNewArchiver_DefaultsNonPositiveIntervalTo6Hours(t *testing.T) {
	a := NewArchiver(nil, nil, 0, zap.NewNop().Sugar())
	assert.Equal(t, 6*time.Hour, a.interval)

	a = NewArchiver(nil, nil, -time.Minute, zap.NewNop().Sugar())
	assert.Equal(t, 6*time.Hour, a.interval)
}
