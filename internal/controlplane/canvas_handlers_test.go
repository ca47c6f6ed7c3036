package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"canvashub/internal/bus"
	"canvashub/internal/models"
	"canvashub/internal/store"
)

func newTestCanvasHandlers(t *testing.T) (*CanvasHandlers, sqlmock.Sqlmock, *bus.Registry) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := store.NewWithDB(sqlx.NewDb(db, "postgres"))
	busReg := bus.NewRegistry(16)
	h := NewCanvasHandlers(context.Background(), s, busReg, nil, nil, zap.NewNop().Sugar())
	return h, mock, busReg
}

func withClaims(r *http.Request, userID string) *http.Request {
	ctx := context.WithValue(r.Context(), claimsContextKey, models.Claims{UserID: userID})
	return r.WithContext(ctx)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCanvasHandlers_SetRight_OwnerMayGrantOwnership(t *testing.T) {
	h, mock, busReg := newTestCanvasHandlers(t)

	mock.ExpectQuery(`SELECT "right" FROM user_canvas`).
		WithArgs("canvas-1", "owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"right"}).AddRow("O"))
	mock.ExpectQuery(`SELECT moderated FROM canvas`).
		WithArgs("canvas-1").
		WillReturnRows(sqlmock.NewRows([]string{"moderated"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO user_canvas`).
		WithArgs("canvas-1", "new-owner", models.RightOwner).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sub := busReg.For("canvas-1").Subscribe()
	defer sub.Unsubscribe()

	body, _ := json.Marshal(setRightRequest{UserID: "new-owner", Right: rightPtr(models.RightOwner)})
	r := httptest.NewRequest(http.MethodPut, "/canvases/canvas-1/rights", bytes.NewReader(body))
	r = withClaims(r, "owner-1")
	r = withChiParam(r, "canvasID", "canvas-1")
	w := httptest.NewRecorder()

	h.SetRight(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	select {
	case msg := <-sub.C():
		assert.Equal(t, bus.RightChanged, msg.Kind)
		require.NotNil(t, msg.Right)
		assert.Equal(t, models.RightOwner, *msg.Right)
	default:
		t.Fatal("expected a RightChanged message to be published")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCanvasHandlers_SetRight_ModeratorForbiddenFromGrantingOwnership(t *testing.T) {
	h, mock, _ := newTestCanvasHandlers(t)

	mock.ExpectQuery(`SELECT "right" FROM user_canvas`).
		WithArgs("canvas-1", "mod-1").
		WillReturnRows(sqlmock.NewRows([]string{"right"}).AddRow("M"))
	mock.ExpectQuery(`SELECT moderated FROM canvas`).
		WithArgs("canvas-1").
		WillReturnRows(sqlmock.NewRows([]string{"moderated"}).AddRow(false))

	body, _ := json.Marshal(setRightRequest{UserID: "someone", Right: rightPtr(models.RightOwner)})
	r := httptest.NewRequest(http.MethodPut, "/canvases/canvas-1/rights", bytes.NewReader(body))
	r = withClaims(r, "mod-1")
	r = withChiParam(r, "canvasID", "canvas-1")
	w := httptest.NewRecorder()

	h.SetRight(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCanvasHandlers_SetRight_ModeratorMayGrantNonOwnerRights(t *testing.T) {
	h, mock, _ := newTestCanvasHandlers(t)

	mock.ExpectQuery(`SELECT "right" FROM user_canvas`).
		WithArgs("canvas-1", "mod-1").
		WillReturnRows(sqlmock.NewRows([]string{"right"}).AddRow("M"))
	mock.ExpectQuery(`SELECT moderated FROM canvas`).
		WithArgs("canvas-1").
		WillReturnRows(sqlmock.NewRows([]string{"moderated"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO user_canvas`).
		WithArgs("canvas-1", "someone", models.RightVerified).
		WillReturnResult(sqlmock.NewResult(1, 1))

	body, _ := json.Marshal(setRightRequest{UserID: "someone", Right: rightPtr(models.RightVerified)})
	r := httptest.NewRequest(http.MethodPut, "/canvases/canvas-1/rights", bytes.NewReader(body))
	r = withClaims(r, "mod-1")
	r = withChiParam(r, "canvasID", "canvas-1")
	w := httptest.NewRecorder()

	h.SetRight(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCanvasHandlers_SetRight_CallerWithoutManageRightIsForbidden(t *testing.T) {
	h, mock, _ := newTestCanvasHandlers(t)

	mock.ExpectQuery(`SELECT "right" FROM user_canvas`).
		WithArgs("canvas-1", "writer-1").
		WillReturnRows(sqlmock.NewRows([]string{"right"}).AddRow("W"))
	mock.ExpectQuery(`SELECT moderated FROM canvas`).
		WithArgs("canvas-1").
		WillReturnRows(sqlmock.NewRows([]string{"moderated"}).AddRow(false))

	body, _ := json.Marshal(setRightRequest{UserID: "someone", Right: rightPtr(models.RightRead)})
	r := httptest.NewRequest(http.MethodPut, "/canvases/canvas-1/rights", bytes.NewReader(body))
	r = withClaims(r, "writer-1")
	r = withChiParam(r, "canvasID", "canvas-1")
	w := httptest.NewRecorder()

	h.SetRight(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCanvasHandlers_SetRight_NilRightRevokes(t *testing.T) {
	h, mock, busReg := newTestCanvasHandlers(t)

	mock.ExpectQuery(`SELECT "right" FROM user_canvas`).
		WithArgs("canvas-1", "owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"right"}).AddRow("O"))
	mock.ExpectQuery(`SELECT moderated FROM canvas`).
		WithArgs("canvas-1").
		WillReturnRows(sqlmock.NewRows([]string{"moderated"}).AddRow(false))
	mock.ExpectExec(`DELETE FROM user_canvas`).
		WithArgs("canvas-1", "ex-member").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sub := busReg.For("canvas-1").Subscribe()
	defer sub.Unsubscribe()

	body, _ := json.Marshal(setRightRequest{UserID: "ex-member", Right: nil})
	r := httptest.NewRequest(http.MethodPut, "/canvases/canvas-1/rights", bytes.NewReader(body))
	r = withClaims(r, "owner-1")
	r = withChiParam(r, "canvasID", "canvas-1")
	w := httptest.NewRecorder()

	h.SetRight(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	select {
	case msg := <-sub.C():
		assert.Nil(t, msg.Right)
	default:
		t.Fatal("expected a RightChanged message to be published")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCanvasHandlers_GetCanvas_ForbiddenForNonManager(t *testing.T) {
	h, mock, _ := newTestCanvasHandlers(t)

	mock.ExpectQuery(`SELECT "right" FROM user_canvas`).
		WithArgs("canvas-1", "reader-1").
		WillReturnRows(sqlmock.NewRows([]string{"right"}).AddRow("R"))
	mock.ExpectQuery(`SELECT moderated FROM canvas`).
		WithArgs("canvas-1").
		WillReturnRows(sqlmock.NewRows([]string{"moderated"}).AddRow(false))

	r := httptest.NewRequest(http.MethodGet, "/canvases/canvas-1", nil)
	r = withClaims(r, "reader-1")
	r = withChiParam(r, "canvasID", "canvas-1")
	w := httptest.NewRecorder()

	h.GetCanvas(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCanvasHandlers_ArchiveNow_ServiceUnavailableWhenNotConfigured(t *testing.T) {
	h, _, _ := newTestCanvasHandlers(t)

	r := httptest.NewRequest(http.MethodPost, "/canvases/canvas-1/archive", nil)
	r = withClaims(r, "owner-1")
	r = withChiParam(r, "canvasID", "canvas-1")
	w := httptest.NewRecorder()

	h.ArchiveNow(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func rightPtr(r models.Right) *models.Right { return &r }
