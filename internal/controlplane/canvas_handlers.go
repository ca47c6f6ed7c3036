package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"canvashub/internal/archive"
	"canvashub/internal/bus"
	"canvashub/internal/models"
	"canvashub/internal/notify"
	"canvashub/internal/store"
)

// CanvasHandlers exposes canvas creation, rights management and moderation
// toggling. Authorization rules are grounded on the original implementation's
// change_canvas_right rule: an owner may set any right; a moderator may set
// any right but O.
type CanvasHandlers struct {
	ctx      context.Context
	store    *store.Store
	busReg   *bus.Registry
	archiver *archive.Archiver
	notifier *notify.Notifier
	log      *zap.SugaredLogger
}

// NewCanvasHandlers builds a CanvasHandlers. archiver and notifier may be
// nil if those subsystems aren't configured. ctx bounds the lifetime of any
// background per-canvas watchers spawned by handlers (e.g. the moderation
// notifier), so they exit when the server shuts down.
func NewCanvasHandlers(ctx context.Context, s *store.Store, busReg *bus.Registry, archiver *archive.Archiver, notifier *notify.Notifier, log *zap.SugaredLogger) *CanvasHandlers {
	return &CanvasHandlers{ctx: ctx, store: s, busReg: busReg, archiver: archiver, notifier: notifier, log: log}
}

// CreateCanvas creates a new canvas owned by the caller.
func (h *CanvasHandlers) CreateCanvas(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, h.log, http.StatusUnauthorized, "unauthorized")
		return
	}

	canvas := models.Canvas{ID: uuid.NewString(), Moderated: false, CreatedAt: time.Now()}
	if err := h.store.CreateCanvas(r.Context(), canvas); err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to create canvas")
		return
	}
	if err := h.store.SetRight(r.Context(), canvas.ID, claims.UserID, models.RightOwner); err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to grant ownership")
		return
	}

	if h.notifier != nil {
		go h.notifier.Watch(h.ctx, canvas.ID, h.busReg.For(canvas.ID))
	}

	respondJSON(w, h.log, http.StatusCreated, canvas)
}

// GetCanvas returns a canvas's metadata and the caller's own right,
// restricted to callers with M or O on it.
func (h *CanvasHandlers) GetCanvas(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, h.log, http.StatusUnauthorized, "unauthorized")
		return
	}
	canvasID := chi.URLParam(r, "canvasID")

	right, moderated, ok, err := h.store.GetAccess(r.Context(), canvasID, claims.UserID)
	if err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to look up canvas")
		return
	}
	if !ok || !right.CanManage() {
		respondError(w, h.log, http.StatusForbidden, "insufficient rights on this canvas")
		return
	}

	respondJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"canvas_id": canvasID,
		"moderated": moderated,
		"right":     right,
	})
}

type setRightRequest struct {
	UserID string       `json:"user_id"`
	Right  *models.Right `json:"right"`
}

// SetRight changes or revokes a user's right on a canvas, then publishes
// RightChanged to the Control Bus after the database commit.
func (h *CanvasHandlers) SetRight(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, h.log, http.StatusUnauthorized, "unauthorized")
		return
	}
	canvasID := chi.URLParam(r, "canvasID")

	callerRight, _, ok, err := h.store.GetAccess(r.Context(), canvasID, claims.UserID)
	if err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to look up canvas")
		return
	}
	if !ok || !callerRight.CanManage() {
		respondError(w, h.log, http.StatusForbidden, "insufficient rights on this canvas")
		return
	}

	var req setRightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.log, http.StatusBadRequest, "invalid request format")
		return
	}
	if req.Right != nil && !req.Right.Valid() {
		respondError(w, h.log, http.StatusBadRequest, "invalid right")
		return
	}
	// A moderator may set any right but owner; only an owner may grant
	// ownership. The target's current right is not checked, so a moderator
	// can also change or revoke an existing owner's right.
	if callerRight != models.RightOwner && req.Right != nil && *req.Right == models.RightOwner {
		respondError(w, h.log, http.StatusForbidden, "only an owner may grant ownership")
		return
	}

	if req.Right == nil {
		if err := h.store.RevokeRight(r.Context(), canvasID, req.UserID); err != nil {
			respondError(w, h.log, http.StatusInternalServerError, "failed to revoke right")
			return
		}
	} else {
		if err := h.store.SetRight(r.Context(), canvasID, req.UserID, *req.Right); err != nil {
			respondError(w, h.log, http.StatusInternalServerError, "failed to set right")
			return
		}
	}

	h.busReg.For(canvasID).Publish(bus.Message{
		Kind:     bus.RightChanged,
		CanvasID: canvasID,
		UserID:   req.UserID,
		Right:    req.Right,
	})

	respondJSON(w, h.log, http.StatusOK, map[string]string{"status": "ok"})
}

type setModeratedRequest struct {
	Moderated bool `json:"moderated"`
}

// SetModerated toggles a canvas's moderated flag, restricted to M/O.
func (h *CanvasHandlers) SetModerated(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, h.log, http.StatusUnauthorized, "unauthorized")
		return
	}
	canvasID := chi.URLParam(r, "canvasID")

	callerRight, _, ok, err := h.store.GetAccess(r.Context(), canvasID, claims.UserID)
	if err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to look up canvas")
		return
	}
	if !ok || !callerRight.CanManage() {
		respondError(w, h.log, http.StatusForbidden, "insufficient rights on this canvas")
		return
	}

	var req setModeratedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.log, http.StatusBadRequest, "invalid request format")
		return
	}

	if err := h.store.SetModerated(r.Context(), canvasID, req.Moderated); err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to set moderation state")
		return
	}

	moderated := req.Moderated
	h.busReg.For(canvasID).Publish(bus.Message{
		Kind:      bus.ModeratedChanged,
		CanvasID:  canvasID,
		Moderated: &moderated,
	})

	respondJSON(w, h.log, http.StatusOK, map[string]string{"status": "ok"})
}

// ArchiveNow triggers an on-demand snapshot archive run for one canvas.
func (h *CanvasHandlers) ArchiveNow(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		respondError(w, h.log, http.StatusServiceUnavailable, "snapshot archiving is not configured")
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, h.log, http.StatusUnauthorized, "unauthorized")
		return
	}
	canvasID := chi.URLParam(r, "canvasID")

	callerRight, _, ok, err := h.store.GetAccess(r.Context(), canvasID, claims.UserID)
	if err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to look up canvas")
		return
	}
	if !ok || !callerRight.CanManage() {
		respondError(w, h.log, http.StatusForbidden, "insufficient rights on this canvas")
		return
	}

	if err := h.archiver.ArchiveOne(r.Context(), canvasID); err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to archive canvas")
		return
	}
	respondJSON(w, h.log, http.StatusAccepted, map[string]string{"status": "archived"})
}
