// Package connection implements the per-client state machine: handshake,
// authorization, history replay, registration with the hub, and the main
// read/Control-Bus select loop. Grounded on the ReadPump/WritePump split
// used for the streaming client elsewhere in the pack, generalized from a
// per-user fan-out to the per-canvas, rights-aware fan-out this domain
// needs.
package connection

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"canvashub/internal/bus"
	"canvashub/internal/hub"
	"canvashub/internal/models"
	"canvashub/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB; drawing events are small JSON objects.

	defaultRightRecheckInterval = time.Minute
)

// sink adapts a *websocket.Conn into a hub.Sink, serializing concurrent
// writers (the hub's fan-out goroutine and this connection's own
// self-notifications) behind one mutex, exactly as the teacher's Client
// guards concurrent writes with connMutex.
type sink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Deliver implements hub.Sink.
func (s *sink) Deliver(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *sink) deliverJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.Deliver(data)
	return nil
}

func (s *sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}

// Handler runs one client connection's entire lifecycle.
type Handler struct {
	conn   *websocket.Conn
	store  store.CanvasStore
	hub    *hub.Hub
	busSub *bus.Subscription
	log    *zap.SugaredLogger

	user   models.Claims
	connID uint64

	rightRecheckInterval time.Duration
}

// New builds a Handler for an already-upgraded WebSocket connection. The
// target canvas isn't known until the init frame arrives, so the Control
// Bus subscription is deferred: Run takes a *bus.Registry and subscribes
// once canvas_id is known.
func New(conn *websocket.Conn, canvasStore store.CanvasStore, h *hub.Hub, log *zap.SugaredLogger, user models.Claims, rightRecheckInterval time.Duration) *Handler {
	if rightRecheckInterval <= 0 {
		rightRecheckInterval = defaultRightRecheckInterval
	}
	return &Handler{
		conn:                 conn,
		store:                canvasStore,
		hub:                  h,
		log:                  log,
		user:                 user,
		rightRecheckInterval: rightRecheckInterval,
	}
}

// Run drives the connection's full state machine to completion. It returns
// once the connection has terminated, by any means.
func (h *Handler) Run(ctx context.Context, registry *bus.Registry) {
	s := &sink{conn: h.conn}
	defer s.close()

	h.conn.SetReadLimit(maxMessageSize)
	_ = h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(string) error {
		return h.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Init: read exactly one inbound message; it may contain multiple
	// newline-delimited frames, of which the first is the init command and
	// the rest are pre-buffered events.
	_, raw, err := h.conn.ReadMessage()
	if err != nil {
		return
	}
	lines := splitNonEmptyLines(string(raw))
	if len(lines) == 0 {
		return
	}

	var initEvent models.CanvasEvent
	if err := json.Unmarshal([]byte(lines[0]), &initEvent); err != nil {
		return
	}
	canvasID := initEvent.CanvasID

	// Authorize.
	right, moderated, ok, err := h.store.GetAccess(ctx, canvasID, h.user.UserID)
	if err != nil || !ok {
		_ = s.deliverJSON(models.ErrorEnvelope{Error: "You do not have access to this canvas."})
		return
	}
	currentRight := right
	moderatedView := moderated

	// History.
	if initEvent.Type == "register" {
		if replay, ok := decodeBoolPayload(initEvent.Payload); ok && replay {
			blobs, err := h.store.ReadHistory(ctx, canvasID)
			if err != nil {
				return
			}
			if err := s.deliverJSON(blobs); err != nil {
				return
			}
		}
	}

	// Register with Hub.
	h.connID = h.hub.NextConnID()
	h.hub.Join(canvasID, h.connID, s)
	defer h.hub.Leave(canvasID, h.connID)

	// Management shortcut.
	if currentRight.CanManage() && initEvent.Type == "manage" {
		h.broadcastEvent(canvasID, initEvent)
		return
	}

	// Control Bus subscription, used by both the read-only shortcut and the
	// main loop.
	canvasBus := registry.For(canvasID)
	h.busSub = canvasBus.Subscribe()
	defer h.busSub.Unsubscribe()

	// Read-only shortcut: never read from the client again, only relay
	// Control Bus notifications until the connection dies.
	if currentRight == models.RightRead {
		h.readOnlyLoop(ctx, s, canvasID, &currentRight, &moderatedView)
		return
	}

	// Pre-buffered events from the initial frame.
	for _, line := range lines[1:] {
		var ev models.CanvasEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		h.handleWrite(ctx, s, canvasID, ev, currentRight, moderatedView)
	}

	h.mainLoop(ctx, s, canvasID, currentRight, moderatedView)
}

// readOnlyLoop services a right=="R" connection: the read side is
// abandoned (per spec, it MAY be), only Control Bus events are serviced.
func (h *Handler) readOnlyLoop(ctx context.Context, s *sink, canvasID string, currentRight *models.Right, moderatedView *bool) {
	// Drain and discard any further client frames so the transport doesn't
	// back up, without ever acting on them.
	go func() {
		for {
			if _, _, err := h.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	recheck := time.NewTicker(h.rightRecheckInterval)
	defer recheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-recheck.C:
			if h.reconcileRight(ctx, s, canvasID, currentRight, moderatedView) {
				return
			}
		case msg, ok := <-h.busSub.C():
			if !ok {
				return
			}
			if h.applyBusMessage(s, canvasID, msg, currentRight, moderatedView) {
				return
			}
		}
	}
}

// mainLoop services a writer-capable connection: client frames and Control
// Bus events, concurrently.
func (h *Handler) mainLoop(ctx context.Context, s *sink, canvasID string, currentRight models.Right, moderatedView bool) {
	inbound := make(chan []byte, 32)
	readErr := make(chan struct{})
	go func() {
		defer close(readErr)
		for {
			_, msg, err := h.conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	recheck := time.NewTicker(h.rightRecheckInterval)
	defer recheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-readErr:
			return

		case <-ticker.C:
			if err := h.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-recheck.C:
			if h.reconcileRight(ctx, s, canvasID, &currentRight, &moderatedView) {
				return
			}

		case raw, ok := <-inbound:
			if !ok {
				return
			}
			for _, line := range splitNonEmptyLines(string(raw)) {
				var ev models.CanvasEvent
				if err := json.Unmarshal([]byte(line), &ev); err != nil {
					// Malformed peer JSON must not crash the handler; skip it.
					continue
				}
				h.handleWrite(ctx, s, canvasID, ev, currentRight, moderatedView)
			}

		case msg, ok := <-h.busSub.C():
			if !ok {
				return
			}
			if h.applyBusMessage(s, canvasID, msg, &currentRight, &moderatedView) {
				return
			}
		}
	}
}

// handleWrite implements the "handle write" policy: moderation gating,
// persistence, and fan-out.
func (h *Handler) handleWrite(ctx context.Context, s *sink, canvasID string, ev models.CanvasEvent, currentRight models.Right, moderatedView bool) {
	if currentRight == models.RightRead {
		return
	}
	if currentRight == models.RightWrite && moderatedView {
		return
	}
	if !currentRight.CanWrite() {
		return
	}

	blob, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := h.store.AppendEvent(ctx, canvasID, string(blob)); err != nil {
		h.log.Warnw("failed to persist canvas event", "canvas_id", canvasID, "error", err)
		return
	}
	h.hub.Broadcast(canvasID, h.connID, blob)
}

// broadcastEvent fans a single event out without persisting it (used for
// the one-shot "manage" command).
func (h *Handler) broadcastEvent(canvasID string, ev models.CanvasEvent) {
	blob, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.hub.Broadcast(canvasID, h.connID, blob)
}

// applyBusMessage handles one Control Bus message for this connection's
// (canvas, user). It returns true if the connection must now terminate.
func (h *Handler) applyBusMessage(s *sink, canvasID string, msg bus.Message, currentRight *models.Right, moderatedView *bool) bool {
	switch msg.Kind {
	case bus.RightChanged:
		if msg.CanvasID != canvasID || msg.UserID != h.user.UserID {
			return false
		}
		if msg.Right == nil {
			_ = s.deliverJSON(rightsChangedFrame(canvasID, models.RightsChangedPayload{Right: models.RightRevoked()}))
			return true
		}
		*currentRight = *msg.Right
		_ = s.deliverJSON(rightsChangedFrame(canvasID, models.RightsChangedPayload{Right: models.RightValue(*msg.Right)}))
		return false

	case bus.ModeratedChanged:
		if msg.CanvasID != canvasID {
			return false
		}
		*moderatedView = *msg.Moderated
		_ = s.deliverJSON(rightsChangedFrame(canvasID, models.RightsChangedPayload{Moderated: msg.Moderated}))
		return false
	}
	return false
}

// reconcileRight is the defensive fallback for a missed Control Bus
// message: re-query the store and close the connection if access has
// actually been revoked. It returns true if the connection must terminate.
func (h *Handler) reconcileRight(ctx context.Context, s *sink, canvasID string, currentRight *models.Right, moderatedView *bool) bool {
	right, moderated, ok, err := h.store.GetAccess(ctx, canvasID, h.user.UserID)
	if err != nil {
		return false
	}
	if !ok {
		_ = s.deliverJSON(rightsChangedFrame(canvasID, models.RightsChangedPayload{Right: models.RightRevoked()}))
		return true
	}
	*currentRight = right
	*moderatedView = moderated
	return false
}

func rightsChangedFrame(canvasID string, payload models.RightsChangedPayload) models.CanvasEvent {
	raw, _ := json.Marshal(payload)
	return models.CanvasEvent{
		Type:      "rights_changed",
		CanvasID:  canvasID,
		Timestamp: 0,
		Payload:   raw,
	}
}

func decodeBoolPayload(raw json.RawMessage) (bool, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func splitNonEmptyLines(s string) []string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
