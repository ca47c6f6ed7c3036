// Package hub implements the per-process fan-out of canvas events between
// live connections, grounded on the single-goroutine, channel-owned-map
// pattern used for the WebSocket hub elsewhere in the pack and on the
// canonical canvas implementation's mpsc/SelectAll forwarding loop.
package hub

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Sink is anything a hub can deliver an outbound frame to. Connections
// implement this directly so that a connection's own self-originated
// notifications (e.g. its own rights being changed) can be written without
// routing back through the hub, which never delivers an event to its
// sender.
type Sink interface {
	// Deliver writes frame to the underlying connection. Run calls it
	// synchronously, so a slow Deliver delays fan-out for every canvas.
	// Deliver reports no error and the hub never evicts a sink on its own:
	// a connection leaves the table only when Leave is called for it.
	Deliver(frame []byte)
}

type registration struct {
	canvasID string
	connID   uint64
	sink     Sink
}

type unregistration struct {
	canvasID string
	connID   uint64
}

type broadcast struct {
	canvasID string
	fromConn uint64
	frame    []byte
}

// Hub owns, on a single goroutine, the mapping from canvas ID to the set of
// live connections subscribed to it. All mutation happens inside Run, so no
// locking is needed around the maps themselves.
type Hub struct {
	log *zap.SugaredLogger

	register   chan registration
	unregister chan unregistration
	publish    chan broadcast

	canvasConns map[string]map[uint64]Sink
	nextConnID  atomic.Uint64
}

// New builds a Hub. Call Run in its own goroutine before use.
func New(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:         log,
		register:    make(chan registration),
		unregister:  make(chan unregistration),
		publish:     make(chan broadcast, 256),
		canvasConns: make(map[string]map[uint64]Sink),
	}
}

// NextConnID hands out a process-unique connection identifier. Safe to call
// concurrently from any goroutine.
func (h *Hub) NextConnID() uint64 {
	return h.nextConnID.Add(1)
}

// Join registers sink as a subscriber to canvasID under connID, used by the
// connection handler after a client has passed authorization.
func (h *Hub) Join(canvasID string, connID uint64, sink Sink) {
	h.register <- registration{canvasID: canvasID, connID: connID, sink: sink}
}

// Leave removes connID's subscription to canvasID. Safe to call even if the
// connection was never joined.
func (h *Hub) Leave(canvasID string, connID uint64) {
	h.unregister <- unregistration{canvasID: canvasID, connID: connID}
}

// Broadcast fans frame out to every connection subscribed to canvasID
// except fromConn, which already has its own copy of what it sent.
func (h *Hub) Broadcast(canvasID string, fromConn uint64, frame []byte) {
	h.publish <- broadcast{canvasID: canvasID, fromConn: fromConn, frame: frame}
}

// Run processes registrations, unregistrations, and broadcasts in a loop
// that never returns. It must run on its own goroutine for the lifetime of
// the process.
func (h *Hub) Run() {
	for {
		select {
		case reg := <-h.register:
			conns, ok := h.canvasConns[reg.canvasID]
			if !ok {
				conns = make(map[uint64]Sink)
				h.canvasConns[reg.canvasID] = conns
			}
			conns[reg.connID] = reg.sink
			h.log.Debugw("connection joined canvas", "canvas_id", reg.canvasID, "conn_id", reg.connID)

		case unreg := <-h.unregister:
			if conns, ok := h.canvasConns[unreg.canvasID]; ok {
				delete(conns, unreg.connID)
				if len(conns) == 0 {
					delete(h.canvasConns, unreg.canvasID)
				}
			}
			h.log.Debugw("connection left canvas", "canvas_id", unreg.canvasID, "conn_id", unreg.connID)

		case b := <-h.publish:
			conns, ok := h.canvasConns[b.canvasID]
			if !ok {
				continue
			}
			for connID, sink := range conns {
				if connID == b.fromConn {
					continue
				}
				sink.Deliver(b.frame)
			}
		}
	}
}
