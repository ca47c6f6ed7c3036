// Package models defines the core data structures shared across the canvas
// backend: database entities, wire payloads, and the rights vocabulary.
package models

import (
	"encoding/json"
	"time"
)

// Right is the access level a user holds on a canvas, ordered by power:
// R < W < V < M < O.
type Right string

const (
	RightRead     Right = "R"
	RightWrite    Right = "W"
	RightVerified Right = "V"
	RightModerate Right = "M"
	RightOwner    Right = "O"
)

// Valid reports whether r is one of the five defined rights.
func (r Right) Valid() bool {
	switch r {
	case RightRead, RightWrite, RightVerified, RightModerate, RightOwner:
		return true
	}
	return false
}

// CanManage reports whether r is allowed to issue "manage" commands and
// toggle moderation (M or O).
func (r Right) CanManage() bool {
	return r == RightModerate || r == RightOwner
}

// CanWrite reports whether r may ever submit events, independent of the
// canvas's current moderation state.
func (r Right) CanWrite() bool {
	return r == RightWrite || r == RightVerified || r == RightModerate || r == RightOwner
}

// BypassesModeration reports whether r ignores a canvas's moderated flag.
func (r Right) BypassesModeration() bool {
	return r == RightVerified || r == RightModerate || r == RightOwner
}

// User is an authenticated account. IDs are opaque strings minted by the
// control plane (google/uuid) rather than database serials, since canvas
// and user identifiers are shared with clients over the wire.
type User struct {
	ID             string    `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Canvas is a shared drawing surface.
type Canvas struct {
	ID        string    `db:"id" json:"id"`
	Moderated bool      `db:"moderated" json:"moderated"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UserCanvasRight is the (user, canvas) -> right assignment.
type UserCanvasRight struct {
	UserID   string `db:"user_id" json:"user_id"`
	CanvasID string `db:"canvas_id" json:"canvas_id"`
	Right    Right  `db:"right" json:"right"`
}

// CanvasEvent is the unit of client-submitted payload. It is opaque to the
// server except for Type and CanvasID: Payload is carried as raw JSON so a
// malformed or unexpected payload shape never fails server-side decoding.
type CanvasEvent struct {
	Type      string          `json:"type"`
	CanvasID  string          `json:"canvas_id"`
	Timestamp uint64          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// RightsChangedPayload is the payload of a synthetic "rights_changed" event.
// Exactly one of Right or Moderated is present on the wire, per the event
// that triggered it. Right is a pointer-to-pointer: the outer pointer
// governs whether the "right" key appears at all (omitempty on a nil outer
// pointer omits it, as for a moderation-only frame), while the inner
// pointer governs its value once present, so a revocation can still send
// the literal "right": null instead of silently dropping the key. Build
// the outer pointer with RightValue or RightRevoked rather than by hand.
type RightsChangedPayload struct {
	Right     **Right `json:"right,omitempty"`
	Moderated *bool   `json:"moderated,omitempty"`
}

// RightValue wraps r as a present "right" value for RightsChangedPayload.
func RightValue(r Right) **Right {
	p := &r
	return &p
}

// RightRevoked represents an explicit "right": null for RightsChangedPayload,
// as opposed to omitting the key entirely.
func RightRevoked() **Right {
	var p *Right
	return &p
}

// ErrorEnvelope is the server->client frame sent when a connection is
// refused access to a canvas.
type ErrorEnvelope struct {
	Error string `json:"error"`
}

// Claims is the decoded identity presented on the streaming handshake.
type Claims struct {
	UserID      string
	Email       string
	DisplayName string
	ExpiresAt   time.Time
}
