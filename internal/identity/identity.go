// Package identity extracts and verifies the caller's identity from the
// access_token cookie presented on the streaming handshake, mirroring the
// cookie-based JWT extraction used by the canonical canvas implementation
// rather than an Authorization header.
package identity

import (
	"errors"
	"net/http"

	"canvashub/internal/auth"
	"canvashub/internal/models"
)

// ErrUnauthorized is returned when no usable identity can be extracted.
var ErrUnauthorized = errors.New("identity: unauthorized")

const cookieName = "access_token"

// Extractor pulls and verifies the access_token cookie from an inbound
// HTTP request, used before the WebSocket upgrade so an unauthenticated
// caller never reaches a live connection.
type Extractor struct {
	tokens *auth.Service
}

// New builds an Extractor backed by tokens for signature verification.
func New(tokens *auth.Service) *Extractor {
	return &Extractor{tokens: tokens}
}

// FromRequest extracts and verifies the caller's identity from r's cookies.
func (e *Extractor) FromRequest(r *http.Request) (models.Claims, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return models.Claims{}, ErrUnauthorized
	}
	claims, err := e.tokens.Parse(cookie.Value)
	if err != nil {
		return models.Claims{}, ErrUnauthorized
	}
	return claims, nil
}
