package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"canvashub/internal/auth"
	"canvashub/internal/models"
	"canvashub/internal/store"
)

// AuthHandlers exposes registration, login, refresh and the "me" endpoint.
// Grounded on the teacher's handlers.AuthHandler, trimmed of the Google
// OAuth path: no component in this spec consumes a federated identity, the
// streaming handshake and the control plane both authenticate purely off a
// cookie-carried JWT minted by this service.
type AuthHandlers struct {
	store  *store.Store
	tokens *auth.Service
	log    *zap.SugaredLogger
}

// NewAuthHandlers builds an AuthHandlers.
func NewAuthHandlers(s *store.Store, tokens *auth.Service, log *zap.SugaredLogger) *AuthHandlers {
	return &AuthHandlers{store: s, tokens: tokens, log: log}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Register creates a new account.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.log, http.StatusBadRequest, "invalid request format")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, h.log, http.StatusBadRequest, "email and password are required")
		return
	}

	if _, err := h.store.GetUserByEmail(r.Context(), req.Email); err == nil {
		respondError(w, h.log, http.StatusConflict, "a user with this email already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		respondError(w, h.log, http.StatusInternalServerError, "failed to check for existing user")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user := models.User{
		ID:             uuid.NewString(),
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		HashedPassword: hashed,
		CreatedAt:      time.Now(),
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to create user")
		return
	}

	respondJSON(w, h.log, http.StatusCreated, map[string]string{
		"id": user.ID, "email": user.Email, "display_name": user.DisplayName,
	})
}

// Login verifies credentials and sets the access_token cookie the
// streaming handshake authenticates with.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.log, http.StatusBadRequest, "invalid request format")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		respondError(w, h.log, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err := auth.CheckPassword(user.HashedPassword, req.Password); err != nil {
		respondError(w, h.log, http.StatusUnauthorized, "invalid email or password")
		return
	}

	h.issueTokens(w, user)
}

// Refresh exchanges a refresh token for a fresh access token.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.log, http.StatusBadRequest, "invalid request format")
		return
	}

	claims, err := h.tokens.Parse(req.RefreshToken)
	if err != nil {
		respondError(w, h.log, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	user, err := h.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		respondError(w, h.log, http.StatusUnauthorized, "user no longer exists")
		return
	}

	h.issueTokens(w, user)
}

// Me returns the authenticated caller's profile.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, h.log, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, h.log, http.StatusOK, map[string]string{
		"id": claims.UserID, "email": claims.Email, "display_name": claims.DisplayName,
	})
}

// issueTokens sets the HttpOnly access_token cookie the streaming
// handshake reads, and returns both tokens in the JSON body for callers
// that want to store the refresh token themselves.
func (h *AuthHandlers) issueTokens(w http.ResponseWriter, user models.User) {
	accessToken, expiresAt, err := h.tokens.IssueAccessToken(user)
	if err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to issue access token")
		return
	}
	refreshToken, _, err := h.tokens.IssueRefreshToken(user)
	if err != nil {
		respondError(w, h.log, http.StatusInternalServerError, "failed to issue refresh token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    accessToken,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	respondJSON(w, h.log, http.StatusOK, map[string]string{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}
