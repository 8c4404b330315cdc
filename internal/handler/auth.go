package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"martstock-api/internal/config"
	"martstock-api/internal/service"
	"martstock-api/pkg/apierror"
	"martstock-api/pkg/response"
)

// AuthHandler handles session-related HTTP requests.
type AuthHandler struct {
	sessions   *service.SessionService
	sessionTTL int
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(sessions *service.SessionService, cfg config.SessionConfig) *AuthHandler {
	return &AuthHandler{
		sessions:   sessions,
		sessionTTL: int(cfg.TTL.Seconds()),
	}
}

// LoginRequest represents the request body for session creation.
type LoginRequest struct {
	Email string `json:"email"`
}

// LoginResponse represents the response for session creation.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		response.Error(w, apierror.BadRequest("email is required"))
		return
	}
	if !strings.Contains(req.Email, "@") {
		response.Error(w, apierror.BadRequest("email is not valid"))
		return
	}

	token, err := h.sessions.Issue(r.Context(), req.Email)
	if err != nil {
		response.Error(w, apierror.InternalError("failed to create session"))
		return
	}

	response.OK(w, LoginResponse{
		Token:     token,
		ExpiresIn: h.sessionTTL,
	})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		response.Error(w, apierror.BadRequest("X-Session-Token header required"))
		return
	}

	if err := h.sessions.Revoke(r.Context(), token); err != nil {
		response.Error(w, apierror.InternalError("failed to revoke session"))
		return
	}

	response.OK(w, map[string]string{"status": "revoked"})
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		response.Error(w, apierror.BadRequest("X-Session-Token header required"))
		return
	}

	if err := h.sessions.Refresh(r.Context(), token); err != nil {
		response.Error(w, apierror.Unauthorized(err.Error()))
		return
	}

	response.OK(w, map[string]interface{}{
		"status":     "refreshed",
		"expires_in": h.sessionTTL,
	})
}
