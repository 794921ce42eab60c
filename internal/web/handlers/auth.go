package handlers

import (
	"log"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/rollcall/rollcall/internal/database"
	"github.com/rollcall/rollcall/internal/web/middleware"
)

// AuthHandler issues API tokens against the operator accounts table.
type AuthHandler struct {
	users  database.UserStore
	tokens *middleware.TokenManager
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(users database.UserStore, tokens *middleware.TokenManager) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens}
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// Token handles POST /auth/token. Unknown usernames and wrong passwords get
// the same response so the endpoint leaks nothing about which accounts exist.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		log.Printf("Failed to look up user %s: %v", sanitizeForLog(req.Username), err)
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if user == nil || !user.Active {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user.Username)
	if err != nil {
		log.Printf("Failed to issue token for %s: %v", sanitizeForLog(user.Username), err)
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int(h.tokens.TTL().Seconds()),
	})
}
