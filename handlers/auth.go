package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/CrowderSoup/email-collector/services"
)

// AuthHandler handles the PIN gate
type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Login exchanges the operator PIN for a session token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.PIN == "" {
		writeError(w, http.StatusBadRequest, "PIN is required")
		return
	}

	token, err := h.authService.Login(req.PIN)
	if errors.Is(err, services.ErrInvalidPIN) {
		log.Printf("Rejected PIN login from %s", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "Incorrect PIN")
		return
	}
	if err != nil {
		log.Printf("Error creating session token: %v", err)
		writeError(w, http.StatusInternalServerError, "Authentication error")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"token": token})
}

// VerifyToken reports whether the session token is still valid. It runs
// behind AuthMiddleware, so reaching it means the token checked out.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	expiry, _ := tokenExpiry(r.Context())

	writeSuccess(w, http.StatusOK, map[string]string{
		"status":    "valid",
		"expiresAt": expiry.UTC().Format(time.RFC3339),
	})
}
