package handlers

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/Ashwin-0055/flowsync/services"
)

// AuthHandler handles authentication-related endpoints
type AuthHandler struct {
	authService *services.AuthService
	// exposeLinks echoes magic links in the login response. Development only.
	exposeLinks bool
}

func NewAuthHandler(authService *services.AuthService, exposeLinks bool) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		exposeLinks: exposeLinks,
	}
}

// Login handles the login request (sending a magic link)
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Email == "" || !strings.Contains(req.Email, "@") {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s", scheme, r.Host)

	magicLink, err := h.authService.GenerateMagicLink(r.Context(), req.Email, baseURL)
	if err != nil {
		log.Printf("Error generating magic link: %v", err)
		http.Error(w, "Failed to generate login link", http.StatusInternalServerError)
		return
	}

	resp := map[string]string{
		"status":  "success",
		"message": "Magic link has been sent",
	}
	if h.exposeLinks {
		resp["magicLink"] = magicLink
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMagicLink consumes a magic link token, signs the user in and
// redirects to the frontend with a session token
func (h *AuthHandler) HandleMagicLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusBadRequest)
		return
	}

	email, err := h.authService.VerifyMagicLinkToken(token)
	if err != nil {
		http.Error(w, "Invalid or expired token", http.StatusBadRequest)
		return
	}

	user, err := h.authService.EnsureUser(r.Context(), email)
	if err != nil {
		log.Printf("Error loading user %s: %v", email, err)
		http.Error(w, "Authentication error", http.StatusInternalServerError)
		return
	}

	jwtToken, err := h.authService.CreateJWT(user)
	if err != nil {
		log.Printf("Error creating JWT: %v", err)
		http.Error(w, "Authentication error", http.StatusInternalServerError)
		return
	}

	q := url.Values{}
	q.Set("token", jwtToken)
	q.Set("email", user.Email)
	http.Redirect(w, r, "/?"+q.Encode(), http.StatusFound)
}

// VerifyToken returns the identity behind a valid session token
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	tokenString, ok := bearerToken(r)
	if !ok {
		http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
		return
	}

	identity, err := h.authService.VerifyJWT(tokenString)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "valid",
		"user":   identity,
	})
}

// UpdateProfile sets the caller's display name and photo and returns a
// fresh session token carrying them
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	var req struct {
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoURL"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.authService.UpdateProfile(r.Context(), identity.ID, req.DisplayName, req.PhotoURL)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := h.authService.CreateJWT(user)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"user": user, "token": token})
}
