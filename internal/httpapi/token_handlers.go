package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// handleAuthToken issues application-user access tokens when the local
// identity provider is enabled.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if a.tokens == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}
	subject, err := a.tokens.SignInWithPassword(r.Context(), email, req.Password)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	token, expiresAt, err := a.tokens.IssueToken(subject)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	})
}
