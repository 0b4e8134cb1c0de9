package api

import (
	"log/slog"
	"net/http"

	"github.com/gatepass/backend/internal/auth"
)

// handleLogin exchanges a form-encoded email/password pair for a bearer
// session. The form field is named username for OAuth2 client
// compatibility but carries the email.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	email := r.PostFormValue("username")
	if email == "" {
		email = r.PostFormValue("email")
	}
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	u, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil || !u.Active || !auth.CheckPassword(u.PasswordHash, password) {
		writeError(w, http.StatusUnauthorized, "incorrect email or password")
		return
	}

	session, err := s.sessions.Mint(u)
	if err != nil {
		slog.Error("api: session mint failed", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": session,
		"token_type":   "bearer",
		"role":         u.Role,
		"user_id":      u.ID,
	})
}

// handleMe returns the authenticated principal.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, principal(r))
}
