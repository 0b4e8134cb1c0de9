package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gatepass/backend/internal/store"
)

type contextKey string

const principalKey contextKey = "principal"

// principal returns the authenticated user attached by requireAuth.
func principal(r *http.Request) *store.User {
	u, _ := r.Context().Value(principalKey).(*store.User)
	return u
}

// requireAuth resolves the bearer credential to an active principal and
// attaches it to the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		id, _, err := s.sessions.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		u, err := s.store.GetUser(r.Context(), id)
		if err != nil || !u.Active {
			writeError(w, http.StatusUnauthorized, "unknown or inactive principal")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey, u)))
	}
}

// requireRole wraps requireAuth and additionally asserts the principal
// holds one of the given roles.
func (s *Server) requireRole(next http.HandlerFunc, roles ...store.Role) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		u := principal(r)
		for _, role := range roles {
			if u.Role == role {
				next(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, "insufficient role")
	})
}

// cors applies the allowed-origins policy and answers preflights.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
