package chatserver

import (
	"net/http"
	"strings"

	"github.com/agentplatform/core/internal/auth"
	"github.com/agentplatform/core/pkg/models"
)

// requireAuth validates the request with the auth service's Bearer-JWT
// then X-API-Key sequence. A nil or disabled service makes every route
// public.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.AuthService == nil || !s.cfg.AuthService.Enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		r = r.WithContext(auth.WithUser(r.Context(), user))
		next(w, r)
	}
}

func (s *Server) authenticate(r *http.Request) (*models.User, bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token := strings.TrimPrefix(h, "Bearer ")
		if user, err := s.cfg.AuthService.ValidateJWT(token); err == nil {
			return user, true
		}
	}
	for _, header := range []string{"X-API-Key", "Api-Key"} {
		if key := r.Header.Get(header); key != "" {
			if user, err := s.cfg.AuthService.ValidateAPIKey(key); err == nil {
				return user, true
			}
		}
	}
	return nil, false
}
