// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/subhogram/riskobot/internal/log"
)

// extractToken pulls the bearer token from the Authorization header. Query
// parameter tokens are deliberately not accepted.
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// authorizeToken compares tokens in constant time to prevent timing attacks.
func authorizeToken(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// authMiddleware enforces API token authentication. With no token configured
// the API fails closed unless anonymous access is explicitly enabled.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.APIToken

		if token == "" {
			if s.cfg.AuthAnonymous {
				next.ServeHTTP(w, r)
				return
			}
			log.FromContext(r.Context()).Error().
				Str(log.FieldEvent, "auth.fail_closed").
				Msg("RISKOBOT_API_TOKEN not set and RISKOBOT_AUTH_ANONYMOUS!=true, denying access")
			respondError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		reqToken := extractToken(r)
		if reqToken == "" {
			log.FromContext(r.Context()).Warn().
				Str(log.FieldEvent, "auth.missing_header").
				Msg("authorization header missing")
			respondError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		if !authorizeToken(reqToken, token) {
			log.FromContext(r.Context()).Warn().
				Str(log.FieldEvent, "auth.invalid_token").
				Msg("invalid api token")
			respondError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
