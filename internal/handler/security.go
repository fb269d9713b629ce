package handler

import (
	"net/http"
)

// apiKeyHeader is the header checkout and admin clients present their key in.
const apiKeyHeader = "api_key"

// RequireAPIKey authenticates the request's api_key header against the stored
// HMAC-SHA256 hashes. Missing, unknown, and revoked keys all produce the same
// 401 so a probing client learns nothing about which keys exist.
func (h *Handler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := h.verifier.Verify(r.Context(), key); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
