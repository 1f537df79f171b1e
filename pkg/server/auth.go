package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/malbeclabs/askdb/pkg/types"
)

// requireAPIKey accepts the key from the X-Api-Key header, or from the
// api_key query parameter since browsers cannot set headers on a WebSocket
// handshake. An empty key disables the check.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	if h.cfg.APIKey == "" {
		return next
	}
	want := []byte(h.cfg.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(types.APIKeyHeader)
		if got == "" {
			got = r.URL.Query().Get(types.APIKeyQueryParam)
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			AuthFailuresTotal.Inc()
			h.writeJSON(w, http.StatusUnauthorized, types.ErrorResponse{
				Error:   "Unauthorized",
				Message: "Valid API key required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
