package approvalapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mesmerverse/maci-keyvault/internal/protocol"
)

// requireToken rejects requests without "Authorization: Bearer <token>".
// An empty token rejects everything.
func requireToken(token string) func(http.Handler) http.Handler {
	want := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(auth, "Bearer ")

			if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				log.Warn().
					Str("remote_addr", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("Rejected unauthenticated approval API request")
				w.Header().Set("WWW-Authenticate", `Bearer realm="keyvault"`)
				writeJSON(w, http.StatusUnauthorized, protocol.Fail("Unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
