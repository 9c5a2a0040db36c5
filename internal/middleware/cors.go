package middleware

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// CORS answers preflight requests and sets the allow headers for origins in
// the configured list. "*" allows any origin.
func CORS(origins []string, log zerolog.Logger) func(http.Handler) http.Handler {
	anyOrigin := lo.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (anyOrigin || lo.Contains(origins, origin)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Access-Control-Allow-Headers, Authorization, X-Requested-With")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				log.Debug().Str("path", r.URL.Path).Str("origin", origin).Msg("handled preflight")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
