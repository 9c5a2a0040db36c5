package middleware

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/gatherhub/internal/api/web"
	"github.com/Vasu1712/gatherhub/internal/auth"
)

// RequireAuth resolves the bearer token to a user and stores it on the
// request context. Requests without a valid token get a 401.
func RequireAuth(a auth.Authenticator, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.Authenticate(r.Context(), auth.BearerToken(r))
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected credentials")
				web.Error(w, log, auth.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}
