package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/Vasu1712/gatherhub/internal/models"
)

// SubprotocolPrefix marks a websocket subprotocol that carries the token.
const SubprotocolPrefix = "access_token."

// SocketToken extracts the token of a websocket handshake from the token
// query parameter or an access_token.<jwt> subprotocol. When the subprotocol
// was used it is returned so the server can echo it.
func SocketToken(r *http.Request) (token, subprotocol string) {
	if t := r.URL.Query().Get("token"); t != "" {
		return t, ""
	}
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, proto := range strings.Split(header, ",") {
			proto = strings.TrimSpace(proto)
			if strings.HasPrefix(proto, SubprotocolPrefix) {
				return strings.TrimPrefix(proto, SubprotocolPrefix), proto
			}
		}
	}
	return "", ""
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

type userKey struct{}

// WithUser stores the authenticated principal in ctx.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the principal stored by WithUser.
func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey{}).(*models.User)
	return u, ok && u != nil
}
