package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/gatherhub/internal/auth"
	"github.com/Vasu1712/gatherhub/internal/models"
)

type staticAuth struct{ user *models.User }

func (a staticAuth) Authenticate(_ context.Context, token string) (*models.User, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return a.user, nil
}

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }

func TestCORS(t *testing.T) {
	req := require.New(t)
	h := CORS([]string{"http://localhost:5173"}, zerolog.Nop())(http.HandlerFunc(ok))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/events/x", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	req.Equal(http.StatusTeapot, w.Code)
	req.Equal("http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/api/v1/events/x", nil)
	r.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	req.Empty(w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodOptions, "/api/v1/events", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	req.Equal(http.StatusOK, w.Code)
}

func TestCORS_Wildcard(t *testing.T) {
	req := require.New(t)
	h := CORS([]string{"*"}, zerolog.Nop())(http.HandlerFunc(ok))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "http://anything.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	req.Equal("http://anything.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequireAuth(t *testing.T) {
	req := require.New(t)
	alice := &models.User{ID: 1, Name: "alice"}
	var seen *models.User
	h := RequireAuth(staticAuth{user: alice}, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	req.Equal(http.StatusUnauthorized, w.Code)
	req.JSONEq(`{"error":"Authentication credentials were not provided or are invalid."}`, w.Body.String())
	req.Nil(seen)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer good")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	req.Equal(http.StatusNoContent, w.Code)
	req.Equal(alice, seen)
}

func TestLoggingRecordsStatus(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	h := Logging(log)(SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/events/x/lock", nil))
	req.Equal(http.StatusForbidden, w.Code)
	req.Equal("nosniff", w.Header().Get("X-Content-Type-Options"))
	req.Contains(buf.String(), `"level":"warn"`)
	req.Contains(buf.String(), `"status":403`)
	req.Contains(buf.String(), `"path":"/api/v1/events/x/lock"`)
}

func TestLoggingSlowRequests(t *testing.T) {
	req := require.New(t)
	defer func(d time.Duration) { slowRequest = d }(slowRequest)
	slowRequest = time.Millisecond

	serve := func(status int) string {
		var buf bytes.Buffer
		h := Logging(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(5 * time.Millisecond)
			w.WriteHeader(status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws/events/a", nil))
		return buf.String()
	}

	slow := serve(http.StatusOK)
	req.Contains(slow, `"level":"warn"`)
	req.Contains(slow, `"slow":true`)

	socket := serve(http.StatusSwitchingProtocols)
	req.Contains(socket, `"level":"info"`)
	req.NotContains(socket, `"slow"`)
}
