package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Vasu1712/gatherhub/internal/api/web"
	"github.com/Vasu1712/gatherhub/internal/auth"
)

// BodyLimit caps request bodies at n bytes. Reads past the cap fail and
// web.Decode reports them as web.ErrBodyTooLarge.
func BodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateClass groups endpoints that share a request budget.
type RateClass string

const (
	RateGeneral RateClass = "general"
	RateVoting  RateClass = "voting"
	RateTasks   RateClass = "tasks"
)

// ClassOf picks the budget a request path draws from.
func ClassOf(path string) RateClass {
	switch {
	case strings.Contains(path, "/vote"), strings.Contains(path, "/voting"), strings.Contains(path, "/bulk-vote"):
		return RateVoting
	case strings.Contains(path, "/tasks"):
		return RateTasks
	}
	return RateGeneral
}

// RateLimits is the number of requests each class allows per Window.
type RateLimits struct {
	Window  time.Duration
	General int
	Voting  int
	Tasks   int
}

func (l RateLimits) of(class RateClass) int {
	switch class {
	case RateVoting:
		return l.Voting
	case RateTasks:
		return l.Tasks
	}
	return l.General
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

type rateLimiter struct {
	limits RateLimits
	now    func() time.Time
	log    zerolog.Logger

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

func newRateLimiter(limits RateLimits, now func() time.Time, log zerolog.Logger) *rateLimiter {
	return &rateLimiter{
		limits:    limits,
		now:       now,
		log:       log,
		visitors:  make(map[string]*visitor),
		lastSweep: now(),
	}
}

// take spends one token from the client's bucket for class. It returns the
// tokens left and, when denied, how long until one is available.
func (l *rateLimiter) take(class RateClass, client string) (remaining int, wait time.Duration, ok bool) {
	now := l.now()
	limit := l.limits.of(class)
	key := string(class) + ":" + client

	l.mu.Lock()
	defer l.mu.Unlock()

	// A bucket idle for a whole window is full again, so it can be rebuilt.
	if now.Sub(l.lastSweep) >= l.limits.Window {
		for k, v := range l.visitors {
			if now.Sub(v.seen) >= l.limits.Window {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, found := l.visitors[key]
	if !found {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(l.limits.Window/time.Duration(limit)), limit)}
		l.visitors[key] = v
	}
	v.seen = now

	res := v.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return 0, delay, false
	}
	return int(math.Max(0, math.Floor(v.limiter.TokensAt(now)))), 0, true
}

// ClientKey identifies the caller: the authenticated user when there is
// one, otherwise the first X-Forwarded-For hop or the peer address.
func ClientKey(r *http.Request) string {
	if user, ok := auth.UserFrom(r.Context()); ok {
		return "user:" + strconv.FormatInt(user.ID, 10)
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return "ip:" + ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

type rateLimitBody struct {
	Error  string    `json:"error"`
	Detail string    `json:"detail"`
	Type   RateClass `json:"type"`
}

// RateLimit enforces per-client request budgets by endpoint class. Every
// response carries the X-RateLimit-* headers; a spent budget gets a 429.
// Mount it after RequireAuth so authenticated callers are keyed by user.
func RateLimit(limits RateLimits, log zerolog.Logger) func(http.Handler) http.Handler {
	return rateLimit(newRateLimiter(limits, time.Now, log))
}

func rateLimit(l *rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := ClassOf(r.URL.Path)
			client := ClientKey(r)
			remaining, wait, ok := l.take(class, client)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.limits.of(class)))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(l.now().Add(l.limits.Window).Unix(), 10))
			h.Set("X-RateLimit-Type", string(class))

			if !ok {
				l.log.Warn().Str("client", client).Str("class", string(class)).Str("path", r.URL.Path).Msg("rate limit exceeded")
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				web.JSON(w, http.StatusTooManyRequests, rateLimitBody{
					Error:  "Rate limit exceeded",
					Detail: "Too many requests. Please try again later.",
					Type:   class,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
