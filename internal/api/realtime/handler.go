// Package realtime serves the event websockets: one session per connection,
// joined to exactly one room of one event.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/gatherhub/internal/auth"
	"github.com/Vasu1712/gatherhub/internal/gathering"
	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/policy"
	"github.com/Vasu1712/gatherhub/internal/storage"
	"github.com/Vasu1712/gatherhub/internal/ws"
)

// Application close codes.
const (
	CloseInternal     = 4000
	CloseUnauthorized = 4001
	CloseBadRequest   = 4002
	CloseForbidden    = 4003
)

// Service is the part of the gathering service sessions use.
type Service interface {
	GetEvent(ctx context.Context, slug string) (*models.Event, error)
	Event(ctx context.Context, principal models.User, slug string) (*gathering.EventDetail, error)
	VotingData(ctx context.Context, principal models.User, slug string) (*gathering.VotingData, error)
	TasksData(ctx context.Context, principal models.User, slug string) (*gathering.TasksData, error)
	AddVote(ctx context.Context, principal models.User, slug string, timeslotID int64) (*gathering.VoteResult, error)
	RemoveVote(ctx context.Context, principal models.User, slug string, timeslotID int64) (*gathering.VoteResult, error)
	CreateTask(ctx context.Context, principal models.User, slug, title string) (*gathering.TaskView, error)
	UpdateTask(ctx context.Context, principal models.User, slug string, id int64, upd gathering.TaskUpdates) (*gathering.TaskView, error)
	DeleteTask(ctx context.Context, principal models.User, slug string, id int64) (*gathering.TaskView, error)
}

type Options struct {
	AuthTimeout    time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	MaxMessageSize int64
	// CheckOrigin decides whether a browser origin may open a socket. Nil
	// accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

func (o *Options) defaults() {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 5 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
}

type Handler struct {
	hub      *ws.Hub
	service  Service
	auth     auth.Authenticator
	opts     Options
	upgrader websocket.Upgrader
	log      zerolog.Logger
	now      func() time.Time

	base     context.Context
	stop     context.CancelFunc
	sessions atomic.Int64
}

func NewHandler(hub *ws.Hub, service Service, authenticator auth.Authenticator, log zerolog.Logger, opts Options) *Handler {
	opts.defaults()
	base, stop := context.WithCancel(context.Background())
	return &Handler{
		hub:     hub,
		service: service,
		auth:    authenticator,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		log:  log,
		now:  time.Now,
		base: base,
		stop: stop,
	}
}

// Close ends every open session. Hijacked connections are not tracked by
// http.Server.Shutdown, so the server calls this on the way out.
func (h *Handler) Close() {
	h.stop()
}

// Sessions returns the number of open sessions on this instance.
func (h *Handler) Sessions() int64 {
	return h.sessions.Load()
}

type rejection struct {
	code   int
	reason string
}

// handshake authenticates and authorizes before the upgrade. The result is
// applied after the upgrade so the client sees a close code.
func (h *Handler) handshake(r *http.Request, s *session, token string) *rejection {
	if token == "" {
		return &rejection{CloseUnauthorized, "Authentication required"}
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.AuthTimeout)
	defer cancel()

	principal, err := h.auth.Authenticate(ctx, token)
	if errors.Is(err, auth.ErrUnauthorized) {
		s.log.Info().Err(err).Msg("websocket authentication failed")
		return &rejection{CloseUnauthorized, "Authentication failed"}
	}
	if err != nil {
		s.log.Error().Err(err).Msg("websocket authentication errored")
		return &rejection{CloseInternal, "Internal error"}
	}
	s.principal = principal
	s.advance(StateAuthenticated)

	// RegisterRoutes never matches an empty slug; this guards Serve mounted
	// on other routers.
	if s.slug == "" {
		return &rejection{CloseBadRequest, "Missing event slug"}
	}
	event, err := h.service.GetEvent(ctx, s.slug)
	if errors.Is(err, storage.ErrNotFound) {
		return &rejection{CloseForbidden, "Event not found"}
	}
	if err != nil {
		s.log.Error().Err(err).Msg("load event for join")
		return &rejection{CloseInternal, "Internal error"}
	}
	if d := policy.CanJoin(principal, *event, s.channel); !d.Allowed {
		return &rejection{CloseForbidden, d.Reason}
	}
	return nil
}

// Serve returns the websocket endpoint for one channel.
func (h *Handler) Serve(channel policy.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := mux.Vars(r)["slug"]
		id := uuid.NewString()
		s := &session{
			id:      id,
			channel: channel,
			slug:    slug,
			room:    ws.RoomName(slug, channel),
			h:       h,
			log: h.log.With().
				Str("session", id).
				Str("event", slug).
				Str("channel", string(channel)).
				Logger(),
		}
		s.state.Store(int32(StateConnecting))

		token, proto := auth.SocketToken(r)
		rejected := h.handshake(r, s, token)

		upgrader := h.upgrader
		if proto != "" {
			upgrader.Subprotocols = []string{proto}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		if rejected != nil {
			s.log.Info().Int("code", rejected.code).Str("reason", rejected.reason).Msg("websocket rejected")
			h.closeWith(conn, rejected.code, rejected.reason)
			return
		}
		h.run(s, conn)
	}
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, h.now().Add(h.opts.WriteWait))
	_ = conn.Close()
}

func (h *Handler) run(s *session, conn *websocket.Conn) {
	s.conn = conn
	s.client = ws.NewClient(s.id, s.principal.ID, h.opts.SendBuffer)
	s.ctx, s.cancel = context.WithCancel(h.base)
	h.sessions.Add(1)

	s.reply(ws.TypeConnectionEstablished, map[string]any{
		"room":       s.room,
		"user_id":    s.principal.ID,
		"event_slug": s.slug,
	})
	h.hub.Join(s.room, s.client)
	s.advance(StateJoined)
	s.log.Info().Int64("user_id", s.principal.ID).Str("room", s.room).Msg("websocket connected")

	go s.writePump()
	go func() {
		<-s.ctx.Done()
		_ = conn.Close()
	}()

	if err := s.sendSnapshot(); err != nil {
		s.log.Error().Err(err).Msg("initial snapshot")
		h.closeWith(conn, CloseInternal, "Internal error")
		s.disconnect()
		return
	}
	s.readPump()
}

func (s *session) sendSnapshot() error {
	ctx := s.ctx
	switch s.channel {
	case policy.ChannelVoting:
		data, err := s.h.service.VotingData(ctx, *s.principal, s.slug)
		if err != nil {
			return err
		}
		s.reply(ws.TypeVotingData, data)
	case policy.ChannelTasks:
		data, err := s.h.service.TasksData(ctx, *s.principal, s.slug)
		if err != nil {
			return err
		}
		s.reply(ws.TypeTasksData, data)
	default:
		data, err := s.h.service.Event(ctx, *s.principal, s.slug)
		if err != nil {
			return err
		}
		s.reply(ws.TypeEventData, data)
	}
	return nil
}
