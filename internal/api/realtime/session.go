package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/policy"
	"github.com/Vasu1712/gatherhub/internal/ws"
)

// State is the lifecycle of a session. States only move forward and Closed
// is reachable from all of them.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type session struct {
	id        string
	channel   policy.Channel
	slug      string
	room      string
	principal *models.User

	conn   *websocket.Conn
	client *ws.Client
	h      *Handler
	log    zerolog.Logger

	state atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// advance moves the session forward; it refuses to go back or leave Closed.
func (s *session) advance(to State) bool {
	for {
		from := State(s.state.Load())
		if from == StateClosed || to <= from {
			return false
		}
		if s.state.CompareAndSwap(int32(from), int32(to)) {
			s.log.Debug().Stringer("from", from).Stringer("to", to).Msg("session state")
			return true
		}
	}
}

func (s *session) State() State { return State(s.state.Load()) }

// reply queues an envelope for this session only.
func (s *session) reply(typ string, data any) {
	if s.client.Closed() {
		return
	}
	frame, err := ws.NewEnvelope(typ, "", data, s.h.now()).Encode()
	if err != nil {
		s.log.Error().Err(err).Str("type", typ).Msg("encode reply")
		return
	}
	if !s.client.Enqueue(frame) {
		s.log.Debug().Msg("reply dropped, closing session")
		s.client.Close()
	}
}

func (s *session) replyError(message, details string) {
	s.reply(ws.TypeError, ws.ErrorData{Message: message, Details: details, Timestamp: s.h.now().UTC()})
}

// disconnect leaves every room and stops both pumps. Safe to call from any
// goroutine, any number of times.
func (s *session) disconnect() {
	s.closeOnce.Do(func() {
		s.cancel()
		rooms := s.h.hub.RoomsOf(s.id)
		s.h.hub.LeaveAll(s.id)
		s.client.Close()
		_ = s.conn.Close()
		s.state.Store(int32(StateClosed))
		s.h.sessions.Add(-1)
		s.log.Info().Strs("rooms", rooms).Msg("websocket disconnected")
	})
}

func (s *session) readPump() {
	defer s.disconnect()

	opts := s.h.opts
	s.conn.SetReadLimit(opts.MaxMessageSize)
	_ = s.conn.SetReadDeadline(s.h.now().Add(opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(s.h.now().Add(opts.PongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		_ = s.conn.SetReadDeadline(s.h.now().Add(opts.PongWait))
		s.dispatch(msg)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.h.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		s.disconnect()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.client.Done():
			// Kicked by the registry or a failed reply: flush nothing more.
			return
		case frame := <-s.client.Send():
			_ = s.conn.SetWriteDeadline(s.h.now().Add(s.h.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug().Err(err).Msg("websocket write")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(s.h.now().Add(s.h.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
