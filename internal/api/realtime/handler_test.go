package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/gatherhub/internal/auth"
	"github.com/Vasu1712/gatherhub/internal/fabric"
	"github.com/Vasu1712/gatherhub/internal/gathering"
	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/notify"
	"github.com/Vasu1712/gatherhub/internal/policy"
	"github.com/Vasu1712/gatherhub/internal/storage/memory"
	"github.com/Vasu1712/gatherhub/internal/ws"
)

const secret = "realtime-test"

var (
	alice = models.User{ID: 1, Name: "Alice", Email: "alice@example.com", IsActive: true}
	bob   = models.User{ID: 2, Name: "Bob", Email: "bob@example.com", IsActive: true}
	carol = models.User{ID: 3, Name: "Carol", Email: "carol@example.com", IsActive: true}
)

type envelope struct {
	Type   string          `json:"type"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type server struct {
	url     string
	hub     *ws.Hub
	service *gathering.Service
	handler *Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	log := zerolog.New(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.NewStore()
	for _, u := range []models.User{alice, bob, carol} {
		require.NoError(t, store.PutUser(ctx, u))
	}
	hub := ws.NewHub(log, 64)
	local := fabric.NewLocal()
	local.Attach(hub)
	notifier := notify.New(local, log, notify.Options{})
	go notifier.Run(ctx)

	service := gathering.New(store, notifier, log)
	authenticator := auth.NewJWT(secret, "", auth.WithUserLookup(store))
	handler := NewHandler(hub, service, authenticator, log, Options{
		AuthTimeout: time.Second,
		PongWait:    5 * time.Second,
		PingPeriod:  time.Second,
		WriteWait:   time.Second,
		SendBuffer:  32,
	})
	t.Cleanup(handler.Close)

	router := mux.NewRouter()
	RegisterRoutes(router, handler)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &server{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		hub:     hub,
		service: service,
		handler: handler,
	}
}

func token(t *testing.T, u models.User) string {
	t.Helper()
	tok, err := auth.IssueToken(secret, "", u, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *server) dial(t *testing.T, path string, u models.User) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url+path+"?token="+token(t, u), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// readType reads until an envelope of the given type arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		if env := read(t, conn); env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %s envelope", typ)
	return envelope{}
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
	return ce.Code
}

func (s *server) event(t *testing.T) (string, int64) {
	t.Helper()
	ctx := context.Background()
	detail, err := s.service.CreateEvent(ctx, alice, "Retro 2024", "")
	require.NoError(t, err)
	slot, err := s.service.AddTimeSlot(ctx, alice, detail.Slug, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	return detail.Slug, slot.ID
}

func TestVoteReachesVotingAndGeneralRooms(t *testing.T) {
	req := require.New(t)
	s := newServer(t)
	slug, slotID := s.event(t)
	req.Equal("retro-2024", slug)

	voter := s.dial(t, "/ws/events/retro-2024/voting/", bob)
	env := read(t, voter)
	req.Equal(ws.TypeConnectionEstablished, env.Type)
	req.JSONEq(`{"room":"event:retro-2024:voting","user_id":2,"event_slug":"retro-2024"}`, string(env.Data))

	env = read(t, voter)
	req.Equal(ws.TypeVotingData, env.Type)
	var voting gathering.VotingData
	req.NoError(json.Unmarshal(env.Data, &voting))
	req.Equal("retro-2024", voting.EventSlug)
	req.Equal(models.EventDraft, voting.EventStatus)
	req.Len(voting.TimeSlots, 1)
	req.Equal(0, voting.TimeSlots[0].VoteCount)
	req.False(voting.TimeSlots[0].UserVoted)

	observer := s.dial(t, "/ws/events/retro-2024", carol)
	req.Equal(ws.TypeConnectionEstablished, read(t, observer).Type)
	req.Equal(ws.TypeEventData, read(t, observer).Type)
	req.Eventually(func() bool { return s.hub.Members("event:retro-2024") == 1 }, time.Second, 5*time.Millisecond)

	req.NoError(voter.WriteJSON(map[string]any{"type": "vote_add", "timeslot_id": slotID}))

	env = readType(t, voter, ws.TypeVoteAdded)
	var added gathering.VoteResult
	req.NoError(json.Unmarshal(env.Data, &added))
	req.Equal(slotID, added.TimeSlotID)
	req.Equal(1, added.NewVoteCount)
	req.Equal(bob.Ref(), added.User)

	env = readType(t, observer, ws.TypeVoteUpdate)
	req.Equal("added", env.Action)
	req.JSONEq(`{"timeslot_id":`+jsonInt(slotID)+`,"user":{"id":2,"name":"Bob"},"new_vote_count":1}`, string(env.Data))

	// Second vote on the same slot is refused and nothing is broadcast.
	req.NoError(voter.WriteJSON(map[string]any{"type": "vote_add", "timeslot_id": slotID}))
	env = readType(t, voter, ws.TypeError)
	req.Contains(string(env.Data), "You have already voted for this timeslot.")
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestVotingJoinOnLockedEvent(t *testing.T) {
	s := newServer(t)
	slug, _ := s.event(t)
	_, err := s.service.LockEvent(context.Background(), alice, slug)
	require.NoError(t, err)

	conn := s.dial(t, "/ws/events/"+slug+"/voting/", bob)
	require.Equal(t, CloseForbidden, closeCode(t, conn))

	general := s.dial(t, "/ws/events/"+slug+"/", bob)
	require.Equal(t, ws.TypeConnectionEstablished, read(t, general).Type)
}

func TestLockBroadcastReachesOpenVotingSession(t *testing.T) {
	req := require.New(t)
	s := newServer(t)
	slug, _ := s.event(t)

	voter := s.dial(t, "/ws/events/"+slug+"/voting", bob)
	readType(t, voter, ws.TypeVotingData)

	_, err := s.service.LockEvent(context.Background(), alice, slug)
	req.NoError(err)

	env := readType(t, voter, ws.TypeEventLocked)
	req.Equal("locked", env.Action)
	req.Contains(string(env.Data), `"status":"locked"`)
}

func TestHandshakeRejections(t *testing.T) {
	s := newServer(t)
	slug, _ := s.event(t)

	t.Run("missing token", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(s.url+"/ws/events/"+slug+"/", nil)
		require.NoError(t, err)
		defer conn.Close()
		require.Equal(t, CloseUnauthorized, closeCode(t, conn))
	})

	t.Run("bad token", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(s.url+"/ws/events/"+slug+"/?token=nope", nil)
		require.NoError(t, err)
		defer conn.Close()
		require.Equal(t, CloseUnauthorized, closeCode(t, conn))
	})

	t.Run("unknown event", func(t *testing.T) {
		conn := s.dial(t, "/ws/events/nope/tasks/", bob)
		require.Equal(t, CloseForbidden, closeCode(t, conn))
	})
	require.Zero(t, s.handler.Sessions())
}

func TestSubprotocolToken(t *testing.T) {
	req := require.New(t)
	s := newServer(t)
	slug, _ := s.event(t)

	proto := auth.SubprotocolPrefix + token(t, bob)
	dialer := websocket.Dialer{Subprotocols: []string{proto}}
	conn, resp, err := dialer.Dial(s.url+"/ws/events/"+slug+"/tasks/", nil)
	req.NoError(err)
	defer conn.Close()
	req.Equal(proto, resp.Header.Get("Sec-WebSocket-Protocol"))
	req.Equal(proto, conn.Subprotocol())

	req.Equal(ws.TypeConnectionEstablished, read(t, conn).Type)
	env := read(t, conn)
	req.Equal(ws.TypeTasksData, env.Type)
	req.JSONEq(`{"event_slug":"retro-2024","event_status":"draft","tasks":[]}`, string(env.Data))
}

func TestProtocolErrorsKeepSessionOpen(t *testing.T) {
	req := require.New(t)
	s := newServer(t)
	slug, _ := s.event(t)

	conn := s.dial(t, "/ws/events/"+slug, bob)
	readType(t, conn, ws.TypeEventData)

	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	env := read(t, conn)
	req.Equal(ws.TypeError, env.Type)
	var e ws.ErrorData
	req.NoError(json.Unmarshal(env.Data, &e))
	req.Equal("Invalid JSON format", e.Message)

	req.NoError(conn.WriteJSON(map[string]any{"type": "vote_add", "timeslot_id": 1}))
	env = read(t, conn)
	req.NoError(json.Unmarshal(env.Data, &e))
	req.Equal("Unknown message type", e.Message)
	req.Equal("vote_add", e.Details)

	req.NoError(conn.WriteJSON(map[string]any{"type": "ping"}))
	req.Equal(ws.TypePong, read(t, conn).Type)
}

func TestValidationErrorOnSocket(t *testing.T) {
	req := require.New(t)
	s := newServer(t)
	slug, _ := s.event(t)

	conn := s.dial(t, "/ws/events/"+slug+"/voting", bob)
	readType(t, conn, ws.TypeVotingData)

	req.NoError(conn.WriteJSON(map[string]any{"type": "vote_add"}))
	env := read(t, conn)
	req.Equal(ws.TypeError, env.Type)
	req.Contains(string(env.Data), "Missing timeslot_id")
}

func TestTasksOverSocket(t *testing.T) {
	req := require.New(t)
	s := newServer(t)
	slug, _ := s.event(t)

	creator := s.dial(t, "/ws/events/"+slug+"/tasks", alice)
	readType(t, creator, ws.TypeTasksData)
	member := s.dial(t, "/ws/events/"+slug+"/tasks", bob)
	readType(t, member, ws.TypeTasksData)
	req.Eventually(func() bool { return s.hub.Members(ws.RoomName(slug, policy.ChannelTasks)) == 2 }, time.Second, 5*time.Millisecond)

	req.NoError(creator.WriteJSON(map[string]any{"type": "task_create", "title": "Book venue"}))
	env := readType(t, creator, ws.TypeTaskCreated)
	var task gathering.TaskView
	req.NoError(json.Unmarshal(env.Data, &task))
	req.Equal("Book venue", task.Title)

	env = readType(t, member, ws.TypeTaskUpdate)
	req.Equal("created", env.Action)

	req.NoError(creator.WriteJSON(map[string]any{
		"type": "task_update", "task_id": task.ID, "updates": map[string]any{"assigned_to_id": 2},
	}))
	readType(t, creator, ws.TypeTaskUpdated)
	env = readType(t, member, ws.TypeTaskUpdate)
	req.Equal("updated", env.Action)
	req.Contains(string(env.Data), `"assigned_to_id":{"from":null,"to":2}`)

	req.NoError(member.WriteJSON(map[string]any{
		"type": "task_update", "task_id": task.ID, "updates": map[string]any{"status": "bogus"},
	}))
	env = readType(t, member, ws.TypeError)
	req.Contains(string(env.Data), "status must be one of")

	req.NoError(member.WriteJSON(map[string]any{"type": "task_delete", "task_id": task.ID}))
	env = readType(t, member, ws.TypeError)
	req.Contains(string(env.Data), "Only the event creator can delete tasks.")
}

func TestDisconnectLeavesRooms(t *testing.T) {
	s := newServer(t)
	slug, _ := s.event(t)
	room := ws.RoomName(slug, policy.ChannelVoting)

	conn := s.dial(t, "/ws/events/"+slug+"/voting", bob)
	readType(t, conn, ws.TypeVotingData)
	require.Equal(t, 1, s.hub.Members(room))
	require.Equal(t, int64(1), s.handler.Sessions())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return s.hub.Members(room) == 0 && s.handler.Sessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionStateOnlyMovesForward(t *testing.T) {
	req := require.New(t)
	s := &session{log: zerolog.New(io.Discard)}
	req.Equal(StateConnecting, s.State())
	req.True(s.advance(StateAuthenticated))
	req.False(s.advance(StateConnecting))
	req.True(s.advance(StateJoined))
	req.True(s.advance(StateClosed))
	req.False(s.advance(StateJoined))
	req.Equal("closed", s.State().String())
}

type brokenAuth struct{ err error }

func (a brokenAuth) Authenticate(context.Context, string) (*models.User, error) {
	return nil, a.err
}

// serveDirect mounts one channel endpoint without the router, so no slug
// variable is ever set.
func serveDirect(t *testing.T, s *server, authenticator auth.Authenticator) string {
	t.Helper()
	h := NewHandler(s.hub, s.service, authenticator, zerolog.Nop(), Options{AuthTimeout: time.Second})
	t.Cleanup(h.Close)
	srv := httptest.NewServer(h.Serve(policy.ChannelGeneral))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHandshakeInternalAndBadRequest(t *testing.T) {
	req := require.New(t)
	s := newServer(t)

	url := serveDirect(t, s, brokenAuth{err: errors.New("lookup user 2: connection refused")})
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token(t, bob), nil)
	req.NoError(err)
	defer conn.Close()
	req.Equal(CloseInternal, closeCode(t, conn))

	url = serveDirect(t, s, brokenAuth{err: context.DeadlineExceeded})
	conn, _, err = websocket.DefaultDialer.Dial(url+"?token="+token(t, bob), nil)
	req.NoError(err)
	defer conn.Close()
	req.Equal(CloseInternal, closeCode(t, conn))

	url = serveDirect(t, s, auth.NewJWT(secret, ""))
	conn, _, err = websocket.DefaultDialer.Dial(url+"?token="+token(t, bob), nil)
	req.NoError(err)
	defer conn.Close()
	req.Equal(CloseBadRequest, closeCode(t, conn))
}

func TestRoutesRequireSlug(t *testing.T) {
	req := require.New(t)
	s := newServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.url+"/ws/events/?token="+token(t, bob), nil)
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusNotFound, resp.StatusCode)
}
