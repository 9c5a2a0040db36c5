package ws

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/gatherhub/internal/policy"
)

func newTestHub() *Hub {
	return NewHub(zerolog.New(io.Discard), 64)
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case frame := <-c.Send():
		return frame
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

func requireSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.Send():
		t.Fatalf("client %s unexpectedly received %s", c.ID, frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PublishReachesMembersOnly(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	room := RoomName("retro-2024", policy.ChannelVoting)

	alice := NewClient("alice", 1, 8)
	bob := NewClient("bob", 2, 8)
	carol := NewClient("carol", 3, 8)
	hub.Join(room, alice)
	hub.Join(room, bob)
	hub.Join(RoomName("retro-2024", policy.ChannelGeneral), carol)

	hub.Deliver(room, []byte("hello"))

	req.Equal("hello", string(receive(t, alice)))
	req.Equal("hello", string(receive(t, bob)))
	requireSilent(t, alice)
	requireSilent(t, carol)
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	client := NewClient("alice", 1, 8)

	hub.Join("event:a", client)
	hub.Join("event:a", client)
	req.Equal(1, hub.Members("event:a"))

	hub.Deliver("event:a", []byte("once"))
	req.Equal("once", string(receive(t, client)))
	requireSilent(t, client)
}

func TestHub_LeaveReleasesEmptyRooms(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	client := NewClient("alice", 1, 8)

	hub.Join("event:a", client)
	hub.Join("event:a:tasks", client)
	req.ElementsMatch([]string{"event:a", "event:a:tasks"}, hub.RoomsOf("alice"))

	hub.Leave("event:a", "alice")
	hub.Leave("event:a", "alice")
	req.Equal(0, hub.Members("event:a"))
	req.ElementsMatch([]string{"event:a:tasks"}, hub.Rooms())

	hub.LeaveAll("alice")
	hub.LeaveAll("alice")
	req.Empty(hub.Rooms())
	req.Equal(0, hub.Sessions())

	hub.Deliver("event:a:tasks", []byte("late"))
	requireSilent(t, client)
}

func TestHub_PreservesPublishOrderWithinRoom(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	client := NewClient("alice", 1, 64)
	hub.Join("event:a", client)

	for i := 0; i < 50; i++ {
		hub.Deliver("event:a", []byte(fmt.Sprintf("%d", i)))
	}
	for i := 0; i < 50; i++ {
		req.Equal(fmt.Sprintf("%d", i), string(receive(t, client)))
	}
}

func TestHub_FullBufferKicksClient(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	slow := NewClient("slow", 1, 1)
	fast := NewClient("fast", 2, 8)
	hub.Join("event:a", slow)
	hub.Join("event:a", fast)

	hub.Deliver("event:a", []byte("1"))
	hub.Deliver("event:a", []byte("2"))

	req.Equal("1", string(receive(t, fast)))
	req.Equal("2", string(receive(t, fast)))
	req.Eventually(slow.Closed, time.Second, 5*time.Millisecond)
	req.False(fast.Closed())
}

func TestHub_NoDeliveryAfterLeaveUnderConcurrency(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.New(io.Discard), 1024)
	const n = 20

	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = NewClient(fmt.Sprintf("c%d", i), int64(i), 1024)
		hub.Join("event:busy", clients[i])
	}
	keeper := NewClient("keeper", 99, 4096)
	hub.Join("event:busy", keeper)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			hub.Deliver("event:busy", []byte("tick"))
		}
	}()
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			hub.LeaveAll(c.ID)
			c.Close()
			// Drain what was delivered before leaving; nothing may arrive after.
			for len(c.send) > 0 {
				<-c.send
			}
		}(c)
	}
	wg.Wait()

	hub.Deliver("event:busy", []byte("after"))
	req.Eventually(func() bool {
		for len(keeper.send) > 0 {
			if string(<-keeper.send) == "after" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	for _, c := range clients {
		requireSilent(t, c)
	}
	req.Equal(1, hub.Members("event:busy"))
}

func TestHub_Publish(t *testing.T) {
	req := require.New(t)
	hub := newTestHub()
	client := NewClient("alice", 1, 8)
	hub.Join("event:a", client)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req.NoError(hub.Publish("event:a", NewEnvelope(TypePong, "", map[string]string{"k": "v"}, at)))
	req.JSONEq(`{"type":"pong","data":{"k":"v"},"timestamp":"2026-01-02T03:04:05Z"}`, string(receive(t, client)))
}

func TestRoomName(t *testing.T) {
	req := require.New(t)
	req.Equal("event:retro-2024", RoomName("retro-2024", policy.ChannelGeneral))
	req.Equal("event:retro-2024:voting", RoomName("retro-2024", policy.ChannelVoting))
	req.Equal("event:retro-2024:tasks", RoomName("retro-2024", policy.ChannelTasks))

	slug, ch, ok := ParseRoom("event:retro-2024:tasks")
	req.True(ok)
	req.Equal("retro-2024", slug)
	req.Equal(policy.ChannelTasks, ch)

	slug, ch, ok = ParseRoom("event:retro-2024")
	req.True(ok)
	req.Equal("retro-2024", slug)
	req.Equal(policy.ChannelGeneral, ch)

	for _, bad := range []string{"", "event:", "room:x", "event:x:chat", "event::voting"} {
		_, _, ok := ParseRoom(bad)
		req.False(ok, bad)
	}
}

func TestHub_CountsDroppedBroadcasts(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.New(io.Discard), 1)
	client := NewClient("alice", 1, 8)
	hub.Join("event:a", client)

	hub.Deliver("room:a", []byte("malformed"))
	hub.Deliver("event:a:chat", []byte("malformed"))
	req.EqualValues(2, hub.Dropped())

	// Stall the room's fan-out so its queue fills up.
	r := hub.rooms["event:a"]
	r.mu.Lock()
	for i := 0; i < 5; i++ {
		hub.Deliver("event:a", []byte(fmt.Sprintf("%d", i)))
	}
	dropped := hub.Dropped() - 2
	r.mu.Unlock()

	req.GreaterOrEqual(dropped, int64(3))
	req.Equal("0", string(receive(t, client)))
}
