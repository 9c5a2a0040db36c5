package fabric

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

type recordingSink struct {
	mu     sync.Mutex
	frames map[string][]string
}

func (s *recordingSink) Deliver(room string, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		s.frames = make(map[string][]string)
	}
	s.frames[room] = append(s.frames[room], string(frame))
}

func (s *recordingSink) get(room string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames[room]...)
}

func TestLocal_PublishWithoutSubscriber(t *testing.T) {
	err := NewLocal().Publish(context.Background(), "event:a", []byte("x"))
	require.ErrorIs(t, err, ErrNoSubscriber)
}

func TestLocal_RunDeliversUntilCancelled(t *testing.T) {
	req := require.New(t)
	local := NewLocal()
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		req.NoError(local.Run(ctx, sink))
	}()

	req.Eventually(func() bool {
		return local.Publish(context.Background(), "event:a", []byte("one")) == nil
	}, time.Second, 5*time.Millisecond)
	req.NoError(local.Publish(context.Background(), "event:a:voting", []byte("two")))
	req.Equal([]string{"two"}, sink.get("event:a:voting"))

	cancel()
	<-done
	req.ErrorIs(local.Publish(context.Background(), "event:a", []byte("late")), ErrNoSubscriber)
}

func TestLocal_PublishHonoursContext(t *testing.T) {
	local := NewLocal()
	local.Attach(&recordingSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, local.Publish(ctx, "event:a", nil), context.Canceled)
}

func TestValkey_ChannelMapping(t *testing.T) {
	req := require.New(t)
	v := NewValkey(nil, "", zerolog.New(io.Discard))

	req.Equal("gatherhub:room:event:retro-2024:voting", v.channel("event:retro-2024:voting"))

	room, ok := v.room("gatherhub:room:event:retro-2024")
	req.True(ok)
	req.Equal("event:retro-2024", room)

	_, ok = v.room("other:event:retro-2024")
	req.False(ok)
	_, ok = v.room("gatherhub:room:")
	req.False(ok)
}

func newMockValkey(t *testing.T) (*Valkey, *mock.Client) {
	t.Helper()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	v := NewValkey(client, "", zerolog.Nop())
	v.retryMin = time.Millisecond
	v.retryMax = 4 * time.Millisecond
	return v, client
}

func TestValkey_PublishUsesRoomChannel(t *testing.T) {
	req := require.New(t)
	v, client := newMockValkey(t)
	ctx := context.Background()

	client.EXPECT().
		Do(gomock.Any(), mock.Match("PUBLISH", "gatherhub:room:event:retro-2024:voting", `{"type":"vote_update"}`)).
		Return(mock.Result(mock.ValkeyInt64(2)))
	req.NoError(v.Publish(ctx, "event:retro-2024:voting", []byte(`{"type":"vote_update"}`)))

	client.EXPECT().
		Do(gomock.Any(), mock.Match("PUBLISH", "gatherhub:room:event:retro-2024", "x")).
		Return(mock.ErrorResult(errors.New("connection refused")))
	err := v.Publish(ctx, "event:retro-2024", []byte("x"))
	req.ErrorContains(err, "valkey publish event:retro-2024")
}

func TestValkey_RunDeliversAndResubscribes(t *testing.T) {
	req := require.New(t)
	v, client := newMockValkey(t)
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscribe := mock.Match("PSUBSCRIBE", "gatherhub:room:*")
	gomock.InOrder(
		client.EXPECT().Receive(gomock.Any(), subscribe, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ valkey.Completed, fn func(valkey.PubSubMessage)) error {
				fn(valkey.PubSubMessage{Pattern: "gatherhub:room:*", Channel: "gatherhub:room:event:a", Message: "one"})
				fn(valkey.PubSubMessage{Pattern: "gatherhub:room:*", Channel: "other:event:a", Message: "foreign"})
				return io.EOF
			}),
		client.EXPECT().Receive(gomock.Any(), subscribe, gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ valkey.Completed, fn func(valkey.PubSubMessage)) error {
				fn(valkey.PubSubMessage{Pattern: "gatherhub:room:*", Channel: "gatherhub:room:event:a:voting", Message: "two"})
				cancel()
				<-ctx.Done()
				return ctx.Err()
			}),
	)

	req.NoError(v.Run(ctx, sink))
	req.Equal([]string{"one"}, sink.get("event:a"))
	req.Equal([]string{"two"}, sink.get("event:a:voting"))
	req.Empty(sink.get("other:event:a"))
	req.EqualValues(1, v.Disconnects())
}

func TestValkey_RunRetriesUntilCancelled(t *testing.T) {
	req := require.New(t)
	v, client := newMockValkey(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	client.EXPECT().Receive(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, valkey.Completed, func(valkey.PubSubMessage)) error {
			if attempts.Add(1) == 4 {
				cancel()
			}
			return errors.New("dial tcp: connection refused")
		}).
		MinTimes(4)

	done := make(chan error, 1)
	go func() { done <- v.Run(ctx, &recordingSink{}) }()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	req.GreaterOrEqual(v.Disconnects(), int64(3))
}
