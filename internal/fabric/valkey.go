package fabric

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/valkey-io/valkey-go"
)

// DefaultPrefix namespaces room channels on a shared Valkey server.
const DefaultPrefix = "gatherhub:room:"

// Resubscribe backoff bounds.
const (
	DefaultRetryMin = 250 * time.Millisecond
	DefaultRetryMax = 10 * time.Second
)

// Valkey fans room publishes out through Valkey pub/sub. Each room maps to
// the channel prefix+room; Run pattern-subscribes to prefix*.
type Valkey struct {
	client valkey.Client
	prefix string
	log    zerolog.Logger

	retryMin    time.Duration
	retryMax    time.Duration
	disconnects atomic.Int64
}

// DialValkey connects to the Valkey server at addr.
func DialValkey(addr, prefix string, log zerolog.Logger) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey at %s: %w", addr, err)
	}
	return NewValkey(client, prefix, log), nil
}

// NewValkey wraps an existing client.
func NewValkey(client valkey.Client, prefix string, log zerolog.Logger) *Valkey {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Valkey{client: client, prefix: prefix, log: log, retryMin: DefaultRetryMin, retryMax: DefaultRetryMax}
}

func (v *Valkey) channel(room string) string {
	return v.prefix + room
}

func (v *Valkey) room(channel string) (string, bool) {
	room, ok := strings.CutPrefix(channel, v.prefix)
	return room, ok && room != ""
}

func (v *Valkey) Publish(ctx context.Context, room string, frame []byte) error {
	cmd := v.client.B().Publish().Channel(v.channel(room)).Message(valkey.BinaryString(frame)).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey publish %s: %w", room, err)
	}
	return nil
}

// Run delivers room publishes to sink until ctx is done. A lost
// subscription is retried with exponential backoff; it never ends Run.
func (v *Valkey) Run(ctx context.Context, sink Sink) error {
	pattern := v.prefix + "*"
	wait := v.retryMin
	for {
		v.log.Info().Str("pattern", pattern).Msg("subscribing to room channels")
		started := time.Now()
		err := v.client.Receive(ctx, v.client.B().Psubscribe().Pattern(pattern).Build(), func(msg valkey.PubSubMessage) {
			room, ok := v.room(msg.Channel)
			if !ok {
				v.log.Warn().Str("channel", msg.Channel).Msg("ignoring message on foreign channel")
				return
			}
			sink.Deliver(room, []byte(msg.Message))
		})
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > v.retryMax {
			wait = v.retryMin
		}
		v.disconnects.Add(1)
		v.log.Warn().Err(err).Dur("retry_in", wait).Msg("valkey subscription lost")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		wait = min(wait*2, v.retryMax)
	}
}

// Disconnects counts subscriptions lost since start.
func (v *Valkey) Disconnects() int64 { return v.disconnects.Load() }

func (v *Valkey) Close() {
	v.client.Close()
}
