// Package notify turns committed mutations into room broadcasts.
//
// Notify is the only coupling point between the mutation path and the
// realtime layer. It never blocks on delivery: changes are queued and a
// single dispatcher goroutine encodes and publishes them, which keeps each
// room's broadcasts in commit order.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/gatherhub/internal/fabric"
)

// Options tunes the dispatcher.
type Options struct {
	QueueSize      int
	PublishTimeout time.Duration
	Now            func() time.Time
}

// Notifier queues changes and publishes their envelopes to the fabric.
type Notifier struct {
	fabric  fabric.Fabric
	queue   chan Change
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger

	published atomic.Int64
	missed    atomic.Int64
}

func New(f fabric.Fabric, log zerolog.Logger, opts Options) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Notifier{
		fabric:  f,
		queue:   make(chan Change, opts.QueueSize),
		timeout: opts.PublishTimeout,
		now:     opts.Now,
		log:     log,
	}
}

// Notify records a committed mutation. It returns immediately; a full queue
// drops the change and counts it as missed.
func (n *Notifier) Notify(kind Kind, slug string, action Action, snapshot Payload, changes Changes) {
	if len(changes) > 0 {
		snapshot.Changes = changes
	}
	c := Change{Kind: kind, Slug: slug, Action: action, Payload: snapshot, At: n.now()}
	select {
	case n.queue <- c:
	default:
		n.missed.Add(1)
		n.log.Warn().
			Str("kind", string(kind)).
			Str("event", slug).
			Str("action", string(action)).
			Msg("notify queue full, broadcast dropped")
	}
}

// Run dispatches queued changes until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-n.queue:
			n.dispatch(ctx, c)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, c Change) {
	for _, b := range Route(c) {
		frame, err := b.Envelope.Encode()
		if err != nil {
			n.missed.Add(1)
			n.log.Error().Err(err).Str("room", b.Room).Msg("encode broadcast")
			continue
		}
		pubCtx, cancel := context.WithTimeout(ctx, n.timeout)
		err = n.fabric.Publish(pubCtx, b.Room, frame)
		cancel()
		if err != nil {
			n.missed.Add(1)
			n.log.Error().Err(err).
				Str("room", b.Room).
				Str("type", b.Envelope.Type).
				Msg("broadcast not published")
			continue
		}
		n.published.Add(1)
		n.log.Debug().Str("room", b.Room).Str("type", b.Envelope.Type).Str("action", b.Envelope.Action).Msg("broadcast sent")
	}
}

// Published counts envelopes handed to the fabric.
func (n *Notifier) Published() int64 { return n.published.Load() }

// Missed counts broadcasts dropped by a full queue or a fabric failure.
func (n *Notifier) Missed() int64 { return n.missed.Load() }
