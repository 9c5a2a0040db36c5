package fabric

import (
	"context"
	"sync"
)

// Local is the single-process fabric: Publish hands the frame straight to the
// attached sink.
type Local struct {
	mu   sync.RWMutex
	sink Sink
}

func NewLocal() *Local {
	return &Local{}
}

// Attach sets the sink without blocking. Run does the same and then waits.
func (l *Local) Attach(sink Sink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

func (l *Local) Publish(ctx context.Context, room string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	sink := l.sink
	l.mu.RUnlock()
	if sink == nil {
		return ErrNoSubscriber
	}
	sink.Deliver(room, frame)
	return nil
}

func (l *Local) Run(ctx context.Context, sink Sink) error {
	l.Attach(sink)
	<-ctx.Done()
	l.Attach(nil)
	return nil
}

// Disconnects is always zero: there is no connection to lose.
func (l *Local) Disconnects() int64 { return 0 }

func (l *Local) Close() {
	l.Attach(nil)
}
