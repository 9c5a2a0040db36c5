// Package fabric carries room publishes between server processes.
//
// Publishers call Publish; every process runs Run with its room registry as
// the sink, and receives every publish for every room, including its own.
package fabric

import (
	"context"
	"errors"
)

// ErrNoSubscriber is returned by Local when Run has not attached a sink yet.
var ErrNoSubscriber = errors.New("fabric: no subscriber attached")

// Sink receives frames published to a room.
type Sink interface {
	Deliver(room string, frame []byte)
}

// Fabric is the pub/sub transport shared by all server processes.
type Fabric interface {
	Publish(ctx context.Context, room string, frame []byte) error
	// Run delivers incoming publishes to sink until ctx is done. Transport
	// failures are retried inside Run, not returned.
	Run(ctx context.Context, sink Sink) error
	// Disconnects counts subscription losses since start.
	Disconnects() int64
	Close()
}
