// Package adapter implements the protocol-specific inbound/outbound I/O
// layer: MLLP over TCP, a directory watcher for file-based inbound, and
// an HTTP inbound listener. All adapters share a lifecycle and a common
// metrics block.
package adapter

import (
	"context"
	"sync/atomic"
	"time"
)

// State is an adapter's lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Metrics is the common counter block every adapter maintains.
type Metrics struct {
	ConnectionsTotal  atomic.Int64
	ConnectionsActive atomic.Int64
	BytesReceived     atomic.Int64
	BytesSent         atomic.Int64
	ErrorsTotal       atomic.Int64
}

// Snapshot is a point-in-time copy of Metrics, safe to log or export.
type Snapshot struct {
	ConnectionsTotal  int64
	ConnectionsActive int64
	BytesReceived     int64
	BytesSent         int64
	ErrorsTotal       int64
}

// Snapshot takes a consistent-enough point-in-time copy of m.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsTotal:  m.ConnectionsTotal.Load(),
		ConnectionsActive: m.ConnectionsActive.Load(),
		BytesReceived:     m.BytesReceived.Load(),
		BytesSent:         m.BytesSent.Load(),
		ErrorsTotal:       m.ErrorsTotal.Load(),
	}
}

// DataHandler is the callback an inbound adapter invokes with each
// received payload. It returns an ACK payload to write back, or nil if
// no ACK should be sent (e.g. fire-and-forget transports).
type DataHandler func(ctx context.Context, payload []byte) ([]byte, error)

// Inbound is the contract every inbound adapter satisfies.
type Inbound interface {
	Start(ctx context.Context, handler DataHandler) error
	Stop(ctx context.Context) error
	State() State
	Metrics() Snapshot
}

// Outbound is the contract every outbound adapter satisfies.
type Outbound interface {
	Send(ctx context.Context, payload []byte) ([]byte, error)
	SendNoAck(ctx context.Context, payload []byte) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() State
	Metrics() Snapshot
}

// defaultShutdownDrain bounds how long Stop waits for in-flight
// connection loops to exit on their own before the caller should give up
// waiting and move on.
const defaultShutdownDrain = 5 * time.Second
