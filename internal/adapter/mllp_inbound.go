package adapter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"hie/internal/apperror"
	"hie/internal/logging"
	"hie/internal/mllp"
)

// MLLPInboundConfig configures an MLLPInbound adapter.
type MLLPInboundConfig struct {
	Port            int
	Host            string
	MaxConnections  int
	ReadTimeout     time.Duration
	AckTimeout      time.Duration
	MaxMessageSize  int
	ShutdownTimeout time.Duration
}

// DefaultMLLPInboundConfig returns the spec's defaults for unset fields.
func DefaultMLLPInboundConfig() MLLPInboundConfig {
	return MLLPInboundConfig{
		Port:            2575,
		Host:            "0.0.0.0",
		MaxConnections:  100,
		ReadTimeout:     30 * time.Second,
		AckTimeout:      30 * time.Second,
		MaxMessageSize:  mllp.DefaultMaxFrameSize,
		ShutdownTimeout: defaultShutdownDrain,
	}
}

// MLLPInbound is a TCP listener accepting MLLP-framed HL7 connections.
type MLLPInbound struct {
	name string
	cfg  MLLPInboundConfig

	mu       sync.Mutex
	state    State
	listener net.Listener
	shutdown chan struct{}
	wg       sync.WaitGroup

	connMu sync.Mutex
	conns  map[string]net.Conn

	metrics Metrics
}

// NewMLLPInbound creates an inbound MLLP adapter named name (used only
// for logging).
func NewMLLPInbound(name string, cfg MLLPInboundConfig) *MLLPInbound {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = mllp.DefaultMaxFrameSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownDrain
	}
	return &MLLPInbound{
		name:  name,
		cfg:   cfg,
		conns: make(map[string]net.Conn),
	}
}

func (a *MLLPInbound) State() State { return State(atomic.LoadInt32((*int32)(&a.state))) }

// Addr returns the listener's bound address. Only meaningful after Start;
// useful in tests that bind Port: 0 to get an ephemeral port.
func (a *MLLPInbound) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *MLLPInbound) Metrics() Snapshot { return a.metrics.Snapshot() }

// Start binds the listener and begins accepting connections in the
// background, dispatching received frames to handler.
func (a *MLLPInbound) Start(ctx context.Context, handler DataHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeConnection, "failed to bind MLLP listener")
	}

	a.listener = ln
	a.shutdown = make(chan struct{})
	a.state = StateStarted

	a.wg.Add(1)
	go a.acceptLoop(handler)

	logging.Log.Info("mllp inbound adapter started", "adapter", a.name, "addr", addr)
	return nil
}

func (a *MLLPInbound) acceptLoop(handler DataHandler) {
	defer a.wg.Done()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.shutdown:
				return
			default:
				logging.Log.Warn("mllp accept error", "adapter", a.name, "error", err)
				return
			}
		}

		if a.metrics.ConnectionsActive.Load() >= int64(a.cfg.MaxConnections) {
			logging.Log.Warn("mllp connection rejected", "adapter", a.name, "reason", "max_connections")
			_ = conn.Close()
			continue
		}

		connID := conn.RemoteAddr().String()
		a.connMu.Lock()
		a.conns[connID] = conn
		a.connMu.Unlock()

		a.metrics.ConnectionsTotal.Add(1)
		a.metrics.ConnectionsActive.Add(1)

		a.wg.Add(1)
		go a.handleConnection(connID, conn, handler)
	}
}

func (a *MLLPInbound) handleConnection(connID string, conn net.Conn, handler DataHandler) {
	defer a.wg.Done()
	defer func() {
		_ = conn.Close()
		a.connMu.Lock()
		delete(a.conns, connID)
		a.connMu.Unlock()
		a.metrics.ConnectionsActive.Add(-1)
		logging.Log.Info("mllp connection ended", "adapter", a.name, "conn", connID)
	}()

	logging.Log.Info("mllp connection accepted", "adapter", a.name, "conn", connID)
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		select {
		case <-a.shutdown:
			return
		default:
		}

		payload, err := mllp.ReadFrame(reader, conn, a.cfg.ReadTimeout, a.cfg.MaxMessageSize)
		if err != nil {
			switch apperror.Code(err) {
			case apperror.CodeTimeout:
				continue
			case apperror.CodeConnection:
				return
			case apperror.CodeFrame:
				logging.Log.Warn("mllp frame error", "adapter", a.name, "conn", connID, "error", err)
				a.metrics.ErrorsTotal.Add(1)
				continue
			default:
				logging.Log.Error("mllp read error", "adapter", a.name, "conn", connID, "error", err)
				a.metrics.ErrorsTotal.Add(1)
				continue
			}
		}

		a.metrics.BytesReceived.Add(int64(len(payload)))

		ack, err := handler(context.Background(), payload)
		if err != nil {
			logging.Log.Error("mllp message processing failed", "adapter", a.name, "conn", connID, "error", err)
			a.metrics.ErrorsTotal.Add(1)
			continue
		}

		if ack == nil {
			continue
		}
		if err := mllp.WriteFrame(writer, conn, ack, a.cfg.AckTimeout); err != nil {
			logging.Log.Warn("mllp ack write failed", "adapter", a.name, "conn", connID, "error", err)
			a.metrics.ErrorsTotal.Add(1)
			return
		}
		a.metrics.BytesSent.Add(int64(len(ack)))
	}
}

// Stop closes the listener, signals all connection loops to exit, and
// waits up to ShutdownTimeout for them to drain before forcing closed.
func (a *MLLPInbound) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateStarted {
		a.mu.Unlock()
		return nil
	}
	close(a.shutdown)
	if a.listener != nil {
		_ = a.listener.Close()
	}
	a.state = StateStopped
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(a.cfg.ShutdownTimeout):
		a.forceCloseConnections()
		<-done
	}

	logging.Log.Info("mllp inbound adapter stopped", "adapter", a.name)
	return nil
}

func (a *MLLPInbound) forceCloseConnections() {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	for _, conn := range a.conns {
		_ = conn.Close()
	}
}

var _ Inbound = (*MLLPInbound)(nil)
