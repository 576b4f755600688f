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

// MLLPOutboundConfig configures an MLLPOutbound adapter.
type MLLPOutboundConfig struct {
	IPAddress      string
	Port           int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	AckTimeout     time.Duration
	ReconnectDelay time.Duration
	MaxRetries     int
	KeepAlive      bool
}

// DefaultMLLPOutboundConfig returns the spec's defaults for unset fields.
func DefaultMLLPOutboundConfig() MLLPOutboundConfig {
	return MLLPOutboundConfig{
		Port:           2575,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   30 * time.Second,
		AckTimeout:     30 * time.Second,
		ReconnectDelay: 5 * time.Second,
		MaxRetries:     3,
		KeepAlive:      true,
	}
}

// MLLPOutbound is a TCP client sending MLLP-framed messages and waiting
// for ACK responses on the same connection. Connection is lazy; send
// calls serialize through connMu so request/response correlation never
// interleaves two in-flight sends on one socket.
type MLLPOutbound struct {
	name string
	cfg  MLLPOutboundConfig

	state State

	connMu sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	metrics Metrics
}

// NewMLLPOutbound creates an outbound MLLP adapter named name.
func NewMLLPOutbound(name string, cfg MLLPOutboundConfig) *MLLPOutbound {
	if cfg.Port <= 0 {
		cfg.Port = 2575
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &MLLPOutbound{name: name, cfg: cfg}
}

func (a *MLLPOutbound) State() State { return State(atomic.LoadInt32((*int32)(&a.state))) }

func (a *MLLPOutbound) Metrics() Snapshot { return a.metrics.Snapshot() }

// Start marks the adapter ready; the actual TCP connection is
// established lazily on the first Send.
func (a *MLLPOutbound) Start(ctx context.Context) error {
	a.state = StateStarted
	logging.Log.Info("mllp outbound adapter started", "adapter", a.name)
	return nil
}

// Stop closes any live connection.
func (a *MLLPOutbound) Stop(ctx context.Context) error {
	a.disconnect()
	a.state = StateStopped
	logging.Log.Info("mllp outbound adapter stopped", "adapter", a.name)
	return nil
}

func (a *MLLPOutbound) connectLocked() error {
	if a.conn != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.IPAddress, a.cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, a.cfg.ConnectTimeout)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeConnection, "failed to connect to remote MLLP endpoint")
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok && a.cfg.KeepAlive {
		_ = tcpConn.SetKeepAlive(true)
	}

	a.conn = conn
	a.reader = bufio.NewReader(conn)
	a.writer = bufio.NewWriter(conn)
	a.metrics.ConnectionsTotal.Add(1)
	a.metrics.ConnectionsActive.Store(1)

	logging.Log.Info("mllp outbound connected", "adapter", a.name, "remote", addr)
	return nil
}

func (a *MLLPOutbound) disconnect() {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	a.disconnectLocked()
}

func (a *MLLPOutbound) disconnectLocked() {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
		a.reader = nil
		a.writer = nil
	}
	a.metrics.ConnectionsActive.Store(0)
}

// Send writes payload and waits for the ACK frame, retrying up to
// MaxRetries on connection or timeout errors with ReconnectDelay between
// attempts.
func (a *MLLPOutbound) Send(ctx context.Context, payload []byte) ([]byte, error) {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxRetries; attempt++ {
		if err := a.connectLocked(); err != nil {
			lastErr = err
		} else if err := mllp.WriteFrame(a.writer, a.conn, payload, a.cfg.WriteTimeout); err != nil {
			lastErr = err
		} else {
			a.metrics.BytesSent.Add(int64(len(payload)))
			ack, err := mllp.ReadFrame(a.reader, a.conn, a.cfg.AckTimeout, mllp.DefaultMaxFrameSize)
			if err != nil {
				lastErr = err
			} else {
				a.metrics.BytesReceived.Add(int64(len(ack)))
				return ack, nil
			}
		}

		code := apperror.Code(lastErr)
		if code != apperror.CodeConnection && code != apperror.CodeTimeout {
			break
		}

		a.metrics.ErrorsTotal.Add(1)
		logging.Log.Warn("mllp send failed", "adapter", a.name, "attempt", attempt+1, "error", lastErr)
		a.disconnectLocked()

		if attempt < a.cfg.MaxRetries-1 {
			select {
			case <-time.After(a.cfg.ReconnectDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, apperror.Wrap(lastErr, apperror.CodeSend, fmt.Sprintf("failed after %d attempts", a.cfg.MaxRetries))
}

// SendNoAck writes payload without waiting for a response, for
// fire-and-forget paths.
func (a *MLLPOutbound) SendNoAck(ctx context.Context, payload []byte) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	if err := a.connectLocked(); err != nil {
		return err
	}
	if err := mllp.WriteFrame(a.writer, a.conn, payload, a.cfg.WriteTimeout); err != nil {
		return err
	}
	a.metrics.BytesSent.Add(int64(len(payload)))
	return nil
}

var _ Outbound = (*MLLPOutbound)(nil)
