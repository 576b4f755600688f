// Package host implements the common host lifecycle (service, process,
// and operation hosts) that every production item runs inside: a
// worker-pool queue with pause/resume, per-message deadlines, and a
// consecutive-error circuit breaker.
package host

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hie/internal/apperror"
	"hie/internal/config"
	"hie/internal/logging"
	"hie/internal/message"
)

// State is a host's lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Metrics is the runtime counter block every host maintains.
type Metrics struct {
	MessagesReceived  atomic.Int64
	MessagesProcessed atomic.Int64
	MessagesFailed    atomic.Int64
	BytesReceived     atomic.Int64
	BytesSent         atomic.Int64
	ConsecutiveErrors atomic.Int64

	mu               sync.Mutex
	processingTotal  time.Duration
	processingMax    time.Duration
	lastErrorMessage string
}

func (m *Metrics) recordReceived(n int) {
	m.MessagesReceived.Add(1)
	m.BytesReceived.Add(int64(n))
}

func (m *Metrics) recordSuccess(elapsed time.Duration, bytesOut int) {
	m.MessagesProcessed.Add(1)
	m.BytesSent.Add(int64(bytesOut))
	m.ConsecutiveErrors.Store(0)

	m.mu.Lock()
	m.processingTotal += elapsed
	if elapsed > m.processingMax {
		m.processingMax = elapsed
	}
	m.mu.Unlock()
}

func (m *Metrics) recordFailure(errMsg string) int64 {
	m.MessagesFailed.Add(1)
	m.mu.Lock()
	m.lastErrorMessage = errMsg
	m.mu.Unlock()
	return m.ConsecutiveErrors.Add(1)
}

// Snapshot is a point-in-time copy of Metrics, safe to log or export.
type Snapshot struct {
	MessagesReceived     int64
	MessagesProcessed    int64
	MessagesFailed       int64
	BytesReceived        int64
	BytesSent            int64
	ConsecutiveErrors    int64
	ProcessingAvg        time.Duration
	ProcessingMax        time.Duration
	LastErrorMessage     string
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	processed := m.MessagesProcessed.Load()
	var avg time.Duration
	if processed > 0 {
		avg = m.processingTotal / time.Duration(processed)
	}
	return Snapshot{
		MessagesReceived:  m.MessagesReceived.Load(),
		MessagesProcessed: processed,
		MessagesFailed:    m.MessagesFailed.Load(),
		BytesReceived:     m.BytesReceived.Load(),
		BytesSent:         m.BytesSent.Load(),
		ConsecutiveErrors: m.ConsecutiveErrors.Load(),
		ProcessingAvg:     avg,
		ProcessingMax:     m.processingMax,
		LastErrorMessage:  m.lastErrorMessage,
	}
}

// ProcessFunc processes one message, returning zero or more messages to
// forward downstream (fan-out), or an error.
type ProcessFunc func(ctx context.Context, msg *message.Message) ([]*message.Message, error)

// DownstreamFunc forwards processed messages on. Hosts that need
// per-target dispatch (the process host) bypass this and call a
// dispatch function directly inside their ProcessFunc instead.
type DownstreamFunc func(ctx context.Context, msgs []*message.Message) error

// LifecycleHooks are called once during Start/Stop, before/after the
// worker pool is up, for adapter binding and teardown.
type LifecycleHooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Base implements the lifecycle, worker pool, and failure policy shared
// by ServiceHost, ProcessHost, and OperationHost. Concrete host types
// embed *Base and supply a ProcessFunc plus lifecycle hooks.
type Base struct {
	name string

	poolSize     int
	queueSize    int
	maxErrors    int
	errorDelay   time.Duration
	itemTimeout  time.Duration

	process    ProcessFunc
	downstream DownstreamFunc
	hooks      LifecycleHooks
	onDone     func(msg *message.Message, err error)

	mu       sync.Mutex
	state    State
	queue    chan *message.Message
	shutdown chan struct{}
	wg       sync.WaitGroup
	paused   atomic.Bool

	metrics Metrics
}

// NewBase builds the shared host scaffolding from an item's pool size
// and host settings bag. process is required; hooks and downstream may
// be nil.
func NewBase(name string, item *config.ItemConfig, process ProcessFunc) *Base {
	poolSize := item.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Base{
		name:        name,
		poolSize:    poolSize,
		queueSize:   item.SettingInt(config.SettingTargetHost, "QueueSize", 1000),
		maxErrors:   item.SettingInt(config.SettingTargetHost, "MaxErrors", 10),
		errorDelay:  time.Duration(item.SettingInt(config.SettingTargetHost, "ErrorDelaySeconds", 5)) * time.Second,
		itemTimeout: time.Duration(item.SettingInt(config.SettingTargetHost, "TimeoutSeconds", 30)) * time.Second,
		process:     process,
	}
}

// Name returns the host's item name.
func (b *Base) Name() string { return b.name }

// SetDownstream installs the function used to forward ProcessFunc's
// fan-out results on. Must be called before Start.
func (b *Base) SetDownstream(fn DownstreamFunc) { b.downstream = fn }

// SetHooks installs start/stop lifecycle callbacks. Must be called
// before Start.
func (b *Base) SetHooks(hooks LifecycleHooks) { b.hooks = hooks }

// SetOnMessageDone installs a callback invoked once per processed
// message, after success or failure is recorded, with the process error
// (nil on success). The production engine uses this to persist a header
// row per leg without coupling the worker loop to a storage backend.
func (b *Base) SetOnMessageDone(fn func(msg *message.Message, err error)) { b.onDone = fn }

func (b *Base) State() State { return State(atomic.LoadInt32((*int32)(&b.state))) }

func (b *Base) Metrics() Snapshot { return b.metrics.Snapshot() }

// RecordReceived accounts for bytes accepted by the adapter before they
// reach the queue (e.g. a service host's on_data_received callback).
func (b *Base) RecordReceived(n int) { b.metrics.recordReceived(n) }

func (b *Base) setState(s State) { atomic.StoreInt32((*int32)(&b.state), int32(s)) }

// Start spawns poolSize worker loops after running OnStart.
func (b *Base) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.State() {
	case StateCreated, StateStopped:
	default:
		return apperror.New(apperror.CodeInvalidState, "host cannot start from state "+b.State().String())
	}

	b.setState(StateStarting)
	b.queue = make(chan *message.Message, b.queueSize)
	b.shutdown = make(chan struct{})
	b.paused.Store(false)

	if b.hooks.OnStart != nil {
		if err := b.hooks.OnStart(ctx); err != nil {
			b.setState(StateError)
			return apperror.Wrap(err, apperror.CodeInternal, "host on_start failed")
		}
	}

	for i := 0; i < b.poolSize; i++ {
		b.wg.Add(1)
		go b.workerLoop(i)
	}

	b.setState(StateRunning)
	logging.Log.Info("host started", "host", b.name, "pool_size", b.poolSize)
	return nil
}

// Stop signals all workers to exit after finishing their current
// message, then runs OnStop.
func (b *Base) Stop(ctx context.Context) error {
	b.mu.Lock()
	switch b.State() {
	case StateRunning, StatePaused, StateError:
	default:
		b.mu.Unlock()
		return nil
	}
	b.setState(StateStopping)
	close(b.shutdown)
	b.mu.Unlock()

	b.wg.Wait()

	if b.hooks.OnStop != nil {
		if err := b.hooks.OnStop(ctx); err != nil {
			logging.Log.Warn("host on_stop failed", "host", b.name, "error", err)
		}
	}

	b.setState(StateStopped)
	logging.Log.Info("host stopped", "host", b.name)
	return nil
}

// Pause gates the worker loops without tearing them down.
func (b *Base) Pause() error {
	if b.State() != StateRunning {
		return apperror.New(apperror.CodeInvalidState, "host cannot pause from state "+b.State().String())
	}
	b.paused.Store(true)
	b.setState(StatePaused)
	return nil
}

// Resume un-gates the worker loops.
func (b *Base) Resume() error {
	if b.State() != StatePaused {
		return apperror.New(apperror.CodeInvalidState, "host cannot resume from state "+b.State().String())
	}
	b.paused.Store(false)
	b.setState(StateRunning)
	return nil
}

// Submit enqueues msg, blocking until space is available, ctx is
// canceled, or the host shuts down.
func (b *Base) Submit(ctx context.Context, msg *message.Message) error {
	if !b.acceptingSubmits() {
		return apperror.New(apperror.CodeInvalidState, "host not accepting messages in state "+b.State().String())
	}
	select {
	case b.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.shutdown:
		return apperror.New(apperror.CodeInvalidState, "host is shutting down")
	}
}

// SubmitNoWait enqueues msg without blocking, returning
// apperror.ErrQueueFull if the queue is full.
func (b *Base) SubmitNoWait(msg *message.Message) error {
	if !b.acceptingSubmits() {
		return apperror.New(apperror.CodeInvalidState, "host not accepting messages in state "+b.State().String())
	}
	select {
	case b.queue <- msg:
		return nil
	default:
		return apperror.ErrQueueFull
	}
}

func (b *Base) acceptingSubmits() bool {
	switch b.State() {
	case StateRunning, StatePaused:
		return true
	default:
		return false
	}
}

func (b *Base) workerLoop(workerID int) {
	defer b.wg.Done()

	pauseTick := 50 * time.Millisecond
	for {
		select {
		case <-b.shutdown:
			return
		default:
		}

		if b.paused.Load() {
			select {
			case <-b.shutdown:
				return
			case <-time.After(pauseTick):
			}
			continue
		}

		if b.State() == StateError {
			return
		}

		var msg *message.Message
		select {
		case <-b.shutdown:
			return
		case msg = <-b.queue:
		case <-time.After(time.Second):
			continue
		}

		b.processOne(msg)
	}
}

func (b *Base) processOne(msg *message.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), b.itemTimeout)
	defer cancel()

	start := time.Now()
	results, err := b.process(ctx, msg)
	elapsed := time.Since(start)

	if err != nil {
		consecutive := b.metrics.recordFailure(err.Error())
		logging.Log.Error("host message processing failed", "host", b.name, "message_id", msg.ID, "error", err)
		if b.onDone != nil {
			b.onDone(msg, err)
		}

		if int(consecutive) >= b.maxErrors {
			b.setState(StateError)
			logging.Log.Error("host entering error state", "host", b.name, "consecutive_errors", consecutive)
			return
		}

		select {
		case <-b.shutdown:
		case <-time.After(b.errorDelay):
		}
		return
	}

	bytesOut := 0
	for _, m := range results {
		bytesOut += len(m.RawBytes)
	}
	b.metrics.recordSuccess(elapsed, bytesOut)
	if b.onDone != nil {
		b.onDone(msg, nil)
	}

	if len(results) > 0 && b.downstream != nil {
		if err := b.downstream(context.Background(), results); err != nil {
			logging.Log.Warn("host downstream forward failed", "host", b.name, "error", err)
		}
	}
}
