// Package engine implements the production engine: loading a
// ProductionConfig, validating it, instantiating host implementations
// through the class registry, starting/stopping them in dependency
// order, and exposing the runtime control operations (restart/enable/
// disable/status/reload) consumed by the external management layer.
package engine

import (
	"context"
	"sync"
	"time"

	"hie/internal/apperror"
	"hie/internal/config"
	"hie/internal/host"
	"hie/internal/logging"
	"hie/internal/message"
	"hie/internal/registry"
	"hie/internal/store"
)

// State is the production engine's own lifecycle state, distinct from
// (but driving) each host's state.
type State string

const (
	StateUnloaded State = "unloaded"
	StateDeployed State = "deployed"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// HostHandle is the subset of a concrete host's behavior the engine
// drives generically. ServiceHost, ProcessHost, and OperationHost all
// satisfy it through their embedded *host.Base — no adapter needed.
type HostHandle interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause() error
	Resume() error
	State() host.State
	Metrics() host.Snapshot
	Submit(ctx context.Context, msg *message.Message) error
	SetOnMessageDone(fn func(msg *message.Message, err error))
}

// dispatchTarget is implemented by ServiceHost and ProcessHost, the two
// host kinds that need to hand messages to named downstream targets
// (rather than just receiving them, like an OperationHost).
type dispatchTarget interface {
	SetDispatch(fn host.DispatchFunc)
}

// HostStatus is one host's reported state, for GetStatus.
type HostStatus struct {
	Name    string
	Type    config.ItemType
	State   host.State
	Metrics host.Snapshot
}

// Status is the whole engine's reported state.
type Status struct {
	State State
	Hosts map[string]HostStatus
}

// Engine is one running (or loadable) production.
type Engine struct {
	classes *registry.ClassRegistry
	store   store.Store

	startupDelay    time.Duration
	shutdownTimeout time.Duration

	mu          sync.RWMutex
	state       State
	cfg         *config.ProductionConfig
	hosts       map[string]HostHandle
	itemsByName map[string]*config.ItemConfig
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithStore attaches a durable store. When set, every processed message
// leg is persisted (header row, status transition) as it completes.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithStartupDelay sets the pause between starting each host in
// dependency order (spec: "startup_delay between hosts").
func WithStartupDelay(d time.Duration) Option {
	return func(e *Engine) { e.startupDelay = d }
}

// WithShutdownTimeout sets the total budget Stop has to drain and stop
// every host before forcing them down.
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Engine) { e.shutdownTimeout = d }
}

// New builds an empty, unloaded Engine with the default HL7 host classes
// registered into its own private class registry.
func New(opts ...Option) *Engine {
	e := &Engine{
		classes:         registry.NewClassRegistry(),
		startupDelay:    0,
		shutdownTimeout: 30 * time.Second,
		state:           StateUnloaded,
		hosts:           make(map[string]HostHandle),
		itemsByName:     make(map[string]*config.ItemConfig),
	}
	for _, opt := range opts {
		opt(e)
	}
	RegisterDefaultClasses(e.classes, e.lookupItem)
	return e
}

// Classes exposes the engine's class registry so callers can register
// additional classes (custom adapters, IRIS classes) before Deploy.
func (e *Engine) Classes() *registry.ClassRegistry { return e.classes }

func (e *Engine) lookupItem(name string) *config.ItemConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.itemsByName[name]
}

// Deploy loads and validates cfg, and instantiates every enabled item's
// host implementation, but does not start any of them. Per spec 4.H:
// "deploy(config) — build, but do not start."
func (e *Engine) Deploy(cfg *config.ProductionConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning {
		return apperror.New(apperror.CodeInvalidState, "engine is already running; stop before redeploying")
	}

	if errs := cfg.ValidateTargets(); len(errs) > 0 {
		return apperror.NewWithField(apperror.CodeValidation, "invalid target reference: "+errs[0], "TargetConfigNames")
	}
	if errs := cfg.ValidateReplyCodeActions(); len(errs) > 0 {
		return apperror.NewWithField(apperror.CodeConfig, errs[0], "ReplyCodeActions")
	}
	if cycle := findRoutingCycle(cfg); cycle != "" {
		return apperror.NewWithField(apperror.CodeValidation, "routing cycle detected", cycle)
	}

	itemsByName := make(map[string]*config.ItemConfig, len(cfg.Items))
	for i := range cfg.Items {
		itemsByName[cfg.Items[i].Name] = &cfg.Items[i]
	}
	e.itemsByName = itemsByName
	e.cfg = cfg

	hosts := make(map[string]HostHandle, len(cfg.EnabledItems()))
	for _, item := range cfg.EnabledItems() {
		handle, err := e.buildHost(&item)
		if err != nil {
			return apperror.Wrap(err, apperror.CodeConfig, "instantiate host "+item.Name)
		}
		hosts[item.Name] = handle
	}
	e.hosts = hosts
	e.wireDispatch()
	e.wirePersistence()

	e.state = StateDeployed
	logging.Log.Info("production deployed", "name", cfg.Name, "hosts", len(hosts))
	return nil
}

// wireDispatch installs each service/process host's DispatchFunc so its
// worker loop can hand a routed message straight to its target's queue.
// Must run after every host in the production exists.
func (e *Engine) wireDispatch() {
	dispatch := func(ctx context.Context, targetName string, msg *message.Message) error {
		e.mu.RLock()
		target, ok := e.hosts[targetName]
		e.mu.RUnlock()
		if !ok {
			return apperror.NewWithField(apperror.CodeNotFound, "dispatch target not found", targetName)
		}
		return target.Submit(ctx, msg)
	}
	for _, h := range e.hosts {
		if d, ok := h.(dispatchTarget); ok {
			d.SetDispatch(dispatch)
		}
	}
}

// wirePersistence attaches store-backed header persistence to every
// host, when a Store is configured. One header row is written per leg,
// status updated on completion/failure — the store is the single writer
// the spec's resource model calls out, serialized internally by Store's
// own implementation.
func (e *Engine) wirePersistence() {
	if e.store == nil {
		return
	}
	for name, h := range e.hosts {
		item := e.itemsByName[name]
		h.SetOnMessageDone(func(msg *message.Message, procErr error) {
			e.persistLeg(item, msg, procErr)
		})
	}
}

func (e *Engine) persistLeg(item *config.ItemConfig, msg *message.Message, procErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := e.store.StoreHeader(ctx, store.LegDetails{
		CorrelationID:    msg.CorrelationID,
		SessionID:        msg.SessionID,
		SequenceNum:      msg.SequenceNum,
		SourceConfigName: msg.SourceConfigName,
		TargetConfigName: msg.TargetConfigName,
		MessageType:      msg.MessageType,
		Direction:        string(item.ItemType),
		RawBytes:         msg.RawBytes,
		ContentType:      msg.ContentType,
	})
	if err != nil {
		logging.Log.Warn("persist header failed", "host", item.Name, "message_id", msg.ID, "error", err)
		return
	}

	status := store.StatusCompleted
	errMsg := ""
	if procErr != nil {
		status = store.StatusError
		errMsg = procErr.Error()
	}
	if err := e.store.UpdateStatus(ctx, id, status, "", errMsg); err != nil {
		logging.Log.Warn("persist status update failed", "host", item.Name, "message_id", msg.ID, "error", err)
	}
}

// Start starts every deployed host in dependency order (operations,
// then processes, then services — targets come up before sources),
// pausing startupDelay between each.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateDeployed && e.state != StateStopped {
		return apperror.New(apperror.CodeInvalidState, "engine must be deployed before start")
	}

	ctx := context.Background()
	for _, name := range e.cfg.DependencyOrder() {
		h, ok := e.hosts[name]
		if !ok {
			continue
		}
		if err := h.Start(ctx); err != nil {
			e.state = StateError
			return apperror.Wrap(err, apperror.CodeInternal, "start host "+name)
		}
		if e.startupDelay > 0 {
			time.Sleep(e.startupDelay)
		}
	}

	e.state = StateRunning
	logging.Log.Info("production started", "name", e.cfg.Name, "hosts", len(e.hosts))
	return nil
}

// Stop stops every host in reverse dependency order (services first, so
// new traffic stops before their downstream targets disappear), within a
// shutdownTimeout total budget shared across all hosts; any host still
// running once the budget is exhausted is force-stopped via a canceled
// context.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg == nil {
		return nil
	}

	order := e.cfg.DependencyOrder()
	reversed := make([]string, len(order))
	for i, name := range order {
		reversed[len(order)-1-i] = name
	}

	deadline := time.Now().Add(e.shutdownTimeout)
	for _, name := range reversed {
		h, ok := e.hosts[name]
		if !ok {
			continue
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		ctx, cancel := context.WithTimeout(context.Background(), remaining)
		if err := h.Stop(ctx); err != nil {
			logging.Log.Warn("host stop failed", "host", name, "error", err)
		}
		cancel()
	}

	e.state = StateStopped
	logging.Log.Info("production stopped", "name", e.cfg.Name)
	return nil
}

// RestartHost stops and restarts a single live host, leaving every other
// host untouched.
func (e *Engine) RestartHost(name string) error {
	e.mu.RLock()
	h, ok := e.hosts[name]
	e.mu.RUnlock()
	if !ok {
		return apperror.NewWithField(apperror.CodeNotFound, "host not found", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "restart: stop host "+name)
	}
	if err := h.Start(context.Background()); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "restart: start host "+name)
	}
	logging.Log.Info("host restarted", "host", name)
	return nil
}

// EnableHost resumes a paused host's worker pool without tearing it down.
func (e *Engine) EnableHost(name string) error {
	h, err := e.mustGetHost(name)
	if err != nil {
		return err
	}
	if err := h.Resume(); err != nil {
		return apperror.Wrap(err, apperror.CodeInvalidState, "enable host "+name)
	}
	return nil
}

// DisableHost pauses a running host's worker pool in place.
func (e *Engine) DisableHost(name string) error {
	h, err := e.mustGetHost(name)
	if err != nil {
		return err
	}
	if err := h.Pause(); err != nil {
		return apperror.Wrap(err, apperror.CodeInvalidState, "disable host "+name)
	}
	return nil
}

func (e *Engine) mustGetHost(name string) (HostHandle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.hosts[name]
	if !ok {
		return nil, apperror.NewWithField(apperror.CodeNotFound, "host not found", name)
	}
	return h, nil
}

// GetHost returns the live handle for name, or nil.
func (e *Engine) GetHost(name string) HostHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hosts[name]
}

// GetStatus returns the engine's own state plus every host's state and
// metrics snapshot.
func (e *Engine) GetStatus() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hosts := make(map[string]HostStatus, len(e.hosts))
	for name, h := range e.hosts {
		item := e.itemsByName[name]
		itemType := config.ItemType("")
		if item != nil {
			itemType = item.ItemType
		}
		hosts[name] = HostStatus{
			Name:    name,
			Type:    itemType,
			State:   h.State(),
			Metrics: h.Metrics(),
		}
	}
	return Status{State: e.state, Hosts: hosts}
}

// ReloadHostConfig hot-applies new settings to a live host by rebuilding
// it from the class registry and swapping it in place, preserving
// messages already in flight in the old host's queue by letting it drain
// via its own shutdown budget before the new instance starts. Per spec:
// "hot-apply settings to a live host without stopping the whole engine;
// messages in flight are preserved."
func (e *Engine) ReloadHostConfig(name string, settings []config.ItemSetting) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.itemsByName[name]
	if !ok {
		return apperror.NewWithField(apperror.CodeNotFound, "host not found", name)
	}
	old, ok := e.hosts[name]
	if !ok {
		return apperror.NewWithField(apperror.CodeNotFound, "host not found", name)
	}

	updated := *item
	updated.Settings = settings
	e.itemsByName[name] = &updated

	wasRunning := old.State() == host.StateRunning || old.State() == host.StatePaused
	if wasRunning {
		ctx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
		defer cancel()
		if err := old.Stop(ctx); err != nil {
			return apperror.Wrap(err, apperror.CodeInternal, "reload: drain old host "+name)
		}
	}

	handle, err := e.buildHost(&updated)
	if err != nil {
		e.itemsByName[name] = item
		return apperror.Wrap(err, apperror.CodeConfig, "reload: rebuild host "+name)
	}
	e.hosts[name] = handle
	e.wireDispatch()
	e.wirePersistence()

	if wasRunning {
		if err := handle.Start(context.Background()); err != nil {
			return apperror.Wrap(err, apperror.CodeInternal, "reload: restart host "+name)
		}
	}

	logging.Log.Info("host config reloaded", "host", name)
	return nil
}

// findRoutingCycle walks each process item's targets depth-first,
// returning the name of the first item found to participate in a cycle,
// or "" if none exists. Per spec 4.H: "no cycles among processes (DFS)".
func findRoutingCycle(cfg *config.ProductionConfig) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(cfg.Items))

	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			return true
		case done:
			return false
		}
		state[name] = visiting
		item := cfg.GetItem(name)
		if item != nil && item.ItemType == config.ItemTypeProcess {
			for _, target := range item.TargetConfigNames {
				if visit(target) {
					return true
				}
			}
		}
		state[name] = done
		return false
	}

	for _, item := range cfg.Items {
		if item.ItemType != config.ItemTypeProcess {
			continue
		}
		if visit(item.Name) {
			return item.Name
		}
	}
	return ""
}
