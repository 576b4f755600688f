package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hie/internal/apperror"
	"hie/internal/logging"
)

// HTTPInboundConfig configures an HTTPInbound adapter.
type HTTPInboundConfig struct {
	Host         string
	Port         int
	Path         string
	Methods      []string
	ContentTypes []string
	MaxBodySize  int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultHTTPInboundConfig returns the spec's defaults for unset fields.
func DefaultHTTPInboundConfig() HTTPInboundConfig {
	return HTTPInboundConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		Path:         "/",
		Methods:      []string{http.MethodPost},
		ContentTypes: []string{"application/json"},
		MaxBodySize:  10 << 20, // 10 MiB
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

type acceptedResponse struct {
	MessageID string `json:"message_id"`
}

// HTTPInbound receives messages as HTTP request bodies posted to a
// single configured path.
type HTTPInbound struct {
	name string
	cfg  HTTPInboundConfig

	state  State
	server *http.Server

	metrics Metrics
}

// NewHTTPInbound creates an HTTP inbound adapter named name.
func NewHTTPInbound(name string, cfg HTTPInboundConfig) *HTTPInbound {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{http.MethodPost}
	}
	if len(cfg.ContentTypes) == 0 {
		cfg.ContentTypes = []string{"application/json"}
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 << 20
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	return &HTTPInbound{name: name, cfg: cfg}
}

func (a *HTTPInbound) State() State { return State(atomic.LoadInt32((*int32)(&a.state))) }

func (a *HTTPInbound) Metrics() Snapshot { return a.metrics.Snapshot() }

// Addr returns the configured listen address, useful in tests binding
// port 0.
func (a *HTTPInbound) Addr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr
}

func (a *HTTPInbound) allowsMethod(method string) bool {
	for _, m := range a.cfg.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (a *HTTPInbound) allowsContentType(contentType string) bool {
	ct := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	for _, allowed := range a.cfg.ContentTypes {
		if strings.EqualFold(allowed, ct) {
			return true
		}
	}
	return false
}

func (a *HTTPInbound) makeHandler(handler DataHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.allowsMethod(r.Method) {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !a.allowsContentType(r.Header.Get("Content-Type")) {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, a.cfg.MaxBodySize+1))
		if err != nil {
			logging.Log.Error("http inbound read failed", "adapter", a.name, "error", err)
			a.metrics.ErrorsTotal.Add(1)
			http.Error(w, "failed to read request body", http.StatusInternalServerError)
			return
		}
		if int64(len(body)) > a.cfg.MaxBodySize {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		a.metrics.BytesReceived.Add(int64(len(body)))

		_, err = handler(r.Context(), body)
		if err != nil {
			a.metrics.ErrorsTotal.Add(1)
			if apperror.Code(err) == apperror.CodeBackpressure {
				logging.Log.Warn("http inbound queue full", "adapter", a.name)
				http.Error(w, "queue full", http.StatusServiceUnavailable)
				return
			}
			logging.Log.Error("http inbound submit failed", "adapter", a.name, "error", err)
			http.Error(w, "failed to accept message", http.StatusInternalServerError)
			return
		}

		resp := acceptedResponse{MessageID: uuid.NewString()}
		payload, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(payload)
		a.metrics.BytesSent.Add(int64(len(payload)))
	}
}

// Start binds and begins serving HTTP requests in the background.
func (a *HTTPInbound) Start(ctx context.Context, handler DataHandler) error {
	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.Path, a.makeHandler(handler))

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port),
		Handler:      mux,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	}

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeConnection, "failed to bind HTTP listener")
	}
	a.server.Addr = ln.Addr().String()

	a.state = StateStarted
	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Log.Error("http inbound server failed", "adapter", a.name, "error", err)
		}
	}()

	logging.Log.Info("http inbound adapter started", "adapter", a.name, "addr", a.server.Addr, "path", a.cfg.Path)
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (a *HTTPInbound) Stop(ctx context.Context) error {
	if a.State() != StateStarted {
		return nil
	}
	a.state = StateStopped
	if a.server == nil {
		return nil
	}
	if err := a.server.Shutdown(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "http inbound shutdown failed")
	}
	logging.Log.Info("http inbound adapter stopped", "adapter", a.name)
	return nil
}

var _ Inbound = (*HTTPInbound)(nil)
