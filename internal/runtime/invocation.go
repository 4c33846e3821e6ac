package runtime

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/contact-gateway/internal/server"
)

const msgInitError = "Server initialization error"

// errNoResponse reaches the error stage when the chain wrote nothing.
var errNoResponse = errors.New("handler produced no response")

// invocationState tracks one request through the adapter.
type invocationState int

const (
	stateIdle invocationState = iota
	stateConnectionPending
	statePipelineRunning
	stateResponded
)

func (s invocationState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnectionPending:
		return "connection_pending"
	case statePipelineRunning:
		return "pipeline_running"
	case stateResponded:
		return "responded"
	default:
		return "unknown"
	}
}

type invocation struct {
	logger *slog.Logger
	r      *http.Request
	state  invocationState
}

func (inv *invocation) enter(next invocationState) {
	inv.logger.LogAttrs(inv.r.Context(), slog.LevelDebug, "invocation state changed",
		slog.String("from", inv.state.String()),
		slog.String("state", next.String()),
		slog.String("method", inv.r.Method),
		slog.String("path", inv.r.URL.Path),
	)
	inv.state = next
}

// guardWriter lets exactly one status line through; later WriteHeader calls
// are dropped.
type guardWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func newGuardWriter(w http.ResponseWriter) *guardWriter {
	return &guardWriter{ResponseWriter: w, status: http.StatusOK}
}

func (g *guardWriter) WriteHeader(code int) {
	if g.wroteHeader {
		return
	}
	g.status = code
	g.wroteHeader = true
	g.ResponseWriter.WriteHeader(code)
}

func (g *guardWriter) Write(b []byte) (int, error) {
	if !g.wroteHeader {
		g.WriteHeader(http.StatusOK)
	}
	return g.ResponseWriter.Write(b)
}

// Flush forwards Flush to the underlying ResponseWriter if it supports http.Flusher.
func (g *guardWriter) Flush() {
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *guardWriter) Unwrap() http.ResponseWriter {
	return g.ResponseWriter
}

// Invoke handles one request: the store connection is made ready first, then
// the bound pipeline runs. Exactly one response is produced.
func (g *Gateway) Invoke(w http.ResponseWriter, r *http.Request) {
	inv := &invocation{logger: g.logger, r: r}
	gw := newGuardWriter(w)

	inv.enter(stateConnectionPending)
	if _, err := g.cache.EnsureReady(r.Context()); err != nil {
		g.logger.Error("store not ready, skipping pipeline",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeInitError(gw, err, g.cfg.IsDevelopment())
		inv.enter(stateResponded)
		return
	}

	inv.enter(statePipelineRunning)
	g.handler.ServeHTTP(gw, r)

	if !gw.wroteHeader {
		g.onError(gw, r, errNoResponse)
	}
	inv.enter(stateResponded)
}

// ServeHTTP makes the Gateway an http.Handler; it is Invoke.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.Invoke(w, r)
}

func writeInitError(w http.ResponseWriter, err error, development bool) {
	resp := server.Response{Success: false, Message: msgInitError}
	if development {
		resp.Error = err.Error()
	}
	server.WriteJSON(w, http.StatusInternalServerError, resp)
}
