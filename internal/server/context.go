package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/tjfontaine/contact-gateway/internal/pipeline"
)

type requestContextKey struct{}

// StageDecision is one entry of a request's decision trace.
type StageDecision struct {
	Stage    string            `json:"stage"`
	Decision pipeline.Decision `json:"decision"`
}

// RequestContext is the per-request view built before the pipeline runs.
// It is owned by one request and discarded with it.
type RequestContext struct {
	ID         string
	Method     string
	Path       string
	Header     http.Header
	ClientAddr string

	// Body is the decoded JSON object or form fields; nil when the request
	// carried no body.
	Body    map[string]any
	RawBody []byte

	mu        sync.Mutex
	decisions []StageDecision
}

func (rc *RequestContext) record(stage string, d pipeline.Decision) {
	rc.mu.Lock()
	rc.decisions = append(rc.decisions, StageDecision{Stage: stage, Decision: d})
	rc.mu.Unlock()
}

// Decisions returns a copy of the stage decisions recorded so far.
func (rc *RequestContext) Decisions() []StageDecision {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]StageDecision, len(rc.decisions))
	copy(out, rc.decisions)
	return out
}

// WithRequestContext stores rc in ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext returns the RequestContext for the request, or nil.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

// BodyFrom returns the decoded request body, or nil.
func BodyFrom(ctx context.Context) map[string]any {
	if rc := FromContext(ctx); rc != nil {
		return rc.Body
	}
	return nil
}

// ClientAddr returns the resolved client address, or "".
func ClientAddr(ctx context.Context) string {
	if rc := FromContext(ctx); rc != nil {
		return rc.ClientAddr
	}
	return ""
}

// requestContextMiddleware creates the RequestContext. It runs after
// RequestIDMiddleware so the ID is available.
func requestContextMiddleware(trustProxy int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := &RequestContext{
				ID:         GetRequestID(r.Context()),
				Method:     r.Method,
				Path:       r.URL.Path,
				Header:     r.Header,
				ClientAddr: clientAddr(r, trustProxy),
			}
			next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
		})
	}
}
