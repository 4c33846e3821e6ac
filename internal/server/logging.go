package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/contact-gateway/internal/pipeline"
)

// logFieldsKey identifies request-scoped logging fields.
type logFieldsKey struct{}

// LoggingMiddleware emits one structured line when a request completes, with
// status, duration, the stage decision trace and any fields added via
// AddLogField.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Attach mutable log fields map to context for handlers to enrich
			fields := make(map[string]string)
			ctxWithFields := context.WithValue(r.Context(), logFieldsKey{}, fields)

			wrapped := newStatusWriter(w)

			next.ServeHTTP(wrapped, r.WithContext(ctxWithFields))

			attrs := []slog.Attr{
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.Status()),
				slog.Duration("duration", time.Since(start)),
			}

			if rc := FromContext(r.Context()); rc != nil {
				if trace := rc.Decisions(); len(trace) > 0 {
					stages := make([]string, len(trace))
					for i, d := range trace {
						stages[i] = d.Stage + "=" + string(d.Decision)
					}
					attrs = append(attrs, slog.Any("stages", stages))
				}
			}

			for k, v := range fields {
				attrs = append(attrs, slog.String(k, v))
			}

			logger.LogAttrs(ctxWithFields, slog.LevelInfo, "request completed", attrs...)
		})
	}
}

// AddLogField attaches a key/value to the request-scoped log fields map so LoggingMiddleware can emit it.
// It is safe to call multiple times. No-op if middleware isn't present.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(map[string]string); ok {
		fields[key] = value
	}
}

// AddError attaches an error message to the request-scoped log fields map so it
// appears in the structured request log emitted by LoggingMiddleware. No-op if
// middleware isn't present or err is nil.
func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddLogField(ctx, "error", err.Error())
}

// loggingStage is the last pipeline stage: one line per request as it enters
// routing. It never touches the response.
type loggingStage struct {
	logger *slog.Logger
	now    func() time.Time
}

func (s *loggingStage) Name() string { return "logging" }

func (s *loggingStage) Process(w http.ResponseWriter, r *http.Request) (*http.Request, pipeline.Action, error) {
	s.logger.LogAttrs(r.Context(), slog.LevelInfo, "request received",
		slog.Time("time", s.now().UTC()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("client_addr", ClientAddr(r.Context())),
		slog.String("request_id", GetRequestID(r.Context())),
	)
	return r, pipeline.ActionAllow, nil
}
