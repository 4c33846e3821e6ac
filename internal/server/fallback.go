package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

const (
	msgRouteNotFound = "Route not found"
	msgInternalError = "Internal server error"
)

// ErrorHandler writes the response for an error that escaped a stage or a
// route handler.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// HandlerFunc is a route handler that reports failures by returning them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts h to http.HandlerFunc, sending returned errors to onError.
func Handle(h HandlerFunc, onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			onError(w, r, err)
		}
	}
}

// NotFoundHandler answers requests no route matched.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteMessage(w, http.StatusNotFound, false, msgRouteNotFound)
}

// NewErrorHandler returns the process error stage. The full error is always
// logged; it reaches the client only when development is true.
func NewErrorHandler(development bool, logger *slog.Logger) ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		AddError(r.Context(), err)

		var he *HTTPError
		if errors.As(err, &he) && he.Status >= 400 && he.Status < 500 {
			logger.Warn("request rejected",
				slog.String("request_id", GetRequestID(r.Context())),
				slog.Int("status", he.Status),
				slog.String("error", err.Error()),
			)
			WriteMessage(w, he.Status, false, he.Message)
			return
		}

		logger.Error("unhandled error",
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		resp := Response{Success: false, Message: msgInternalError}
		if development {
			resp.Error = err.Error()
		}
		WriteJSON(w, http.StatusInternalServerError, resp)
	}
}

// Recoverer turns a panic in a later handler into an error for onError.
func Recoverer(onError ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				panicRecoveries.Inc()

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				onError(w, r, err)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
