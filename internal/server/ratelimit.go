package server

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tjfontaine/contact-gateway/internal/pipeline"
)

const msgTooManyRequests = "Too many requests from this IP, please try again later."

// RateLimiter counts requests per client in fixed windows. A client's window
// opens with its first request; up to max requests pass inside it and the
// count starts over once the window has elapsed.
type RateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time
	logger *slog.Logger

	// rejectLog samples the rejection log line so a flood stays readable.
	rejectLog rate.Sometimes

	mu        sync.Mutex
	clients   map[string]*clientWindow
	lastSweep time.Time
}

type clientWindow struct {
	start time.Time
	count int
}

// NewRateLimiter returns a limiter allowing max requests per window for each
// client. now defaults to time.Now.
func NewRateLimiter(max int, window time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		max:       max,
		window:    window,
		now:       now,
		logger:    slog.Default(),
		rejectLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		clients:   make(map[string]*clientWindow),
	}
}

// Allow counts one request for client. It returns whether the request may
// proceed, the requests left in the window, and how long until the window
// resets.
func (l *RateLimiter) Allow(client string) (ok bool, remaining int, retryAfter time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	cw, found := l.clients[client]
	if !found || now.Sub(cw.start) >= l.window {
		cw = &clientWindow{start: now}
		l.clients[client] = cw
	}
	cw.count++

	remaining = max(0, l.max-cw.count)
	if cw.count > l.max {
		return false, 0, cw.start.Add(l.window).Sub(now)
	}
	return true, remaining, 0
}

// sweepLocked drops clients whose window has elapsed.
func (l *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	for k, cw := range l.clients {
		if now.Sub(cw.start) >= l.window {
			delete(l.clients, k)
		}
	}
	l.lastSweep = now
}

// Clients returns the number of tracked clients.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *RateLimiter) Name() string { return "rate_limit" }

func (l *RateLimiter) Process(w http.ResponseWriter, r *http.Request) (*http.Request, pipeline.Action, error) {
	client := ClientAddr(r.Context())
	if client == "" {
		client = stripPort(r.RemoteAddr)
	}

	ok, remaining, retryAfter := l.Allow(client)

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

	if !ok {
		rateLimitRejects.Inc()
		l.rejectLog.Do(func() {
			l.logger.Warn("rate limit exceeded",
				slog.String("client_addr", client),
				slog.String("request_id", GetRequestID(r.Context())),
			)
		})
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		WriteMessage(w, http.StatusTooManyRequests, false, msgTooManyRequests)
		return nil, pipeline.ActionDeny, nil
	}
	return r, pipeline.ActionAllow, nil
}
