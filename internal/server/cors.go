package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"

	"github.com/tjfontaine/contact-gateway/internal/pipeline"
)

const msgOriginNotAllowed = "Origin not allowed"

// corsStage applies the origin policy. Allowed origins get the usual
// Access-Control-* headers and preflights are answered here; disallowed
// origins get no CORS headers, and a disallowed preflight is refused.
// allowed is the only origin matcher: go-chi/cors consults it through
// AllowOriginFunc and the preflight refusal uses it directly.
type corsStage struct {
	allowAll  bool
	origins   map[string]struct{}
	wildcards [][2]string // prefix, suffix
	inner     pipeline.Stage
}

func newCORSStage(origins []string, credentials bool) *corsStage {
	s := &corsStage{origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.ToLower(o)
		switch i := strings.IndexByte(o, '*'); {
		case o == "*":
			s.allowAll = true
		case i >= 0:
			s.wildcards = append(s.wildcards, [2]string{o[:i], o[i+1:]})
		default:
			s.origins[o] = struct{}{}
		}
	}

	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: credentials,
	}
	if s.allowAll {
		// Lets the library answer with a literal "*"
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowOriginFunc = func(_ *http.Request, origin string) bool {
			return s.allowed(origin)
		}
	}
	s.inner = pipeline.FromMiddleware("cors", cors.New(opts).Handler)
	return s
}

func (s *corsStage) Name() string { return "cors" }

func (s *corsStage) allowed(origin string) bool {
	if s.allowAll {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := s.origins[origin]; ok {
		return true
	}
	for _, w := range s.wildcards {
		if len(origin) >= len(w[0])+len(w[1]) && strings.HasPrefix(origin, w[0]) && strings.HasSuffix(origin, w[1]) {
			return true
		}
	}
	return false
}

func (s *corsStage) Process(w http.ResponseWriter, r *http.Request) (*http.Request, pipeline.Action, error) {
	origin := r.Header.Get("Origin")
	preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
	if preflight && origin != "" && !s.allowed(origin) {
		WriteMessage(w, http.StatusForbidden, false, msgOriginNotAllowed)
		return nil, pipeline.ActionDeny, nil
	}
	return s.inner.Process(w, r)
}
