package server

import (
	"net/http"

	"golang.org/x/time/rate"
)

// routes registers every endpoint and wraps the mux in the middleware
// stack.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api", s.handleAPI)
	mux.HandleFunc("GET /api/hosts/{id}", s.handleHostAPI)
	mux.HandleFunc("GET /api/summary", s.handleSummaryAPI)

	mux.HandleFunc("POST /api/restart", s.handleRestart)
	mux.HandleFunc("GET /api/restart", s.handleActiveJobs)
	mux.HandleFunc("GET /api/restart/{id}", s.handleJob)

	mux.HandleFunc("POST /api/schedule", s.handleSchedule)
	mux.HandleFunc("GET /api/schedule", s.handlePendingSchedules)
	mux.HandleFunc("DELETE /api/schedule/{id}", s.handleCancelSchedule)

	if s.deps.Events != nil {
		mux.HandleFunc("GET /api/events", s.handleEvents)
	}
	if s.deps.Hub != nil {
		mux.HandleFunc("GET /ws", s.deps.Hub.ServeWS)
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	var h http.Handler = mux
	h = noCacheMiddleware(h)
	h = securityHeadersMiddleware(h)
	if s.opts.RateLimit > 0 {
		burst := max(s.opts.RateBurst, 1)
		h = newRateLimitMiddleware(newRateLimiter(rate.Limit(s.opts.RateLimit), burst))(h)
	}
	return h
}
