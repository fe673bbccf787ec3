// Package server exposes the monitor, the restart orchestrator and the
// scheduler over HTTP, and pushes live status over a websocket.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/host"
	"github.com/kylerisse/neustart/pkg/restart"
	"github.com/kylerisse/neustart/pkg/scheduler"
	"github.com/sirupsen/logrus"
)

// StatusSource is the read side of the monitoring loop.
type StatusSource interface {
	Statuses() []host.Status
	Status(id string) (host.Status, bool)
}

// Restarter starts and reports restart jobs.
type Restarter interface {
	Execute(ctx context.Context, hostIDs []string, opts restart.Options) (*restart.Handle, error)
	Active() []restart.Snapshot
	Job(id string) (restart.Snapshot, bool)
}

// Scheduler defers restart jobs.
type Scheduler interface {
	Schedule(ctx context.Context, hostIDs []string, when time.Time, opts restart.Options) (scheduler.Entry, error)
	Cancel(ctx context.Context, id string) error
	Pending() []scheduler.Entry
}

// JobHistory answers for jobs that are no longer active.
type JobHistory interface {
	ForJob(ctx context.Context, jobID string) ([]event.Event, error)
}

// Options configures the listener.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Deps are the components the API serves. Hub, Metrics, Events and
// History are optional.
type Deps struct {
	Monitor   StatusSource
	Restarts  Restarter
	Schedules Scheduler
	Hub       *Hub
	Metrics   http.Handler
	Events    *event.Recorder
	History   JobHistory
}

// Server is the HTTP front end.
type Server struct {
	opts   Options
	deps   Deps
	logger *logrus.Logger

	handler http.Handler
	srv     *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Server. Nothing listens until Start.
func New(opts Options, deps Deps, logger *logrus.Logger) *Server {
	s := &Server{opts: opts, deps: deps, logger: logger}
	s.handler = s.routes()
	return s
}

// Handler returns the complete handler stack.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("server already started")
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.listener = ln
	s.done = make(chan struct{})
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	if s.deps.Hub != nil {
		go s.deps.Hub.Run(ctx)
	}

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		s.logger.Infof("Starting API server on %v...", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("API server stopped unexpectedly")
		}
	}(s.srv, s.done)
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done. Websocket clients are disconnected.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel, done := s.srv, s.cancel, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	cancel()
	err := srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.logger.Info("API server stopped")
	return err
}
