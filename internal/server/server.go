// Package server runs the HTTP service peers download from.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/zher/internal/discovery"
	"github.com/italolelis/zher/internal/logctx"
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrNotRunning     = errors.New("server not running")
)

// State is the serving state.
type State string

const (
	Stopped State = "stopped"
	Running State = "running"
)

// Status describes the serving state. Port and URL are set only while Running.
type Status struct {
	State State  `json:"state"`
	Port  int    `json:"port,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Options tune the serving component.
type Options struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BaseContext carries the logger used while serving. Its cancellation is ignored.
	BaseContext context.Context

	// Responder, when set, answers discovery probes on DiscoveryAddr while serving.
	Responder     *discovery.Protocol
	DiscoveryAddr string
}

type run struct {
	host     string
	port     int
	srv      *http.Server
	shutdown chan struct{}
	done     chan error
}

// Server owns at most one running http.Server. Start and Stop may be called
// repeatedly and from any goroutine.
type Server struct {
	handler http.Handler
	opts    Options

	mu  sync.Mutex
	cur *run
}

func New(handler http.Handler, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}

	return &Server{handler: handler, opts: opts}
}

// Start binds host:port and serves until Stop. Port 0 picks a free port.
func (s *Server) Start(ctx context.Context, host string, port int) (Status, error) {
	logger := logctx.LoggerFromContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil {
		return s.statusLocked(), ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return Status{State: Stopped}, fmt.Errorf("failed to listen: %w", err)
	}

	var responder *discovery.Responder

	if s.opts.Responder != nil {
		responder, err = discovery.ListenResponder(*s.opts.Responder, s.opts.DiscoveryAddr)
		if err != nil {
			_ = ln.Close()

			return Status{State: Stopped}, err
		}
	}

	baseCtx := s.opts.BaseContext
	if baseCtx == nil {
		baseCtx = ctx
	}

	baseCtx = context.WithoutCancel(baseCtx)

	r := &run{
		host: host,
		port: ln.Addr().(*net.TCPAddr).Port,
		srv: &http.Server{
			Handler:      s.handler,
			ReadTimeout:  s.opts.ReadTimeout,
			WriteTimeout: s.opts.WriteTimeout,
			IdleTimeout:  s.opts.IdleTimeout,
			BaseContext: func(net.Listener) context.Context {
				return baseCtx
			},
		},
		shutdown: make(chan struct{}),
		done:     make(chan error, 1),
	}

	s.cur = r

	go s.supervise(baseCtx, r, ln, responder)

	logger.InfoContext(ctx, "serving shared files", "addr", ln.Addr().String())

	return s.statusLocked(), nil
}

// supervise serves r until it is asked to shut down or serving fails, then
// reports the outcome on r.done.
func (s *Server) supervise(ctx context.Context, r *run, ln net.Listener, responder *discovery.Responder) {
	logger := logctx.LoggerFromContext(ctx)

	responderCtx, stopResponder := context.WithCancel(ctx)
	responderDone := make(chan struct{})

	go func() {
		defer close(responderDone)

		if responder == nil {
			return
		}

		if err := responder.Serve(responderCtx); err != nil {
			logger.ErrorContext(ctx, "discovery responder stopped", "err", err)
		}
	}()

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- r.srv.Serve(ln)
	}()

	var err error

	select {
	case <-r.shutdown:
		shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()

		err = r.srv.Shutdown(shutdownCtx)
		if err != nil {
			logger.ErrorContext(ctx, "failed to gracefully shutdown the server", "err", err)

			err = errors.Join(err, r.srv.Close())
		}
	case err = <-serveErr:
		logger.ErrorContext(ctx, "server stopped unexpectedly", "err", err)

		s.mu.Lock()
		if s.cur == r {
			s.cur = nil
		}
		s.mu.Unlock()
	}

	stopResponder()
	<-responderDone

	r.done <- err
}

// Stop asks the running server to shut down and waits for the acknowledgement.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.cur
	s.cur = nil
	s.mu.Unlock()

	if r == nil {
		return ErrNotRunning
	}

	close(r.shutdown)

	select {
	case err := <-r.done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports whether the server is serving and where.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.statusLocked()
}

func (s *Server) statusLocked() Status {
	if s.cur == nil {
		return Status{State: Stopped}
	}

	host := s.cur.host
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"

		if local, err := discovery.LocalIP(); err == nil {
			host = local.String()
		}
	}

	return Status{
		State: Running,
		Port:  s.cur.port,
		URL:   "http://" + net.JoinHostPort(host, strconv.Itoa(s.cur.port)),
	}
}

// NewFileHandler serves the files under dir. Range requests are honoured so
// peers can resume interrupted downloads.
func NewFileHandler(dir string) http.Handler {
	r := chi.NewRouter()

	fs := http.StripPrefix("/files", http.FileServer(http.Dir(dir)))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/files/", http.StatusFound)
	})
	r.Get("/files", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/files/", http.StatusMovedPermanently)
	})
	r.Get("/files/*", fs.ServeHTTP)
	r.Head("/files/*", fs.ServeHTTP)

	return r
}
