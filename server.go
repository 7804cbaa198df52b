package socketpool

import (
	"context"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Accept retry delays for transient errors.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Server accepts TCP connections and runs each one as a Session on a worker pool.
type Server struct {
	listener        *net.TCPListener
	pool            *Pool
	logger          Logger
	shutdownTimeout time.Duration

	workers     int
	queueSize   int
	sessionOpts []Option

	mu          sync.Mutex
	shutdown    bool
	closeOnce   sync.Once
	shutdownNow chan struct{} // closed by Close, bypasses the shutdown timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server, its pool and its sessions.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerWorkersOption sets the number of pool workers, which is also the
// maximum number of sessions served at once. Default is runtime.NumCPU().
func ServerWorkersOption(workers int) ServerOption {
	return func(s *Server) {
		s.workers = workers
	}
}

// ServerQueueSizeOption sets how many accepted connections may wait for a free
// worker before the accept loop blocks. Default is the number of workers.
func ServerQueueSizeOption(size int) ServerOption {
	return func(s *Server) {
		s.queueSize = size
	}
}

// ServerSessionOption sets the options applied to every accepted session.
func ServerSessionOption(opts ...Option) ServerOption {
	return func(s *Server) {
		s.sessionOpts = append(s.sessionOpts, opts...)
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context passed to Serve is canceled, the server stops accepting and
// waits up to this duration for running sessions to finish before canceling them.
// Default is 0 (sessions are canceled immediately).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// New creates a new TCP server bound to the specified address and starts its workers.
// Returns an error if the address cannot be bound.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	s := &Server{
		logger:      defaultLogger(),
		workers:     runtime.NumCPU(),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.queueSize <= 0 {
		s.queueSize = s.workers
	}

	pool, err := NewPool(s.workers,
		PoolQueueSizeOption(s.queueSize),
		PoolLoggerOption(s.logger))
	if err != nil {
		return nil, err
	}

	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		_ = pool.Shutdown(canceledContext())
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	s.listener = listener
	s.pool = pool
	// Sessions log through the server logger unless told otherwise.
	s.sessionOpts = append([]Option{LoggerOption(s.logger)}, s.sessionOpts...)

	return s, nil
}

// Serve accepts connections and submits each to the worker pool.
// It blocks until the context is canceled, Close is called, or an unrecoverable
// accept error occurs. On cancellation it stops accepting and drains the pool
// for up to the shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server started", "addr", s.listener.Addr(), "workers", s.pool.Workers())

	served := make(chan struct{})
	defer close(served)

	go func() {
		select {
		case <-ctx.Done():
		case <-served:
			return
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	var delay time.Duration
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if s.isShutdown() {
				// Close and Shutdown drive the pool themselves.
				if ctx.Err() == nil {
					return nil
				}

				s.logger.Info("server stopping", "addr", s.listener.Addr(), "timeout", s.shutdownTimeout)
				_ = s.listener.Close()
				if err := s.drain(); err != nil {
					s.logger.Warn("sessions canceled at shutdown", "error", err)
				}
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			if !isTransientAcceptError(err) {
				s.logger.Error("accept error", "error", err)
				return err
			}

			delay = nextAcceptDelay(delay)
			s.logger.Warn("accept error, retrying", "error", err, "delay", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		s.dispatch(ctx, conn)
	}
}

// Close stops the server immediately: the listener is closed and running
// sessions are canceled. It bypasses any shutdown timeout.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.shutdownNow)
	})

	err := closeListener(s.listener)
	if perr := s.pool.Shutdown(canceledContext()); perr != nil && !errors.Is(perr, ErrPoolClosed) && !errors.Is(perr, context.Canceled) {
		return perr
	}
	return err
}

// Shutdown closes the listener and waits for running sessions to finish.
// If ctx is done first, the remaining sessions are canceled and ctx.Err() is returned.
// When the pool is already shutting down, for example because Serve is draining,
// Shutdown waits for that drain or for ctx, whichever ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	lerr := closeListener(s.listener)
	err := s.pool.Shutdown(ctx)
	if errors.Is(err, ErrPoolClosed) {
		select {
		case <-s.pool.Done():
			err = nil
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return lerr
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Pool returns the worker pool serving the sessions.
func (s *Server) Pool() *Pool {
	return s.pool
}

// dispatch wraps conn into a session and hands it to the pool.
// The connection is closed here if it cannot be handed over.
func (s *Server) dispatch(ctx context.Context, conn *net.TCPConn) {
	s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
	_ = conn.SetNoDelay(true)

	session, err := NewSession(conn, s.sessionOpts...)
	if err != nil {
		s.logger.Error("session setup failed", "remote_addr", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}

	err = s.pool.Submit(ctx, func(ctx context.Context) {
		_ = session.Run(ctx)
	})
	if err != nil {
		s.logger.Warn("connection dropped", "remote_addr", conn.RemoteAddr(), "error", err)
		_ = session.Close()
	}
}

// drain shuts the pool down, waiting up to the shutdown timeout unless Close is called.
func (s *Server) drain() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.shutdownTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancelTimeout()
	} else {
		cancel()
	}

	go func() {
		select {
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout bypassed via Close()")
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.pool.Shutdown(ctx)
	if errors.Is(err, ErrPoolClosed) {
		return nil
	}
	return err
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// isTransientAcceptError reports whether an accept failure concerns only the
// pending connection or a momentary resource shortage.
func isTransientAcceptError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.EINTR)
}

func nextAcceptDelay(delay time.Duration) time.Duration {
	if delay == 0 {
		return minAcceptDelay
	}
	return min(delay*2, maxAcceptDelay)
}

// closeListener closes l, treating an already closed listener as success.
func closeListener(l *net.TCPListener) error {
	if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func canceledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
