// Package socketpool provides a TCP request/response server that runs each
// connection as a persistent session on a fixed-size worker pool.
// Sessions poll a non-blocking socket, sleeping a short backoff whenever a read
// or write would block, and exchange tagged binary frames (see Codec).
package socketpool

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Errors returned by session operations.
var (
	// ErrWouldBlock is reported by a non-blocking read or write that could not make progress.
	// Sessions retry it after a backoff; it never escapes Run.
	ErrWouldBlock = errors.New("operation would block")
	// ErrConnectionClosed is returned when the peer closed the connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNilConn is returned by NewSession when no connection is given.
	ErrNilConn = errors.New("nil connection")
)

// State is the position of a session in its read-handle-write cycle.
type State int32

const (
	StateReading State = iota + 1
	StateHandling
	StateWriting
	StateClosed
	StateFailed
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateReading:
		return "READING"
	case StateHandling:
		return "HANDLING"
	case StateWriting:
		return "WRITING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Stats is a snapshot of session counters.
type Stats struct {
	// Frames is the number of requests answered.
	Frames uint64
	// ReadRetries counts reads that would have blocked.
	ReadRetries uint64
	// WriteRetries counts writes that would have blocked.
	WriteRetries uint64
}

// Session owns one accepted connection and answers its requests in order
// until the peer disconnects or an unrecoverable error occurs.
// A session must be run by exactly one goroutine.
type Session struct {
	id      string
	rawConn *net.TCPConn
	io      *nonblockingConn
	logger  Logger

	opts options

	pending []byte // bytes read but not yet decoded
	scratch []byte

	state        atomic.Int32
	frames       atomic.Uint64
	readRetries  atomic.Uint64
	writeRetries atomic.Uint64
	closed       atomic.Bool
}

// NewSession wraps conn, switches it to non-blocking mode and applies the options.
func NewSession(conn *net.TCPConn, opt ...Option) (*Session, error) {
	if conn == nil {
		return nil, ErrNilConn
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	nb, err := newNonblockingConn(conn)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		id:      id,
		rawConn: conn,
		io:      nb,
		logger:  withAttrs(opts.logger, "session_id", id, "addr", conn.RemoteAddr()),
		opts:    opts,
		scratch: make([]byte, opts.readChunk),
	}
	s.state.Store(int32(StateReading))

	return s, nil
}

// ID returns the unique session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Addr returns the remote address of the connection.
func (s *Session) Addr() net.Addr {
	return s.rawConn.RemoteAddr()
}

// State returns the current state. Safe for concurrent use.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of the session counters. Safe for concurrent use.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:       s.frames.Load(),
		ReadRetries:  s.readRetries.Load(),
		WriteRetries: s.writeRetries.Load(),
	}
}

// Run serves requests until the session ends and always closes the connection.
//
// Returns:
//   - nil: the peer closed the connection
//   - ctx.Err(): the context was canceled while the session was waiting
//   - *DecodeError: the peer sent a malformed frame
//   - any other error: an unrecoverable read, write or encode failure
//
// A panic in the handler or codec fails the session and is re-raised after the
// connection is closed.
func (s *Session) Run(ctx context.Context) error {
	defer s.closeConn()
	defer func() {
		if r := recover(); r != nil {
			s.state.Store(int32(StateFailed))
			s.logger.Error("session panicked", "frames", s.frames.Load(), "panic", r)
			panic(r)
		}
	}()

	s.logger.Debug("session started",
		"backoff", s.opts.backoff,
		"read_chunk", s.opts.readChunk)

	err := s.serve(ctx)
	s.closeConn()

	stats := s.Stats()
	switch {
	case err == nil:
		s.state.Store(int32(StateClosed))
		s.logger.Info("session closed", "frames", stats.Frames)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.state.Store(int32(StateFailed))
		s.logger.Info("session aborted", "frames", stats.Frames, "error", err)
	default:
		s.state.Store(int32(StateFailed))
		s.logger.Warn("session failed", "frames", stats.Frames, "error", err)
	}

	return err
}

// Close closes the underlying connection. The running session observes the
// closure on its next read or write. Safe to call multiple times.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

func (s *Session) serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := s.readMessage(ctx)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				return nil
			}
			return err
		}

		resp := s.opts.handler.Handle(msg)
		frame, err := s.opts.codec.Encode(resp)
		if err != nil {
			return errors.Wrap(err, "encode")
		}

		s.state.Store(int32(StateWriting))
		if err := s.writeFrame(ctx, frame); err != nil {
			return err
		}
		s.frames.Add(1)
	}
}

// readMessage returns the next request. It decodes from already buffered bytes
// first and only reads from the socket while no whole frame is buffered, so a
// request is never read before the previous response has been written.
func (s *Session) readMessage(ctx context.Context) (ClientMessage, error) {
	s.state.Store(int32(StateReading))

	for {
		if len(s.pending) > 0 {
			msg, n, err := s.opts.codec.Decode(s.pending)
			if err == nil {
				s.state.Store(int32(StateHandling))
				s.consume(n)
				return msg, nil
			}
			if !errors.Is(err, ErrShortFrame) {
				s.state.Store(int32(StateHandling))
				return nil, err
			}
		}

		n, err := s.io.Read(s.scratch)
		switch {
		case errors.Is(err, ErrWouldBlock):
			s.readRetries.Add(1)
			if err := s.pause(ctx); err != nil {
				return nil, err
			}
			continue
		case err != nil:
			return nil, errors.Wrap(err, "read")
		case n == 0:
			if len(s.pending) > 0 {
				s.logger.Debug("peer closed mid-frame", "discarded", len(s.pending))
			}
			return nil, ErrConnectionClosed
		}

		s.pending = append(s.pending, s.scratch[:n]...)
	}
}

// writeFrame writes the whole frame, retrying after a backoff while the socket
// buffer is full.
func (s *Session) writeFrame(ctx context.Context, frame []byte) error {
	for len(frame) > 0 {
		n, err := s.io.Write(frame)
		if errors.Is(err, ErrWouldBlock) {
			s.writeRetries.Add(1)
			if err := s.pause(ctx); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return errors.Wrap(err, "write")
		}
		frame = frame[n:]
	}
	return nil
}

// pause sleeps for the backoff interval or until ctx is done.
func (s *Session) pause(ctx context.Context) error {
	timer := time.NewTimer(s.opts.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// consume drops the first n pending bytes, keeping the backing array.
func (s *Session) consume(n int) {
	rest := copy(s.pending, s.pending[n:])
	s.pending = s.pending[:rest]
}

// closeConn marks the session as closed and closes the underlying TCP connection.
func (s *Session) closeConn() {
	if s.closed.Swap(true) {
		return
	}
	_ = s.rawConn.Close()
}
