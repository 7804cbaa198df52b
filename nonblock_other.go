//go:build !unix

package socketpool

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// pollWindow is how long a read or write may wait for readiness before it is
// reported as ErrWouldBlock on platforms without raw fd access.
const pollWindow = time.Millisecond

// nonblockingConn emulates would-block semantics with a very short deadline.
type nonblockingConn struct {
	conn *net.TCPConn
}

func newNonblockingConn(c *net.TCPConn) (*nonblockingConn, error) {
	return &nonblockingConn{conn: c}, nil
}

func (c *nonblockingConn) Read(p []byte) (int, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pollWindow))
	n, err := c.conn.Read(p)
	return n, c.classify(n, err)
}

func (c *nonblockingConn) Write(p []byte) (int, error) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(pollWindow))
	n, err := c.conn.Write(p)
	return n, c.classify(n, err)
}

func (c *nonblockingConn) classify(n int, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if n > 0 {
			return nil
		}
		return ErrWouldBlock
	}
	if errors.Is(err, io.EOF) {
		// io.EOF maps to an orderly shutdown, reported as (0, nil).
		return nil
	}
	return err
}
