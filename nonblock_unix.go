//go:build unix

package socketpool

import (
	"net"
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// nonblockingConn performs single read and write system calls on the socket fd
// without parking in the runtime poller. EAGAIN is reported as ErrWouldBlock.
type nonblockingConn struct {
	raw syscall.RawConn
}

func newNonblockingConn(c *net.TCPConn) (*nonblockingConn, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "syscall conn")
	}

	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.SetNonblock(int(fd), true)
	}); err != nil {
		return nil, errors.Wrap(err, "control")
	}
	if serr != nil {
		return nil, errors.Wrap(os.NewSyscallError("setnonblock", serr), "set non-blocking")
	}

	return &nonblockingConn{raw: raw}, nil
}

// Read reads at most len(p) bytes. It returns (0, nil) on orderly shutdown by the peer.
func (c *nonblockingConn) Read(p []byte) (int, error) {
	var (
		n    int
		serr error
	)
	err := c.raw.Read(func(fd uintptr) bool {
		n, serr = unix.Read(int(fd), p)
		// Returning true hands control back without waiting for readiness.
		return true
	})
	if err != nil {
		return 0, err
	}
	if serr != nil {
		return 0, classifyErrno("read", serr)
	}
	return n, nil
}

// Write writes at most len(p) bytes and reports how many the kernel accepted.
func (c *nonblockingConn) Write(p []byte) (int, error) {
	var (
		n    int
		serr error
	)
	err := c.raw.Write(func(fd uintptr) bool {
		n, serr = unix.Write(int(fd), p)
		return true
	})
	if err != nil {
		return 0, err
	}
	if serr != nil {
		return 0, classifyErrno("write", serr)
	}
	return n, nil
}

func classifyErrno(op string, err error) error {
	switch err {
	case unix.EAGAIN, unix.EINTR:
		// EWOULDBLOCK == EAGAIN on every supported unix.
		return ErrWouldBlock
	default:
		return os.NewSyscallError(op, err)
	}
}
