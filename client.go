package socketpool

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// ErrUnexpectedResponse is returned when the server answers with a different message type than requested.
var ErrUnexpectedResponse = errors.New("unexpected response")

// Client is a blocking client for the socketpool protocol.
// A Client is not safe for concurrent use: requests and responses are paired in order.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	codec   *BinaryCodec
	timeout time.Duration
}

// Dial connects to a server. timeout bounds each request/response round-trip;
// zero means no deadline.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return NewClient(conn, timeout), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		codec:   NewBinaryCodec(defaultMaxPayload),
		timeout: timeout,
	}
}

// Send writes one request frame.
func (c *Client) Send(msg ClientMessage) error {
	frame, err := c.codec.EncodeClient(msg)
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	_, err = c.conn.Write(frame)
	return errors.Wrap(err, "send")
}

// Receive reads one response frame.
func (c *Client) Receive() (ServerMessage, error) {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	msg, err := c.codec.ReadServerMessage(c.reader)
	if err != nil {
		return nil, errors.Wrap(err, "receive")
	}
	return msg, nil
}

// Echo sends content and returns the echoed bytes.
func (c *Client) Echo(content []byte) ([]byte, error) {
	if err := c.Send(Echo{Content: content}); err != nil {
		return nil, err
	}

	msg, err := c.Receive()
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(EchoResponse)
	if !ok {
		return nil, errors.Wrapf(ErrUnexpectedResponse, "want %s, got %s", TagEchoResponse, msg.Tag())
	}
	return resp.Content, nil
}

// Add asks the server for a+b.
func (c *Client) Add(a, b int32) (int32, error) {
	if err := c.Send(Add{A: a, B: b}); err != nil {
		return 0, err
	}

	msg, err := c.Receive()
	if err != nil {
		return 0, err
	}
	resp, ok := msg.(AddResponse)
	if !ok {
		return 0, errors.Wrapf(ErrUnexpectedResponse, "want %s, got %s", TagAddResponse, msg.Tag())
	}
	return resp.Sum, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
