package socketpool

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Frame layout, all integers big-endian:
//
//	Echo, EchoResponse: tag(1) | length(4) | content(length)
//	Add:                tag(1) | a(4) | b(4)
//	AddResponse:        tag(1) | sum(4)
const (
	tagSize    = 1
	lengthSize = 4
	int32Size  = 4

	addFrameSize         = tagSize + 2*int32Size
	addResponseFrameSize = tagSize + int32Size
	echoHeaderSize       = tagSize + lengthSize
)

// Errors returned by the codec.
var (
	// ErrShortFrame is returned by Decode when the buffer holds only part of a frame.
	// It is not a protocol error: the caller should read more bytes and try again.
	ErrShortFrame = errors.New("short frame")
	// ErrUnknownTag is returned when a frame starts with a tag the decoder does not accept.
	ErrUnknownTag = errors.New("unknown message tag")
	// ErrFrameTooLarge is returned when a frame declares a payload above the configured limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// DecodeError reports a malformed frame. It is fatal to the session that read it.
type DecodeError struct {
	Tag Tag
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode 0x%02x: %v", byte(e.Tag), e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

// Cause returns the underlying cause for github.com/pkg/errors.Cause.
func (e *DecodeError) Cause() error { return e.Err }

// Codec is the interface for the server side of the wire protocol.
//
// Decode works on an accumulated byte buffer rather than a reader because the
// session reads from a non-blocking socket: a frame may arrive across many reads.
type Codec interface {
	// Decode decodes exactly one frame from the front of buf and returns the
	// message and the number of bytes it consumed. It returns ErrShortFrame when
	// buf does not yet hold a whole frame, and a *DecodeError when it never will.
	Decode(buf []byte) (ClientMessage, int, error)
	// Encode encodes a ServerMessage into one self-delimiting frame.
	Encode(ServerMessage) ([]byte, error)
}

// BinaryCodec implements the tag + payload framing described above.
type BinaryCodec struct {
	// MaxPayload caps the declared length of Echo content. Zero means defaultMaxPayload.
	MaxPayload int
}

// NewBinaryCodec returns a BinaryCodec that rejects Echo payloads above maxPayload bytes.
func NewBinaryCodec(maxPayload int) *BinaryCodec {
	return &BinaryCodec{MaxPayload: maxPayload}
}

func (c *BinaryCodec) maxPayload() int {
	if c == nil || c.MaxPayload <= 0 {
		return defaultMaxPayload
	}
	return c.MaxPayload
}

// Decode implements Codec.
func (c *BinaryCodec) Decode(buf []byte) (ClientMessage, int, error) {
	if len(buf) < tagSize {
		return nil, 0, ErrShortFrame
	}

	tag := Tag(buf[0])
	switch tag {
	case TagEcho:
		content, n, err := decodeContent(tag, buf, c.maxPayload())
		if err != nil {
			return nil, 0, err
		}
		return Echo{Content: content}, n, nil

	case TagAdd:
		if len(buf) < addFrameSize {
			return nil, 0, ErrShortFrame
		}
		a := int32(binary.BigEndian.Uint32(buf[tagSize:]))
		b := int32(binary.BigEndian.Uint32(buf[tagSize+int32Size:]))
		return Add{A: a, B: b}, addFrameSize, nil

	default:
		return nil, 0, &DecodeError{Tag: tag, Err: ErrUnknownTag}
	}
}

// Encode implements Codec.
func (c *BinaryCodec) Encode(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case EchoResponse:
		if len(m.Content) > c.maxPayload() {
			return nil, errors.Wrapf(ErrFrameTooLarge, "encode %s: %d bytes", m.Tag(), len(m.Content))
		}
		return appendContent(nil, TagEchoResponse, m.Content), nil
	case AddResponse:
		frame := make([]byte, addResponseFrameSize)
		frame[0] = byte(TagAddResponse)
		binary.BigEndian.PutUint32(frame[tagSize:], uint32(m.Sum))
		return frame, nil
	default:
		return nil, errors.Errorf("encode: unsupported server message %T", msg)
	}
}

// EncodeClient encodes a ClientMessage into one frame. It is the client-side
// counterpart of Decode.
func (c *BinaryCodec) EncodeClient(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Echo:
		if len(m.Content) > c.maxPayload() {
			return nil, errors.Wrapf(ErrFrameTooLarge, "encode %s: %d bytes", m.Tag(), len(m.Content))
		}
		return appendContent(nil, TagEcho, m.Content), nil
	case Add:
		frame := make([]byte, addFrameSize)
		frame[0] = byte(TagAdd)
		binary.BigEndian.PutUint32(frame[tagSize:], uint32(m.A))
		binary.BigEndian.PutUint32(frame[tagSize+int32Size:], uint32(m.B))
		return frame, nil
	default:
		return nil, errors.Errorf("encode: unsupported client message %T", msg)
	}
}

// ReadServerMessage reads exactly one server frame from r. It is the
// client-side counterpart of Encode and blocks until the frame is complete.
func (c *BinaryCodec) ReadServerMessage(r io.Reader) (ServerMessage, error) {
	var header [echoHeaderSize]byte
	if _, err := io.ReadFull(r, header[:tagSize]); err != nil {
		return nil, err
	}

	tag := Tag(header[0])
	switch tag {
	case TagEchoResponse:
		if _, err := io.ReadFull(r, header[tagSize:]); err != nil {
			return nil, errors.Wrap(err, "read echo length")
		}
		length := binary.BigEndian.Uint32(header[tagSize:])
		if uint64(length) > uint64(c.maxPayload()) {
			return nil, &DecodeError{Tag: tag, Err: ErrFrameTooLarge}
		}
		content := make([]byte, length)
		if _, err := io.ReadFull(r, content); err != nil {
			return nil, errors.Wrap(err, "read echo content")
		}
		return EchoResponse{Content: content}, nil

	case TagAddResponse:
		if _, err := io.ReadFull(r, header[tagSize:tagSize+int32Size]); err != nil {
			return nil, errors.Wrap(err, "read sum")
		}
		return AddResponse{Sum: int32(binary.BigEndian.Uint32(header[tagSize:]))}, nil

	default:
		return nil, &DecodeError{Tag: tag, Err: ErrUnknownTag}
	}
}

// decodeContent decodes a length-prefixed payload. The returned slice is a copy
// so the caller may reuse buf.
func decodeContent(tag Tag, buf []byte, limit int) ([]byte, int, error) {
	if len(buf) < echoHeaderSize {
		return nil, 0, ErrShortFrame
	}

	length := binary.BigEndian.Uint32(buf[tagSize:])
	if uint64(length) > uint64(limit) {
		return nil, 0, &DecodeError{Tag: tag, Err: ErrFrameTooLarge}
	}

	end := echoHeaderSize + int(length)
	if len(buf) < end {
		return nil, 0, ErrShortFrame
	}

	content := make([]byte, length)
	copy(content, buf[echoHeaderSize:end])
	return content, end, nil
}

func appendContent(dst []byte, tag Tag, content []byte) []byte {
	dst = append(dst, byte(tag))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(content)))
	return append(dst, content...)
}
