package socketpool

import (
	"bytes"
	"io"
	"math"
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func TestBinaryCodec_DecodeEcho(t *testing.T) {
	codec := NewBinaryCodec(0)

	for _, content := range [][]byte{
		{},
		[]byte("Hello, World!"),
		{0x00, 0xff, 0x81, 0x01},
		bytes.Repeat([]byte("a"), 70000),
	} {
		frame, err := codec.EncodeClient(Echo{Content: content})
		if err != nil {
			t.Fatalf("EncodeClient failed: %v", err)
		}

		msg, n, err := codec.Decode(frame)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if n != len(frame) {
			t.Errorf("consumed %d bytes, want %d", n, len(frame))
		}

		echo, ok := msg.(Echo)
		if !ok {
			t.Fatalf("decoded %T, want Echo", msg)
		}
		if !bytes.Equal(content, echo.Content) {
			t.Errorf("content of length %d changed", len(content))
		}
	}
}

func TestBinaryCodec_DecodeAdd(t *testing.T) {
	codec := NewBinaryCodec(0)

	frame := []byte{byte(TagAdd), 0xff, 0xff, 0xff, 0xfe, 0x00, 0x00, 0x00, 0x05}
	msg, n, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n != 9 {
		t.Errorf("consumed %d bytes, want 9", n)
	}
	if msg != (Add{A: -2, B: 5}) {
		t.Errorf("decoded %+v, want {A:-2 B:5}", msg)
	}
}

func TestBinaryCodec_DecodeConsumesOneFrame(t *testing.T) {
	codec := NewBinaryCodec(0)

	first, err := codec.EncodeClient(Echo{Content: []byte("one")})
	if err != nil {
		t.Fatalf("EncodeClient failed: %v", err)
	}
	second, err := codec.EncodeClient(Add{A: math.MaxInt32, B: math.MinInt32})
	if err != nil {
		t.Fatalf("EncodeClient failed: %v", err)
	}

	buf := append(append([]byte{}, first...), second...)

	msg, n, err := codec.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n != len(first) {
		t.Errorf("consumed %d bytes, want %d", n, len(first))
	}
	if !reflect.DeepEqual(msg, Echo{Content: []byte("one")}) {
		t.Errorf("first message = %+v", msg)
	}

	msg, n, err = codec.Decode(buf[n:])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n != len(second) {
		t.Errorf("consumed %d bytes, want %d", n, len(second))
	}
	if msg != (Add{A: math.MaxInt32, B: math.MinInt32}) {
		t.Errorf("second message = %+v", msg)
	}
}

func TestBinaryCodec_DecodeShortFrame(t *testing.T) {
	codec := NewBinaryCodec(0)

	echo, err := codec.EncodeClient(Echo{Content: []byte("truncated")})
	if err != nil {
		t.Fatalf("EncodeClient failed: %v", err)
	}
	add, err := codec.EncodeClient(Add{A: 1, B: 2})
	if err != nil {
		t.Fatalf("EncodeClient failed: %v", err)
	}

	for _, frame := range [][]byte{echo, add} {
		for i := 0; i < len(frame); i++ {
			_, n, err := codec.Decode(frame[:i])
			if !errors.Is(err, ErrShortFrame) {
				t.Errorf("prefix of %d bytes: expected ErrShortFrame, got %v", i, err)
			}
			if n != 0 {
				t.Errorf("prefix of %d bytes: consumed %d", i, n)
			}
		}
	}
}

func TestBinaryCodec_DecodeUnknownTag(t *testing.T) {
	codec := NewBinaryCodec(0)

	// Server tags are not valid requests.
	for _, tag := range []byte{0x00, 0x03, 0x7f, byte(TagEchoResponse), byte(TagAddResponse)} {
		_, _, err := codec.Decode([]byte{tag, 0, 0, 0, 0, 0, 0, 0, 0})

		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("tag 0x%02x: expected *DecodeError, got %v", tag, err)
		}
		if decodeErr.Tag != Tag(tag) {
			t.Errorf("tag = %s, want 0x%02x", decodeErr.Tag, tag)
		}
		if !errors.Is(err, ErrUnknownTag) {
			t.Errorf("expected ErrUnknownTag, got %v", err)
		}
		if errors.Cause(err) != ErrUnknownTag {
			t.Errorf("cause = %v, want ErrUnknownTag", errors.Cause(err))
		}
	}
}

func TestBinaryCodec_DecodeFrameTooLarge(t *testing.T) {
	codec := NewBinaryCodec(8)

	// Only the header is needed to reject the frame.
	header := []byte{byte(TagEcho), 0, 0, 0, 9}
	if _, _, err := codec.Decode(header); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}

	frame, err := NewBinaryCodec(0).EncodeClient(Echo{Content: []byte("12345678")})
	if err != nil {
		t.Fatalf("EncodeClient failed: %v", err)
	}
	if _, _, err := codec.Decode(frame); err != nil {
		t.Errorf("frame at the limit rejected: %v", err)
	}
}

func TestBinaryCodec_DecodeDoesNotAlias(t *testing.T) {
	codec := NewBinaryCodec(0)

	frame, err := codec.EncodeClient(Echo{Content: []byte("abc")})
	if err != nil {
		t.Fatalf("EncodeClient failed: %v", err)
	}

	msg, _, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	frame[echoHeaderSize] = 'z'

	if got := msg.(Echo).Content; string(got) != "abc" {
		t.Errorf("content = %q, want %q", got, "abc")
	}
}

func TestBinaryCodec_Encode(t *testing.T) {
	codec := NewBinaryCodec(0)

	frame, err := codec.Encode(EchoResponse{Content: []byte("hi")})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if want := []byte{byte(TagEchoResponse), 0, 0, 0, 2, 'h', 'i'}; !bytes.Equal(frame, want) {
		t.Errorf("frame = %x, want %x", frame, want)
	}

	frame, err = codec.Encode(AddResponse{Sum: -1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if want := []byte{byte(TagAddResponse), 0xff, 0xff, 0xff, 0xff}; !bytes.Equal(frame, want) {
		t.Errorf("frame = %x, want %x", frame, want)
	}

	if _, err := codec.Encode(nil); err == nil {
		t.Error("expected error encoding nil")
	}
}

func TestBinaryCodec_EncodeTooLarge(t *testing.T) {
	codec := NewBinaryCodec(4)

	if _, err := codec.Encode(EchoResponse{Content: []byte("12345")}); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Encode: expected ErrFrameTooLarge, got %v", err)
	}
	if _, err := codec.EncodeClient(Echo{Content: []byte("12345")}); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("EncodeClient: expected ErrFrameTooLarge, got %v", err)
	}
}

func TestBinaryCodec_ReadServerMessage(t *testing.T) {
	codec := NewBinaryCodec(0)

	var stream bytes.Buffer
	for _, msg := range []ServerMessage{
		EchoResponse{Content: []byte("first")},
		AddResponse{Sum: math.MinInt32},
		EchoResponse{Content: []byte{}},
	} {
		frame, err := codec.Encode(msg)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		stream.Write(frame)
	}

	msg, err := codec.ReadServerMessage(&stream)
	if err != nil {
		t.Fatalf("ReadServerMessage failed: %v", err)
	}
	if !reflect.DeepEqual(msg, EchoResponse{Content: []byte("first")}) {
		t.Errorf("first message = %+v", msg)
	}

	msg, err = codec.ReadServerMessage(&stream)
	if err != nil {
		t.Fatalf("ReadServerMessage failed: %v", err)
	}
	if msg != (AddResponse{Sum: math.MinInt32}) {
		t.Errorf("second message = %+v", msg)
	}

	msg, err = codec.ReadServerMessage(&stream)
	if err != nil {
		t.Fatalf("ReadServerMessage failed: %v", err)
	}
	if resp, ok := msg.(EchoResponse); !ok || len(resp.Content) != 0 {
		t.Errorf("third message = %+v, want empty EchoResponse", msg)
	}

	if _, err := codec.ReadServerMessage(&stream); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestBinaryCodec_ReadServerMessageErrors(t *testing.T) {
	codec := NewBinaryCodec(4)

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"request tag", []byte{byte(TagEcho)}, ErrUnknownTag},
		{"too large", []byte{byte(TagEchoResponse), 0, 0, 0, 5}, ErrFrameTooLarge},
		{"truncated echo", []byte{byte(TagEchoResponse), 0, 0, 0, 3, 'a'}, io.ErrUnexpectedEOF},
		{"truncated sum", []byte{byte(TagAddResponse), 0, 0}, io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.ReadServerMessage(bytes.NewReader(tt.input))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestTag_String(t *testing.T) {
	tests := []struct {
		tag  Tag
		want string
	}{
		{TagEcho, "Echo"},
		{TagAdd, "Add"},
		{TagEchoResponse, "EchoResponse"},
		{TagAddResponse, "AddResponse"},
		{Tag(0x55), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("Tag(0x%02x).String() = %s, want %s", byte(tt.tag), got, tt.want)
		}
	}
}

func TestDecodeError_Error(t *testing.T) {
	err := &DecodeError{Tag: 0x7f, Err: ErrUnknownTag}
	if got, want := err.Error(), "decode 0x7f: unknown message tag"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
