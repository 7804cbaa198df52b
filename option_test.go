package socketpool

import (
	"testing"
	"time"
)

func TestCustomCodecOption(t *testing.T) {
	codec := &mockCodec{}
	opt := CustomCodecOption(codec)

	var opts options
	opt(&opts)

	if opts.codec != codec {
		t.Error("codec not set correctly")
	}
}

func TestHandlerOption(t *testing.T) {
	called := false
	handler := HandlerFunc(func(msg ClientMessage) ServerMessage {
		called = true
		return AddResponse{}
	})
	opt := HandlerOption(handler)

	var opts options
	opt(&opts)

	if opts.handler == nil {
		t.Fatal("handler is nil")
	}

	opts.handler.Handle(Add{})
	if !called {
		t.Error("handler not called")
	}
}

func TestBackoffOption(t *testing.T) {
	opt := BackoffOption(25 * time.Millisecond)

	var opts options
	opt(&opts)

	if opts.backoff != 25*time.Millisecond {
		t.Errorf("backoff = %v, want 25ms", opts.backoff)
	}
}

func TestReadChunkOption(t *testing.T) {
	opt := ReadChunkOption(512)

	var opts options
	opt(&opts)

	if opts.readChunk != 512 {
		t.Errorf("readChunk = %d, want 512", opts.readChunk)
	}
}

func TestMessageMaxSize(t *testing.T) {
	opt := MessageMaxSize(4096)

	var opts options
	opt(&opts)

	if opts.maxFrame != 4096 {
		t.Errorf("maxFrame = %d, want 4096", opts.maxFrame)
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestCheckOptions_DefaultValues(t *testing.T) {
	var opts options
	checkOptions(&opts)

	if opts.backoff != defaultBackoff {
		t.Errorf("backoff = %v, want %v", opts.backoff, defaultBackoff)
	}
	if opts.readChunk != defaultReadChunk {
		t.Errorf("readChunk = %d, want %d", opts.readChunk, defaultReadChunk)
	}
	if opts.maxFrame != defaultMaxPayload {
		t.Errorf("maxFrame = %d, want %d", opts.maxFrame, defaultMaxPayload)
	}
	if opts.logger == nil {
		t.Error("logger not defaulted")
	}

	codec, ok := opts.codec.(*BinaryCodec)
	if !ok {
		t.Fatalf("codec = %T, want *BinaryCodec", opts.codec)
	}
	if codec.MaxPayload != defaultMaxPayload {
		t.Errorf("codec MaxPayload = %d, want %d", codec.MaxPayload, defaultMaxPayload)
	}
	if _, ok := opts.handler.(EchoAddHandler); !ok {
		t.Errorf("handler = %T, want EchoAddHandler", opts.handler)
	}
}

func TestCheckOptions_MaxSizeAppliesToDefaultCodec(t *testing.T) {
	opts := options{maxFrame: 64}
	checkOptions(&opts)

	codec, ok := opts.codec.(*BinaryCodec)
	if !ok {
		t.Fatalf("codec = %T, want *BinaryCodec", opts.codec)
	}
	if codec.MaxPayload != 64 {
		t.Errorf("codec MaxPayload = %d, want 64", codec.MaxPayload)
	}
}

func TestCheckOptions_KeepsCustomValues(t *testing.T) {
	codec := &mockCodec{}
	logger := &mockLogger{}

	opts := options{
		codec:     codec,
		logger:    logger,
		backoff:   time.Second,
		readChunk: 16,
	}
	checkOptions(&opts)

	if opts.codec != codec {
		t.Error("custom codec replaced")
	}
	if opts.logger != logger {
		t.Error("custom logger replaced")
	}
	if opts.backoff != time.Second {
		t.Errorf("backoff = %v, want 1s", opts.backoff)
	}
	if opts.readChunk != 16 {
		t.Errorf("readChunk = %d, want 16", opts.readChunk)
	}
}

func TestPoolOptions(t *testing.T) {
	logger := &mockLogger{}

	var opts poolOptions
	for _, opt := range []PoolOption{
		PoolQueueSizeOption(7),
		PoolLoggerOption(logger),
	} {
		opt(&opts)
	}

	if opts.queueSize != 7 {
		t.Errorf("queueSize = %d, want 7", opts.queueSize)
	}
	if opts.logger != logger {
		t.Error("logger not set")
	}
}
