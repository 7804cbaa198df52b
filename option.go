package socketpool

import (
	"time"
)

// Default configuration values.
const (
	// defaultBackoff is the pause between attempts when a read or write would block.
	defaultBackoff = 10 * time.Millisecond
	// defaultMaxPayload is the default maximum Echo payload (1MB).
	defaultMaxPayload = 1024 * 1024
	// defaultReadChunk is how many bytes a session asks the kernel for per read.
	defaultReadChunk = 4096
)

// options holds the configuration for a session.
type options struct {
	codec   Codec
	handler Handler
	logger  Logger

	backoff   time.Duration // pause after a would-block result
	readChunk int           // size of the per-read scratch buffer
	maxFrame  int           // maximum Echo payload accepted by the default codec
}

// Option is a function that configures session options.
type Option func(*options)

// CustomCodecOption returns an Option that sets the message codec.
// If not set, a BinaryCodec limited by MessageMaxSize is used.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// HandlerOption returns an Option that sets the request handler.
// If not set, EchoAddHandler is used.
func HandlerOption(handler Handler) Option {
	return func(o *options) {
		o.handler = handler
	}
}

// BackoffOption returns an Option that sets how long a session sleeps after a
// read or write reports that it would block.
func BackoffOption(backoff time.Duration) Option {
	return func(o *options) {
		o.backoff = backoff
	}
}

// ReadChunkOption returns an Option that sets the size of each socket read.
func ReadChunkOption(size int) Option {
	return func(o *options) {
		o.readChunk = size
	}
}

// MessageMaxSize returns an Option that sets the maximum Echo payload size.
// Frames declaring a larger payload end the session. It has no effect when a
// custom codec is set.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxFrame = size
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// checkOptions sets default values for session options.
func checkOptions(opts *options) {
	if opts.backoff <= 0 {
		opts.backoff = defaultBackoff
	}

	if opts.readChunk <= 0 {
		opts.readChunk = defaultReadChunk
	}

	if opts.maxFrame <= 0 {
		opts.maxFrame = defaultMaxPayload
	}

	if opts.codec == nil {
		opts.codec = NewBinaryCodec(opts.maxFrame)
	}

	if opts.handler == nil {
		opts.handler = EchoAddHandler{}
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// poolOptions holds the configuration for a worker pool.
type poolOptions struct {
	queueSize int
	logger    Logger
}

// PoolOption configures a Pool.
type PoolOption func(*poolOptions)

// PoolQueueSizeOption sets how many submitted tasks may wait for a free worker
// before Submit blocks. Default is the number of workers.
func PoolQueueSizeOption(size int) PoolOption {
	return func(o *poolOptions) {
		o.queueSize = size
	}
}

// PoolLoggerOption sets the logger for the pool.
func PoolLoggerOption(logger Logger) PoolOption {
	return func(o *poolOptions) {
		o.logger = logger
	}
}
