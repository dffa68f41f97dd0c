package socket

import (
	"time"
)

// options holds the configuration for a Conn, assembled the same way the
// teacher assembles its connection options: a slice of Option closures
// applied in order, then defaulted and validated.
type options struct {
	logger Logger

	onMessage      func(*Message, *Delivery) error
	onDisconnected func(reason string)

	bufferSize     int // byte-queue capacity per connection
	maxPacketSize  int // per-message size ceiling, clamped to MaxPacketSize
	poolCapacity   int
	maxFragments   int // max partial reads tolerated per message
	idleTimeout    time.Duration
	sendRetryLimit int // max transport writes per Send before ErrSendExhausted
}

// Default configuration values, named the way the teacher names its
// defaultBufferSize/defaultMaxPackageLength constants.
const (
	defaultBufferSize     = 64 * 1024
	defaultMaxFragments   = 100
	defaultIdleTimeout    = 30 * time.Second
	defaultSendRetryLimit = 1000
)

// checkOptions validates and defaults opts, mirroring the teacher's
// checkOptions: required callbacks must be present, everything else
// gets a sane default.
func checkOptions(opts *options) error {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxPacketSize <= 0 || opts.maxPacketSize > MaxPacketSize {
		opts.maxPacketSize = MaxPacketSize
	}

	if opts.poolCapacity <= 0 {
		opts.poolCapacity = DefaultPoolCapacity
	}

	if opts.maxFragments <= 0 {
		opts.maxFragments = defaultMaxFragments
	}

	if opts.idleTimeout <= 0 {
		opts.idleTimeout = defaultIdleTimeout
	}

	if opts.sendRetryLimit <= 0 {
		opts.sendRetryLimit = defaultSendRetryLimit
	}

	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// Option configures a Conn.
type Option func(*options)

// BufferSizeOption sets the byte capacity of the connection's internal
// producer/consumer queue (§4.5's "bounded byte queue").
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// MaxPacketSizeOption sets the per-connection message size ceiling.
// Values above the protocol cap (MaxPacketSize, 10 MiB) are clamped.
func MaxPacketSizeOption(size int) Option {
	return func(o *options) {
		o.maxPacketSize = size
	}
}

// PoolCapacityOption sets the maximum number of Message objects this
// connection's pool retains on free.
func PoolCapacityOption(capacity int) Option {
	return func(o *options) {
		o.poolCapacity = capacity
	}
}

// MaxFragmentsOption sets how many partial reads a single message may
// take to assemble before the connection declares a protocol failure.
func MaxFragmentsOption(n int) Option {
	return func(o *options) {
		o.maxFragments = n
	}
}

// IdleTimeoutOption sets the read/write deadline applied to the
// underlying transport (heartbeat * 2, per the teacher's convention).
func IdleTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// SendRetryLimitOption caps how many transport writes a single Send makes,
// the first write included, before failing with ErrSendExhausted.
func SendRetryLimitOption(n int) Option {
	return func(o *options) {
		o.sendRetryLimit = n
	}
}

// OnMessageOption sets the message handler callback. Required. Called
// once per fully assembled message; d.Recycle starts true — set it
// false to retain msg beyond the call (the caller must then return it
// to the connection's pool itself via Conn.Free).
func OnMessageOption(cb func(msg *Message, d *Delivery) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// OnDisconnectedOption sets the disconnect callback. reason is empty for
// a clean peer close, or a short human-readable description for a
// transport or protocol error. Not invoked if the local side initiated
// the close.
func OnDisconnectedOption(cb func(reason string)) Option {
	return func(o *options) {
		o.onDisconnected = cb
	}
}

// LoggerOption sets the logger. If not set, the default slog logger is
// used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
