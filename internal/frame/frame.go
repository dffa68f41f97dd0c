// Package frame implements the receive-side state machine that turns a
// byte stream into a sequence of complete messages.
//
// Grounded in shape on SoftIron-sibench/src/comms/prelen_framer.go
// (length-prefixed framing: read a fixed header, decode a length field,
// then read exactly that many more bytes) and nasseralbess-sftp's
// network/framing.go (same idea with an explicit max-size sanity check),
// generalized here to drive off an already-buffered, possibly partial
// byte slice instead of blocking io.ReadFull calls — this reader must
// tolerate delivery one byte at a time without stalling the rest of the
// connection on a single read.
package frame

import (
	"github.com/pkg/errors"

	"github.com/rlansky/wiresock/internal/wire"
)

// Phase is the frame reader's assembly state.
type Phase int

const (
	// AwaitingHeader means fewer than wire.HeaderSize bytes of the
	// current message have been laid down.
	AwaitingHeader Phase = iota
	// AwaitingPayload means the header is complete and the reader is
	// accumulating the remaining declared bytes.
	AwaitingPayload
)

// origin constants for SeekOriginInt; socket.SeekOrigin's values line up
// with these so *socket.Message's implementation can share one switch.
const (
	seekBegin = iota
	seekCurrent
	seekEnd
)

// Message is the subset of *socket.Message the frame reader needs. It is
// expressed as an interface so this package has no import cycle back to
// the root package, which constructs and pools the concrete type.
type Message interface {
	RawWrite(p []byte) error
	RawSize() int
	PacketSizeAccordingToHeader() int
	RawSyncFromHeader()
	SeekOriginInt(delta int, origin int) error
	Reset()
}

// Pool supplies Message objects, matching socket.Pool's Allocate. The
// Reader never frees a message back to it.
type Pool interface {
	Allocate() Message
}

// ErrInvalidHeader is returned when a header declares a length outside
// [wire.HeaderSize, maxPacketSize]. Feed does not reset the Reader's
// assembly state when it returns this error.
var ErrInvalidHeader = errors.New("frame: invalid packet header")

// ErrTooManyFragments is returned when a single message requires more
// than maxFragments partial feeds to complete.
var ErrTooManyFragments = errors.New("frame: fragment limit exceeded")

// Delivery is passed to the caller for each fully assembled message; it
// also carries the action token the spec calls "auto_free": the
// callback may set Recycle to false to retain the Message beyond the
// call, in which case the Reader allocates a fresh one from the pool for
// the next message instead of resetting this one.
type Delivery struct {
	Message Message
	Recycle bool
}

// Handler is invoked once per fully assembled message. d.Recycle starts
// true (the default, synchronous-handler path); set it false to retain
// d.Message beyond the call — the caller must then eventually return it
// to the pool itself.
type Handler func(d *Delivery) error

// Reader is the per-connection frame assembly state machine. It is not
// safe for concurrent use — the spec requires the filler/drainer pair
// driving it to be single-threaded relative to each other.
type Reader struct {
	pool         Pool
	maxPacket    int
	maxFragments int

	phase     Phase
	current   Message
	fragments int
}

// New constructs a Reader that allocates its first in-progress message
// from pool, enforcing maxPacket as the per-message size ceiling and
// maxFragments as the per-message partial-feed ceiling.
func New(pool Pool, maxPacket, maxFragments int) *Reader {
	return &Reader{
		pool:         pool,
		maxPacket:    maxPacket,
		maxFragments: maxFragments,
		current:      pool.Allocate(),
	}
}

// Feed drives the state machine over the bytes in b, invoking handler
// once per completed message, in order. It returns the number of bytes
// of b actually consumed (all of it, short of a protocol error) so the
// caller can advance its byte queue's read cursor precisely. Feed must
// be called from a single goroutine per Reader.
func (r *Reader) Feed(b []byte, handler Handler) (consumed int, err error) {
	total := len(b)

	for len(b) > 0 {
		if r.phase == AwaitingHeader {
			needed := wire.HeaderSize - r.current.RawSize()
			take := needed
			if len(b) < take {
				take = len(b)
			}
			if err := r.current.RawWrite(b[:take]); err != nil {
				return total - len(b), err
			}
			b = b[take:]

			if r.current.RawSize() < wire.HeaderSize {
				r.fragments++
				if r.fragments > r.maxFragments {
					return total - len(b), ErrTooManyFragments
				}
				return total - len(b), nil
			}

			declared := r.current.PacketSizeAccordingToHeader()
			if declared < wire.HeaderSize || declared > r.maxPacket {
				return total - len(b), errors.Wrapf(ErrInvalidHeader, "declared length %d outside [%d,%d]", declared, wire.HeaderSize, r.maxPacket)
			}
			r.current.RawSyncFromHeader()
			r.phase = AwaitingPayload
		}

		needed := r.current.PacketSizeAccordingToHeader() - r.current.RawSize()
		take := needed
		if len(b) < take {
			take = len(b)
		}
		if take > 0 {
			if err := r.current.RawWrite(b[:take]); err != nil {
				return total - len(b), err
			}
			b = b[take:]
		}

		if r.current.RawSize() == r.current.PacketSizeAccordingToHeader() {
			if err := r.current.SeekOriginInt(0, seekBegin); err != nil {
				return total - len(b), err
			}

			d := Delivery{Message: r.current, Recycle: true}
			if err := handler(&d); err != nil {
				return total - len(b), err
			}

			if d.Recycle {
				d.Message.Reset()
				r.current = d.Message
			} else {
				r.current = r.pool.Allocate()
			}

			r.phase = AwaitingHeader
			r.fragments = 0
		} else {
			r.fragments++
			if r.fragments > r.maxFragments {
				return total - len(b), ErrTooManyFragments
			}
		}
	}
	return total, nil
}

// Current exposes the in-progress message, for tests and diagnostics.
func (r *Reader) Current() Message { return r.current }
