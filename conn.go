// Package socket provides a framed-message protocol library over a
// reliable byte-stream transport. It supports client and server roles,
// a fixed-capacity message object with bounds-checked typed I/O, a
// pooled free list of those objects, and a stream framer that
// reassembles messages from arbitrarily fragmented or coalesced reads.
package socket

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rlansky/wiresock/internal/bytequeue"
	"github.com/rlansky/wiresock/internal/frame"
)

// fillChunk bounds how many bytes a single transport Read or queue
// Reserve/Acquire call asks for at once.
const fillChunk = 64 * 1024

// Delivery is the per-message action token handed to the OnMessage
// callback. It starts with Recycle true (the synchronous, allocation-
// free path); set it false to retain msg beyond the callback — the
// caller then owns msg and must eventually return it via Conn.Free.
type Delivery struct {
	Recycle bool
}

// Conn is a client or accepted connection: it owns a transport endpoint,
// the byte queue and frame reader that reassemble incoming messages, and
// the message pool backing both receive and SendType.
type Conn struct {
	rawConn net.Conn
	logger  Logger
	opts    options

	pool   *Pool
	reader *frame.Reader
	queue  *bytequeue.Queue

	reading atomic.Bool
	closing atomic.Bool
	cancel  context.CancelFunc

	writeMu sync.Mutex
}

// framePoolAdapter lets *Pool satisfy frame.Pool without the frame
// package importing the root package (which owns *Message).
type framePoolAdapter struct{ pool *Pool }

func (a framePoolAdapter) Allocate() frame.Message { return a.pool.Allocate() }

// NewConn wraps an already-accepted net.Conn (the listener's role per
// §4.5: "created... wrapping an accepted socket").
func NewConn(raw net.Conn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}
	return newConn(raw, opts), nil
}

// Dial opens a new connection to address (the spec's "constructed
// pre-connect; connect opens the socket", collapsed into one call the
// way net.Dial does).
func Dial(ctx context.Context, network, address string, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrap(err, "socket: dial")
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	return newConn(raw, opts), nil
}

func newConn(raw net.Conn, opts options) *Conn {
	pool := NewPool(opts.poolCapacity)
	c := &Conn{
		rawConn: raw,
		logger:  opts.logger,
		opts:    opts,
		pool:    pool,
		queue:   bytequeue.New(opts.bufferSize),
	}
	c.reader = frame.New(framePoolAdapter{pool}, opts.maxPacketSize, opts.maxFragments)
	return c
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// IsClosed reports whether Close has been called on this connection.
func (c *Conn) IsClosed() bool {
	return c.closing.Load()
}

// Free returns a message retained by an asynchronous OnMessage handler
// (one that set Delivery.Recycle to false) to this connection's pool.
func (c *Conn) Free(msg *Message) {
	c.pool.Free(msg)
}

// Send writes msg's packet memory to the transport in full, retrying on
// short writes up to the connection's send retry limit. Returns the
// number of bytes sent.
func (c *Conn) Send(msg *Message) (int, error) {
	if c.closing.Load() {
		return 0, ErrConnectionClosed
	}

	data := msg.GetPacketMemory()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.idleTimeout * 2))

	sent := 0
	for iter := 0; sent < len(data); iter++ {
		if iter >= c.opts.sendRetryLimit {
			return sent, ErrSendExhausted
		}

		n, err := c.rawConn.Write(data[sent:])
		if err != nil {
			return sent, errors.Wrap(err, "socket: send")
		}
		sent += n
		if n == 0 {
			// A zero-byte write from the transport terminates the loop
			// as "done" with whatever has been sent so far.
			return sent, nil
		}
	}
	return sent, nil
}

// SendType allocates a message from this connection's pool, sets its
// type, runs populate against it, sends it, and returns the message to
// the pool.
func (c *Conn) SendType(msgType byte, populate func(*Message) error) (int, error) {
	msg := c.pool.Allocate()
	defer c.pool.Free(msg)

	msg.SetMessageType(msgType)
	if populate != nil {
		if err := populate(msg); err != nil {
			return 0, err
		}
	}
	return c.Send(msg)
}

// ReadLoop runs the receive pipeline (filler + drainer, §4.5) until the
// peer closes, a transport or protocol error occurs, ctx is canceled, or
// Close is called. A second call on the same connection while one is
// running returns ErrAlreadyReading.
func (c *Conn) ReadLoop(ctx context.Context) error {
	if !c.reading.CompareAndSwap(false, true) {
		return ErrAlreadyReading
	}
	defer c.reading.Store(false)

	c.logger.Info("connection established", "addr", c.Addr())

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	// group derives its own context from ctx and cancels it the moment
	// either fill or drain returns a non-nil error, same as the teacher's
	// errgroup.WithContext pairing of readLoop/writeLoop. This is what
	// lets a protocol or handler error tear the connection down right
	// away instead of leaving the other side parked until its own idle
	// timeout fires.
	group, gctx := errgroup.WithContext(ctx)

	// A cancellation watcher, separate from the filler/drainer errgroup:
	// it unblocks both of them (queue close wakes a blocked Acquire or
	// Reserve; the read deadline unblocks a blocked transport Read)
	// whether cancellation came from the caller's ctx, from Close, or
	// from the group's own error-triggered cancellation.
	done := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
			c.queue.Close()
			_ = c.rawConn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	var fillErr, drainErr error
	group.Go(func() error {
		fillErr = c.fill(gctx)
		return fillErr
	})
	group.Go(func() error {
		drainErr = c.drain(gctx)
		return drainErr
	})

	err := group.Wait()
	cancel()
	close(done)

	c.finishClose(fillErr, drainErr)
	return err
}

// finishClose tears down the transport and fires the disconnect event,
// exactly once, unless the local side already initiated the close.
func (c *Conn) finishClose(fillErr, drainErr error) {
	wasClosing := c.closing.Swap(true)

	if tcp, ok := c.rawConn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	_ = c.rawConn.Close()

	if wasClosing {
		return
	}

	reason := ""
	switch {
	case drainErr != nil:
		reason = drainErr.Error()
	case fillErr != nil && !errors.Is(fillErr, context.Canceled):
		reason = fillErr.Error()
	}

	if reason == "" {
		c.logger.Info("connection closed", "addr", c.Addr())
	} else {
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", reason)
	}

	if c.opts.onDisconnected != nil {
		c.opts.onDisconnected(reason)
	}
}

// Close marks the connection as closing and unblocks the receive
// pipeline. If the local side initiated the close, the disconnect event
// is not fired. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closing.Swap(true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.queue.Close()
	_ = c.rawConn.SetReadDeadline(time.Now())
	return nil
}

// fill is the producer half of the receive pipeline: it reads from the
// transport into the byte queue's writable region and commits what it
// got, until the peer closes, the transport errors, or the queue is
// closed locally.
func (c *Conn) fill(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout * 2))

		dst, err := c.queue.Reserve(fillChunk)
		if err != nil {
			return nil
		}

		n, rerr := c.rawConn.Read(dst)
		if n > 0 {
			c.queue.Commit(n)
		}
		if rerr != nil {
			c.queue.Close()
			if rerr == io.EOF {
				return nil
			}
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() && ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(rerr, "socket: read")
		}
		if n == 0 {
			c.queue.Close()
			return nil
		}
	}
}

// drain is the consumer half of the receive pipeline: it drives the
// frame reader over whatever bytes the queue makes available, until the
// queue is closed and fully drained or the frame reader hits a protocol
// error.
func (c *Conn) drain(ctx context.Context) error {
	for {
		b, err := c.queue.Acquire(fillChunk)
		if err != nil {
			return nil
		}

		n, ferr := c.reader.Feed(b, c.handleDelivery)
		c.queue.Advance(n)
		if ferr != nil {
			return translateFrameErr(ferr)
		}
	}
}

// translateFrameErr maps internal/frame's sentinels, which code outside
// this module cannot import, onto this package's public ones, so a caller
// can errors.Is(err, ErrInvalidHeader) without reaching into an internal
// package. The frame error's text is kept in the message; only this
// package's sentinel is wrapped. Anything else (a handler error from
// OnMessage) passes through unchanged.
func translateFrameErr(err error) error {
	switch {
	case errors.Is(err, frame.ErrInvalidHeader):
		return fmt.Errorf("%s: %w", err.Error(), ErrInvalidHeader)
	case errors.Is(err, frame.ErrTooManyFragments):
		return fmt.Errorf("%s: %w", err.Error(), ErrTooManyFragments)
	default:
		return err
	}
}

// handleDelivery adapts a frame.Delivery to the connection's OnMessage
// callback, recovering a panicking handler the way the spec requires a
// user-callback failure to be caught without corrupting framer state.
func (c *Conn) handleDelivery(fd *frame.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", "addr", c.Addr(), "panic", r)
			err = errors.Errorf("socket: message handler panic: %v", r)
		}
	}()

	msg, _ := fd.Message.(*Message)
	sd := Delivery{Recycle: true}
	err = c.opts.onMessage(msg, &sd)
	fd.Recycle = sd.Recycle
	return err
}
