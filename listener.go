package socket

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// ListenerLoggerOption sets the logger for the listener.
func ListenerLoggerOption(logger Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// ListenerShutdownTimeoutOption sets the graceful shutdown timeout. When
// the context passed to Listen is canceled, the listener waits up to this
// duration before closing the listening socket, giving in-flight
// OnNewConnection handlers time to finish accepting. Default is 0
// (immediate shutdown). Call Stop to bypass the remaining timeout.
func ListenerShutdownTimeoutOption(timeout time.Duration) ListenerOption {
	return func(l *Listener) {
		l.shutdownTimeout = timeout
	}
}

// OnConnectionRequestOption sets the pre-accept filter: called with the
// remote address of an inbound connection before a Conn is constructed for
// it. Returning false rejects the peer, closing the socket immediately
// with a short linger instead of a graceful FIN.
func OnConnectionRequestOption(filter func(remote net.Addr) bool) ListenerOption {
	return func(l *Listener) {
		l.onConnectionRequest = filter
	}
}

// OnNewConnectionOption sets the callback invoked once per accepted,
// filter-passed socket, the way the teacher's Handler.Handle does: the
// callback owns wrapping raw in a Conn (with whatever per-connection
// options it needs — typically closures capturing a connection ID or
// registry) and driving it, typically by starting Conn.ReadLoop in its own
// goroutine.
func OnNewConnectionOption(handler func(raw net.Conn)) ListenerOption {
	return func(l *Listener) {
		l.onNewConnection = handler
	}
}

// Listener accepts inbound transport connections and, for each one that
// passes an optional pre-accept filter, hands the raw net.Conn to the
// OnNewConnection callback (§4.6). The Listener does not construct a
// Conn; the callback does.
type Listener struct {
	logger          Logger
	shutdownTimeout time.Duration

	onConnectionRequest func(remote net.Addr) bool
	onNewConnection     func(raw net.Conn)

	mu          sync.Mutex
	ln          net.Listener
	listening   bool
	shutdownNow chan struct{}
}

// NewListener constructs a Listener. OnNewConnectionOption must be set
// before Listen is called, or every accepted socket is immediately closed
// with no handler to drive it.
func NewListener(opt ...ListenerOption) *Listener {
	l := &Listener{
		logger:      defaultLogger(),
		shutdownNow: make(chan struct{}),
	}
	for _, o := range opt {
		o(l)
	}
	return l
}

// Listen binds address and runs the accept loop until ctx is canceled, Stop
// is called, or an unrecoverable accept error occurs. It blocks. Rejects a
// second concurrent Listen on the same Listener with ErrAlreadyListening.
func (l *Listener) Listen(ctx context.Context, network, address string) error {
	l.mu.Lock()
	if l.listening {
		l.mu.Unlock()
		return ErrAlreadyListening
	}
	l.listening = true
	l.mu.Unlock()

	lc := net.ListenConfig{Control: controlReuseAddr}
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		l.mu.Lock()
		l.listening = false
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.logger.Info("listener started", "addr", ln.Addr())

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}

		if l.shutdownTimeout > 0 {
			l.logger.Info("graceful shutdown initiated", "timeout", l.shutdownTimeout)
			select {
			case <-time.After(l.shutdownTimeout):
			case <-l.shutdownNow:
				l.logger.Debug("shutdown timeout bypassed via Stop")
			}
		}

		_ = ln.Close()
	}()
	defer close(stopped)

	for {
		raw, aerr := ln.Accept()
		if aerr != nil {
			var netErr net.Error
			if errors.As(aerr, &netErr) && netErr.Timeout() {
				continue
			}

			l.mu.Lock()
			l.listening = false
			l.mu.Unlock()

			if ctx.Err() != nil {
				l.logger.Info("listener stopped", "addr", ln.Addr())
				return ctx.Err()
			}
			l.logger.Info("listener stopped", "addr", ln.Addr())
			return nil
		}

		if l.onConnectionRequest != nil && !l.onConnectionRequest(raw.RemoteAddr()) {
			l.logger.Debug("rejected connection", "remote_addr", raw.RemoteAddr())
			if tcp, ok := raw.(*net.TCPConn); ok {
				_ = tcp.SetLinger(0)
			}
			_ = raw.Close()
			continue
		}

		l.logger.Debug("accepted connection", "remote_addr", raw.RemoteAddr())
		if tcp, ok := raw.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		if l.onNewConnection != nil {
			l.onNewConnection(raw)
		} else {
			_ = raw.Close()
		}
	}
}

// Stop releases the listening socket, bypassing any remaining shutdown
// timeout, and unblocks Listen's accept loop. Safe to call more than once.
func (l *Listener) Stop() error {
	l.mu.Lock()
	ln := l.ln
	l.listening = false
	l.mu.Unlock()

	select {
	case l.shutdownNow <- struct{}{}:
	default:
	}

	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Addr returns the listener's bound address, or nil if Listen has not yet
// succeeded.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}
