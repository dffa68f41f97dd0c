// Command echo runs a framed-message echo listener: every message it
// receives, it sends straight back to the same connection, unmodified.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rlansky/wiresock"
)

// registry tracks live connections: handle adds each wrapped Conn and
// removes it when ReadLoop returns. Nothing reads it; the echo behavior
// itself needs no cross-connection state.
type registry struct {
	mu    sync.Mutex
	conns map[*socket.Conn]struct{}
}

func newRegistry() *registry {
	return &registry{conns: make(map[*socket.Conn]struct{})}
}

func (r *registry) add(c *socket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

func (r *registry) remove(c *socket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

func handle(reg *registry, raw net.Conn) {
	// conn is assigned below, after the options that close over it are
	// built; the closures only run once ReadLoop starts delivering
	// messages, by which point conn is set.
	var conn *socket.Conn

	onMessage := socket.OnMessageOption(func(msg *socket.Message, d *socket.Delivery) error {
		body, err := msg.ReadBytes(msg.Size() - socket.HeaderSize)
		if err != nil {
			return err
		}

		_, err = conn.SendType(msg.MessageType(), func(out *socket.Message) error {
			return out.WriteBytes(body)
		})
		return err
	})

	onDisconnected := socket.OnDisconnectedOption(func(reason string) {
		if reason != "" {
			slog.Warn("connection lost", "addr", raw.RemoteAddr(), "reason", reason)
		}
	})

	var err error
	conn, err = socket.NewConn(raw, onMessage, onDisconnected)
	if err != nil {
		slog.Error("failed to wrap connection", "error", err)
		_ = raw.Close()
		return
	}

	reg.add(conn)
	defer reg.remove(conn)

	if err := conn.ReadLoop(context.Background()); err != nil {
		slog.Debug("read loop ended", "addr", conn.Addr(), "error", err)
	}
}

func main() {
	reg := newRegistry()

	ln := socket.NewListener(
		socket.OnNewConnectionOption(func(raw net.Conn) {
			go handle(reg, raw)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down listener...")
		cancel()
		_ = ln.Stop()
	}()

	slog.Info("listener start", "addr", "127.0.0.1:12345")
	if err := ln.Listen(ctx, "tcp", "127.0.0.1:12345"); err != nil {
		slog.Error("listener error", "error", err)
	}
}
