package socket

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rlansky/wiresock/internal/wire"
)

// createTestTCPPair creates a connected pair of TCP connections for testing.
func createTestTCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	clientChan := make(chan *net.TCPConn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
		if err != nil {
			errChan <- err
			return
		}
		clientChan <- conn
	}()

	serverConn, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	select {
	case clientConn := <-clientChan:
		return serverConn, clientConn
	case err := <-errChan:
		serverConn.Close()
		t.Fatalf("client dial failed: %v", err)
		return nil, nil
	case <-time.After(5 * time.Second):
		serverConn.Close()
		t.Fatal("timeout waiting for client connection")
		return nil, nil
	}
}

// encodeFrame builds a complete wire frame (header + payload) for typ/body.
func encodeFrame(typ byte, body []byte) []byte {
	out := make([]byte, HeaderSize+len(body))
	wire.PutUint24(out[0:3], uint32(len(out)))
	out[3] = typ
	copy(out[HeaderSize:], body)
	return out
}

func TestNewConn_MissingOnMessage(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	_, err := NewConn(serverConn)
	if err != ErrInvalidOnMessage {
		t.Errorf("expected ErrInvalidOnMessage, got %v", err)
	}
}

func TestNewConn_WithOptions(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	conn, err := NewConn(serverConn,
		OnMessageOption(func(*Message, *Delivery) error { return nil }),
		BufferSizeOption(10),
		MaxPacketSizeOption(2048),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	if conn.opts.bufferSize != 10 {
		t.Errorf("bufferSize = %d, want 10", conn.opts.bufferSize)
	}
	if conn.opts.maxPacketSize != 2048 {
		t.Errorf("maxPacketSize = %d, want 2048", conn.opts.maxPacketSize)
	}
}

func TestConn_Addr(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	conn, err := NewConn(serverConn, OnMessageOption(func(*Message, *Delivery) error { return nil }))
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	if conn.Addr() == nil {
		t.Error("Addr returned nil")
	}
}

func TestConn_SendType(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	conn, err := NewConn(serverConn, OnMessageOption(func(*Message, *Delivery) error { return nil }))
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	n, err := conn.SendType(7, func(m *Message) error {
		return m.WriteString("hello")
	})
	if err != nil {
		t.Fatalf("SendType failed: %v", err)
	}
	if n == 0 {
		t.Fatal("SendType reported zero bytes sent")
	}

	buf := make([]byte, 1024)
	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if got != n {
		t.Errorf("client saw %d bytes, want %d", got, n)
	}
	if buf[3] != 7 {
		t.Errorf("message type = %d, want 7", buf[3])
	}
}

func TestConn_Send_ClosedConnection(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	conn, err := NewConn(serverConn, OnMessageOption(func(*Message, *Delivery) error { return nil }))
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}
	conn.Close()

	msg := NewMessage()
	if _, err := conn.Send(msg); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConn_ReadLoop_MinimalRoundTrip(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	received := make(chan []byte, 1)
	conn, err := NewConn(serverConn, OnMessageOption(func(m *Message, d *Delivery) error {
		body, err := m.ReadBytes(m.Size() - HeaderSize)
		if err != nil {
			return err
		}
		received <- body
		return nil
	}))
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.ReadLoop(context.Background()) }()

	frame := encodeFrame(1, []byte("hi"))
	if _, err := clientConn.Write(frame); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	select {
	case body := <-received:
		if string(body) != "hi" {
			t.Errorf("body = %q, want %q", body, "hi")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	conn.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for ReadLoop to return")
	}
}

func TestConn_ReadLoop_FragmentedDelivery(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	received := make(chan []byte, 1)
	conn, err := NewConn(serverConn, OnMessageOption(func(m *Message, d *Delivery) error {
		body, err := m.ReadBytes(m.Size() - HeaderSize)
		if err != nil {
			return err
		}
		received <- body
		return nil
	}))
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.ReadLoop(context.Background()) }()

	frame := encodeFrame(2, []byte("fragmented"))
	for _, b := range frame {
		if _, err := clientConn.Write([]byte{b}); err != nil {
			t.Fatalf("client write failed: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case body := <-received:
		if string(body) != "fragmented" {
			t.Errorf("body = %q, want %q", body, "fragmented")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	conn.Close()
	<-done
}

func TestConn_ReadLoop_CoalescedDelivery(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	received := make(chan string, 2)
	conn, err := NewConn(serverConn, OnMessageOption(func(m *Message, d *Delivery) error {
		body, err := m.ReadBytes(m.Size() - HeaderSize)
		if err != nil {
			return err
		}
		received <- string(body)
		return nil
	}))
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.ReadLoop(context.Background()) }()

	var both []byte
	both = append(both, encodeFrame(1, []byte("one"))...)
	both = append(both, encodeFrame(2, []byte("two"))...)
	if _, err := clientConn.Write(both); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-received:
			got[s] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for coalesced messages")
		}
	}
	if !got["one"] || !got["two"] {
		t.Errorf("got %v, want both \"one\" and \"two\"", got)
	}

	conn.Close()
	<-done
}

func TestConn_ReadLoop_OversizedHeaderRejected(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	var reason string
	reasonCh := make(chan string, 1)
	conn, err := NewConn(serverConn,
		OnMessageOption(func(*Message, *Delivery) error { return nil }),
		OnDisconnectedOption(func(r string) { reasonCh <- r }),
		MaxPacketSizeOption(16),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.ReadLoop(context.Background()) }()

	oversized := encodeFrame(9, make([]byte, 64))
	if _, err := clientConn.Write(oversized); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	select {
	case r := <-reasonCh:
		reason = r
		if reason == "" {
			t.Error("expected a non-empty disconnect reason for a protocol error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for disconnect")
	}

	select {
	case loopErr := <-done:
		if !errors.Is(loopErr, ErrInvalidHeader) {
			t.Errorf("ReadLoop error = %v, want errors.Is match against ErrInvalidHeader", loopErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for ReadLoop to return")
	}
}

func TestConn_ReadLoop_PeerCloseIsClean(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()

	reasonCh := make(chan string, 1)
	conn, err := NewConn(serverConn,
		OnMessageOption(func(*Message, *Delivery) error { return nil }),
		OnDisconnectedOption(func(r string) { reasonCh <- r }),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.ReadLoop(context.Background()) }()

	clientConn.Close()

	select {
	case r := <-reasonCh:
		if r != "" {
			t.Errorf("reason = %q, want empty for a clean peer close", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for disconnect")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for ReadLoop to return")
	}
}

func TestConn_Close_SuppressesDisconnectEvent(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	fired := false
	conn, err := NewConn(serverConn,
		OnMessageOption(func(*Message, *Delivery) error { return nil }),
		OnDisconnectedOption(func(string) { fired = true }),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.ReadLoop(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for ReadLoop to return")
	}

	if fired {
		t.Error("onDisconnected fired on a locally initiated Close")
	}
	if !conn.IsClosed() {
		t.Error("expected IsClosed to return true after Close")
	}
}

func TestConn_ReadLoop_AlreadyReading(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	conn, err := NewConn(serverConn, OnMessageOption(func(*Message, *Delivery) error { return nil }))
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.ReadLoop(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	if err := conn.ReadLoop(context.Background()); err != ErrAlreadyReading {
		t.Errorf("expected ErrAlreadyReading, got %v", err)
	}

	conn.Close()
	<-done
}
