package mc

import (
	"fmt"
	"io"
	"net"
	"time"
)

// Transport is the byte-stream boundary between the client and the
// PLC. It exists so tests can talk to an in-process endpoint; the only
// production implementation wraps a TCP connection.
type Transport interface {
	// Send writes the whole frame.
	Send(p []byte) error
	// Receive reads exactly n bytes.
	Receive(n int) ([]byte, error)
	// SetDeadline bounds the next Send/Receive pair.
	SetDeadline(t time.Time) error
	Close() error
}

// connTransport adapts a net.Conn to Transport.
type connTransport struct {
	conn net.Conn
}

// NewConnTransport wraps an established connection.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{conn: conn}
}

func (t *connTransport) Send(p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

func (t *connTransport) Receive(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *connTransport) SetDeadline(deadline time.Time) error {
	return t.conn.SetDeadline(deadline)
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}

// dialTransport connects over TCP, adding the default MC port when the
// address has none.
func dialTransport(address string, timeout time.Duration) (Transport, string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		address = fmt.Sprintf("%s:%d", address, DefaultPort)
	} else if port == "" {
		address = fmt.Sprintf("%s:%d", host, DefaultPort)
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, address, fmt.Errorf("tcp connect failed: %w", err)
	}
	return NewConnTransport(conn), address, nil
}
