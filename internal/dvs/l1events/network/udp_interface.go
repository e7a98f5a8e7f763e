package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket defines the UDP socket operations the listener needs, so tests
// can run without real network connections.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDP sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
// *net.UDPConn satisfies UDPSocket directly.
type RealUDPSocketFactory struct{}

// ListenUDP creates a new UDP socket.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket implements UDPSocket for testing. Once all queued packets
// are read it reports read timeouts, like an idle socket.
type MockUDPSocket struct {
	mu             sync.Mutex
	packets        [][]byte
	readIndex      int
	closed         bool
	readBufferSize int
	readError      error
}

// NewMockUDPSocket creates a socket that will return packets in order.
func NewMockUDPSocket(packets ...[]byte) *MockUDPSocket {
	return &MockUDPSocket{packets: packets}
}

// ReadFromUDP returns the next queued packet.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if m.readError != nil {
		err := m.readError
		m.readError = nil
		m.mu.Unlock()
		return 0, nil, err
	}
	if m.readIndex >= len(m.packets) {
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	pkt := m.packets[m.readIndex]
	m.readIndex++
	m.mu.Unlock()
	return copy(b, pkt), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}, nil
}

// SetReadBuffer records the buffer size.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBufferSize = bytes
	return nil
}

// SetReadDeadline is a no-op.
func (m *MockUDPSocket) SetReadDeadline(time.Time) error { return nil }

// Close marks the socket closed.
func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// LocalAddr returns a fixed loopback address.
func (m *MockUDPSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7777}
}

// InjectReadError makes the next read fail with err.
func (m *MockUDPSocket) InjectReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

// Closed reports whether Close was called.
func (m *MockUDPSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ReadBufferSize returns the value passed to SetReadBuffer.
func (m *MockUDPSocket) ReadBufferSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBufferSize
}

// MockUDPSocketFactory returns a fixed socket.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Error  error
}

// ListenUDP returns the configured mock socket or error.
func (f *MockUDPSocketFactory) ListenUDP(string, *net.UDPAddr) (UDPSocket, error) {
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
