package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
	"github.com/eternallovelin/dvs-tracking/internal/timeutil"
)

// UDPListener receives datagrams of packed eDVS records and enqueues the
// decoded events.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	stats       SourceStatsInterface
	factory     UDPSocketFactory
	clock       timeutil.Clock
	prod        *producer
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       SourceStatsInterface
	Queue       EventQueue
	// SocketFactory defaults to RealUDPSocketFactory.
	SocketFactory UDPSocketFactory
	// Clock drives the statistics ticker and defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	stats := config.Stats
	if stats == nil {
		stats = noopStats{}
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	clock := config.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		stats:       stats,
		factory:     factory,
		clock:       clock,
		prod:        newProducer(config.Queue, stats, false),
	}
}

// Start listens until ctx is cancelled. Live sensor data is never
// back-pressured: events that do not fit in the queue are dropped.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Opsf("[UDPListener] failed to set receive buffer to %d: %v", l.rcvBuf, err)
		}
	}
	monitoring.Opsf("[UDPListener] started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)

	go l.startStatsLogging(ctx)

	buffer := make([]byte, 65536)
	for {
		if err := ctx.Err(); err != nil {
			monitoring.Diagf("[UDPListener] stopping: %v", err)
			return err
		}

		// Short deadline so cancellation is noticed while idle.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Opsf("[UDPListener] read error: %v", err)
			continue
		}

		l.prod.feed(ctx, buffer[:n])
		if lost := l.prod.decoder.DiscardPartial(); lost > 0 {
			monitoring.Tracef("[UDPListener] %d trailing bytes from %v", lost, from)
		}
	}
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := l.clock.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			l.stats.LogStats()
		}
	}
}
