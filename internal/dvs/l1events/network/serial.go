package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
	"github.com/eternallovelin/dvs-tracking/internal/timeutil"
)

// eDVS command strings. E4 selects the 6-byte address+timestamp record;
// E+ and E- start and stop event streaming.
const (
	cmdFormatE4     = "!E4\n"
	cmdStreamOn     = "E+\n"
	cmdStreamOff    = "E-\n"
	defaultEDVSBaud = 4000000
)

// PortOptions describes the serial connection to the sensor UART. The eDVS
// always frames 8N1, so only the baud rate is configurable.
type PortOptions struct {
	BaudRate int `json:"baud_rate"`
}

// Normalize validates the options and applies the eDVS default of 4 Mbaud
// when the rate is unset.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate < 0 {
		return o, fmt.Errorf("invalid baud rate %d", o.BaudRate)
	}
	if o.BaudRate == 0 {
		o.BaudRate = defaultEDVSBaud
	}
	return o, nil
}

// SerialMode converts the options into the 8N1 serial.Mode required by
// go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, nil
}

// Port is the subset of serial.Port the reader uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// PortOpener opens a serial port.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

// OpenSerialPort opens a real serial device.
func OpenSerialPort(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// SerialSourceConfig configures a SerialSource.
type SerialSourceConfig struct {
	Path        string
	Options     PortOptions
	Queue       EventQueue
	Stats       SourceStatsInterface
	LogInterval time.Duration
	// Open defaults to OpenSerialPort.
	Open PortOpener
	// Clock drives the statistics ticker and defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// SerialSource streams events from an eDVS sensor attached over a UART.
type SerialSource struct {
	cfg  SerialSourceConfig
	prod *producer
}

// NewSerialSource validates the port options and returns a source.
func NewSerialSource(cfg SerialSourceConfig) (*SerialSource, error) {
	if cfg.Path == "" {
		return nil, errors.New("serial port path is required")
	}
	if _, err := cfg.Options.Normalize(); err != nil {
		return nil, err
	}
	if cfg.Open == nil {
		cfg.Open = OpenSerialPort
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Stats == nil {
		cfg.Stats = noopStats{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &SerialSource{cfg: cfg, prod: newProducer(cfg.Queue, cfg.Stats, false)}, nil
}

// Start opens the port, enables streaming and reads until ctx is
// cancelled or the port fails. Streaming is switched off before the port
// is closed.
func (s *SerialSource) Start(ctx context.Context) error {
	mode, err := s.cfg.Options.SerialMode()
	if err != nil {
		return err
	}
	port, err := s.cfg.Open(s.cfg.Path, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.cfg.Path, err)
	}
	defer port.Close()

	if err := port.ResetInputBuffer(); err != nil {
		monitoring.Opsf("[Serial] failed to reset input buffer: %v", err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	for _, cmd := range []string{cmdFormatE4, cmdStreamOn} {
		if _, err := io.WriteString(port, cmd); err != nil {
			return fmt.Errorf("failed to send %q: %w", strings.TrimSpace(cmd), err)
		}
	}
	defer func() {
		if _, err := io.WriteString(port, cmdStreamOff); err != nil {
			monitoring.Opsf("[Serial] failed to stop streaming: %v", err)
		}
	}()
	monitoring.Opsf("[Serial] streaming from %s at %d baud", s.cfg.Path, mode.BaudRate)

	ticker := s.cfg.Clock.NewTicker(s.cfg.LogInterval)
	defer ticker.Stop()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			monitoring.Diagf("[Serial] stopping: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C():
			s.cfg.Stats.LogStats()
		default:
		}

		// A read timeout returns n == 0 with a nil error.
		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("serial read failed: %w", err)
		}
		if n > 0 {
			s.prod.feed(ctx, buf[:n])
		}
	}
}
