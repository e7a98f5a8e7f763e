package main

import (
	"context"
	"fmt"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events/network"
	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

// sourceOptions selects and configures the event producer.
type sourceOptions struct {
	Kind         string // udp, serial or pcap
	UDPAddr      string
	UDPRcvBuf    int
	SerialPort   string
	Baud         int
	PCAPFile     string
	PCAPRealtime bool
	UDPPort      int
	LogInterval  time.Duration
}

// eventSource produces events until ctx is done or the stream ends.
type eventSource func(ctx context.Context) error

// newEventSource builds the producer side for opts. The returned label names
// the run in the recorder.
func newEventSource(opts sourceOptions, q *l1events.EventQueue, stats *network.SourceStats) (eventSource, string, error) {
	switch opts.Kind {
	case "udp":
		l := network.NewUDPListener(network.UDPListenerConfig{
			Address:     opts.UDPAddr,
			RcvBuf:      opts.UDPRcvBuf,
			LogInterval: opts.LogInterval,
			Stats:       stats,
			Queue:       q,
		})
		return l.Start, "udp:" + opts.UDPAddr, nil

	case "serial":
		s, err := network.NewSerialSource(network.SerialSourceConfig{
			Path:        opts.SerialPort,
			Options:     network.PortOptions{BaudRate: opts.Baud},
			Queue:       q,
			Stats:       stats,
			LogInterval: opts.LogInterval,
		})
		if err != nil {
			return nil, "", err
		}
		return s.Start, "serial:" + opts.SerialPort, nil

	case "pcap":
		if opts.PCAPFile == "" {
			return nil, "", fmt.Errorf("-pcap is required with -source=pcap")
		}
		cfg := network.PCAPReplayConfig{
			Path:     opts.PCAPFile,
			UDPPort:  opts.UDPPort,
			Queue:    q,
			Stats:    stats,
			Realtime: opts.PCAPRealtime,
		}
		run := func(ctx context.Context) error {
			sum, err := network.ReplayPCAP(ctx, cfg)
			monitoring.Diagf("[dvstrack] replayed %d datagrams from %d packets in %s",
				sum.Datagrams, sum.Packets, sum.Elapsed)
			return err
		}
		return run, "pcap:" + opts.PCAPFile, nil

	default:
		return nil, "", fmt.Errorf("unknown source %q: expected udp, serial or pcap", opts.Kind)
	}
}
