package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
	"github.com/eternallovelin/dvs-tracking/internal/timeutil"
)

// PCAPReplayConfig configures ReplayPCAP.
type PCAPReplayConfig struct {
	Path string
	// UDPPort selects datagrams by destination port. Zero accepts any port.
	UDPPort int
	Queue   EventQueue
	Stats   SourceStatsInterface
	// Realtime paces datagrams by their capture timestamps and drops events
	// that do not fit in the queue, like a live sensor. Otherwise replay
	// runs as fast as the consumer allows and never drops.
	Realtime bool
	// Clock paces realtime replay. Defaults to the real clock.
	Clock timeutil.Clock
}

// ReplaySummary reports what a replay consumed.
type ReplaySummary struct {
	Packets   int // frames read from the file
	Datagrams int // UDP datagrams matching the port
	Elapsed   time.Duration
}

// ReplayPCAP reads a classic libpcap file and feeds the UDP payloads through
// the eDVS decoder into the queue. It returns at end of file or when ctx is
// cancelled. The caller closes the queue afterwards.
func ReplayPCAP(ctx context.Context, cfg PCAPReplayConfig) (ReplaySummary, error) {
	var sum ReplaySummary

	f, err := os.Open(cfg.Path)
	if err != nil {
		return sum, fmt.Errorf("failed to open PCAP file %s: %w", cfg.Path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		return sum, fmt.Errorf("failed to read PCAP header from %s: %w", cfg.Path, err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	prod := newProducer(cfg.Queue, cfg.Stats, !cfg.Realtime)
	start := clock.Now()
	var base time.Time

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Diagf("[PCAP] stopping after %d packets: %v", sum.Packets, err)
			return sum, err
		}

		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("failed to read PCAP packet %d: %w", sum.Packets+1, err)
		}
		sum.Packets++

		payload, ok := udpPayload(data, r.LinkType(), cfg.UDPPort)
		if !ok {
			continue
		}
		sum.Datagrams++

		if cfg.Realtime {
			if base.IsZero() {
				base = ci.Timestamp
			}
			if wait := ci.Timestamp.Sub(base) - clock.Now().Sub(start); wait > 0 {
				timer := clock.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return sum, ctx.Err()
				case <-timer.C():
				}
			}
		}

		prod.feed(ctx, payload)
		prod.decoder.DiscardPartial()

		if sum.Packets%10000 == 0 {
			monitoring.Diagf("[PCAP] progress: %d packets, %d datagrams", sum.Packets, sum.Datagrams)
		}
	}

	sum.Elapsed = clock.Now().Sub(start)
	monitoring.Opsf("[PCAP] replay complete: %d packets, %d datagrams in %v", sum.Packets, sum.Datagrams, sum.Elapsed)
	return sum, nil
}

func udpPayload(data []byte, link layers.LinkType, port int) ([]byte, bool) {
	pkt := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return nil, false
	}
	if port > 0 && int(udp.DstPort) != port {
		return nil, false
	}
	return udp.Payload, true
}
