package network

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPWriter writes UDP datagrams as Ethernet/IPv4 frames to a libpcap
// stream, for synthetic captures and tests.
type PCAPWriter struct {
	w       *pcapgo.Writer
	srcIP   net.IP
	dstIP   net.IP
	srcPort layers.UDPPort
	dstPort layers.UDPPort
}

// NewPCAPWriter writes the file header and returns a writer that addresses
// every datagram to dstPort on the loopback address.
func NewPCAPWriter(w io.Writer, dstPort int) (*PCAPWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write PCAP header: %w", err)
	}
	return &PCAPWriter{
		w:       pw,
		srcIP:   net.IPv4(127, 0, 0, 1).To4(),
		dstIP:   net.IPv4(127, 0, 0, 1).To4(),
		srcPort: 40000,
		dstPort: layers.UDPPort(dstPort),
	}, nil
}

// WriteDatagram appends one datagram captured at ts.
func (p *PCAPWriter) WriteDatagram(ts time.Time, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    p.srcIP,
		DstIP:    p.dstIP,
	}
	udp := &layers.UDP{SrcPort: p.srcPort, DstPort: p.dstPort}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("failed to serialise datagram: %w", err)
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	return p.w.WritePacket(ci, data)
}
