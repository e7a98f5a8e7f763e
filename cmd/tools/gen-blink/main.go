// Command gen-blink synthesises eDVS blink trains for demos and tests. It
// writes packed E4 records either to a pcap file (for dvstrack -source=pcap)
// or as UDP datagrams to a running tracker.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events/network"
	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

// marker is a pixel blinking at a fixed frequency.
type marker struct {
	X, Y      int
	Frequency float64
}

// markerList implements flag.Value for repeated -marker x,y,hz flags.
type markerList []marker

func (m *markerList) String() string {
	parts := make([]string, len(*m))
	for i, mk := range *m {
		parts[i] = fmt.Sprintf("%d,%d,%g", mk.X, mk.Y, mk.Frequency)
	}
	return strings.Join(parts, " ")
}

func (m *markerList) Set(s string) error {
	mk, err := parseMarker(s)
	if err != nil {
		return err
	}
	*m = append(*m, mk)
	return nil
}

func parseMarker(s string) (marker, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return marker{}, fmt.Errorf("marker %q: want x,y,hz", s)
	}
	x, errX := strconv.Atoi(strings.TrimSpace(fields[0]))
	y, errY := strconv.Atoi(strings.TrimSpace(fields[1]))
	f, errF := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if errX != nil || errY != nil || errF != nil {
		return marker{}, fmt.Errorf("marker %q: want x,y,hz", s)
	}
	if x < 0 || x > 127 || y < 0 || y > 127 {
		return marker{}, fmt.Errorf("marker %q: coordinates must be in 0..127", s)
	}
	if !(f > 0) {
		return marker{}, fmt.Errorf("marker %q: frequency must be positive", s)
	}
	return marker{X: x, Y: y, Frequency: f}, nil
}

// generate returns every marker's blink train over duration, polarity
// toggling each half period, plus noiseRate random events per second, in
// timestamp order.
func generate(markers []marker, duration time.Duration, noiseRate float64, rng *rand.Rand) []l1events.Event {
	var out []l1events.Event
	for _, mk := range markers {
		half := time.Duration(float64(time.Second) / mk.Frequency / 2)
		for k := 0; time.Duration(k)*half <= duration; k++ {
			pol := l1events.PolarityOn
			if k%2 == 1 {
				pol = l1events.PolarityOff
			}
			out = append(out, l1events.Event{X: mk.X, Y: mk.Y, Timestamp: time.Duration(k) * half, Polarity: pol})
		}
	}

	noise := int(noiseRate * duration.Seconds())
	for i := 0; i < noise; i++ {
		pol := l1events.PolarityOn
		if rng.Intn(2) == 1 {
			pol = l1events.PolarityOff
		}
		out = append(out, l1events.Event{
			X:         rng.Intn(128),
			Y:         rng.Intn(128),
			Timestamp: time.Duration(rng.Int63n(int64(duration) + 1)).Truncate(time.Microsecond),
			Polarity:  pol,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// pack groups events into datagram payloads of at most perDatagram records.
func pack(events []l1events.Event, perDatagram int) [][]byte {
	if perDatagram < 1 {
		perDatagram = 1
	}
	var out [][]byte
	for start := 0; start < len(events); start += perDatagram {
		end := min(start+perDatagram, len(events))
		buf := make([]byte, 0, (end-start)*l1events.RecordSize)
		for _, e := range events[start:end] {
			buf = l1events.AppendRecord(buf, e)
		}
		out = append(out, buf)
	}
	return out
}

// firstTimestamp returns the sensor time of the first record in payload.
func firstTimestamp(payload []byte) time.Duration {
	var ts time.Duration
	l1events.NewDecoder().Decode(payload[:l1events.RecordSize], func(e l1events.Event) { ts = e.Timestamp })
	return ts
}

func writePCAP(path string, port int, base time.Time, datagrams [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w, err := network.NewPCAPWriter(f, port)
	if err != nil {
		f.Close()
		return err
	}
	for _, d := range datagrams {
		if err := w.WriteDatagram(base.Add(firstTimestamp(d)), d); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func sendUDP(addr string, realtime bool, datagrams [][]byte) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	start := time.Now()
	for _, d := range datagrams {
		if realtime {
			if wait := firstTimestamp(d) - time.Since(start); wait > 0 {
				time.Sleep(wait)
			}
		}
		if _, err := conn.Write(d); err != nil {
			return fmt.Errorf("failed to send datagram: %w", err)
		}
	}
	return nil
}

func main() {
	var markers markerList
	flag.Var(&markers, "marker", "Blinking marker as x,y,hz (repeatable)")
	output := flag.String("o", "", "Write a pcap file to this path")
	udpAddr := flag.String("udp", "", "Send datagrams to this address instead of writing a pcap")
	port := flag.Int("port", 8991, "Destination UDP port recorded in the pcap")
	duration := flag.Duration("duration", time.Second, "Length of the generated stream")
	noise := flag.Float64("noise", 0, "Random background events per second")
	seed := flag.Int64("seed", 1, "Noise seed")
	perDatagram := flag.Int("batch", 200, "Records per datagram")
	realtime := flag.Bool("realtime", true, "Pace UDP output by event time")
	flag.Parse()

	if len(markers) == 0 {
		markers = markerList{{X: 5, Y: 5, Frequency: 10}}
	}
	if (*output == "") == (*udpAddr == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -o or -udp is required")
		os.Exit(2)
	}

	events := generate(markers, *duration, *noise, rand.New(rand.NewSource(*seed)))
	datagrams := pack(events, *perDatagram)

	var err error
	if *output != "" {
		err = writePCAP(*output, *port, time.Now(), datagrams)
	} else {
		err = sendUDP(*udpAddr, *realtime, datagrams)
	}
	if err != nil {
		monitoring.Opsf("[gen-blink] %v", err)
		monitoring.Sync()
		os.Exit(1)
	}
	monitoring.Opsf("[gen-blink] %s events in %d datagrams, markers %s",
		network.FormatWithCommas(int64(len(events))), len(datagrams), markers.String())
	monitoring.Sync()
}
