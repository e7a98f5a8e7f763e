package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

// SourceStatsInterface provides packet and event statistics management.
type SourceStatsInterface interface {
	AddPacket(bytes int)
	AddEvents(count int)
	AddDropped(count int)
	LogStats()
}

// SourceTotals are cumulative counters since the source started.
type SourceTotals struct {
	Packets uint64
	Bytes   uint64
	Events  uint64
	Dropped uint64
}

// SourceStats tracks packet statistics with thread-safe operations. The
// interval counters reset on every LogStats; the totals never reset.
type SourceStats struct {
	name string

	mu        sync.Mutex
	packets   int64
	bytes     int64
	events    int64
	dropped   int64
	lastReset time.Time
	totals    SourceTotals
}

// NewSourceStats creates a stats collector labelled with name in logs.
func NewSourceStats(name string) *SourceStats {
	return &SourceStats{name: name, lastReset: time.Now()}
}

// AddPacket records one received packet or read of the given size.
func (s *SourceStats) AddPacket(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets++
	s.bytes += int64(bytes)
	s.totals.Packets++
	s.totals.Bytes += uint64(bytes)
}

// AddEvents records decoded events that were enqueued.
func (s *SourceStats) AddEvents(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events += int64(count)
	s.totals.Events += uint64(count)
}

// AddDropped records events rejected by a full queue.
func (s *SourceStats) AddDropped(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped += int64(count)
	s.totals.Dropped += uint64(count)
}

// Totals returns the cumulative counters.
func (s *SourceStats) Totals() SourceTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// GetAndReset returns the interval counters and resets them.
func (s *SourceStats) GetAndReset() (packets, bytes, events, dropped int64, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	duration = now.Sub(s.lastReset)
	packets, bytes, events, dropped = s.packets, s.bytes, s.events, s.dropped
	s.packets, s.bytes, s.events, s.dropped = 0, 0, 0, 0
	s.lastReset = now
	return
}

// LogStats logs per-second rates for the interval since the last call.
func (s *SourceStats) LogStats() {
	packets, bytes, events, dropped, duration := s.GetAndReset()
	if packets == 0 && dropped == 0 {
		return
	}
	secs := duration.Seconds()
	msg := fmt.Sprintf("%s stats (/sec): %.2f KB, %.1f packets, %s events",
		s.name, float64(bytes)/secs/1024, float64(packets)/secs, FormatWithCommas(int64(float64(events)/secs)))
	if dropped > 0 {
		msg += fmt.Sprintf(", %d dropped on full queue", dropped)
	}
	monitoring.Diagf("%s", msg)
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	result := make([]byte, 0, len(str)+len(str)/3)
	for i := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, str[i])
	}
	return string(result)
}

// noopStats is a SourceStatsInterface that does nothing. It is the default
// when no stats collector is supplied.
type noopStats struct{}

func (noopStats) AddPacket(int)  {}
func (noopStats) AddEvents(int)  {}
func (noopStats) AddDropped(int) {}
func (noopStats) LogStats()      {}
