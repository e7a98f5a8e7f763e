package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events/network"
	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

func init() {
	monitoring.SetLogWriters(monitoring.LogWriters{})
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "udp", *source)
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, 4000000, *baud)
	assert.Empty(t, *dbPath, "recording is opt-in")
	assert.Empty(t, *grpcListen)
}

func TestLoadTuning_PlotDirEnablesMaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"frequencies_hz": [10, 37]}`), 0644))

	cfg, err := loadTuning(path, "")
	require.NoError(t, err)
	assert.False(t, cfg.GetEmitMaps())

	cfg, err = loadTuning(path, t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.GetEmitMaps())
	assert.Equal(t, []float64{10, 37}, cfg.GetFrequencies())

	_, err = loadTuning(filepath.Join(t.TempDir(), "missing.json"), "")
	assert.Error(t, err)
}

func TestNewEventSource(t *testing.T) {
	q, err := l1events.NewEventQueue(64)
	require.NoError(t, err)
	stats := network.NewSourceStats("test")

	_, label, err := newEventSource(sourceOptions{Kind: "udp", UDPAddr: "127.0.0.1:0"}, q, stats)
	require.NoError(t, err)
	assert.Equal(t, "udp:127.0.0.1:0", label)

	_, label, err = newEventSource(sourceOptions{Kind: "serial", SerialPort: "/dev/ttyUSB9"}, q, stats)
	require.NoError(t, err)
	assert.Equal(t, "serial:/dev/ttyUSB9", label)

	_, _, err = newEventSource(sourceOptions{Kind: "serial"}, q, stats)
	assert.Error(t, err, "serial needs a port")

	_, _, err = newEventSource(sourceOptions{Kind: "pcap"}, q, stats)
	assert.ErrorContains(t, err, "-pcap is required")

	_, _, err = newEventSource(sourceOptions{Kind: "usb"}, q, stats)
	assert.ErrorContains(t, err, "unknown source")
}

func TestNewEventSource_PCAPReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blink.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := network.NewPCAPWriter(f, 8991)
	require.NoError(t, err)

	var payload []byte
	for i := 0; i < 4; i++ {
		payload = l1events.AppendRecord(payload, l1events.Event{
			X: 5, Y: 5, Timestamp: time.Duration(i) * 50 * time.Millisecond, Polarity: l1events.PolarityOn,
		})
	}
	require.NoError(t, w.WriteDatagram(time.Unix(0, 0), payload))
	require.NoError(t, f.Close())

	q, err := l1events.NewEventQueue(64)
	require.NoError(t, err)
	produce, label, err := newEventSource(sourceOptions{Kind: "pcap", PCAPFile: path, UDPPort: 8991}, q, network.NewSourceStats("pcap"))
	require.NoError(t, err)
	assert.Equal(t, "pcap:"+path, label)

	require.NoError(t, produce(context.Background()))
	assert.Equal(t, 4, q.Available())
}
