// Command peaks-watch polls a running dvstrack for its latest peaks and
// prints one line per channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/httputil"
	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

type peak struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Weight int `json:"weight"`
}

type channelPeaks struct {
	Channel      int       `json:"channel"`
	FrequencyHz  float64   `json:"frequency_hz"`
	EpochStartUS int64     `json:"epoch_start_us"`
	EpochEndUS   int64     `json:"epoch_end_us"`
	Epochs       uint64    `json:"epochs"`
	UpdatedAt    time.Time `json:"updated_at"`
	Peaks        []peak    `json:"peaks"`
}

// fetch returns the latest state of every channel, or only of channel when
// it is non-negative.
func fetch(ctx context.Context, c httputil.HTTPClient, base string, channel int) ([]channelPeaks, error) {
	url := strings.TrimRight(base, "/") + "/api/peaks"
	if channel >= 0 {
		var one channelPeaks
		if err := httputil.GetJSON(ctx, c, fmt.Sprintf("%s?channel=%d", url, channel), &one); err != nil {
			return nil, err
		}
		return []channelPeaks{one}, nil
	}
	var all []channelPeaks
	if err := httputil.GetJSON(ctx, c, url, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func formatLine(cp channelPeaks) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ch%d %gHz epoch#%d @%.3fs:", cp.Channel, cp.FrequencyHz, cp.Epochs,
		float64(cp.EpochEndUS)/1e6)
	if len(cp.Peaks) == 0 {
		b.WriteString(" -")
	}
	for _, p := range cp.Peaks {
		fmt.Fprintf(&b, " (%d,%d)w%d", p.X, p.Y, p.Weight)
	}
	return b.String()
}

func poll(ctx context.Context, c httputil.HTTPClient, out io.Writer, base string, channel int, interval time.Duration, once bool) error {
	var tick <-chan time.Time
	if !once {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		states, err := fetch(ctx, c, base, channel)
		if err != nil {
			if once {
				return err
			}
			monitoring.Diagf("[peaks-watch] %v", err)
		}
		for _, st := range states {
			fmt.Fprintln(out, formatLine(st))
		}
		if once {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		}
	}
}

func main() {
	base := flag.String("url", "http://localhost:8080", "dvstrack HTTP address")
	channel := flag.Int("channel", -1, "Only show this channel (-1 for all)")
	interval := flag.Duration("interval", time.Second, "Polling interval")
	once := flag.Bool("once", false, "Print one snapshot and exit")
	flag.Parse()
	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "-interval must be positive")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second})
	if err := poll(ctx, client, os.Stdout, *base, *channel, *interval, *once); err != nil {
		monitoring.Opsf("[peaks-watch] %v", err)
		monitoring.Sync()
		os.Exit(1)
	}
}
