// Command dvstrack locates markers blinking at known frequencies in an eDVS
// event stream and serves the results over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/eternallovelin/dvs-tracking/internal/config"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events/network"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/monitor"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/pipeline"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/storage/sqlite"
	"github.com/eternallovelin/dvs-tracking/internal/httputil"
	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
	"github.com/eternallovelin/dvs-tracking/internal/version"
)

var (
	configPath   = flag.String("config", config.DefaultConfigPath, "Path to the tuning JSON file")
	source       = flag.String("source", "udp", "Event source: udp, serial or pcap")
	udpAddr      = flag.String("udp-addr", ":8991", "UDP listen address for -source=udp")
	udpRcvBuf    = flag.Int("udp-rcvbuf", 4<<20, "UDP socket receive buffer in bytes")
	serialPort   = flag.String("serial-port", "/dev/ttyUSB0", "Serial device for -source=serial")
	baud         = flag.Int("baud", 4000000, "Serial baud rate")
	pcapFile     = flag.String("pcap", "", "PCAP file for -source=pcap")
	pcapRealtime = flag.Bool("pcap-realtime", false, "Pace PCAP replay by capture timestamps")
	udpPort      = flag.Int("udp-port", 0, "Destination UDP port to replay from the PCAP (0 = any)")
	dbPath       = flag.String("db", "", "SQLite database recording every peak (empty disables)")
	listen       = flag.String("listen", ":8080", "HTTP listen address (empty disables)")
	grpcListen   = flag.String("grpc-listen", "", "gRPC health listen address (empty disables)")
	plotDir      = flag.String("plot-dir", "", "Directory for per-epoch confidence map PNGs (empty disables)")
	plotEvery    = flag.Int("plot-every", 10, "Plot every n-th epoch of each channel")
	statsEvery   = flag.Duration("stats-interval", time.Minute, "Source statistics log interval")
	debug        = flag.Bool("debug", false, "Development logging with trace output")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("dvstrack"))
		return
	}

	if err := monitoring.Init(*debug); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logging: %v\n", err)
		os.Exit(1)
	}
	if err := run(); err != nil {
		monitoring.Opsf("[dvstrack] %v", err)
		monitoring.Sync()
		os.Exit(1)
	}
	monitoring.Sync()
}

// loadTuning reads the tuning file and applies the flag-driven overrides.
// Map snapshots are needed for plotting, so -plot-dir turns them on.
func loadTuning(path, plotDir string) (*config.TuningConfig, error) {
	tuning, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tuning config: %w", err)
	}
	if plotDir != "" && !tuning.GetEmitMaps() {
		on := true
		tuning.EmitMaps = &on
	}
	return tuning, nil
}

func run() error {
	tuning, err := loadTuning(*configPath, *plotDir)
	if err != nil {
		return err
	}

	queue, err := l1events.NewEventQueue(tuning.GetQueueCapacity())
	if err != nil {
		return err
	}

	stats := network.NewSourceStats(*source)
	produce, label, err := newEventSource(sourceOptions{
		Kind:         *source,
		UDPAddr:      *udpAddr,
		UDPRcvBuf:    *udpRcvBuf,
		SerialPort:   *serialPort,
		Baud:         *baud,
		PCAPFile:     *pcapFile,
		PCAPRealtime: *pcapRealtime,
		UDPPort:      *udpPort,
		LogInterval:  *statsEvery,
	}, queue, stats)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	heatmap := monitor.NewHeatmap(nil)
	metrics := monitor.NewMetrics()
	sinks := []pipeline.PeakSink{heatmap, metrics}

	var db *sqlite.DB
	var recorder *sqlite.Recorder
	if *dbPath != "" {
		db, err = sqlite.Open(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		recorder, err = sqlite.NewRecorder(ctx, sqlite.RecorderConfig{DB: db, Source: label, Tuning: tuning})
		if err != nil {
			return err
		}
		if err := recorder.Start(); err != nil {
			return err
		}
		sinks = append(sinks, recorder)
	}

	var plotter *monitor.MapPlotter
	if *plotDir != "" {
		plotter, err = monitor.NewMapPlotter(*plotDir, *plotEvery)
		if err != nil {
			return err
		}
		sinks = append(sinks, plotter)
	}

	est, err := pipeline.NewEstimatorFromTuning(queue, tuning, sinks...)
	if err != nil {
		return err
	}
	if err := metrics.RegisterEstimator(est); err != nil {
		return err
	}
	if err := metrics.AddSource(*source, stats); err != nil {
		return err
	}

	var health *monitor.HealthServer
	if *grpcListen != "" {
		health, err = monitor.NewHealthServer(*grpcListen)
		if err != nil {
			return err
		}
	}

	monitoring.Opsf("[dvstrack] %s starting: source=%s channels=%v grid=%dx%d",
		version.String("dvstrack"), label, est.Frequencies(), tuning.GetWidth(), tuning.GetHeight())

	// Create a wait group for the source, estimator, plotter and server routines
	var wg sync.WaitGroup

	// Producer: the queue is closed when the source stops so the estimator
	// drains what is left and returns.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer queue.Close()
		if err := produce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Opsf("[dvstrack] source %s stopped: %v", label, err)
		}
		monitoring.Diagf("[dvstrack] source routine terminated")
	}()

	// Consumer
	wg.Add(1)
	go func() {
		defer wg.Done()
		if health != nil {
			health.SetServing(true)
			defer health.SetServing(false)
		}
		err := est.Run(ctx)
		if err == nil {
			monitoring.Opsf("[dvstrack] end of stream, shutting down")
			stop()
		}
		monitoring.Diagf("[dvstrack] estimator routine terminated")
	}()

	if plotter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = plotter.Run(ctx)
		}()
	}

	if health != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := health.Serve(); err != nil {
				monitoring.Opsf("[dvstrack] %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			health.Stop()
		}()
	}

	// HTTP server goroutine
	if *listen != "" {
		mux := http.NewServeMux()
		srv := monitor.NewServer(monitor.ServerConfig{
			Heatmap: heatmap,
			Metrics: metrics,
			Width:   tuning.GetWidth(),
			Height:  tuning.GetHeight(),
		})
		srv.RegisterRoutes(mux)
		mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSONOK(w, version.Get())
		})

		// mount the debug routes (accessible only in dev mode or over Tailscale)
		dbg := tsweb.Debugger(mux)
		srv.AttachDebugRoutes(dbg)
		if db != nil {
			if err := db.AttachAdminRoutes(dbg); err != nil {
				monitoring.Opsf("[dvstrack] admin routes disabled: %v", err)
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, *listen, mux)
		}()
	}

	wg.Wait()

	if recorder != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := recorder.Close(closeCtx); err != nil {
			monitoring.Opsf("[dvstrack] recorder did not flush: %v", err)
		}
	}

	s := est.Stats()
	monitoring.Opsf("[dvstrack] graceful shutdown complete: events=%s epochs=%d peaks=%d invalid=%d dropped=%d",
		network.FormatWithCommas(int64(s.Events)), s.Epochs, s.Peaks, s.Invalid, s.QueueDropped)
	return nil
}

// serveHTTP runs the server until ctx is done, then shuts it down.
func serveHTTP(ctx context.Context, addr string, mux *http.ServeMux) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		monitoring.Tracef("[http] got request %q", r.URL.Path)
		mux.ServeHTTP(w, r)
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		monitoring.Diagf("[http] listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Opsf("[http] server failed: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Diagf("[http] shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Opsf("[http] shutdown error: %v", err)
	}
}
