package cmd

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/peinadoso/SynchronousAudioRouter/internal/config"
	"github.com/peinadoso/SynchronousAudioRouter/internal/driver"
	"github.com/peinadoso/SynchronousAudioRouter/internal/engine"
	"github.com/peinadoso/SynchronousAudioRouter/internal/events"
	"github.com/peinadoso/SynchronousAudioRouter/internal/host"
	"github.com/peinadoso/SynchronousAudioRouter/internal/logging"
	"github.com/peinadoso/SynchronousAudioRouter/internal/monitor"
)

// sampleSize is the byte width of one sample. The engine treats it as opaque;
// the host side is 16-bit PCM throughout.
const sampleSize = 2

// RunOptions holds the run command configuration.
// Precedence: CLI args > SAR_* env vars > TOML config file.
type RunOptions struct {
	Config            string `toml:"config" env:"CONFIG"`
	Endpoints         string `toml:"endpoints.file" env:"ENDPOINTS_FILE"`
	PeriodFrames      int    `toml:"audio.period_frames" env:"PERIOD_FRAMES"`
	SampleRate        int    `toml:"audio.sample_rate" env:"SAMPLE_RATE"`
	SharedBufferBytes int    `toml:"audio.shared_buffer_bytes" env:"SHARED_BUFFER_BYTES"`
	MinimumFrames     int    `toml:"audio.wavert_minimum_frames" env:"MINIMUM_FRAMES"`
	AppRouting        bool   `toml:"audio.application_routing" env:"APP_ROUTING"`
	MetricsAddr       string `toml:"metrics.addr" env:"METRICS_ADDR"`
	DeviceDir         string `toml:"devices.dir" env:"DEVICE_DIR"`
	SourceWav         string `toml:"host.source_wav" env:"SOURCE_WAV"`
	SourceLoop        bool   `toml:"host.source_loop" env:"SOURCE_LOOP"`
	CaptureWav        string `toml:"host.capture_wav" env:"CAPTURE_WAV"`
	Monitor           bool   `toml:"host.monitor" env:"MONITOR"`
	Demo              bool   `toml:"host.demo" env:"DEMO"`
}

// CreateRunCmd creates the run command.
func CreateRunCmd() *cobra.Command {
	opts := RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the audio routing session",
		Long: `Starts a session against the driver control channel: negotiates the shared ` +
			`buffer layout, creates the configured virtual endpoints and drives the ` +
			`per-period tick loop until interrupted.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := config.LoadConfig(&opts, cmd); err != nil {
				logging.GetLogger("run").Error("Failed to load configuration", "error", err)
				os.Exit(1)
			}
			logging.Initialize(config.LoadLoggingConfig(opts.Config))
			runSession(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "sar.toml", "Path to configuration file")
	cmd.Flags().StringVar(&opts.Endpoints, "endpoints", "endpoints.toml", "Path to endpoint definitions")
	cmd.Flags().IntVar(&opts.PeriodFrames, "period-frames", 480, "Frames per audio cycle")
	cmd.Flags().IntVar(&opts.SampleRate, "sample-rate", 48000, "Sample rate in Hz")
	cmd.Flags().IntVar(&opts.SharedBufferBytes, "shared-buffer-bytes", 0, "Shared region size (0 uses the default)")
	cmd.Flags().IntVar(&opts.MinimumFrames, "minimum-frames", 0, "Minimum WaveRT frame count (forwarded when >= 2)")
	cmd.Flags().BoolVar(&opts.AppRouting, "app-routing", false, "Route matching application audio through the endpoints")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Prometheus /metrics listen address (empty disables)")
	cmd.Flags().StringVar(&opts.DeviceDir, "device-dir", "", "Directory watched for audio device changes (empty disables)")
	cmd.Flags().StringVar(&opts.SourceWav, "source-wav", "", "WAV file feeding recording endpoints")
	cmd.Flags().BoolVar(&opts.SourceLoop, "source-loop", false, "Loop the source WAV at end of file")
	cmd.Flags().StringVar(&opts.CaptureWav, "capture-wav", "", "WAV file capturing the first playback endpoint")
	cmd.Flags().BoolVar(&opts.Monitor, "monitor", false, "Play the first playback endpoint on the default audio device")
	cmd.Flags().BoolVar(&opts.Demo, "demo", false, "Activate all endpoints on the loopback driver with a test tone")

	return cmd
}

func runSession(opts RunOptions) {
	logger := logging.GetLogger("run")
	logger.Info("Starting session", "config", opts.Config, "endpoints", opts.Endpoints)

	manager := config.NewEndpointManager(opts.Endpoints)
	if err := manager.Load(); err != nil {
		logger.Error("Failed to load endpoint definitions", "error", err)
		os.Exit(1)
	}
	endpoints, err := manager.ToSessionEndpoints()
	if err != nil {
		logger.Error("Invalid endpoint definition", "error", err)
		os.Exit(1)
	}
	if len(endpoints) == 0 {
		logger.Error("No enabled endpoints configured", "file", opts.Endpoints)
		os.Exit(1)
	}

	bus := events.New()
	buffers := host.NewBufferSet(endpoints, opts.PeriodFrames, sampleSize, opts.SampleRate)
	loopback := driver.NewLoopback()

	client := engine.New(engine.Config{
		Endpoints:                endpoints,
		EnableApplicationRouting: opts.AppRouting,
		WaveRTMinimumFrames:      uint32(opts.MinimumFrames),
		SharedBufferBytes:        uint32(opts.SharedBufferBytes),
	}, buffers.Config(), func() (driver.ControlChannel, error) {
		return loopback, nil
	}, logging.GetLogger("engine"))

	if err := client.Start(); err != nil {
		logger.Error("Failed to start session", "error", err)
		os.Exit(1)
	}
	bus.Publish(events.SessionStateEvent{
		Running:   true,
		Endpoints: len(endpoints),
		Timestamp: time.Now().Format(time.RFC3339),
	})

	var deviceMonitor *monitor.DeviceMonitor
	if opts.DeviceDir != "" {
		deviceMonitor = monitor.New(opts.DeviceDir, manager.DeviceBindings(), bus, client, logging.GetLogger("monitor"))
		if err := deviceMonitor.Start(); err != nil {
			logger.Warn("Failed to start device monitor", "error", err, "dir", opts.DeviceDir)
			deviceMonitor = nil
		}
	}

	// Endpoint definitions are immutable for a running session; a reload is
	// announced and picked up on the next start.
	watcher := config.NewConfigWatcher(
		opts.Endpoints,
		func(path string) (int, error) {
			reloaded := config.NewEndpointManager(path)
			if err := reloaded.Load(); err != nil {
				return 0, err
			}
			return len(reloaded.GetEnabledEndpoints()), nil
		},
		logger,
		config.WithDebounce[int](1500*time.Millisecond),
	)
	watcher.OnReload(func(count int) {
		logger.Info("Endpoint definitions changed, applies to the next session", "enabled", count)
		bus.Publish(events.EndpointsConfiguredEvent{Count: count, Timestamp: time.Now().Format(time.RFC3339)})
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("Failed to start endpoints watcher, hot-reload disabled", "error", err)
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	var metricsServer *http.Server
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics", "addr", opts.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	feeds := buildHostFeeds(opts, endpoints, buffers, logger)
	defer feeds.close(logger)

	if opts.Demo {
		activateDemo(loopback, endpoints, opts.PeriodFrames, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("Failed to notify systemd", "error", err)
	} else if sent {
		logger.Debug("Notified systemd ready")
	}

	period := time.Duration(opts.PeriodFrames) * time.Second / time.Duration(opts.SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	logger.Info("Tick loop running", "period", period, "frames", opts.PeriodFrames, "rate", opts.SampleRate)

	slot := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_ = metricsServer.Shutdown(shutdownCtx)
				cancel()
			}
			if deviceMonitor != nil {
				deviceMonitor.Stop()
			}
			client.Stop()
			bus.Publish(events.SessionStateEvent{Running: false, Timestamp: time.Now().Format(time.RFC3339)})
			return
		case <-ticker.C:
			feeds.fill(slot, opts.PeriodFrames, logger)
			client.Tick(slot)
			feeds.drain(slot, opts.PeriodFrames, logger)
			slot ^= 1
		}
	}
}

// hostFeeds ties the optional WAV source, WAV capture and monitor playback to
// endpoint indices in the session's buffer set.
type hostFeeds struct {
	buffers *host.BufferSet

	source      *host.WAVSource
	sourceIndex int
	sourceDone  bool

	capture      *host.WAVSink
	captureFile  *os.File
	captureIndex int

	monitor      *host.Monitor
	monitorIndex int
}

func buildHostFeeds(opts RunOptions, endpoints []driver.Endpoint, buffers *host.BufferSet, logger logging.Logger) *hostFeeds {
	feeds := &hostFeeds{buffers: buffers, sourceIndex: -1, captureIndex: -1, monitorIndex: -1}

	recording, playback := -1, -1
	for i, endpoint := range endpoints {
		if endpoint.Type == driver.Recording && recording < 0 {
			recording = i
		}
		if endpoint.Type == driver.Playback && playback < 0 {
			playback = i
		}
	}

	if opts.SourceWav != "" {
		if recording < 0 {
			logger.Warn("Source WAV configured but no recording endpoint enabled", "file", opts.SourceWav)
		} else if f, err := os.Open(opts.SourceWav); err != nil {
			logger.Warn("Failed to open source WAV", "error", err, "file", opts.SourceWav)
		} else if source, err := host.NewWAVSource(f, opts.SourceLoop); err != nil {
			logger.Warn("Failed to decode source WAV", "error", err, "file", opts.SourceWav)
			_ = f.Close()
		} else {
			feeds.source = source
			feeds.sourceIndex = recording
			logger.Info("Feeding recording endpoint from WAV",
				"endpoint", endpoints[recording].ID, "file", opts.SourceWav,
				"channels", source.Channels(), "rate", source.SampleRate())
		}
	}

	if opts.CaptureWav != "" {
		if playback < 0 {
			logger.Warn("Capture WAV configured but no playback endpoint enabled", "file", opts.CaptureWav)
		} else if f, err := os.Create(opts.CaptureWav); err != nil {
			logger.Warn("Failed to create capture WAV", "error", err, "file", opts.CaptureWav)
		} else {
			feeds.capture = host.NewWAVSink(f, opts.SampleRate, endpoints[playback].ChannelCount)
			feeds.captureFile = f
			feeds.captureIndex = playback
			logger.Info("Capturing playback endpoint to WAV",
				"endpoint", endpoints[playback].ID, "file", opts.CaptureWav)
		}
	}

	if opts.Monitor {
		if playback < 0 {
			logger.Warn("Monitor enabled but no playback endpoint enabled")
		} else if mon, err := host.NewMonitor(opts.SampleRate, endpoints[playback].ChannelCount, opts.PeriodFrames*8); err != nil {
			logger.Warn("Failed to open monitor output", "error", err)
		} else {
			mon.Start()
			feeds.monitor = mon
			feeds.monitorIndex = playback
			logger.Info("Monitoring playback endpoint", "endpoint", endpoints[playback].ID)
		}
	}

	return feeds
}

// fill runs before the tick: recording endpoint host buffers are loaded with
// the next period of source audio so the engine muxes fresh samples.
func (f *hostFeeds) fill(slot, periodFrames int, logger logging.Logger) {
	if f.source == nil || f.sourceDone {
		return
	}
	if err := f.source.Fill(f.buffers.Slots[slot][f.sourceIndex], periodFrames, sampleSize); err != nil {
		logger.Info("Source WAV finished", "error", err)
		f.sourceDone = true
	}
}

// drain runs after the tick: playback endpoint host buffers now hold the
// demuxed period, handed to the capture file and the monitor device.
func (f *hostFeeds) drain(slot, periodFrames int, logger logging.Logger) {
	if f.capture != nil {
		if err := f.capture.Consume(f.buffers.Slots[slot][f.captureIndex], periodFrames, sampleSize); err != nil {
			logger.Warn("Capture WAV write failed", "error", err)
			f.capture = nil
		}
	}
	if f.monitor != nil {
		f.monitor.Submit(f.buffers.Slots[slot][f.monitorIndex], periodFrames)
	}
}

func (f *hostFeeds) close(logger logging.Logger) {
	if f.capture != nil {
		if err := f.capture.Close(); err != nil {
			logger.Warn("Failed to finalize capture WAV", "error", err)
		}
	}
	if f.captureFile != nil {
		_ = f.captureFile.Close()
	}
	if f.monitor != nil {
		_ = f.monitor.Close()
	}
}

// activateDemo attaches a loopback client to every endpoint and pre-fills
// playback rings with a square wave, so a bare run produces audible routing
// without a real driver-side application.
func activateDemo(loopback *driver.Loopback, endpoints []driver.Endpoint, periodFrames int, logger logging.Logger) {
	const ringPeriods = 8
	for i, endpoint := range endpoints {
		ringBytes := uint32(ringPeriods * periodFrames * endpoint.ChannelCount * sampleSize)
		if _, err := loopback.Activate(i, uint32(endpoint.ChannelCount), ringBytes, 1); err != nil {
			logger.Warn("Demo activation failed", "endpoint", endpoint.ID, "error", err)
			continue
		}
		if endpoint.Type == driver.Playback {
			writeSquareWave(loopback.Ring(i), endpoint.ChannelCount)
		}
		logger.Info("Demo endpoint active", "endpoint", endpoint.ID, "ring_bytes", ringBytes)
	}
}

// writeSquareWave fills an interleaved 16-bit ring with a square wave toggling
// every 32 frames. The ring loops, so the tone repeats for the whole session.
func writeSquareWave(ring []byte, channels int) {
	const amplitude = 8000
	frameBytes := channels * sampleSize
	if frameBytes == 0 {
		return
	}
	for frame := 0; frame*frameBytes+frameBytes <= len(ring); frame++ {
		sample := int16(amplitude)
		if frame/32%2 == 1 {
			sample = -amplitude
		}
		for ch := 0; ch < channels; ch++ {
			off := frame*frameBytes + ch*sampleSize
			binary.LittleEndian.PutUint16(ring[off:], uint16(sample))
		}
	}
}
