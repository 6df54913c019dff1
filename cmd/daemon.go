package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/smazurov/camkeeper/internal/api"
	"github.com/smazurov/camkeeper/internal/capture"
	"github.com/smazurov/camkeeper/internal/catalog"
	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/control"
	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/ffmpeg"
	"github.com/smazurov/camkeeper/internal/frame"
	"github.com/smazurov/camkeeper/internal/hls"
	"github.com/smazurov/camkeeper/internal/led"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/merge"
	"github.com/smazurov/camkeeper/internal/metrics"
	"github.com/smazurov/camkeeper/internal/motion"
	"github.com/smazurov/camkeeper/internal/mux"
	"github.com/smazurov/camkeeper/internal/nats"
	"github.com/smazurov/camkeeper/internal/orchestrator"
	"github.com/smazurov/camkeeper/internal/pipeline"
	"github.com/smazurov/camkeeper/internal/recorder"
	"github.com/smazurov/camkeeper/internal/scheduler"
	"github.com/smazurov/camkeeper/internal/status"
	"github.com/smazurov/camkeeper/internal/streaming"
	"github.com/smazurov/camkeeper/internal/systemd"
	"github.com/smazurov/camkeeper/internal/version"
)

const (
	settingsDebounce = 500 * time.Millisecond
	shutdownTimeout  = 45 * time.Second
	mergeQueueSize   = 16
)

// Daemon is the running camkeeper service.
type Daemon struct {
	opts   *Options
	thing  string
	logger *slog.Logger

	bus      *events.Bus
	store    *config.Store
	catalog  *catalog.Catalog
	metrics  *metrics.Metrics
	rtsp     *streaming.Server
	nats     *nats.Server
	control  *nats.Responder
	bridge   *nats.Bridge
	mqtt     *control.MQTT
	leds     *led.Manager
	services *systemd.Manager
	links    *status.Links
	orch     *orchestrator.Orchestrator
	server   *api.Server

	detach []func()
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDaemon builds every component from opts. Nothing runs until Start.
func NewDaemon(opts *Options) (*Daemon, error) {
	d := &Daemon{
		opts:    opts,
		thing:   opts.ThingName(),
		logger:  logging.GetLogger("main"),
		bus:     events.New(),
		metrics: metrics.New(),
		links:   &status.Links{},
		done:    make(chan struct{}),
	}
	d.forwardLogs()

	for _, dir := range []string{opts.RecordingDir, opts.HLSDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	store, err := config.NewStore(opts.SettingsFile, logging.GetLogger("config"))
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	d.store = store
	if err := store.Watch(settingsDebounce); err != nil {
		d.logger.Warn("Settings file watcher unavailable, external edits are ignored", "error", err)
	}

	var pending merge.Pending
	if opts.CatalogFile != "" {
		cat, err := catalog.Open(opts.CatalogFile, logging.GetLogger("catalog"))
		if err != nil {
			d.logger.Warn("Recording catalog unavailable", "path", opts.CatalogFile, "error", err)
		} else {
			d.catalog = cat
			pending = cat
			d.detach = append(d.detach, cat.Attach(d.bus))
		}
	}
	d.detach = append(d.detach, d.metrics.Attach(d.bus))

	ffmpegLog := logging.GetLogger("ffmpeg")
	runner := ffmpeg.NewProcessRunner(logging.GetLogger("pipeline"), ffmpegLog)
	resolver := pipeline.NewResolver(runner, opts.EncoderHardware, logging.GetLogger("pipeline"))
	opener := pipeline.NewFFmpegOpener(resolver, logging.GetLogger("pipeline"), ffmpegLog)

	settings := store.Snapshot()
	source, err := capture.NewFFmpegSource(capture.Config{
		DevicePath:  opts.CaptureDevice,
		InputFormat: opts.CaptureFormat,
		Width:       opts.CaptureWidth,
		Height:      opts.CaptureHeight,
		FPS:         settings.FPS,
		TestSource:  opts.CaptureTestSource,
	}, logging.GetLogger("capture"), ffmpegLog)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	d.rtsp = streaming.NewServer(streaming.NewHub(logging.GetLogger("streaming")), logging.GetLogger("streaming"), false)
	ring, err := hls.NewRing(opts.HLSDir, opts.HLSSegments, float64(opts.HLSSegmentSeconds), logging.GetLogger("hls"))
	if err != nil {
		return nil, fmt.Errorf("hls: %w", err)
	}
	outputs := mux.New(
		mux.SinkConfig{Name: mux.SinkLive, Open: d.liveOpener(opener, resolver)},
		mux.SinkConfig{Name: mux.SinkHLS, Open: d.hlsOpener(opener, resolver, ring)},
		d.bus, d.metrics, logging.GetLogger("mux"),
	)

	params := motion.DefaultParams()
	detector := motion.NewDetector(params, motion.NewTracker(params), logging.GetLogger("motion"))

	engine := merge.NewEngine(runner, logging.GetLogger("merge"),
		merge.WithBitrate(settings.Bitrate),
		merge.WithEncoder(ffmpeg.EncoderFor(opts.EncoderMerge)))
	worker := merge.NewWorker(engine, mergeQueueSize, d.bus, d.metrics, logging.GetLogger("merge"))

	var restarter orchestrator.Restarter
	if services, err := systemd.NewManager(context.Background(), opts.SystemdUser); err != nil {
		d.logger.Info("systemd not reachable, restart command disabled", "error", err)
	} else {
		d.services = services
		restarter = systemd.Restarter{Unit: opts.SystemdUnit, User: opts.SystemdUser}
	}

	d.orch = orchestrator.New(orchestrator.Options{
		Thing:     d.thing,
		Version:   version.Version,
		Store:     store,
		Source:    source,
		Recorder:  recorder.New(opts.RecordingDir, opener, d.bus, logging.GetLogger("recorder")),
		Outputs:   outputs,
		Detector:  detector,
		Scheduler: scheduler.New(store, logging.GetLogger("scheduler")),
		Merges:    worker,
		Backends:  resolver,
		Pending:   pending,
		Metrics:   d.metrics,
		Sampler: status.NewSampler(opts.RecordingDir, logging.GetLogger("status"),
			status.WithTemperatureHook(d.metrics.CPUTemperature)),
		Restarter: restarter,
		Bus:       d.bus,
		Overlay:   opts.StreamingOverlay,
	}, logging.GetLogger("orchestrator"))

	dispatcher := control.NewDispatcher(d.thing, store, d.orch, logging.GetLogger("control"))
	natsURL := opts.NATSClientURL()
	if opts.NATSEmbedded {
		d.nats = nats.NewServer(nats.ServerOptions{Port: opts.NATSPort, Name: "camkeeper-" + d.thing}, logging.GetLogger("nats"))
	}
	if opts.NATSEmbedded || opts.NATSURL != "" {
		d.control = nats.NewResponder(natsURL, dispatcher, logging.GetLogger("nats"))
		d.bridge = nats.NewBridge(natsURL, d.thing, d.bus, logging.GetLogger("nats"))
		d.links.Add("nats_control", d.control.IsConnected)
		d.links.Add("nats_events", d.bridge.IsConnected)
	}
	if opts.MQTTBroker != "" {
		d.mqtt = control.NewMQTT(control.MQTTOptions{
			Broker:   opts.MQTTBroker,
			ClientID: "camkeeper-" + d.thing,
			Username: opts.MQTTUsername,
			Password: opts.MQTTPassword,
		}, dispatcher, logging.GetLogger("control"))
		d.links.Add("mqtt", d.mqtt.Connected)
	}

	if opts.FeaturesLEDControl {
		ctrl := led.New(led.Options{GPIOPin: opts.LEDGPIOPin}, logging.GetLogger("led"))
		d.leds = led.NewManager(ctrl, d.bus, logging.GetLogger("led"))
	}

	apiOpts := &api.Options{
		AuthUsername:   opts.AuthUsername,
		AuthPassword:   opts.AuthPassword,
		Dispatcher:     dispatcher,
		Settings:       store,
		Reporter:       d.orch,
		Merges:         worker,
		Bus:            d.bus,
		MetricsHandler: d.metrics.Handler(),
		HLSDir:         opts.HLSDir,
		Unit:           opts.SystemdUnit,
	}
	if d.catalog != nil {
		apiOpts.Catalog = d.catalog
	}
	if d.services != nil {
		apiOpts.Services = d.services
	}
	d.server = api.NewServer(apiOpts)
	return d, nil
}

// forwardLogs publishes every log record on the bus for the log stream.
func (d *Daemon) forwardLogs() {
	var seq atomic.Uint64
	logging.SetLogCallback(func(entry logging.LogEntry) {
		d.bus.Publish(events.LogEntryEvent{
			Seq:        seq.Add(1),
			Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
			Level:      entry.Level,
			Module:     entry.Module,
			Message:    entry.Message,
			Attributes: entry.Attributes,
		})
	})
}

func (d *Daemon) liveOpener(opener pipeline.Opener, backends orchestrator.Backends) mux.OpenFunc {
	return func(f *frame.Frame) (pipeline.Writer, error) {
		url, err := d.rtsp.PublishURL(d.opts.StreamingPath)
		if err != nil {
			return nil, err
		}
		s := d.store.Snapshot()
		return opener.Open(pipeline.Spec{
			ID:      mux.SinkLive,
			Kind:    ffmpeg.OutputRTSP,
			Output:  url,
			Width:   f.Width,
			Height:  f.Height,
			FPS:     s.FPS,
			Bitrate: s.Bitrate,
			Backend: backends.Resolve(context.Background()),
		})
	}
}

func (d *Daemon) hlsOpener(opener pipeline.Opener, backends orchestrator.Backends, ring *hls.Ring) mux.OpenFunc {
	return func(f *frame.Frame) (pipeline.Writer, error) {
		s := d.store.Snapshot()
		return opener.Open(pipeline.Spec{
			ID:             mux.SinkHLS,
			Kind:           ffmpeg.OutputSegments,
			Output:         ring.NextPattern(),
			Width:          f.Width,
			Height:         f.Height,
			FPS:            s.FPS,
			Bitrate:        s.Bitrate,
			Backend:        backends.Resolve(context.Background()),
			SegmentSeconds: d.opts.HLSSegmentSeconds,
			OnOutput:       ring.HandleLine,
		})
	}
}

// Start brings up the transports and the orchestrator, then serves HTTP
// until Stop.
func (d *Daemon) Start() error {
	d.logger.Info("Starting camkeeper", "thing", d.thing, "version", version.Version)

	// the live encoder publishes here, so it has to listen first
	if err := d.rtsp.Start(d.opts.StreamingRTSPPort); err != nil {
		return fmt.Errorf("rtsp server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	if d.nats != nil {
		if err := d.nats.Start(); err != nil {
			d.logger.Error("Embedded NATS server failed, NATS control disabled", "error", err)
			d.control, d.bridge = nil, nil
		}
	}
	if d.control != nil {
		if err := d.control.Start(ctx); err != nil {
			d.logger.Warn("NATS control unavailable", "error", err)
		}
	}
	if d.bridge != nil {
		if err := d.bridge.Start(); err != nil {
			d.logger.Warn("NATS event bridge unavailable", "error", err)
		}
	}
	if d.mqtt != nil {
		go func() {
			if err := d.mqtt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("MQTT control stopped", "error", err)
			}
		}()
	}
	if d.leds != nil {
		d.leds.Start()
	}
	go d.reloadOnHangup(ctx)

	go func() {
		defer close(d.done)
		if err := d.orch.Run(ctx); err != nil {
			d.logger.Error("Orchestrator stopped", "error", err)
		}
	}()

	if err := d.server.Start(d.opts.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// reloadOnHangup applies the settings file on SIGHUP, for editors and
// provisioning tools that prefer a signal over the file watcher.
func (d *Daemon) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := d.store.Reload(); err != nil {
				d.logger.Warn("Reloading settings failed", "error", err)
				continue
			}
			d.logger.Info("Settings reloaded", "version", d.store.Snapshot().Version)
		}
	}
}

// Stop closes the active session, hands it to the merge worker and shuts
// everything down.
func (d *Daemon) Stop() {
	d.logger.Info("Shutting down")
	if err := d.server.Stop(); err != nil {
		d.logger.Error("Error stopping HTTP server", "error", err)
	}

	if d.cancel != nil {
		d.cancel()
		select {
		case <-d.done:
		case <-time.After(shutdownTimeout):
			d.logger.Error("Orchestrator did not stop in time", "timeout", shutdownTimeout)
		}
	}

	if d.control != nil {
		d.control.Stop()
	}
	if d.bridge != nil {
		d.bridge.Stop()
	}
	if d.nats != nil {
		d.nats.Stop()
	}
	if err := d.rtsp.Stop(); err != nil {
		d.logger.Error("Error stopping RTSP server", "error", err)
	}
	if d.leds != nil {
		d.leds.Stop()
	}
	for _, detach := range d.detach {
		detach()
	}
	if d.catalog != nil {
		if err := d.catalog.Close(); err != nil {
			d.logger.Warn("Closing catalog failed", "error", err)
		}
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("Closing settings store failed", "error", err)
	}
	if d.services != nil {
		d.services.Close()
	}
	logging.SetLogCallback(nil)
}
