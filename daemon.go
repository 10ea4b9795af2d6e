package adaglow

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"libdb.so/adaglow/internal/events"
	"libdb.so/adaglow/internal/ledvis"
	"libdb.so/adaglow/internal/metrics"
	"libdb.so/adaglow/internal/reload"
)

const (
	// ReconnectInterval is how often the daemon tries to initialize a
	// crashed or disconnected device.
	ReconnectInterval = time.Second
	// KeepaliveInterval is how often the daemon resends an unchanged frame.
	KeepaliveInterval = time.Second
)

// RefreshQueuer is the interface for types that can queue a refresh of the
// LEDs. LED animations use this interface to queue a refresh when they are
// done.
type RefreshQueuer interface {
	// QueueRefresh queues a refresh of the LEDs.
	// The daemon may choose to ignore this request if it is already refreshing
	// the LEDs.
	QueueRefresh()
}

// Animator is the interface for types that can animate the LEDs.
// It is kept to a minimum.
type Animator interface {
	// AcquireFrame acquires a frame from the animator. The frame is passed to
	// the callback function. The callback function must not be called after
	// AcquireFrame returns.
	AcquireFrame(f func(ZoneColors))
}

var (
	_ Animator = (*ledvis.Static)(nil)
	_ Animator = (*ledvis.Snake)(nil)
)

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// WatchConfig makes the daemon reload the configuration file at path
// whenever it changes.
func WatchConfig(path string) DaemonOption {
	return func(d *Daemon) { d.configPath = path }
}

// ServeMetrics makes the daemon serve Prometheus metrics on addr under
// /metrics.
func ServeMetrics(addr string) DaemonOption {
	return func(d *Daemon) { d.metricsAddr = addr }
}

// WithDeviceOptions passes options to the device the daemon drives.
func WithDeviceOptions(opts ...Option) DaemonOption {
	return func(d *Daemon) { d.deviceOpts = append(d.deviceOpts, opts...) }
}

// Daemon is the main adaglow daemon. It renders the configured effects and
// keeps the device showing them, reconnecting whenever the device crashes.
type Daemon struct {
	cfg     *Config
	logger  *slog.Logger
	refresh chan struct{}
	reloads chan *Config

	device  *Device
	events  *events.Bus
	metrics *metrics.Metrics

	configPath  string
	metricsAddr string
	deviceOpts  []Option

	reconnectInterval time.Duration
	keepaliveInterval time.Duration
}

var _ RefreshQueuer = (*Daemon)(nil)

// NewDaemon creates a new adaglow daemon.
func NewDaemon(cfg *Config, logger *slog.Logger, opts ...DaemonOption) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	d := &Daemon{
		cfg:               cfg,
		logger:            logger,
		refresh:           make(chan struct{}, 1),
		reloads:           make(chan *Config, 1),
		events:            events.New(),
		metrics:           metrics.New(),
		reconnectInterval: ReconnectInterval,
		keepaliveInterval: KeepaliveInterval,
	}
	for _, opt := range opts {
		opt(d)
	}

	deviceOpts := []Option{
		WithLogger(logger),
		WithEvents(d.events),
		WithMetrics(d.metrics),
	}
	d.device = NewDevice(*cfg, append(deviceOpts, d.deviceOpts...)...)

	return d, nil
}

// Device returns the device the daemon drives.
func (d *Daemon) Device() *Device { return d.device }

// Events returns the bus that device and reload events are published on.
func (d *Daemon) Events() *events.Bus { return d.events }

// Metrics returns the daemon's metrics.
func (d *Daemon) Metrics() *metrics.Metrics { return d.metrics }

// QueueRefresh queues a refresh of the LEDs.
func (d *Daemon) QueueRefresh() {
	select {
	case d.refresh <- struct{}{}:
	default:
	}
}

// QueueReload replaces the configuration of the running daemon. Only the
// latest queued configuration is applied.
func (d *Daemon) QueueReload(cfg *Config) {
	for {
		select {
		case d.reloads <- cfg:
			return
		default:
		}

		select {
		case <-d.reloads:
		default:
		}
	}
}

// Run starts the daemon. It blocks until the given context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return d.mainLoop(ctx)
	})

	if d.configPath != "" {
		w := reload.New(d.configPath, LoadConfig, d.logger,
			reload.WithErrorHandler[*Config](func(err error) {
				d.reloaded(err)
			}))
		w.OnReload(d.QueueReload)

		errg.Go(func() error {
			return w.Run(ctx)
		})
	}

	if d.metricsAddr != "" {
		errg.Go(func() error {
			return d.serveMetrics(ctx)
		})
	}

	err := errg.Wait()

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := d.device.Wait(waitCtx); err != nil {
		d.logger.Warn("frame still in flight at shutdown")
	}

	d.logger.Debug("closing serial port")
	d.device.Shutdown()

	return err
}

func (d *Daemon) mainLoop(ctx context.Context) error {
	cfg := d.cfg

	if err := d.device.Initialize(); err != nil {
		d.logger.Warn(
			"failed to initialize device, will retry",
			"error", err)
	}

	animators := newAnimators(cfg.Effects, time.Now())

	frameTicker := time.NewTicker(frameInterval(cfg.Rate))
	defer frameTicker.Stop()

	var lastFrame time.Time
	lastAttempt := time.Now()

	d.QueueRefresh()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case newCfg := <-d.reloads:
			if !d.reconfigure(ctx, newCfg) {
				continue
			}

			cfg = newCfg
			animators = newAnimators(cfg.Effects, time.Now())
			frameTicker.Reset(frameInterval(cfg.Rate))
			lastAttempt = time.Now()
			d.QueueRefresh()

		case now := <-frameTicker.C:
			for _, animator := range animators {
				if a, ok := animator.(ledvis.Animated); ok && a.Step(now) {
					d.QueueRefresh()
				}
			}

			if !d.device.IsInitialized() {
				if now.Sub(lastAttempt) < d.reconnectInterval {
					continue
				}
				lastAttempt = now

				if err := d.device.Initialize(); err != nil {
					d.logger.Debug(
						"device still unavailable",
						"error", err)
					continue
				}
				d.QueueRefresh()
			}

			// Keep the refresh queued until the device can take a frame.
			if d.device.Sending() {
				continue
			}

			select {
			case <-d.refresh:
			default:
				if now.Sub(lastFrame) < d.keepaliveInterval {
					continue
				}
			}

			if err := d.device.UpdateDevice(composeFrame(animators), false); err != nil {
				d.logger.Warn(
					"failed to update device",
					"error", err)
				continue
			}

			lastFrame = now
		}
	}
}

// reconfigure applies cfg to the device. It returns false if cfg was
// rejected.
func (d *Daemon) reconfigure(ctx context.Context, cfg *Config) bool {
	if err := cfg.Validate(); err != nil {
		d.logger.Warn(
			"ignoring invalid configuration",
			"path", d.configPath,
			"error", err)
		d.reloaded(err)
		return false
	}

	d.logger.Info(
		"applying new configuration",
		"path", d.configPath,
		"device", cfg.Device,
		"leds", cfg.LEDs)

	// Let the last frame finish so closing the port does not crash it.
	if err := d.device.Wait(ctx); err != nil {
		return false
	}

	d.device.SetConfig(*cfg)
	d.device.Shutdown()

	if err := d.device.Initialize(); err != nil {
		d.logger.Warn(
			"failed to initialize device with new configuration, will retry",
			"error", err)
	}

	d.cfg = cfg
	d.reloaded(nil)
	return true
}

func (d *Daemon) reloaded(err error) {
	ev := events.ConfigReloadedEvent{
		Path: d.configPath,
		At:   time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	d.events.Publish(ev)
}

func (d *Daemon) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())

	srv := &http.Server{
		Addr:              d.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn(
				"failed to shut down metrics server",
				"error", err)
		}
	}()

	d.logger.Info(
		"serving metrics",
		"addr", d.metricsAddr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server failed")
	}

	return ctx.Err()
}

func frameInterval(rate int) time.Duration {
	return time.Second / time.Duration(rate)
}

func newAnimators(effects []EffectConfig, now time.Time) []Animator {
	animators := make([]Animator, 0, len(effects))

	for _, effect := range effects {
		switch {
		case effect.Color != nil:
			animators = append(animators, ledvis.NewStatic(effect.Zones, *effect.Color))

		case effect.Snake != nil:
			chunks := make([]RGBColor, len(effect.Snake.Chunks))
			for i, chunk := range effect.Snake.Chunks {
				chunks[i] = chunk.Color
			}

			animators = append(animators, ledvis.NewSnake(ledvis.SnakeConfig{
				Zones:   effect.Zones,
				Chunks:  chunks,
				Speed:   time.Duration(effect.Snake.Speed),
				Reverse: effect.Snake.Reverse,
			}, now))

		default:
			animators = append(animators, ledvis.NewStatic(effect.Zones, RGBColor{}))
		}
	}

	return animators
}

// composeFrame merges the colors of every animator into one frame.
func composeFrame(animators []Animator) ZoneColors {
	colors := make(ZoneColors)
	for _, animator := range animators {
		animator.AcquireFrame(func(c ZoneColors) {
			for zone, color := range c {
				colors[zone] = color
			}
		})
	}
	return colors
}
