package beatglow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"libdb.so/beatglow/internal/analytics"
	"libdb.so/beatglow/internal/capture"
	"libdb.so/beatglow/internal/httpserver"
	"libdb.so/beatglow/internal/led"
	"libdb.so/beatglow/internal/pulse"
	"libdb.so/beatglow/internal/tempo"
)

// RefreshQueuer is the interface for types that can queue a refresh of the
// LEDs. The daemon calls it whenever the pulse color changes.
type RefreshQueuer interface {
	// QueueRefresh queues a refresh of the LEDs.
	// The strip may choose to ignore this request if it is already
	// refreshing the LEDs.
	QueueRefresh()
}

// Animator is the interface for types that can animate the LEDs.
// It is kept to a minimum.
type Animator interface {
	// AcquireFrame acquires a frame from the animator. The frame is passed to
	// the callback function. The callback function must not be called after
	// AcquireFrame returns.
	AcquireFrame(f func(led.LEDs))
	// Animated returns true if the frame changes without a refresh being
	// queued, in which case the strip redraws it at its full rate.
	Animated() bool
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithBackend overrides the capture backend chosen by the configuration.
func WithBackend(b capture.Backend) Option {
	return func(d *Daemon) { d.backend = b }
}

// WithClock overrides the clock driving the pulse.
func WithClock(c pulse.Clock) Option {
	return func(d *Daemon) { d.clock = c }
}

// WithAnalytics overrides the analytics emitter chosen by the configuration.
func WithAnalytics(e analytics.Emitter) Option {
	return func(d *Daemon) { d.analytics = e }
}

// WithEstimator overrides the tempo estimator. f is called once per capture
// session.
func WithEstimator(f func(tempo.AnalyzerConfig) tempo.Estimator) Option {
	return func(d *Daemon) { d.newEstimator = f }
}

// Daemon is the main beatglow daemon. It owns the beat pulse controller and
// fans its state out to the outputs.
type Daemon struct {
	cfg          *Config
	logger       *slog.Logger
	backend      capture.Backend
	clock        pulse.Clock
	analytics    analytics.Emitter
	newEstimator func(tempo.AnalyzerConfig) tempo.Estimator
	openStrip    func(*StripConfig) (io.ReadWriteCloser, error)

	start chan struct{}

	mu       sync.RWMutex
	snapshot pulse.Snapshot
	subs     []func(pulse.Snapshot)
}

var _ httpserver.Controller = (*Daemon)(nil)

// NewDaemon creates a new beatglow daemon.
func NewDaemon(cfg *Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		clock:     pulse.RealClock,
		start:     make(chan struct{}, 1),
		openStrip: openSerial,
		newEstimator: func(cfg tempo.AnalyzerConfig) tempo.Estimator {
			return tempo.NewAnalyzer(cfg)
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.backend == nil {
		d.backend = capture.Lookup(cfg.Capture.Backend)
	}

	if d.analytics == nil {
		if cfg.Analytics.Endpoint != "" {
			d.analytics = analytics.NewHTTP(cfg.Analytics.Endpoint, logger)
		} else {
			d.analytics = analytics.Nop{}
		}
	}

	return d, nil
}

// Start queues the start action. It never blocks. Starting while a capture
// is already running does nothing.
func (d *Daemon) Start() {
	select {
	case d.start <- struct{}{}:
	default:
	}
}

// Subscribe registers f to be called with every new snapshot. f is called
// from the daemon's event loop and must not block. Subscribe must be called
// before Run.
func (d *Daemon) Subscribe(f func(pulse.Snapshot)) {
	d.mu.Lock()
	d.subs = append(d.subs, f)
	d.mu.Unlock()
}

// Snapshot returns the latest published state.
func (d *Daemon) Snapshot() pulse.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}

func (d *Daemon) publish(s pulse.Snapshot) {
	d.mu.Lock()
	if s == d.snapshot {
		d.mu.Unlock()
		return
	}
	d.snapshot = s
	subs := d.subs
	d.mu.Unlock()

	for _, sub := range subs {
		sub(s)
	}
}

// Run starts the daemon. It blocks until the given context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	var srv *httpserver.Server
	if d.cfg.HTTP.Addr != "" {
		srv = httpserver.NewServer(d.cfg.HTTP.Addr, d)
		if err := srv.Start(); err != nil {
			return errors.Wrap(err, "failed to start HTTP server")
		}
		d.logger.Info("serving status API", "addr", srv.Addr())
	}

	errg, ctx := errgroup.WithContext(ctx)

	if d.cfg.Strip != nil {
		strip := newStrip(d.cfg.Strip, d.logger.With("component", "strip"))
		strip.open = d.openStrip
		d.Subscribe(strip.handleSnapshot)
		errg.Go(func() error {
			// Strip failures are logged by runStrip, never returned.
			runStrip(ctx, strip)
			return nil
		})
	}

	if srv != nil {
		errg.Go(func() error {
			<-ctx.Done()
			if err := srv.Stop(); err != nil {
				return errors.Wrap(err, "failed to stop HTTP server")
			}
			return nil
		})
	}

	errg.Go(func() error {
		return d.mainLoop(ctx)
	})

	return errg.Wait()
}

// stripRetryMin and stripRetryMax bound the delay between two attempts to
// bring the strip back up.
const (
	stripRetryMin = time.Second
	stripRetryMax = 30 * time.Second
)

// runStrip runs the strip until ctx is canceled, reopening it with backoff
// whenever it fails. A panicked controller is not retried.
func runStrip(ctx context.Context, s *strip) {
	delay := stripRetryMin

	for {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, errControllerPanicked) {
			s.logger.Error("giving up on LED strip", "error", err)
			return
		}

		s.logger.Warn(
			"LED strip failed, retrying",
			"error", err,
			"retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay = min(delay*2, stripRetryMax)
	}
}

// captureEvent is sent from a capture session to the event loop. session
// tells apart events from a session that was already given up on.
type captureEvent struct {
	session   int
	estimates []tempo.Tempo
	err       error
}

func (d *Daemon) mainLoop(ctx context.Context) error {
	ctl := pulse.New(pulse.Options{
		Clock:      d.clock,
		Startup:    d.cfg.Pulse.Startup,
		StartupBPM: float64(d.cfg.Pulse.StartupBPM),
	})
	defer ctl.Stop()

	events := make(chan captureEvent)

	var (
		wg            sync.WaitGroup
		session       int
		cancelCapture context.CancelFunc = func() {}
	)
	defer func() {
		cancelCapture()
		wg.Wait()
	}()

	d.publish(ctl.Snapshot())

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("stopping event loop")
			return nil

		case <-d.start:
			d.analytics.Emit(analytics.StartClicked)

			if !ctl.Start() {
				d.logger.Debug("ignoring start, capture already running")
				continue
			}

			session++
			d.logger.Info(
				"starting capture",
				"backend", d.cfg.Capture.Backend,
				"startup", d.cfg.Pulse.Startup)

			var captureCtx context.Context
			captureCtx, cancelCapture = context.WithCancel(ctx)

			wg.Add(1)
			go func(session int) {
				defer wg.Done()
				d.capture(captureCtx, session, events)
			}(session)

		case ev := <-events:
			if ev.session != session {
				continue
			}

			if ev.err != nil {
				d.logger.Error(
					"audio capture failed",
					"error", ev.err)
				cancelCapture()
				ctl.Fail(ev.err)
				break
			}

			if len(ev.estimates) == 0 {
				d.logger.Info("listening...")
				continue
			}

			changed, err := ctl.Update(ev.estimates)
			if err != nil {
				d.logger.Warn(
					"ignoring invalid tempo estimate",
					"estimate", ev.estimates[0],
					"error", err)
				continue
			}
			if changed {
				d.logger.Info(
					"tempo changed",
					"bpm", ev.estimates[0].BPM,
					"interval", pulse.Interval(ev.estimates[0].BPM))
			}

		case <-ctl.Ticks():
			ctl.Beat()
		}

		d.publish(ctl.Snapshot())
	}
}

func (d *Daemon) capture(ctx context.Context, session int, events chan<- captureEvent) {
	send := func(ev captureEvent) {
		ev.session = session
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	stream, err := d.backend.Open(d.cfg.captureConfig())
	if err != nil {
		send(captureEvent{err: errors.Wrap(err, "failed to open audio input")})
		return
	}
	defer stream.Close()

	estimator := d.newEstimator(d.cfg.analyzerConfig())
	estimator.OnEstimate(func(estimates []tempo.Tempo) {
		send(captureEvent{estimates: estimates})
	})
	estimator.OnStabilized(func(threshold float64) {
		d.logger.Debug(
			"tempo stabilized, clearing peak history",
			"threshold", threshold)
		estimator.ClearHistory(threshold)
	})

	err = stream.Run(ctx, func(buf capture.Buffer) {
		estimator.Ingest(buf)
	})

	if dc, ok := stream.(capture.DropCounter); ok {
		if n := dc.Dropped(); n > 0 {
			d.logger.Warn(
				"audio input fell behind, chunks were dropped",
				"dropped", n)
		}
	}

	if ctx.Err() != nil {
		return
	}

	send(captureEvent{err: errors.Wrap(err, "audio input stopped")})
}
