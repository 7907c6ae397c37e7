package scanloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"voucherscan/internal/camera"
	"voucherscan/internal/framedecode"
	"voucherscan/internal/logging"
	"voucherscan/internal/scanerr"
	"voucherscan/internal/schedule"
)

const (
	DefaultScanDelay     = 1000 * time.Millisecond
	DefaultRetryDelay    = 100 * time.Millisecond
	DefaultFrameInterval = 100 * time.Millisecond
	DefaultTimeout       = 60 * time.Second
)

// ErrAlreadyRunning is returned by Start while the loop is running.
var ErrAlreadyRunning = errors.New("scan loop already running")

// State is the loop lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Result is one non-empty decode.
type Result struct {
	RawData   string
	Timestamp time.Time
	// IsValid is filled in by the consumer after parsing.
	IsValid bool
}

// Handler receives loop events. Methods run on the loop goroutine and must
// not call Stop.
type Handler interface {
	HandleScan(result Result)
	HandleScanError(err error)
	HandleTimeout(err error)
}

// Options configures a Loop. Zero durations take the package defaults.
type Options struct {
	Session       *camera.Session
	Decoder       framedecode.Decoder
	Clock         schedule.Clock
	ScanDelay     time.Duration
	RetryDelay    time.Duration
	FrameInterval time.Duration
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Loop drives one capture session at a time.
type Loop struct {
	session       *camera.Session
	decoder       framedecode.Decoder
	clock         schedule.Clock
	scanDelay     time.Duration
	retryDelay    time.Duration
	frameInterval time.Duration
	timeout       time.Duration
	logger        *slog.Logger

	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu          sync.Mutex
	state       State
	gen         uint64
	task        *schedule.Task
	device      string
	windowStart time.Time
	lastSuccess time.Time
}

// New builds an idle loop.
func New(opts Options) *Loop {
	clock := opts.Clock
	if clock == nil {
		clock = schedule.RealClock{}
	}
	return &Loop{
		session:       opts.Session,
		decoder:       opts.Decoder,
		clock:         clock,
		scanDelay:     orDefault(opts.ScanDelay, DefaultScanDelay),
		retryDelay:    orDefault(opts.RetryDelay, DefaultRetryDelay),
		frameInterval: orDefault(opts.FrameInterval, DefaultFrameInterval),
		timeout:       orDefault(opts.Timeout, DefaultTimeout),
		logger:        logging.NewComponentLogger(opts.Logger, "scan-loop"),
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Running reports whether the loop is running.
func (l *Loop) Running() bool {
	return l.State() == StateRunning
}

// Start acquires the capture device (the environment-facing camera when
// deviceID is empty) and begins ticking. Acquisition errors are returned and
// leave the loop in its previous state.
func (l *Loop) Start(ctx context.Context, deviceID string, h Handler) error {
	if h == nil {
		return errors.New("start scan loop: nil handler")
	}
	if l.session == nil || l.decoder == nil {
		return errors.New("start scan loop: session and decoder required")
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if l.state == StateRunning {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	previous := l.task
	l.task = nil
	l.mu.Unlock()

	// A loop that stopped itself on timeout may still be unwinding.
	previous.Cancel()

	if _, err := l.session.Acquire(ctx, deviceID); err != nil {
		return err
	}

	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.state = StateRunning
	l.device = deviceID
	l.windowStart = l.clock.Now()
	l.lastSuccess = time.Time{}
	l.task = schedule.Start(context.WithoutCancel(ctx), l.clock, 0, l.tick(gen, h))
	l.mu.Unlock()

	l.logger.Info("scan loop started",
		logging.String(logging.FieldEventType, "scan_started"),
		logging.String(logging.FieldDevice, describeDevice(deviceID)),
		logging.Duration("timeout", l.timeout),
	)
	return nil
}

// Stop cancels any pending tick, waits for an in-progress tick, and releases
// the capture session. It is safe from any state and idempotent.
func (l *Loop) Stop() {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	wasRunning := l.state == StateRunning
	if l.state != StateIdle {
		l.state = StateStopped
	}
	task := l.task
	l.task = nil
	l.mu.Unlock()

	task.Cancel()
	l.session.Release()

	if wasRunning {
		l.logger.Info("scan loop stopped", logging.String(logging.FieldEventType, "scan_stopped"))
	}
}

func (l *Loop) tick(gen uint64, h Handler) schedule.Func {
	return func(ctx context.Context, now time.Time) (time.Duration, bool) {
		l.mu.Lock()
		if l.gen != gen || l.state != StateRunning {
			l.mu.Unlock()
			return 0, false
		}
		if now.Sub(l.windowStart) >= l.timeout {
			l.state = StateStopped
			l.mu.Unlock()
			l.session.Release()
			err := scanerr.New(scanerr.KindTimeout, "scan", "no code scanned before the timeout; start scanning again")
			logging.WarnWithContext(l.logger, "scan timed out", "scan_timeout",
				logging.Duration("timeout", l.timeout),
				logging.String(logging.FieldErrorHint, "hold the code steady in front of the camera and restart the scan"),
				logging.String(logging.FieldImpact, "camera released until scanning restarts"),
			)
			h.HandleTimeout(err)
			return 0, false
		}
		if !l.lastSuccess.IsZero() && now.Sub(l.lastSuccess) < l.scanDelay {
			l.mu.Unlock()
			return l.retryDelay, true
		}
		l.mu.Unlock()

		text, err := l.decoder.DecodeOneFrame(ctx, l.session.Sink())
		if ctx.Err() != nil {
			return 0, false
		}
		switch {
		case err == nil && text != "":
			l.mu.Lock()
			if l.gen != gen || l.state != StateRunning {
				l.mu.Unlock()
				return 0, false
			}
			l.lastSuccess = now
			l.windowStart = now
			l.mu.Unlock()
			l.logger.Debug("frame decoded", logging.Int("length", len(text)))
			h.HandleScan(Result{RawData: text, Timestamp: now})
		case err == nil, errors.Is(err, framedecode.ErrNotFound):
		default:
			l.logger.Debug("frame decode failed", logging.Error(err))
			h.HandleScanError(scanerr.Wrap(scanerr.KindCameraAccess, "decode frame", "could not read a frame from the camera", err))
		}
		return l.frameInterval, true
	}
}

func describeDevice(id string) string {
	if id == "" {
		return "facing:" + camera.FacingEnvironment
	}
	return id
}
