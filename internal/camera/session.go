package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"voucherscan/internal/logging"
	"voucherscan/internal/scanerr"
)

// ErrDeviceBusy reports that another scanner holds the device lock.
var ErrDeviceBusy = errors.New("camera is in use by another scanner")

// SessionOptions configures a capture session.
type SessionOptions struct {
	Acquirer Acquirer
	Sink     Sink
	Decoder  Resetter
	// LockDir holds per-device lock files. Empty disables locking.
	LockDir string
	Logger  *slog.Logger
}

// Session owns a single capture stream at a time.
type Session struct {
	acquirer Acquirer
	sink     Sink
	decoder  Resetter
	lockDir  string
	logger   *slog.Logger

	mu     sync.Mutex
	stream Stream
	lock   *flock.Flock
}

// NewSession builds a capture session. A nil sink gets a VideoSink.
func NewSession(opts SessionOptions) *Session {
	sink := opts.Sink
	if sink == nil {
		sink = NewVideoSink()
	}
	return &Session{
		acquirer: opts.Acquirer,
		sink:     sink,
		decoder:  opts.Decoder,
		lockDir:  strings.TrimSpace(opts.LockDir),
		logger:   logging.NewComponentLogger(opts.Logger, "capture-session"),
	}
}

// Sink returns the decode target fed by the session.
func (s *Session) Sink() Sink {
	return s.sink
}

// Active reports whether a stream is held.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Acquire opens the requested device, or the environment-facing camera when
// deviceID is empty, and attaches it to the sink. Any previously held stream
// is released first. On failure nothing stays acquired.
func (s *Session) Acquire(ctx context.Context, deviceID string) (Stream, error) {
	s.Release()

	if s.acquirer == nil {
		return nil, scanerr.New(scanerr.KindCameraAccess, "acquire camera", "camera capability unavailable")
	}

	constraints := EnvironmentFacing()
	if strings.TrimSpace(deviceID) != "" {
		constraints = ExactDevice(deviceID)
	}
	if err := constraints.Validate(); err != nil {
		return nil, scanerr.Wrap(scanerr.KindCameraAccess, "acquire camera", "invalid camera constraints", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.lockDevice(constraints)
	if err != nil {
		return nil, scanerr.Wrap(scanerr.KindCameraAccess, "acquire camera", "camera unavailable", err)
	}

	stream, err := s.acquirer.GetStream(ctx, constraints)
	if err != nil {
		unlock(lock)
		return nil, scanerr.Wrap(scanerr.KindCameraAccess, "acquire camera", "camera access denied or unavailable", err)
	}
	if stream == nil {
		unlock(lock)
		return nil, scanerr.New(scanerr.KindCameraAccess, "acquire camera", "camera returned no stream")
	}
	if err := s.sink.Attach(stream); err != nil {
		stopTracks(stream, s.logger)
		unlock(lock)
		return nil, scanerr.Wrap(scanerr.KindCameraAccess, "acquire camera", "attach video sink", err)
	}

	s.stream = stream
	s.lock = lock
	s.logger.Info("camera acquired",
		logging.String(logging.FieldEventType, "camera_acquired"),
		logging.String(logging.FieldDevice, describeConstraints(constraints)),
		logging.String("stream_device", stream.DeviceID()),
	)
	return stream, nil
}

// Release stops every track, detaches the sink and drops the device lock.
// The decoder is reset only when a stream was held, so input queued before
// the first acquisition survives. It is idempotent.
func (s *Session) Release() {
	s.mu.Lock()
	stream := s.stream
	lock := s.lock
	s.stream = nil
	s.lock = nil
	s.mu.Unlock()

	if stream != nil {
		stopTracks(stream, s.logger)
		if s.decoder != nil {
			s.decoder.Reset()
		}
	}
	s.sink.Detach()
	unlock(lock)

	if stream != nil {
		s.logger.Info("camera released",
			logging.String(logging.FieldEventType, "camera_released"),
			logging.String(logging.FieldDevice, stream.DeviceID()),
		)
	}
}

func (s *Session) lockDevice(constraints Constraints) (*flock.Flock, error) {
	if s.lockDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(s.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	name := constraints.DeviceID
	if name == "" {
		name = constraints.FacingMode
	}
	lock := flock.New(filepath.Join(s.lockDir, "camera-"+lockToken(name)+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock camera: %w", err)
	}
	if !ok {
		return nil, ErrDeviceBusy
	}
	return lock, nil
}

func unlock(lock *flock.Flock) {
	if lock == nil {
		return
	}
	_ = lock.Unlock()
}

func stopTracks(stream Stream, logger *slog.Logger) {
	for _, track := range stream.Tracks() {
		if track == nil {
			continue
		}
		if err := track.Stop(); err != nil {
			logger.Debug("track stop failed", logging.Error(err))
		}
	}
}

func describeConstraints(c Constraints) string {
	if c.DeviceID != "" {
		return c.DeviceID
	}
	return "facing:" + c.FacingMode
}

// lockToken converts a device identifier into a file-name-safe token.
func lockToken(value string) string {
	value = strings.TrimSpace(value)
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "default"
	}
	return out
}
