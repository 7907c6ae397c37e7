package framedecode

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"voucherscan/internal/camera"
)

const (
	lineBuffer    = 16
	maxLineLength = 64 * 1024
)

// LineDecoder reads one payload per line from a reader, as typed by a
// keyboard-wedge scanner or piped on stdin. Lines are queued by a background
// reader and handed out one per DecodeOneFrame call.
type LineDecoder struct {
	source string
	closer io.Closer
	lines  chan string
	done   chan struct{}
	quit   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewLineDecoder starts reading r. source names the input ("stdin" or a path)
// and becomes the device ID reported by the decoder's host capabilities.
func NewLineDecoder(r io.Reader, source string) *LineDecoder {
	d := &LineDecoder{
		source: strings.TrimSpace(source),
		lines:  make(chan string, lineBuffer),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	if d.source == "" {
		d.source = "stdin"
	}
	if c, ok := r.(io.Closer); ok {
		d.closer = c
	}
	go d.read(r)
	return d
}

func (d *LineDecoder) read(r io.Reader) {
	defer close(d.done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case d.lines <- line:
		case <-d.quit:
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
	}
}

// DecodeOneFrame returns the next queued line without blocking. The sink must
// be attached so lines are only consumed while a session is active.
func (d *LineDecoder) DecodeOneFrame(ctx context.Context, sink camera.Sink) (string, error) {
	if sink == nil || sink.Stream() == nil {
		return "", ErrNoStream
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	select {
	case line := <-d.lines:
		return line, nil
	default:
		return "", ErrNotFound
	}
}

// Reset discards queued lines so input typed while the session was idle is
// never redeemed.
func (d *LineDecoder) Reset() {
	for {
		select {
		case <-d.lines:
		default:
			return
		}
	}
}

// Done is closed once the input reaches EOF or fails.
func (d *LineDecoder) Done() <-chan struct{} {
	return d.done
}

// Pending reports how many lines are queued.
func (d *LineDecoder) Pending() int {
	return len(d.lines)
}

// Err returns the read error that ended the input, if any.
func (d *LineDecoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close stops the reader and closes the underlying input when it is
// closable. Lines still queued are dropped.
func (d *LineDecoder) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.quit)
		if d.closer != nil {
			err = d.closer.Close()
		}
	})
	return err
}

// Source returns the input name.
func (d *LineDecoder) Source() string {
	return d.source
}

// LineHost adapts a LineDecoder to the camera host capabilities so the scan
// pipeline runs unchanged over a line source: one always-granted device whose
// stream has no tracks.
type LineHost struct {
	decoder *LineDecoder
}

// NewLineHost wraps d.
func NewLineHost(d *LineDecoder) *LineHost {
	return &LineHost{decoder: d}
}

// QueryCameraPermission always grants access.
func (h *LineHost) QueryCameraPermission(context.Context) (camera.PermissionState, error) {
	return camera.PermissionGranted, nil
}

// ListMediaDevices reports the line source as the only video input.
func (h *LineHost) ListMediaDevices(context.Context) ([]camera.MediaDevice, error) {
	return []camera.MediaDevice{{
		Kind:     camera.KindVideoInput,
		DeviceID: h.decoder.source,
		Label:    "Line input (" + h.decoder.source + ")",
	}}, nil
}

// GetStream returns a stream bound to the line source.
func (h *LineHost) GetStream(_ context.Context, c camera.Constraints) (camera.Stream, error) {
	if c.DeviceID != "" && c.DeviceID != h.decoder.source {
		return nil, errors.New("unknown line source " + c.DeviceID)
	}
	return lineStream{id: h.decoder.source}, nil
}

type lineStream struct {
	id string
}

func (s lineStream) DeviceID() string { return s.id }

func (s lineStream) Tracks() []camera.Track { return nil }
