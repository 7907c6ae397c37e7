package scanloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voucherscan/internal/camera"
	"voucherscan/internal/framedecode"
	"voucherscan/internal/scanerr"
	"voucherscan/internal/testsupport"
)

type stubStream struct{ id string }

func (s stubStream) DeviceID() string       { return s.id }
func (s stubStream) Tracks() []camera.Track { return nil }

type stubAcquirer struct {
	err error
}

func (a stubAcquirer) GetStream(_ context.Context, c camera.Constraints) (camera.Stream, error) {
	if a.err != nil {
		return nil, a.err
	}
	return stubStream{id: c.DeviceID}, nil
}

type stubDecoder struct {
	mu     sync.Mutex
	text   string
	err    error
	calls  int
	resets int
}

func (d *stubDecoder) DecodeOneFrame(context.Context, camera.Sink) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.text, d.err
}

func (d *stubDecoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
}

func (d *stubDecoder) set(text string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text, d.err = text, err
}

func (d *stubDecoder) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type recordingHandler struct {
	scans    chan Result
	errs     chan error
	timeouts chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		scans:    make(chan Result, 32),
		errs:     make(chan error, 32),
		timeouts: make(chan error, 4),
	}
}

func (h *recordingHandler) HandleScan(r Result)       { h.scans <- r }
func (h *recordingHandler) HandleScanError(err error) { h.errs <- err }
func (h *recordingHandler) HandleTimeout(err error)   { h.timeouts <- err }

type fixture struct {
	loop    *Loop
	clock   *testsupport.FakeClock
	decoder *stubDecoder
	session *camera.Session
	handler *recordingHandler
}

func newFixture(t *testing.T, acquirer camera.Acquirer) *fixture {
	return newFixtureWithTimeout(t, acquirer, time.Second)
}

func newFixtureWithTimeout(t *testing.T, acquirer camera.Acquirer, timeout time.Duration) *fixture {
	t.Helper()
	clock := testsupport.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	decoder := &stubDecoder{err: framedecode.ErrNotFound}
	session := camera.NewSession(camera.SessionOptions{Acquirer: acquirer, Decoder: decoder})
	loop := New(Options{
		Session:       session,
		Decoder:       decoder,
		Clock:         clock,
		ScanDelay:     time.Second,
		RetryDelay:    100 * time.Millisecond,
		FrameInterval: 100 * time.Millisecond,
		Timeout:       timeout,
	})
	f := &fixture{loop: loop, clock: clock, decoder: decoder, session: session, handler: newRecordingHandler()}
	t.Cleanup(loop.Stop)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.loop.Start(context.Background(), "", f.handler); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.clock.WaitForTimers(1) {
		t.Fatal("first tick never re-armed")
	}
}

func (f *fixture) step(t *testing.T, d time.Duration) {
	t.Helper()
	f.clock.Advance(d)
	if !f.clock.WaitForTimers(1) {
		t.Fatal("tick never re-armed")
	}
}

func TestLoopThrottlesAfterSuccessfulDecode(t *testing.T) {
	f := newFixtureWithTimeout(t, stubAcquirer{}, time.Minute)
	f.decoder.set("voucher:1:2", nil)
	f.start(t)

	select {
	case r := <-f.handler.scans:
		if r.RawData != "voucher:1:2" {
			t.Fatalf("unexpected raw data %q", r.RawData)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a scan result")
	}

	for i := 0; i < 9; i++ {
		f.step(t, 100*time.Millisecond)
	}
	if got := f.decoder.callCount(); got != 1 {
		t.Fatalf("decoder invoked %d times inside the scan delay, want 1", got)
	}

	f.step(t, 100*time.Millisecond)
	if got := f.decoder.callCount(); got != 2 {
		t.Fatalf("decoder invoked %d times after the scan delay, want 2", got)
	}
}

func TestLoopTimesOutWithoutDecode(t *testing.T) {
	f := newFixture(t, stubAcquirer{})
	f.start(t)

	for i := 0; i < 9; i++ {
		f.step(t, 100*time.Millisecond)
	}
	f.clock.Advance(100 * time.Millisecond)

	select {
	case err := <-f.handler.timeouts:
		if !scanerr.Is(err, scanerr.KindTimeout) {
			t.Fatalf("expected timeout kind, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected timeout")
	}
	if f.loop.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", f.loop.State())
	}
	if f.session.Active() {
		t.Fatal("session still active after timeout")
	}
	if len(f.handler.errs) != 0 {
		t.Fatalf("not-found frames should stay silent, got %d errors", len(f.handler.errs))
	}
}

func TestLoopSuccessRestartsTimeoutWindow(t *testing.T) {
	f := newFixture(t, stubAcquirer{})
	f.start(t)

	for i := 0; i < 5; i++ {
		f.step(t, 100*time.Millisecond)
	}
	f.decoder.set("late", nil)
	f.step(t, 100*time.Millisecond)
	<-f.handler.scans
	f.decoder.set("", framedecode.ErrNotFound)

	for i := 0; i < 9; i++ {
		f.step(t, 100*time.Millisecond)
	}
	if f.loop.State() != StateRunning {
		t.Fatalf("loop stopped %s after a recent decode", f.loop.State())
	}
}

func TestLoopForwardsDecodeErrorsAndKeepsRunning(t *testing.T) {
	f := newFixture(t, stubAcquirer{})
	f.decoder.set("", errors.New("device unplugged"))
	f.start(t)

	select {
	case err := <-f.handler.errs:
		if !scanerr.Is(err, scanerr.KindCameraAccess) {
			t.Fatalf("expected camera access kind, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected scan error")
	}
	if !f.loop.Running() {
		t.Fatal("loop should keep running after a decode error")
	}
}

func TestLoopStopIsIdempotent(t *testing.T) {
	f := newFixture(t, stubAcquirer{})

	f.loop.Stop()
	if f.loop.State() != StateIdle {
		t.Fatalf("stop from idle changed state to %s", f.loop.State())
	}

	f.start(t)
	f.loop.Stop()
	f.loop.Stop()
	if f.loop.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", f.loop.State())
	}
	if f.session.Active() {
		t.Fatal("session still active after stop")
	}

	f.start(t)
	if !f.loop.Running() {
		t.Fatal("expected restart after stop")
	}
}

func TestLoopRestartsAfterTimeout(t *testing.T) {
	f := newFixture(t, stubAcquirer{})
	f.start(t)
	f.clock.Advance(time.Second)
	<-f.handler.timeouts

	f.start(t)
	if !f.loop.Running() || !f.session.Active() {
		t.Fatal("expected loop to run again after timeout")
	}
}

func TestLoopStartErrors(t *testing.T) {
	t.Run("already running", func(t *testing.T) {
		f := newFixture(t, stubAcquirer{})
		f.start(t)
		if err := f.loop.Start(context.Background(), "", f.handler); !errors.Is(err, ErrAlreadyRunning) {
			t.Fatalf("expected ErrAlreadyRunning, got %v", err)
		}
	})

	t.Run("acquire failure", func(t *testing.T) {
		f := newFixture(t, stubAcquirer{err: errors.New("NotAllowedError")})
		err := f.loop.Start(context.Background(), "cam-1", f.handler)
		if !scanerr.Is(err, scanerr.KindCameraAccess) {
			t.Fatalf("expected camera access error, got %v", err)
		}
		if f.loop.State() != StateIdle {
			t.Fatalf("expected idle after failed start, got %s", f.loop.State())
		}
	})

	t.Run("nil handler", func(t *testing.T) {
		f := newFixture(t, stubAcquirer{})
		if err := f.loop.Start(context.Background(), "", nil); err == nil {
			t.Fatal("expected error for nil handler")
		}
	})
}

func TestStateString(t *testing.T) {
	tests := map[State]string{StateIdle: "idle", StateRunning: "running", StateStopped: "stopped", State(9): "unknown"}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d: got %q want %q", state, got, want)
		}
	}
}
