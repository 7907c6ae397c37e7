package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voucherscan/internal/camera"
	"voucherscan/internal/journal"
	"voucherscan/internal/redemption"
	"voucherscan/internal/scanerr"
	"voucherscan/internal/scanloop"
	"voucherscan/internal/testsupport"
)

const (
	voucherA = "123e4567-e89b-12d3-a456-426614174000"
	voucherB = "9b2f4c1e-5d6a-4f7b-8c9d-0e1f2a3b4c5d"
	payloadA = "voucher:" + voucherA + ":buyer:12345"
	payloadB = "voucher:" + voucherB + ":buyer:7"
)

type stubQuerier struct{ state camera.PermissionState }

func (q stubQuerier) QueryCameraPermission(context.Context) (camera.PermissionState, error) {
	return q.state, nil
}

type stubEnumerator struct{ devices []camera.MediaDevice }

func (e stubEnumerator) ListMediaDevices(context.Context) ([]camera.MediaDevice, error) {
	return e.devices, nil
}

type stubScanner struct {
	mu      sync.Mutex
	running bool
	starts  []string
	stops   int
	err     error
}

func (s *stubScanner) Start(_ context.Context, deviceID string, _ scanloop.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, deviceID)
	if s.err != nil {
		return s.err
	}
	s.running = true
	return nil
}

func (s *stubScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.stops++
}

func (s *stubScanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *stubScanner) startedWith() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.starts...)
}

type stubRedeemer struct {
	mu      sync.Mutex
	calls   []string
	resp    redemption.Response
	err     error
	panics  bool
	block   chan struct{}
	entered chan struct{}
}

func (r *stubRedeemer) Redeem(_ context.Context, voucherID string) (redemption.Response, error) {
	r.mu.Lock()
	r.calls = append(r.calls, voucherID)
	block, entered := r.block, r.entered
	resp, err, panics := r.resp, r.err, r.panics
	r.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if panics {
		panic("redeemer exploded")
	}
	return resp, err
}

func (r *stubRedeemer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *stubRedeemer) set(resp redemption.Response, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resp, r.err = resp, err
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *recordingJournal) Record(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *recordingJournal) outcomes() []journal.Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]journal.Outcome, len(j.entries))
	for i, e := range j.entries {
		out[i] = e.Outcome
	}
	return out
}

type harness struct {
	coord    *Coordinator
	scanner  *stubScanner
	redeemer *stubRedeemer
	journal  *recordingJournal
	clock    *testsupport.FakeClock

	mu     sync.Mutex
	events []Event
}

type harnessOption func(*Options)

func withMode(mode Mode) harnessOption {
	return func(o *Options) { o.Mode = mode }
}

func withPermission(state camera.PermissionState) harnessOption {
	return func(o *Options) { o.Gate = camera.NewPermissionGate(stubQuerier{state: state}, nil) }
}

func withDevices(devices ...camera.MediaDevice) harnessOption {
	return func(o *Options) { o.Catalog = camera.NewCatalog(stubEnumerator{devices: devices}, nil) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		scanner:  &stubScanner{},
		redeemer: &stubRedeemer{resp: redemption.Response{Message: "ok"}},
		journal:  &recordingJournal{},
		clock:    testsupport.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	options := Options{
		Gate:        camera.NewPermissionGate(stubQuerier{state: camera.PermissionGranted}, nil),
		Catalog:     camera.NewCatalog(stubEnumerator{}, nil),
		Scanner:     h.scanner,
		Redeemer:    h.redeemer,
		Journal:     h.journal,
		Mode:        ModeManual,
		Clock:       h.clock,
		SettleDelay: 300 * time.Millisecond,
		SessionID:   "session-1",
		Observer: func(ev Event) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, ev)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}
	coord, err := New(options)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.coord = coord
	t.Cleanup(coord.Close)
	return h
}

func (h *harness) startScanning(t *testing.T) {
	t.Helper()
	if err := h.coord.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := h.coord.StartScanning(context.Background()); err != nil {
		t.Fatalf("StartScanning: %v", err)
	}
}

func (h *harness) scan(raw string) {
	h.coord.HandleScan(scanloop.Result{RawData: raw, Timestamp: h.clock.Now()})
	h.coord.Wait()
}

// timeout mirrors the frame loop, which stops itself before reporting.
func (h *harness) timeout() {
	h.scanner.Stop()
	h.coord.HandleTimeout(scanerr.New(scanerr.KindTimeout, "scan", "no code scanned before the timeout"))
}

func (h *harness) eventTypes() []EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EventType, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Type
	}
	return out
}

func TestRedeemThenDuplicate(t *testing.T) {
	h := newHarness(t)
	h.startScanning(t)

	h.scan(payloadA)
	state := h.coord.Snapshot()
	if state.Phase != PhaseRedeemedSuccess {
		t.Fatalf("phase = %s", state.Phase)
	}
	if !h.coord.History().Contains(voucherA) {
		t.Fatal("history missing redeemed voucher")
	}
	if state.LastRedeemed != voucherA || state.IsRedeeming {
		t.Fatalf("unexpected state %+v", state)
	}

	h.scan(payloadA)
	state = h.coord.Snapshot()
	if state.ErrorKind != scanerr.KindDuplicate || state.Error != "already processed recently" {
		t.Fatalf("expected duplicate error, got %q (%s)", state.Error, state.ErrorKind)
	}
	if got := h.redeemer.callCount(); got != 1 {
		t.Fatalf("redeemer called %d times, want 1", got)
	}
	if !h.scanner.Running() {
		t.Fatal("duplicate should not stop the camera")
	}

	want := []journal.Outcome{journal.OutcomeAttempted, journal.OutcomeRedeemed, journal.OutcomeDuplicate}
	got := h.journal.outcomes()
	if len(got) != len(want) {
		t.Fatalf("journal outcomes = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("journal outcomes = %v, want %v", got, want)
		}
	}
	if types := h.eventTypes(); len(types) != 2 || types[0] != EventRedeemed || types[1] != EventDuplicate {
		t.Fatalf("events = %v", types)
	}
}

func TestSingleFlightDropsConcurrentAttempts(t *testing.T) {
	h := newHarness(t)
	h.startScanning(t)
	h.redeemer.block = make(chan struct{})
	h.redeemer.entered = make(chan struct{}, 4)

	h.coord.HandleScan(scanloop.Result{RawData: payloadA})
	<-h.redeemer.entered
	if !h.coord.Snapshot().IsRedeeming {
		t.Fatal("expected IsRedeeming while call is outstanding")
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			h.coord.HandleScan(scanloop.Result{RawData: payloadB})
		})
	}
	wg.Wait()
	if err := h.coord.RedeemLast(context.Background()); !errors.Is(err, ErrRedemptionInProgress) {
		t.Fatalf("RedeemLast during flight = %v", err)
	}

	close(h.redeemer.block)
	h.coord.Wait()

	if got := h.redeemer.callCount(); got != 1 {
		t.Fatalf("redeemer called %d times, want 1", got)
	}
	if h.coord.Snapshot().IsRedeeming {
		t.Fatal("IsRedeeming left set")
	}
}

func TestRedeemFailureKeepsCameraLive(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		panics  bool
		wantMsg string
	}{
		{
			name:    "server message",
			err:     scanerr.New(scanerr.KindNetwork, "redeem voucher", "voucher already used"),
			wantMsg: "voucher already used",
		},
		{
			name:    "unclassified error",
			err:     errors.New("connection reset"),
			wantMsg: genericNetworkMessage,
		},
		{
			name:    "redeemer panic",
			panics:  true,
			wantMsg: genericNetworkMessage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, withMode(ModeAuto))
			h.startScanning(t)
			h.redeemer.set(redemption.Response{}, tt.err)
			h.redeemer.panics = tt.panics

			h.scan(payloadA)
			state := h.coord.Snapshot()
			if state.IsRedeeming {
				t.Fatal("IsRedeeming left set")
			}
			if state.Phase != PhaseRedeemedError {
				t.Fatalf("phase = %s", state.Phase)
			}
			if state.ErrorKind != scanerr.KindNetwork || state.Error != tt.wantMsg {
				t.Fatalf("error = %q (%s)", state.Error, state.ErrorKind)
			}
			if !h.scanner.Running() {
				t.Fatal("failure must not stop the camera")
			}
			if h.coord.History().Contains(voucherA) {
				t.Fatal("failed voucher recorded in history")
			}

			h.redeemer.set(redemption.Response{}, nil)
			h.redeemer.panics = false
			h.scan(payloadA)
			if !h.coord.History().Contains(voucherA) {
				t.Fatal("retry after failure should redeem")
			}
		})
	}
}

func TestModeControlsCameraAfterSuccess(t *testing.T) {
	t.Run("auto stops", func(t *testing.T) {
		h := newHarness(t, withMode(ModeAuto))
		h.startScanning(t)
		h.scan(payloadA)
		if h.scanner.Running() {
			t.Fatal("auto mode should stop the camera after success")
		}
		if phase := h.coord.Snapshot().Phase; phase != PhaseRedeemedSuccess {
			t.Fatalf("phase = %s", phase)
		}
		if err := h.coord.StartScanning(context.Background()); err != nil {
			t.Fatalf("restart: %v", err)
		}
		if phase := h.coord.Snapshot().Phase; phase != PhaseScanning {
			t.Fatalf("phase after restart = %s", phase)
		}
	})

	t.Run("manual keeps scanning", func(t *testing.T) {
		h := newHarness(t, withMode(ModeManual))
		h.startScanning(t)
		h.scan(payloadA)
		h.scan(payloadB)
		if !h.scanner.Running() {
			t.Fatal("manual mode should keep the camera live")
		}
		if got := h.coord.History().IDs(); len(got) != 2 || got[0] != voucherA || got[1] != voucherB {
			t.Fatalf("history = %v", got)
		}
	})
}

func TestParseFailureKeepsScanning(t *testing.T) {
	h := newHarness(t)
	h.startScanning(t)

	h.scan("https://example.com/not-a-voucher")
	state := h.coord.Snapshot()
	if state.ErrorKind != scanerr.KindParse {
		t.Fatalf("error kind = %s", state.ErrorKind)
	}
	if state.Phase != PhaseScanning || !h.scanner.Running() {
		t.Fatalf("parse failure changed camera state: %s", state.Phase)
	}
	if state.LastScanResult == nil || state.LastScanResult.IsValid {
		t.Fatalf("last scan = %+v", state.LastScanResult)
	}
	if h.redeemer.callCount() != 0 {
		t.Fatal("parse failure issued a redemption")
	}

	h.scan("<" + payloadA + ">")
	if !h.coord.History().Contains(voucherA) {
		t.Fatal("sanitized payload should redeem")
	}
	if last := h.coord.Snapshot().LastScanResult; last == nil || last.RawData != payloadA || !last.IsValid {
		t.Fatalf("last scan = %+v", last)
	}
}

func TestInitialize(t *testing.T) {
	t.Run("denied permission", func(t *testing.T) {
		h := newHarness(t, withPermission(camera.PermissionDenied))
		if err := h.coord.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		state := h.coord.Snapshot()
		if state.Phase != PhasePermissionDenied || state.HasPermission != camera.TriDenied {
			t.Fatalf("state = %+v", state)
		}
		if err := h.coord.StartScanning(context.Background()); !scanerr.Is(err, scanerr.KindPermission) {
			t.Fatalf("StartScanning = %v", err)
		}
		if len(h.scanner.startedWith()) != 0 {
			t.Fatal("scanner started despite denied permission")
		}
	})

	t.Run("prompt is not denied", func(t *testing.T) {
		h := newHarness(t, withPermission(camera.PermissionPrompt))
		_ = h.coord.Initialize(context.Background())
		state := h.coord.Snapshot()
		if state.Phase != PhaseReady || state.HasPermission != camera.TriUnknown {
			t.Fatalf("state = %+v", state)
		}
	})

	t.Run("prefers rear camera", func(t *testing.T) {
		h := newHarness(t, withDevices(
			camera.MediaDevice{Kind: camera.KindVideoInput, DeviceID: "video0", Label: "Integrated Webcam"},
			camera.MediaDevice{Kind: camera.KindAudioInput, DeviceID: "mic", Label: "Mic"},
			camera.MediaDevice{Kind: camera.KindVideoInput, DeviceID: "video2", Label: "USB Back Camera"},
		))
		h.startScanning(t)
		state := h.coord.Snapshot()
		if len(state.Devices) != 2 || state.SelectedDeviceID != "video2" {
			t.Fatalf("state = %+v", state)
		}
		if got := h.scanner.startedWith(); len(got) != 1 || got[0] != "video2" {
			t.Fatalf("started with %v", got)
		}
	})
}

func TestStartScanningAcquireFailure(t *testing.T) {
	h := newHarness(t)
	h.scanner.err = scanerr.New(scanerr.KindCameraAccess, "acquire camera", "camera unavailable")
	_ = h.coord.Initialize(context.Background())

	err := h.coord.StartScanning(context.Background())
	if !scanerr.Is(err, scanerr.KindCameraAccess) {
		t.Fatalf("StartScanning = %v", err)
	}
	state := h.coord.Snapshot()
	if state.Phase != PhaseReady || state.Error != "camera unavailable" {
		t.Fatalf("state = %+v", state)
	}
}

func TestSelectDeviceRestartsAfterSettle(t *testing.T) {
	h := newHarness(t, withDevices(
		camera.MediaDevice{Kind: camera.KindVideoInput, DeviceID: "video0", Label: "Front"},
		camera.MediaDevice{Kind: camera.KindVideoInput, DeviceID: "video2", Label: "Document camera"},
	))
	h.startScanning(t)

	done := make(chan error, 1)
	go func() { done <- h.coord.SelectDevice(context.Background(), "video2") }()

	if !h.clock.WaitForTimers(1) {
		t.Fatal("settle delay never armed")
	}
	if h.scanner.Running() {
		t.Fatal("old stream should be stopped before the settle delay")
	}
	if got := h.scanner.startedWith(); len(got) != 1 {
		t.Fatalf("restarted before settle: %v", got)
	}

	h.clock.Advance(300 * time.Millisecond)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SelectDevice: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SelectDevice did not return")
	}
	if got := h.scanner.startedWith(); len(got) != 2 || got[1] != "video2" {
		t.Fatalf("starts = %v", got)
	}
	if state := h.coord.Snapshot(); state.SelectedDeviceID != "video2" || state.Phase != PhaseScanning {
		t.Fatalf("state = %+v", state)
	}

	if err := h.coord.SelectDevice(context.Background(), "video9"); !scanerr.Is(err, scanerr.KindCameraAccess) {
		t.Fatalf("unknown device = %v", err)
	}
}

func TestSelectDeviceWhileIdleOnlyStores(t *testing.T) {
	h := newHarness(t, withDevices(camera.MediaDevice{Kind: camera.KindVideoInput, DeviceID: "video0", Label: "Cam"}))
	_ = h.coord.Initialize(context.Background())
	if err := h.coord.SelectDevice(context.Background(), "video0"); err != nil {
		t.Fatalf("SelectDevice: %v", err)
	}
	if len(h.scanner.startedWith()) != 0 {
		t.Fatal("idle selection should not start the camera")
	}
	if h.coord.Snapshot().SelectedDeviceID != "video0" {
		t.Fatal("selection not stored")
	}
}

func TestTimeoutReturnsToReady(t *testing.T) {
	h := newHarness(t)
	h.startScanning(t)

	h.timeout()
	state := h.coord.Snapshot()
	if state.Phase != PhaseReady || state.ErrorKind != scanerr.KindTimeout {
		t.Fatalf("state = %+v", state)
	}
	if types := h.eventTypes(); len(types) != 1 || types[0] != EventTimeout {
		t.Fatalf("events = %v", types)
	}

	if err := h.coord.StartScanning(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if state := h.coord.Snapshot(); state.Error != "" || state.Phase != PhaseScanning {
		t.Fatalf("restart did not clear timeout: %+v", state)
	}
}

func TestStartWhileRunningResumesScanningPhase(t *testing.T) {
	h := newHarness(t, withMode(ModeManual))
	h.startScanning(t)
	h.scan(payloadA)
	if phase := h.coord.Snapshot().Phase; phase != PhaseRedeemedSuccess {
		t.Fatalf("phase = %s", phase)
	}
	h.coord.HandleScanError(scanerr.New(scanerr.KindCameraAccess, "decode frame", "could not read a frame from the camera"))

	if err := h.coord.StartScanning(context.Background()); err != nil {
		t.Fatalf("StartScanning: %v", err)
	}
	state := h.coord.Snapshot()
	if state.Phase != PhaseScanning || state.Error != "" {
		t.Fatalf("state = %+v", state)
	}
	if got := len(h.scanner.startedWith()); got != 1 {
		t.Fatalf("scanner started %d times, want 1", got)
	}
}

func TestTimeoutDuringRedemptionKeepsCameraOff(t *testing.T) {
	h := newHarness(t, withMode(ModeManual))
	h.startScanning(t)
	h.redeemer.block = make(chan struct{})
	h.redeemer.entered = make(chan struct{}, 1)

	h.coord.HandleScan(scanloop.Result{RawData: payloadA})
	<-h.redeemer.entered
	h.timeout()
	close(h.redeemer.block)
	h.coord.Wait()

	state := h.coord.Snapshot()
	if state.Phase != PhaseReady || state.ErrorKind != scanerr.KindTimeout {
		t.Fatalf("state = %+v", state)
	}
	if !h.coord.History().Contains(voucherA) || state.LastRedeemed != voucherA {
		t.Fatal("redemption result not recorded")
	}
	if h.scanner.Running() {
		t.Fatal("camera restarted after timeout")
	}
}

func TestScanErrorIsAdvisory(t *testing.T) {
	h := newHarness(t)
	h.startScanning(t)
	h.coord.HandleScanError(scanerr.New(scanerr.KindCameraAccess, "decode frame", "could not read a frame from the camera"))

	state := h.coord.Snapshot()
	if state.ErrorKind != scanerr.KindCameraAccess || state.Phase != PhaseScanning {
		t.Fatalf("state = %+v", state)
	}
	h.coord.DismissError()
	if h.coord.Snapshot().Error != "" {
		t.Fatal("DismissError did not clear the error")
	}
}

func TestRedeemLast(t *testing.T) {
	h := newHarness(t)
	h.startScanning(t)

	if err := h.coord.RedeemLast(context.Background()); !scanerr.Is(err, scanerr.KindParse) {
		t.Fatalf("RedeemLast with nothing scanned = %v", err)
	}

	h.redeemer.set(redemption.Response{}, scanerr.New(scanerr.KindNetwork, "redeem voucher", "HTTP 503: busy"))
	h.scan(payloadA)
	if h.coord.Snapshot().Error != "HTTP 503: busy" {
		t.Fatalf("error = %q", h.coord.Snapshot().Error)
	}

	h.redeemer.set(redemption.Response{}, nil)
	if err := h.coord.RedeemLast(context.Background()); err != nil {
		t.Fatalf("RedeemLast: %v", err)
	}
	if !h.coord.History().Contains(voucherA) {
		t.Fatal("manual redeem not recorded")
	}

	if err := h.coord.RedeemLast(context.Background()); !scanerr.Is(err, scanerr.KindDuplicate) {
		t.Fatalf("second RedeemLast = %v", err)
	}
	if got := h.redeemer.callCount(); got != 2 {
		t.Fatalf("redeemer called %d times, want 2", got)
	}
}

func TestCloseWaitsForInflightRedemption(t *testing.T) {
	h := newHarness(t)
	h.startScanning(t)
	h.redeemer.block = make(chan struct{})
	h.redeemer.entered = make(chan struct{}, 1)

	h.coord.HandleScan(scanloop.Result{RawData: payloadA})
	<-h.redeemer.entered

	closed := make(chan struct{})
	go func() {
		h.coord.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the redemption finished")
	case <-time.After(50 * time.Millisecond):
	}
	if h.scanner.Running() {
		t.Fatal("Close should stop the camera immediately")
	}

	close(h.redeemer.block)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	if !h.coord.History().Contains(voucherA) {
		t.Fatal("in-flight result not applied to history")
	}
	state := h.coord.Snapshot()
	if state.Phase != PhaseClosed || state.IsRedeeming {
		t.Fatalf("state = %+v", state)
	}

	h.coord.HandleScan(scanloop.Result{RawData: payloadB})
	if h.redeemer.callCount() != 1 {
		t.Fatal("scan after Close issued a redemption")
	}
	if err := h.coord.StartScanning(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("StartScanning after Close = %v", err)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(Options{Redeemer: &stubRedeemer{}}); err == nil {
		t.Fatal("expected error without scanner")
	}
	if _, err := New(Options{Scanner: &stubScanner{}}); err == nil {
		t.Fatal("expected error without redeemer")
	}
	if _, err := New(Options{Scanner: &stubScanner{}, Redeemer: &stubRedeemer{}, Mode: "sometimes"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory()
	if !h.Add("a") || !h.Add("b") || h.Add("a") {
		t.Fatal("Add did not report novelty")
	}
	if !h.Contains("b") || h.Contains("c") {
		t.Fatal("Contains mismatch")
	}
	if ids := h.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("IDs = %v", ids)
	}
}
