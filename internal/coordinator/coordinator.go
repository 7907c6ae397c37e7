package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voucherscan/internal/camera"
	"voucherscan/internal/journal"
	"voucherscan/internal/logging"
	"voucherscan/internal/redemption"
	"voucherscan/internal/scanerr"
	"voucherscan/internal/scanloop"
	"voucherscan/internal/schedule"
	"voucherscan/internal/voucher"
)

// Mode controls what happens to the camera after a successful redemption.
type Mode string

const (
	// ModeAuto turns the camera off after each successful redemption.
	ModeAuto Mode = "auto"
	// ModeManual keeps the camera live for consecutive scans.
	ModeManual Mode = "manual"
)

const DefaultSettleDelay = 300 * time.Millisecond

var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("scanner closed")
	// ErrRedemptionInProgress is returned by RedeemLast when another
	// redemption is outstanding.
	ErrRedemptionInProgress = errors.New("a redemption is already in progress")
)

// Scanner is the frame loop driven by the coordinator.
type Scanner interface {
	Start(ctx context.Context, deviceID string, h scanloop.Handler) error
	Stop()
	Running() bool
}

// Redeemer issues the remote redemption call.
type Redeemer interface {
	Redeem(ctx context.Context, voucherID string) (redemption.Response, error)
}

// Journal records redemption attempts. Failures are logged, never surfaced.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// Options configures a Coordinator.
type Options struct {
	Gate     *camera.PermissionGate
	Catalog  *camera.Catalog
	Scanner  Scanner
	Redeemer Redeemer
	History  *History
	Journal  Journal
	Mode     Mode
	// Device is the preferred device ID; empty selects automatically.
	Device      string
	Clock       schedule.Clock
	SettleDelay time.Duration
	SessionID   string
	Observer    Observer
	Logger      *slog.Logger
}

// Coordinator is the redemption state machine.
type Coordinator struct {
	gate        *camera.PermissionGate
	catalog     *camera.Catalog
	scanner     Scanner
	redeemer    Redeemer
	history     *History
	journal     Journal
	mode        Mode
	preferred   string
	clock       schedule.Clock
	settleDelay time.Duration
	observer    Observer
	logger      *slog.Logger
	sessionID   string
	baseCtx     context.Context
	closeCtx    context.Context
	closeCancel context.CancelFunc

	// opMu serializes camera start/stop sequences. It is never held while
	// waiting for mu to be released by a redemption.
	opMu sync.Mutex

	mu    sync.Mutex
	idle  *sync.Cond
	state State
}

type attempt struct {
	token voucher.Token
	done  chan struct{}
	err   error
}

// New builds a coordinator in the Initializing phase.
func New(opts Options) (*Coordinator, error) {
	if opts.Scanner == nil {
		return nil, errors.New("coordinator: scanner required")
	}
	if opts.Redeemer == nil {
		return nil, errors.New("coordinator: redeemer required")
	}
	mode := opts.Mode
	switch mode {
	case "":
		mode = ModeAuto
	case ModeAuto, ModeManual:
	default:
		return nil, errors.New("coordinator: unknown mode " + string(mode))
	}
	history := opts.History
	if history == nil {
		history = NewHistory()
	}
	clock := opts.Clock
	if clock == nil {
		clock = schedule.RealClock{}
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	logger := logging.NewComponentLogger(opts.Logger, "coordinator")
	if opts.SessionID != "" {
		logger = logger.With(logging.String(logging.FieldSessionID, opts.SessionID))
	}
	closeCtx, closeCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		gate:        opts.Gate,
		catalog:     opts.Catalog,
		scanner:     opts.Scanner,
		redeemer:    opts.Redeemer,
		history:     history,
		journal:     opts.Journal,
		mode:        mode,
		preferred:   strings.TrimSpace(opts.Device),
		clock:       clock,
		settleDelay: settle,
		observer:    opts.Observer,
		logger:      logger,
		sessionID:   opts.SessionID,
		baseCtx:     logging.WithSessionID(context.Background(), opts.SessionID),
		closeCtx:    closeCtx,
		closeCancel: closeCancel,
		state: State{
			Phase:         PhaseInitializing,
			HasPermission: camera.TriUnknown,
			SessionID:     opts.SessionID,
		},
	}
	c.idle = sync.NewCond(&c.mu)
	return c, nil
}

// History returns the session history.
func (c *Coordinator) History() *History {
	return c.history
}

// Mode returns the configured mode.
func (c *Coordinator) Mode() Mode {
	return c.mode
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Initialize enumerates devices and queries permission concurrently, then
// moves to Ready or PermissionDenied.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Phase == PhaseClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state.Phase = PhaseInitializing
	c.mu.Unlock()

	var (
		wg         sync.WaitGroup
		devices    []camera.Device
		permission camera.PermissionState
	)
	wg.Go(func() {
		if c.catalog != nil {
			devices = c.catalog.ListVideoDevices(ctx)
		}
	})
	wg.Go(func() {
		permission = c.gate.Query(ctx)
	})
	wg.Wait()

	tri := camera.TriFromPermission(permission)
	selected := camera.SelectDefault(devices, c.preferred)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase == PhaseClosed {
		return ErrClosed
	}
	c.state.Devices = devices
	c.state.SelectedDeviceID = selected
	c.state.HasPermission = tri
	if tri == camera.TriDenied {
		c.state.Phase = PhasePermissionDenied
		c.state.setError(scanerr.New(scanerr.KindPermission, "initialize", "camera permission denied; grant access to the video device and restart"))
		c.logger.Warn("camera permission denied",
			logging.String(logging.FieldEventType, "permission_denied"),
			logging.String(logging.FieldErrorHint, "add the user to the video group or fix the device node permissions"),
			logging.String(logging.FieldImpact, "scanning unavailable"),
		)
		return nil
	}
	c.state.Phase = PhaseReady
	c.state.setError(nil)
	c.logger.Info("scanner ready",
		logging.String(logging.FieldEventType, "scanner_ready"),
		logging.Int("devices", len(devices)),
		logging.String(logging.FieldDevice, describeSelection(selected)),
		logging.String("permission", string(permission)),
		logging.String("mode", string(c.mode)),
	)
	return nil
}

// RefreshDevices re-enumerates video inputs. A selected device that is gone
// is cleared so the next start falls back to automatic selection.
func (c *Coordinator) RefreshDevices(ctx context.Context) []camera.Device {
	var devices []camera.Device
	if c.catalog != nil {
		devices = c.catalog.ListVideoDevices(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Devices = devices
	if sel := c.state.SelectedDeviceID; sel != "" {
		if _, ok := camera.FindDevice(devices, sel); !ok {
			c.logger.Info("selected camera disappeared",
				logging.String(logging.FieldEventType, "device_removed"),
				logging.String(logging.FieldDevice, sel),
			)
			c.state.SelectedDeviceID = camera.SelectDefault(devices, "")
		}
	} else {
		c.state.SelectedDeviceID = camera.SelectDefault(devices, c.preferred)
	}
	return append([]camera.Device(nil), devices...)
}

// StartScanning acquires the selected camera and starts the frame loop.
// Acquisition failures are recorded in the state and returned.
func (c *Coordinator) StartScanning(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.startLocked(ctx)
}

func (c *Coordinator) startLocked(ctx context.Context) error {
	c.mu.Lock()
	phase := c.state.Phase
	device := c.state.SelectedDeviceID
	c.mu.Unlock()

	switch {
	case phase == PhaseClosed:
		return ErrClosed
	case phase == PhasePermissionDenied:
		return scanerr.New(scanerr.KindPermission, "start scanning", "camera permission denied")
	case phase == PhaseRedeeming:
		// The camera comes back once the in-flight call settles.
	case !phase.canStart():
		return errors.New("start scanning: scanner not initialized")
	}
	if c.scanner.Running() {
		c.markStartedLocked()
		return nil
	}

	if err := c.scanner.Start(ctx, device, c); err != nil {
		c.mu.Lock()
		if c.state.Phase != PhaseClosed && c.state.Phase != PhaseRedeeming {
			c.state.Phase = PhaseReady
		}
		c.state.setError(err)
		c.mu.Unlock()
		logging.WarnWithContext(c.logger, "camera start failed", "camera_start_failed",
			logging.Error(err),
			logging.String(logging.FieldDevice, describeSelection(device)),
			logging.String(logging.FieldErrorHint, "close other applications using the camera or select another device"),
			logging.String(logging.FieldImpact, "scanning not started"),
		)
		return err
	}

	c.markStartedLocked()
	return nil
}

// markStartedLocked moves a settled phase to Scanning and drops errors the
// camera start resolves. Callers hold opMu.
func (c *Coordinator) markStartedLocked() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.Phase {
	case PhaseReady, PhaseScanning, PhaseRedeemedSuccess, PhaseRedeemedError:
		c.state.Phase = PhaseScanning
	}
	if c.state.ErrorKind == scanerr.KindTimeout || c.state.ErrorKind == scanerr.KindCameraAccess {
		c.state.setError(nil)
	}
}

// StopScanning stops the loop and releases the camera.
func (c *Coordinator) StopScanning() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.scanner.Stop()

	c.mu.Lock()
	if c.state.Phase == PhaseScanning {
		c.state.Phase = PhaseReady
	}
	c.mu.Unlock()
}

// SelectDevice stores a new selection. While scanning, the loop is stopped,
// given SettleDelay to let the old stream go, and restarted on the new device.
func (c *Coordinator) SelectDevice(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state.Phase == PhaseClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if deviceID != "" && len(c.state.Devices) > 0 {
		if _, ok := camera.FindDevice(c.state.Devices, deviceID); !ok {
			c.mu.Unlock()
			return scanerr.New(scanerr.KindCameraAccess, "select camera", "unknown camera "+deviceID)
		}
	}
	previous := c.state.SelectedDeviceID
	c.state.SelectedDeviceID = deviceID
	c.mu.Unlock()

	if previous == deviceID || !c.scanner.Running() {
		return nil
	}

	c.logger.Info("switching camera",
		logging.String(logging.FieldEventType, "device_switch"),
		logging.String("from", describeSelection(previous)),
		logging.String(logging.FieldDevice, describeSelection(deviceID)),
	)
	c.scanner.Stop()

	settleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.closeCtx, cancel)
	defer stop()
	if !schedule.Sleep(settleCtx.Done(), c.clock, c.settleDelay) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrClosed
	}
	return c.startLocked(ctx)
}

// DismissError clears the advisory error.
func (c *Coordinator) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.setError(nil)
}

// Wait blocks until no redemption is in flight.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state.IsRedeeming {
		c.idle.Wait()
	}
}

// Close stops scanning and waits for an in-flight redemption, whose result
// is still applied to History.
func (c *Coordinator) Close() {
	c.mu.Lock()
	alreadyClosed := c.state.Phase == PhaseClosed
	c.state.Phase = PhaseClosed
	c.mu.Unlock()
	c.closeCancel()

	c.opMu.Lock()
	c.scanner.Stop()
	c.opMu.Unlock()

	c.Wait()
	if !alreadyClosed {
		c.logger.Info("scanner closed",
			logging.String(logging.FieldEventType, "scanner_closed"),
			logging.Int("redeemed", c.history.Len()),
		)
	}
}

// HandleScan implements scanloop.Handler.
func (c *Coordinator) HandleScan(result scanloop.Result) {
	raw := voucher.Sanitize(result.RawData)
	token, err := voucher.Decode(raw)
	result.RawData = raw
	result.IsValid = err == nil

	c.mu.Lock()
	if c.state.Phase == PhaseClosed {
		c.mu.Unlock()
		return
	}
	c.state.LastScanResult = &result
	if err != nil {
		c.state.setError(err)
		c.markScanningLocked()
		c.mu.Unlock()
		c.reject(err)
		return
	}
	c.mu.Unlock()

	_, _ = c.dispatch(token)
}

// HandleScanError implements scanloop.Handler.
func (c *Coordinator) HandleScanError(err error) {
	c.mu.Lock()
	if c.state.Phase == PhaseClosed {
		c.mu.Unlock()
		return
	}
	c.state.setError(err)
	c.mu.Unlock()

	logging.WarnWithContext(c.logger, "camera frame error", "camera_error",
		logging.Error(err),
		logging.String(logging.FieldErrorKind, string(scanerr.KindOf(err))),
		logging.String(logging.FieldErrorHint, "check the camera connection or select another device"),
	)
	c.emit(Event{Type: EventCameraError, Message: scanerr.UserMessage(err), Err: err})
}

// HandleTimeout implements scanloop.Handler. The loop has already released
// the camera.
func (c *Coordinator) HandleTimeout(err error) {
	c.mu.Lock()
	if c.state.Phase == PhaseClosed {
		c.mu.Unlock()
		return
	}
	switch c.state.Phase {
	case PhaseScanning, PhaseRedeemedSuccess, PhaseRedeemedError:
		c.state.Phase = PhaseReady
	}
	c.state.setError(err)
	c.mu.Unlock()

	c.emit(Event{Type: EventTimeout, Message: scanerr.UserMessage(err), Err: err})
}

// RedeemLast re-decodes the last scanned payload and redeems it through the
// same gates as a live scan, waiting for the outcome.
func (c *Coordinator) RedeemLast(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Phase == PhaseClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	last := c.state.LastScanResult
	c.mu.Unlock()
	if last == nil {
		return scanerr.New(scanerr.KindParse, "redeem last", "nothing has been scanned yet")
	}

	token, err := voucher.Decode(voucher.Sanitize(last.RawData))
	if err != nil {
		c.mu.Lock()
		c.state.setError(err)
		c.mu.Unlock()
		c.reject(err)
		return err
	}

	att, err := c.dispatch(token)
	if err != nil {
		return err
	}
	if att == nil {
		return ErrRedemptionInProgress
	}
	select {
	case <-att.done:
		return att.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) markScanningLocked() {
	switch c.state.Phase {
	case PhaseRedeemedSuccess, PhaseRedeemedError:
		if c.scanner.Running() {
			c.state.Phase = PhaseScanning
		}
	}
}

func (c *Coordinator) reject(err error) {
	reason, _ := voucher.ReasonOf(err)
	c.logger.Info("scanned code rejected",
		logging.String(logging.FieldEventType, "scan_rejected"),
		logging.String("reason", string(reason)),
	)
	c.record(journal.Entry{Outcome: journal.OutcomeRejected, ErrorKind: string(scanerr.KindParse), Message: scanerr.UserMessage(err)})
	c.emit(Event{Type: EventRejected, Message: scanerr.UserMessage(err), Err: err})
}

func (c *Coordinator) emit(ev Event) {
	if c.observer == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = c.clock.Now()
	}
	c.observer(ev)
}

func (c *Coordinator) record(entry journal.Entry) {
	if c.journal == nil {
		return
	}
	entry.SessionID = c.sessionID
	if err := c.journal.Record(c.baseCtx, entry); err != nil {
		logging.WarnWithContext(c.logger, "journal write failed", "journal_write_failed",
			logging.Error(err),
			logging.String(logging.FieldVoucherID, entry.VoucherID),
			logging.String(logging.FieldImpact, "redemption audit entry lost"),
		)
	}
}

func describeSelection(id string) string {
	if id == "" {
		return "auto"
	}
	return id
}
