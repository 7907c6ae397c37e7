package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"voucherscan/internal/coordinator"
	"voucherscan/internal/notifications"
	"voucherscan/internal/preflight"
	"voucherscan/internal/scanerr"
	"voucherscan/internal/voucher"
)

const minDrainInterval = 50 * time.Millisecond

type scanFlags struct {
	mode          string
	device        string
	skipPreflight bool
	interactive   bool
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var flags scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Open the camera and redeem scanned vouchers",
		Long: `Open the configured camera, decode QR vouchers and redeem them.

In auto mode the camera turns off after each successful redemption; in
manual mode it stays live for consecutive scans. When standard input is a
terminal, single-letter commands control the session (type ? for help).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, ctx, flags)
		},
	}
	cmd.Flags().StringVar(&flags.mode, "mode", "", "Scanner mode (auto or manual); overrides scanner.mode")
	cmd.Flags().StringVar(&flags.device, "device", "", "Camera device ID; overrides camera.device")
	cmd.Flags().BoolVar(&flags.skipPreflight, "skip-preflight", false, "Skip the startup health checks")
	cmd.Flags().BoolVar(&flags.interactive, "interactive", false, "Read session commands from stdin even when it is not a terminal")
	return cmd
}

func runScan(cmd *cobra.Command, ctx *commandContext, flags scanFlags) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	endpoint, err := cfg.RequireRedemptionURL()
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	logger, err := ctx.newLogger(sessionID)
	if err != nil {
		return err
	}

	out := newScanPrinter(cmd.OutOrStdout(), shouldColorize(cmd.OutOrStdout()))

	if !flags.skipPreflight {
		if failed := preflight.Failed(preflight.RunAll(runCtx, cfg)); len(failed) > 0 {
			for _, result := range failed {
				out.status(result.Name, statusError, result.Detail)
			}
			return fmt.Errorf("%d startup check(s) failed; run 'voucherscan status' for details", len(failed))
		}
	}

	notifier := newSessionNotifier(notifications.NewService(cfg), logger, cfg.NotifyTimeout())
	events := make(chan coordinator.Event, 32)
	observer := func(ev coordinator.Event) {
		out.event(ev)
		notifier.observe(ev)
		select {
		case events <- ev:
		default:
		}
	}

	p, err := newPipeline(cfg, logger, pipelineOptions{
		SessionID: sessionID,
		Mode:      flags.mode,
		Device:    flags.device,
		Stdin:     cmd.InOrStdin(),
		Observer:  observer,
	})
	if err != nil {
		return err
	}
	defer func() {
		p.Close()
		notifier.close(p.coord.History().Len())
	}()

	if err := p.coord.Initialize(runCtx); err != nil {
		return err
	}
	snap := p.coord.Snapshot()
	if snap.Phase == coordinator.PhasePermissionDenied {
		return errors.New(snap.Error)
	}

	out.banner(snap, p.coord.Mode(), endpoint)
	p.startHotplug(runCtx)

	if err := p.coord.StartScanning(runCtx); err != nil {
		return err
	}

	interactive := !p.readsStdin() && (flags.interactive || isTerminal(cmd.InOrStdin()))
	var commands <-chan string
	if interactive {
		commands = readCommands(runCtx, cmd.InOrStdin())
		out.help()
	}
	var drained <-chan struct{}
	if p.lines != nil {
		drained = watchDrain(runCtx, p, max(cfg.FrameInterval(), minDrainInterval))
	}

	for {
		select {
		case <-runCtx.Done():
			p.coord.Wait()
			out.summary(p.coord)
			return nil
		case <-drained:
			p.coord.Wait()
			out.summary(p.coord)
			return nil
		case ev := <-events:
			if interactive {
				if ev.Type == coordinator.EventTimeout || (ev.Type == coordinator.EventRedeemed && p.coord.Mode() == coordinator.ModeAuto) {
					out.status("Camera", statusInfo, "off; type s to scan again")
				}
				continue
			}
			switch ev.Type {
			case coordinator.EventTimeout:
				return ev.Err
			case coordinator.EventRedeemed:
				if p.coord.Mode() == coordinator.ModeAuto {
					out.summary(p.coord)
					return nil
				}
			}
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if quit := handleSessionCommand(runCtx, p.coord, out, line); quit {
				p.coord.Wait()
				out.summary(p.coord)
				return nil
			}
		}
	}
}

// handleSessionCommand applies one interactive command and reports whether
// the session should end.
func handleSessionCommand(ctx context.Context, coord *coordinator.Coordinator, out *scanPrinter, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "q", "quit":
		return true
	case "s", "start":
		if err := coord.StartScanning(ctx); err != nil {
			out.status("Camera", statusError, scanerr.UserMessage(err))
			return false
		}
		out.status("Camera", statusOK, "scanning")
	case "x", "stop":
		coord.StopScanning()
		out.status("Camera", statusInfo, "off")
	case "r", "redeem":
		if err := coord.RedeemLast(ctx); err != nil && !reportedByEvent(err) {
			out.status("Redeem", statusWarn, scanerr.UserMessage(err))
		}
	case "d", "device", "devices":
		if len(fields) == 1 {
			out.devices(coord.Snapshot())
			return false
		}
		if err := coord.SelectDevice(ctx, fields[1]); err != nil {
			out.status("Camera", statusError, scanerr.UserMessage(err))
			return false
		}
		out.status("Camera", statusOK, "switched to "+fields[1])
	case "c", "clear":
		coord.DismissError()
	case "?", "h", "help":
		out.help()
	default:
		out.status("Command", statusWarn, fmt.Sprintf("unknown command %q; type ? for help", fields[0]))
	}
	return false
}

// reportedByEvent reports whether the observer already printed err.
func reportedByEvent(err error) bool {
	if _, ok := voucher.ReasonOf(err); ok {
		return true
	}
	switch scanerr.KindOf(err) {
	case scanerr.KindDuplicate, scanerr.KindNetwork:
		return true
	default:
		return false
	}
}

func readCommands(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// watchDrain closes the returned channel once a line source has reached EOF,
// every queued line was consumed and no redemption is outstanding for two
// consecutive polls.
func watchDrain(ctx context.Context, p *pipeline, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case <-p.lines.Done():
		case <-ctx.Done():
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		quiet := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if p.lines.Pending() == 0 && !p.coord.Snapshot().IsRedeeming {
				quiet++
			} else {
				quiet = 0
			}
			if quiet >= 2 {
				close(done)
				return
			}
		}
	}()
	return done
}

type scanPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

func newScanPrinter(w io.Writer, color bool) *scanPrinter {
	return &scanPrinter{w: w, color: color}
}

func (p *scanPrinter) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *scanPrinter) status(label string, kind statusKind, message string) {
	p.println(renderStatusLine(label, kind, message, p.color))
}

func (p *scanPrinter) event(ev coordinator.Event) {
	switch ev.Type {
	case coordinator.EventRedeemed:
		msg := fmt.Sprintf("voucher %s (buyer %d)", ev.VoucherID, ev.BuyerID)
		if ev.Message != "" {
			msg += ": " + ev.Message
		}
		p.status("Redeemed", statusOK, msg)
	case coordinator.EventRedeemFailed:
		p.status("Redemption failed", statusError, fmt.Sprintf("voucher %s: %s", ev.VoucherID, ev.Message))
	case coordinator.EventDuplicate:
		p.status("Duplicate", statusWarn, fmt.Sprintf("voucher %s: %s", ev.VoucherID, ev.Message))
	case coordinator.EventRejected:
		p.status("Rejected", statusWarn, ev.Message)
	case coordinator.EventTimeout:
		p.status("Timed out", statusWarn, ev.Message)
	case coordinator.EventCameraError:
		p.status("Camera error", statusError, ev.Message)
	}
}

func (p *scanPrinter) banner(state coordinator.State, mode coordinator.Mode, endpoint string) {
	device := state.SelectedDeviceID
	if device == "" {
		device = "default (rear facing)"
	}
	p.println(renderSectionHeader("Voucher scanner", p.color))
	p.status("Session", statusInfo, state.SessionID)
	p.status("Mode", statusInfo, string(mode))
	p.status("Camera", statusInfo, fmt.Sprintf("%s (%d available)", device, len(state.Devices)))
	p.status("Endpoint", statusInfo, endpoint)
}

func (p *scanPrinter) devices(state coordinator.State) {
	if len(state.Devices) == 0 {
		p.status("Cameras", statusWarn, "none detected")
		return
	}
	rows := make([][]string, 0, len(state.Devices))
	for _, device := range state.Devices {
		rows = append(rows, []string{device.DeviceID, device.Label, yesNo(device.DeviceID == state.SelectedDeviceID)})
	}
	p.println(renderTable([]string{"Device", "Label", "Selected"}, rows))
}

func (p *scanPrinter) help() {
	p.println("Commands: s start, x stop, r redeem last scan, d [id] list or switch camera, c clear error, q quit")
}

func (p *scanPrinter) summary(coord *coordinator.Coordinator) {
	state := coord.Snapshot()
	p.status("Session", statusInfo, fmt.Sprintf("%s: %d voucher(s) redeemed", state.SessionID, coord.History().Len()))
}
