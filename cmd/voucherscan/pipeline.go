package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"voucherscan/internal/camera"
	"voucherscan/internal/config"
	"voucherscan/internal/coordinator"
	"voucherscan/internal/framedecode"
	"voucherscan/internal/journal"
	"voucherscan/internal/logging"
	"voucherscan/internal/redemption"
	"voucherscan/internal/scanloop"
	"voucherscan/internal/v4l"
)

// pipelineOptions carries the per-run overrides for newPipeline.
type pipelineOptions struct {
	SessionID string
	Mode      string
	Device    string
	Stdin     io.Reader
	Observer  coordinator.Observer

	// Test seams.
	HTTPClient *http.Client
	Executor   framedecode.Executor
}

// host is the capability set a frame source exposes to the camera layer.
type host interface {
	camera.PermissionQuerier
	camera.Enumerator
	camera.Acquirer
}

type pipeline struct {
	coord   *coordinator.Coordinator
	loop    *scanloop.Loop
	client  *redemption.Client
	store   *journal.Store
	lines   *framedecode.LineDecoder
	hotplug *v4l.HotplugMonitor
	logger  *slog.Logger
}

func newPipeline(cfg *config.Config, logger *slog.Logger, opts pipelineOptions) (*pipeline, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &pipeline{logger: logger}

	var (
		decoder framedecode.Decoder
		src     host
	)
	switch cfg.Decoder.Kind {
	case config.DecoderLines:
		lines, err := openLineDecoder(cfg.Decoder.Input, opts.Stdin)
		if err != nil {
			return nil, err
		}
		p.lines = lines
		decoder = lines
		src = framedecode.NewLineHost(lines)
	default:
		cmdDecoder, err := framedecode.NewCommandDecoder(framedecode.CommandOptions{
			Capture:          cfg.Decoder.CaptureCommand,
			Decode:           cfg.Decoder.Command,
			NotFoundExitCode: cfg.Decoder.NotFoundExitCode,
			Timeout:          cfg.CommandTimeout(),
			Executor:         opts.Executor,
			Logger:           logger,
		})
		if err != nil {
			return nil, err
		}
		decoder = cmdDecoder
		src = v4l.NewHost(cfg.Camera.SysfsRoot, cfg.Camera.DevRoot, logger)
	}

	var recorder coordinator.Journal
	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			p.closeSources()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		p.store = store
		recorder = store
	}

	session := camera.NewSession(camera.SessionOptions{
		Acquirer: src,
		Decoder:  decoder,
		LockDir:  cfg.LockDir(),
		Logger:   logger,
	})
	p.loop = scanloop.New(scanloop.Options{
		Session:       session,
		Decoder:       decoder,
		ScanDelay:     cfg.ScanDelay(),
		RetryDelay:    cfg.RetryDelay(),
		FrameInterval: cfg.FrameInterval(),
		Timeout:       cfg.ScanTimeout(),
		Logger:        logger,
	})

	clientOpts := []redemption.Option{redemption.WithLogger(logger)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, redemption.WithHTTPClient(opts.HTTPClient))
	}
	p.client = redemption.NewClient(redemption.Config{
		BaseURL:        cfg.Redemption.BaseURL,
		APIToken:       cfg.Redemption.APIToken,
		UserAgent:      cfg.Redemption.UserAgent,
		TimeoutSeconds: cfg.Redemption.RequestTimeout,
	}, clientOpts...)

	mode := strings.TrimSpace(opts.Mode)
	if mode == "" {
		mode = cfg.Scanner.Mode
	}
	device := strings.TrimSpace(opts.Device)
	if device == "" {
		device = cfg.Camera.Device
	}

	coord, err := coordinator.New(coordinator.Options{
		Gate:        camera.NewPermissionGate(src, logger),
		Catalog:     camera.NewCatalog(src, logger),
		Scanner:     p.loop,
		Redeemer:    p.client,
		Journal:     recorder,
		Mode:        coordinator.Mode(mode),
		Device:      device,
		SettleDelay: cfg.SettleDelay(),
		SessionID:   opts.SessionID,
		Observer:    opts.Observer,
		Logger:      logger,
	})
	if err != nil {
		p.closeSources()
		return nil, err
	}
	p.coord = coord

	if cfg.Camera.Hotplug && p.lines == nil {
		p.hotplug = v4l.NewHotplugMonitor(cfg.Camera.DevRoot, logger, func(ctx context.Context, action, device string) {
			devices := coord.RefreshDevices(ctx)
			logger.Info("camera list refreshed",
				logging.String(logging.FieldEventType, "devices_refreshed"),
				logging.String("action", action),
				logging.String(logging.FieldDevice, device),
				logging.Int("device_count", len(devices)),
			)
		})
	}
	return p, nil
}

func openLineDecoder(input string, stdin io.Reader) (*framedecode.LineDecoder, error) {
	input = strings.TrimSpace(input)
	if input == "" || input == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return framedecode.NewLineDecoder(io.NopCloser(stdin), "stdin"), nil
	}
	path, err := config.ExpandPath(input)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open decoder input: %w", err)
	}
	return framedecode.NewLineDecoder(f, path), nil
}

// readsStdin reports whether the frame source consumes standard input.
func (p *pipeline) readsStdin() bool {
	return p.lines != nil && p.lines.Source() == "stdin"
}

// startHotplug begins device monitoring. Failures only cost live refresh.
func (p *pipeline) startHotplug(ctx context.Context) {
	if p.hotplug == nil {
		return
	}
	if err := p.hotplug.Start(ctx); err != nil {
		logging.WarnWithContext(p.logger, "camera hotplug monitoring unavailable", "hotplug_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "camera list only refreshes on restart"),
			logging.String(logging.FieldErrorHint, "check netlink access or set camera.hotplug = false"),
		)
	}
}

func (p *pipeline) closeSources() {
	if p.lines != nil {
		_ = p.lines.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}

// Close stops the camera, waits for an in-flight redemption, then releases
// the frame source and journal.
func (p *pipeline) Close() {
	if p.hotplug != nil {
		p.hotplug.Stop()
	}
	if p.coord != nil {
		p.coord.Close()
	}
	p.closeSources()
}
