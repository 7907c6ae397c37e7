package v4l

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"voucherscan/internal/logging"
)

// ChangeFunc is called for every matched video4linux add or remove.
type ChangeFunc func(ctx context.Context, action, device string)

// HotplugMonitor listens for udev netlink events on the video4linux
// subsystem.
type HotplugMonitor struct {
	devRoot  string
	logger   *slog.Logger
	onChange ChangeFunc

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewHotplugMonitor returns a monitor that reports changes to onChange.
// A nil onChange yields a nil monitor, which is safe to Start and Stop.
func NewHotplugMonitor(devRoot string, logger *slog.Logger, onChange ChangeFunc) *HotplugMonitor {
	if onChange == nil {
		return nil
	}
	devRoot = strings.TrimSpace(devRoot)
	if devRoot == "" {
		devRoot = "/dev"
	}
	return &HotplugMonitor{
		devRoot:  devRoot,
		logger:   logging.NewComponentLogger(logger, "hotplug"),
		onChange: onChange,
	}
}

// Start connects to the kernel uevent socket. Connection failures are logged
// and leave the monitor stopped.
func (m *HotplugMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "netlink connect failed; camera hotplug disabled", "hotplug_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run outside restricted containers or set camera.hotplug = false"),
			logging.String(logging.FieldImpact, "device list refreshes only on restart"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	m.logger.Info("hotplug monitor started", logging.String(logging.FieldEventType, "hotplug_started"))
	return nil
}

// Stop closes the netlink socket.
func (m *HotplugMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
	m.logger.Info("hotplug monitor stopped", logging.String(logging.FieldEventType, "hotplug_stopped"))
}

// Running reports whether the monitor is active.
func (m *HotplugMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *HotplugMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, m.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			m.logger.Debug("netlink monitor error", logging.Error(err))
		}
	}
}

// buildMatcher matches SUBSYSTEM=video4linux with ACTION add or remove.
func (m *HotplugMonitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func (m *HotplugMonitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	device := m.deviceName(uevent)
	if device == "" {
		m.logger.Debug("ignoring event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}
	if !strings.HasPrefix(filepath.Base(device), nodePrefix) {
		return
	}
	m.logger.Info("camera hotplug",
		logging.String(logging.FieldEventType, "hotplug_"+string(uevent.Action)),
		logging.String(logging.FieldDevice, device),
	)
	m.onChange(ctx, string(uevent.Action), device)
}

// deviceName resolves DEVNAME, falling back to the last DEVPATH element.
func (m *HotplugMonitor) deviceName(uevent netlink.UEvent) string {
	if devname := strings.TrimSpace(uevent.Env["DEVNAME"]); devname != "" {
		if filepath.IsAbs(devname) {
			return devname
		}
		return filepath.Join(m.devRoot, devname)
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	last := parts[len(parts)-1]
	if last == "" {
		return ""
	}
	return filepath.Join(m.devRoot, last)
}
