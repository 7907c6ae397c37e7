package v4l

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"voucherscan/internal/camera"
	"voucherscan/internal/logging"
)

const nodePrefix = "video"

// Host implements camera.PermissionQuerier, camera.Enumerator and
// camera.Acquirer for video4linux.
type Host struct {
	sysfsRoot string
	devRoot   string
	logger    *slog.Logger
}

// NewHost builds a host rooted at the given sysfs class directory and device
// directory.
func NewHost(sysfsRoot, devRoot string, logger *slog.Logger) *Host {
	return &Host{
		sysfsRoot: strings.TrimSpace(sysfsRoot),
		devRoot:   strings.TrimSpace(devRoot),
		logger:    logging.NewComponentLogger(logger, "v4l"),
	}
}

type node struct {
	name  string
	index int
	path  string
	label string
}

// nodes lists capture nodes sorted by their numeric suffix. Secondary
// interfaces of one device (index > 0, usually metadata) are skipped.
func (h *Host) nodes() ([]node, error) {
	entries, err := os.ReadDir(h.sysfsRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", h.sysfsRoot, err)
	}
	out := make([]node, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, nodePrefix) {
			continue
		}
		num, err := strconv.Atoi(strings.TrimPrefix(name, nodePrefix))
		if err != nil {
			continue
		}
		dir := filepath.Join(h.sysfsRoot, name)
		if idx := readAttr(filepath.Join(dir, "index")); idx != "" && idx != "0" {
			continue
		}
		path := filepath.Join(h.devRoot, name)
		if _, err := os.Stat(path); err != nil {
			h.logger.Debug("device node missing", logging.String(logging.FieldDevice, path), logging.Error(err))
			continue
		}
		label := readAttr(filepath.Join(dir, "name"))
		if label == "" {
			label = name
		}
		out = append(out, node{name: name, index: num, path: path, label: label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out, nil
}

func readAttr(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ListMediaDevices implements camera.Enumerator.
func (h *Host) ListMediaDevices(ctx context.Context) ([]camera.MediaDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes, err := h.nodes()
	if err != nil {
		return nil, err
	}
	devices := make([]camera.MediaDevice, 0, len(nodes))
	for _, n := range nodes {
		devices = append(devices, camera.MediaDevice{Kind: camera.KindVideoInput, DeviceID: n.path, Label: n.label})
	}
	return devices, nil
}

// QueryCameraPermission implements camera.PermissionQuerier. With no device
// nodes the answer is prompt; otherwise access to any node is granted.
func (h *Host) QueryCameraPermission(ctx context.Context) (camera.PermissionState, error) {
	if err := ctx.Err(); err != nil {
		return camera.PermissionPrompt, err
	}
	nodes, err := h.nodes()
	if err != nil {
		return camera.PermissionPrompt, err
	}
	if len(nodes) == 0 {
		return camera.PermissionPrompt, nil
	}
	for _, n := range nodes {
		if err := unix.Access(n.path, unix.R_OK|unix.W_OK); err == nil {
			return camera.PermissionGranted, nil
		}
	}
	return camera.PermissionDenied, nil
}

// GetStream implements camera.Acquirer by opening the device node.
func (h *Host) GetStream(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := h.resolve(c)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.EBUSY):
			return nil, fmt.Errorf("open %s: device busy: %w", path, err)
		case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
			return nil, fmt.Errorf("open %s: permission denied: %w", path, err)
		default:
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
	}
	h.logger.Debug("device opened", logging.String(logging.FieldDevice, path))
	return &deviceStream{path: path, track: &deviceTrack{fd: fd}}, nil
}

func (h *Host) resolve(c camera.Constraints) (string, error) {
	nodes, err := h.nodes()
	if err != nil {
		return "", err
	}
	if id := strings.TrimSpace(c.DeviceID); id != "" {
		for _, n := range nodes {
			if n.path == id || n.name == id {
				return n.path, nil
			}
		}
		return "", fmt.Errorf("camera %s not found", id)
	}
	if len(nodes) == 0 {
		return "", errors.New("no video devices found")
	}
	devices := make([]camera.Device, len(nodes))
	for i, n := range nodes {
		devices[i] = camera.Device{DeviceID: n.path, Label: n.label}
	}
	if id := camera.SelectDefault(devices, ""); id != "" {
		return id, nil
	}
	return nodes[0].path, nil
}

type deviceStream struct {
	path  string
	track *deviceTrack
}

func (s *deviceStream) DeviceID() string { return s.path }

func (s *deviceStream) Tracks() []camera.Track { return []camera.Track{s.track} }

type deviceTrack struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// Stop closes the device node. Repeated calls are no-ops.
func (t *deviceTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return unix.Close(t.fd)
}
