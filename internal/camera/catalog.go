package camera

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"

	"voucherscan/internal/logging"
)

var rearLabelHints = []string{"back", "rear"}

// Catalog lists the video inputs available for scanning.
type Catalog struct {
	enumerator Enumerator
	logger     *slog.Logger
}

// NewCatalog wraps the host enumerator.
func NewCatalog(enumerator Enumerator, logger *slog.Logger) *Catalog {
	return &Catalog{
		enumerator: enumerator,
		logger:     logging.NewComponentLogger(logger, "device-catalog"),
	}
}

// ListVideoDevices returns the host's video inputs. Enumeration failures are
// logged and produce an empty list.
func (c *Catalog) ListVideoDevices(ctx context.Context) []Device {
	if c == nil || c.enumerator == nil {
		return []Device{}
	}
	all, err := c.enumerator.ListMediaDevices(ctx)
	if err != nil {
		logging.WarnWithContext(c.logger, "device enumeration failed; continuing without device list", "device_enumeration_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that video4linux devices are present in sysfs"),
			logging.String(logging.FieldImpact, "camera selection falls back to the environment-facing default"),
		)
		return []Device{}
	}
	devices := make([]Device, 0, len(all))
	for _, dev := range all {
		if dev.Kind != KindVideoInput {
			continue
		}
		devices = append(devices, Device{DeviceID: dev.DeviceID, Label: dev.Label})
	}
	c.logger.Debug("video devices listed", logging.Int("count", len(devices)))
	return devices
}

// SelectDefault picks the device to use. An explicit selection wins; with
// several devices the first rear-facing one is chosen; otherwise the result
// is empty and acquisition uses the environment-facing hint.
func SelectDefault(devices []Device, selected string) string {
	if selected = strings.TrimSpace(selected); selected != "" {
		return selected
	}
	if len(devices) < 2 {
		return ""
	}
	fold := cases.Fold()
	for _, dev := range devices {
		label := fold.String(dev.Label)
		for _, hint := range rearLabelHints {
			if strings.Contains(label, hint) {
				return dev.DeviceID
			}
		}
	}
	return ""
}

// FindDevice reports whether id is among devices.
func FindDevice(devices []Device, id string) (Device, bool) {
	for _, dev := range devices {
		if dev.DeviceID == id {
			return dev, true
		}
	}
	return Device{}, false
}
