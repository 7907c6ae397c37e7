package camera

import (
	"context"
	"errors"
	"strings"
)

// PermissionState is the host's answer to a camera permission query.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

// Tri is the scanner's derived view of camera permission.
type Tri string

const (
	TriUnknown Tri = "unknown"
	TriGranted Tri = "granted"
	TriDenied  Tri = "denied"
)

// MediaKind identifies the kind of an enumerated media device.
type MediaKind string

const (
	KindVideoInput  MediaKind = "videoinput"
	KindAudioInput  MediaKind = "audioinput"
	KindAudioOutput MediaKind = "audiooutput"
)

// FacingEnvironment requests the camera facing away from the user.
const FacingEnvironment = "environment"

// MediaDevice is one entry of the host's device enumeration.
type MediaDevice struct {
	Kind     MediaKind
	DeviceID string
	Label    string
}

// Device is a video input offered to the user.
type Device struct {
	DeviceID string `json:"device_id"`
	Label    string `json:"label"`
}

// Constraints select the device to capture from. Exactly one of DeviceID or
// FacingMode is set.
type Constraints struct {
	DeviceID   string
	FacingMode string
}

// ExactDevice requests a specific device.
func ExactDevice(id string) Constraints {
	return Constraints{DeviceID: strings.TrimSpace(id)}
}

// EnvironmentFacing requests the environment-facing camera.
func EnvironmentFacing() Constraints {
	return Constraints{FacingMode: FacingEnvironment}
}

// Validate rejects empty or combined constraint modes.
func (c Constraints) Validate() error {
	hasDevice := strings.TrimSpace(c.DeviceID) != ""
	hasFacing := strings.TrimSpace(c.FacingMode) != ""
	switch {
	case hasDevice && hasFacing:
		return errors.New("constraints: device id and facing mode are mutually exclusive")
	case !hasDevice && !hasFacing:
		return errors.New("constraints: device id or facing mode required")
	}
	return nil
}

// Track is one media track of a stream.
type Track interface {
	Stop() error
}

// Stream is a live capture handle.
type Stream interface {
	DeviceID() string
	Tracks() []Track
}

// Sink receives a stream for decoding.
type Sink interface {
	Attach(stream Stream) error
	Detach()
	Stream() Stream
}

// Resetter is implemented by decoders attached to a session.
type Resetter interface {
	Reset()
}

// PermissionQuerier reports whether the process may use the camera.
type PermissionQuerier interface {
	QueryCameraPermission(ctx context.Context) (PermissionState, error)
}

// Enumerator lists the host's media devices.
type Enumerator interface {
	ListMediaDevices(ctx context.Context) ([]MediaDevice, error)
}

// Acquirer opens a capture stream.
type Acquirer interface {
	GetStream(ctx context.Context, constraints Constraints) (Stream, error)
}
