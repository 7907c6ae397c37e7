package v4l

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"voucherscan/internal/camera"
	"voucherscan/internal/testsupport"
)

func newTestHost(t *testing.T) (*Host, string, string) {
	t.Helper()
	base := t.TempDir()
	sysfs := filepath.Join(base, "sys")
	dev := filepath.Join(base, "dev")
	return NewHost(sysfs, dev, nil), sysfs, dev
}

func TestListMediaDevices(t *testing.T) {
	host, sysfs, dev := newTestHost(t)
	testsupport.WriteVideoDevice(t, sysfs, dev, "video10", "USB Back Camera")
	testsupport.WriteVideoDevice(t, sysfs, dev, "video0", "Integrated Webcam")
	testsupport.WriteVideoDevice(t, sysfs, dev, "video1", "Integrated Webcam")
	if err := os.WriteFile(filepath.Join(sysfs, "video1", "index"), []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A sysfs entry without a device node is not usable.
	if err := os.MkdirAll(filepath.Join(sysfs, "video3"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(sysfs, "vbi0"), 0o755); err != nil {
		t.Fatal(err)
	}

	devices, err := host.ListMediaDevices(context.Background())
	if err != nil {
		t.Fatalf("ListMediaDevices: %v", err)
	}
	want := []camera.MediaDevice{
		{Kind: camera.KindVideoInput, DeviceID: filepath.Join(dev, "video0"), Label: "Integrated Webcam"},
		{Kind: camera.KindVideoInput, DeviceID: filepath.Join(dev, "video10"), Label: "USB Back Camera"},
	}
	if len(devices) != len(want) {
		t.Fatalf("devices = %+v", devices)
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Errorf("device %d = %+v, want %+v", i, devices[i], want[i])
		}
	}
}

func TestListMediaDevicesMissingSysfs(t *testing.T) {
	host, _, _ := newTestHost(t)
	devices, err := host.ListMediaDevices(context.Background())
	if err != nil {
		t.Fatalf("ListMediaDevices: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected no devices, got %+v", devices)
	}
}

func TestQueryCameraPermission(t *testing.T) {
	t.Run("no devices is prompt", func(t *testing.T) {
		host, _, _ := newTestHost(t)
		state, err := host.QueryCameraPermission(context.Background())
		if err != nil || state != camera.PermissionPrompt {
			t.Fatalf("state = %s, err = %v", state, err)
		}
	})

	t.Run("accessible node is granted", func(t *testing.T) {
		host, sysfs, dev := newTestHost(t)
		testsupport.WriteVideoDevice(t, sysfs, dev, "video0", "Cam")
		state, err := host.QueryCameraPermission(context.Background())
		if err != nil || state != camera.PermissionGranted {
			t.Fatalf("state = %s, err = %v", state, err)
		}
	})

	t.Run("unreadable node is denied", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root bypasses file permissions")
		}
		host, sysfs, dev := newTestHost(t)
		path := testsupport.WriteVideoDevice(t, sysfs, dev, "video0", "Cam")
		if err := os.Chmod(path, 0o000); err != nil {
			t.Fatal(err)
		}
		state, err := host.QueryCameraPermission(context.Background())
		if err != nil || state != camera.PermissionDenied {
			t.Fatalf("state = %s, err = %v", state, err)
		}
	})
}

func TestGetStream(t *testing.T) {
	host, sysfs, dev := newTestHost(t)
	front := testsupport.WriteVideoDevice(t, sysfs, dev, "video0", "Front Camera")
	rear := testsupport.WriteVideoDevice(t, sysfs, dev, "video2", "Rear Camera")

	t.Run("environment facing prefers rear", func(t *testing.T) {
		stream, err := host.GetStream(context.Background(), camera.EnvironmentFacing())
		if err != nil {
			t.Fatalf("GetStream: %v", err)
		}
		defer stopAll(t, stream)
		if stream.DeviceID() != rear {
			t.Fatalf("device = %s, want %s", stream.DeviceID(), rear)
		}
	})

	t.Run("exact device by path or name", func(t *testing.T) {
		for _, id := range []string{front, "video0"} {
			stream, err := host.GetStream(context.Background(), camera.ExactDevice(id))
			if err != nil {
				t.Fatalf("GetStream(%s): %v", id, err)
			}
			if stream.DeviceID() != front {
				t.Fatalf("device = %s", stream.DeviceID())
			}
			stopAll(t, stream)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		if _, err := host.GetStream(context.Background(), camera.ExactDevice("video7")); err == nil {
			t.Fatal("expected error for unknown device")
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		stream, err := host.GetStream(context.Background(), camera.ExactDevice(front))
		if err != nil {
			t.Fatalf("GetStream: %v", err)
		}
		stopAll(t, stream)
		stopAll(t, stream)
	})
}

func TestGetStreamSingleDevice(t *testing.T) {
	host, sysfs, dev := newTestHost(t)
	only := testsupport.WriteVideoDevice(t, sysfs, dev, "video4", "Webcam")
	stream, err := host.GetStream(context.Background(), camera.EnvironmentFacing())
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	defer stopAll(t, stream)
	if stream.DeviceID() != only {
		t.Fatalf("device = %s", stream.DeviceID())
	}
}

func stopAll(t *testing.T, stream camera.Stream) {
	t.Helper()
	for _, track := range stream.Tracks() {
		if err := track.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
}
