package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteVideoDevice creates a fake video4linux entry: the sysfs name file under
// sysfsRoot/<node>/name and an empty device node under devRoot/<node>. It
// returns the device node path.
func WriteVideoDevice(t testing.TB, sysfsRoot, devRoot, node, label string) string {
	t.Helper()

	dir := filepath.Join(sysfsRoot, node)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "name"), []byte(label+"\n"), 0o644); err != nil {
		t.Fatalf("write sysfs name: %v", err)
	}
	if err := os.MkdirAll(devRoot, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", devRoot, err)
	}
	devPath := filepath.Join(devRoot, node)
	if err := os.WriteFile(devPath, nil, 0o660); err != nil {
		t.Fatalf("write device node: %v", err)
	}
	return devPath
}
