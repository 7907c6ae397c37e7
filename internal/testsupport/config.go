package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"voucherscan/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a per-test temp directory.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Journal.Path = filepath.Join(base, "state", "journal.db")
	cfgVal.Camera.SysfsRoot = filepath.Join(base, "sys", "class", "video4linux")
	cfgVal.Camera.DevRoot = filepath.Join(base, "dev")
	cfgVal.Camera.Hotplug = false
	cfgVal.Redemption.BaseURL = "http://127.0.0.1:0"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithRedemptionURL points the config at a test server.
func WithRedemptionURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Redemption.BaseURL = url
	}
}

// WithMode sets the scanner mode.
func WithMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scanner.Mode = mode
	}
}

// WithStubbedBinaries writes stub executables for names and prepends them to
// PATH. With no names the default decoder binaries are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = b.cfg.DecoderBinaries()
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the temp directory backing cfg.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
