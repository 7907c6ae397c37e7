package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"voucherscan/internal/config"
)

func TestLoadDefaultsExpandPathsAndUseEnv(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("VOUCHERSCAN_REDEMPTION_URL", "https://vouchers.example.com/")
	t.Setenv("VOUCHERSCAN_API_TOKEN", " secret ")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(tempHome, ".config", "voucherscan", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}

	wantState := filepath.Join(tempHome, ".local", "share", "voucherscan")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("state dir = %q, want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Journal.Path != filepath.Join(wantState, "journal.db") {
		t.Fatalf("unexpected journal path %q", cfg.Journal.Path)
	}
	if cfg.Redemption.BaseURL != "https://vouchers.example.com" {
		t.Fatalf("expected trailing slash trimmed from env url, got %q", cfg.Redemption.BaseURL)
	}
	if cfg.Redemption.APIToken != "secret" {
		t.Fatalf("expected token from env, got %q", cfg.Redemption.APIToken)
	}
	if cfg.Scanner.Mode != config.ModeAuto {
		t.Fatalf("expected auto mode, got %q", cfg.Scanner.Mode)
	}
	if cfg.ScanDelay() != time.Second || cfg.RetryDelay() != 100*time.Millisecond {
		t.Fatalf("unexpected throttle timings: %v / %v", cfg.ScanDelay(), cfg.RetryDelay())
	}
	if cfg.FrameInterval() != 100*time.Millisecond || cfg.ScanTimeout() != time.Minute {
		t.Fatalf("unexpected loop timings: %v / %v", cfg.FrameInterval(), cfg.ScanTimeout())
	}
	if cfg.SettleDelay() != 300*time.Millisecond {
		t.Fatalf("unexpected settle delay %v", cfg.SettleDelay())
	}
	if got := cfg.DecoderBinaries(); len(got) != 2 || got[0] != "ffmpeg" || got[1] != "zbarimg" {
		t.Fatalf("unexpected decoder binaries %v", got)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "voucherscan.toml")

	type payload struct {
		Redemption struct {
			BaseURL string `toml:"base_url"`
		} `toml:"redemption"`
		Scanner struct {
			Mode           string `toml:"mode"`
			TimeoutSeconds int    `toml:"timeout_seconds"`
		} `toml:"scanner"`
		Decoder struct {
			Kind string `toml:"kind"`
		} `toml:"decoder"`
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
	}
	custom := payload{}
	custom.Redemption.BaseURL = "http://localhost:8080"
	custom.Scanner.Mode = "MANUAL"
	custom.Scanner.TimeoutSeconds = 5
	custom.Decoder.Kind = "lines"
	custom.Paths.StateDir = filepath.Join(tempDir, "state")

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom path to be used, got %q (exists=%v)", resolved, exists)
	}
	if cfg.Scanner.Mode != config.ModeManual {
		t.Fatalf("expected mode normalized to manual, got %q", cfg.Scanner.Mode)
	}
	if cfg.ScanTimeout() != 5*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.ScanTimeout())
	}
	if cfg.DecoderBinaries() != nil {
		t.Fatalf("expected no binaries for lines decoder, got %v", cfg.DecoderBinaries())
	}
	if cfg.LockDir() != filepath.Join(tempDir, "state", "locks") {
		t.Fatalf("unexpected lock dir %q", cfg.LockDir())
	}
	base, err := cfg.RequireRedemptionURL()
	if err != nil || base != "http://localhost:8080" {
		t.Fatalf("RequireRedemptionURL = %q, %v", base, err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "voucherscan.toml")
	if err := os.WriteFile(configPath, []byte("[scanner]\nmdoe = \"auto\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "mdoe") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	def := config.Default()
	if cfg.Decoder.NotFoundExitCode != def.Decoder.NotFoundExitCode {
		t.Fatalf("sample not_found_exit_code %d differs from default", cfg.Decoder.NotFoundExitCode)
	}
	if strings.Join(cfg.Decoder.Command, " ") != strings.Join(def.Decoder.Command, " ") {
		t.Fatalf("sample decoder command differs from default: %v", cfg.Decoder.Command)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults", func(*config.Config) {}, ""},
		{"bad mode", func(c *config.Config) { c.Scanner.Mode = "turbo" }, "scanner.mode"},
		{"bad scheme", func(c *config.Config) { c.Redemption.BaseURL = "ftp://x" }, "http or https"},
		{"missing host", func(c *config.Config) { c.Redemption.BaseURL = "http://" }, "host"},
		{"bad decoder kind", func(c *config.Config) { c.Decoder.Kind = "magic" }, "decoder.kind"},
		{"empty command", func(c *config.Config) { c.Decoder.Command = nil }, "decoder.command"},
		{"direct command without device", func(c *config.Config) {
			c.Decoder.CaptureCommand = nil
			c.Decoder.Command = []string{"zbarimg", "frame.png"}
		}, "{device}"},
		{"capture without device", func(c *config.Config) {
			c.Decoder.CaptureCommand = []string{"ffmpeg", "-i", "/dev/video0"}
		}, "capture_command"},
		{"retry beyond scan delay", func(c *config.Config) { c.Scanner.RetryDelayMS = 2000 }, "retry_delay_ms"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "my-topic" }, "notifications.ntfy_topic"},
		{"ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "https://ntfy.sh/till-1" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRequireRedemptionURLMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := config.Default()
	_, err := cfg.RequireRedemptionURL()
	if err == nil || !strings.Contains(err.Error(), "VOUCHERSCAN_REDEMPTION_URL") {
		t.Fatalf("expected actionable error, got %v", err)
	}
}
