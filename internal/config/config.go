package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Scanner modes.
const (
	// ModeAuto stops the camera after a successful redemption.
	ModeAuto = "auto"
	// ModeManual keeps scanning and redeems the last scan on request.
	ModeManual = "manual"
)

// Decoder kinds.
const (
	DecoderCommand = "command"
	DecoderLines   = "lines"
)

// DevicePlaceholder is replaced with the capture device path in decoder argv.
const DevicePlaceholder = "{device}"

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Redemption configures the voucher redemption endpoint.
type Redemption struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	RequestTimeout int    `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// Scanner configures the scan loop and coordinator timings.
type Scanner struct {
	Mode            string `toml:"mode"`
	ScanDelayMS     int    `toml:"scan_delay_ms"`
	RetryDelayMS    int    `toml:"retry_delay_ms"`
	FrameIntervalMS int    `toml:"frame_interval_ms"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	SettleDelayMS   int    `toml:"settle_delay_ms"`
}

// Camera configures device discovery.
type Camera struct {
	Device    string `toml:"device"`
	SysfsRoot string `toml:"sysfs_root"`
	DevRoot   string `toml:"dev_root"`
	Hotplug   bool   `toml:"hotplug"`
}

// Decoder configures how frames become text.
type Decoder struct {
	Kind string `toml:"kind"`
	// CaptureCommand grabs one frame from the device and writes it to stdout.
	// When empty, Command receives the device path directly.
	CaptureCommand   []string `toml:"capture_command"`
	Command          []string `toml:"command"`
	NotFoundExitCode int      `toml:"not_found_exit_code"`
	CommandTimeoutMS int      `toml:"command_timeout_ms"`
	// Input is the line source for the lines decoder: "-" for stdin or a path
	// such as a HID raw device.
	Input string `toml:"input"`
}

// Journal configures the redemption audit journal.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains ntfy push settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	// Redemptions publishes every successful redemption, not only failures.
	Redemptions bool `toml:"redemptions"`
}

// Config encapsulates all configuration values for voucherscan.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Redemption Redemption `toml:"redemption"`
	Scanner    Scanner    `toml:"scanner"`
	Camera     Camera     `toml:"camera"`
	Decoder    Decoder    `toml:"decoder"`
	Journal    Journal    `toml:"journal"`
	Logging    Logging    `toml:"logging"`

	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. It returns the
// config, the resolved path, and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("voucherscan.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(c.Journal.Path), 0o755); err != nil {
			return fmt.Errorf("create journal directory: %w", err)
		}
	}
	return nil
}

// LockDir is where per-device capture locks live.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// RequireRedemptionURL returns the endpoint base URL or an actionable error
// when none is configured.
func (c *Config) RequireRedemptionURL() (string, error) {
	if base := strings.TrimSpace(c.Redemption.BaseURL); base != "" {
		return base, nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	return "", fmt.Errorf("redemption.base_url is required. Set %s or edit %s (create with 'voucherscan config init')", envRedemptionURL, defaultPath)
}

// ScanDelay is the minimum gap between two accepted decodes.
func (c *Config) ScanDelay() time.Duration {
	return time.Duration(c.Scanner.ScanDelayMS) * time.Millisecond
}

// RetryDelay is the tick deferral applied while throttled.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Scanner.RetryDelayMS) * time.Millisecond
}

// FrameInterval is the gap between decode attempts.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Scanner.FrameIntervalMS) * time.Millisecond
}

// ScanTimeout is the idle window after which scanning stops.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scanner.TimeoutSeconds) * time.Second
}

// SettleDelay is the pause between releasing and reacquiring a camera.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Scanner.SettleDelayMS) * time.Millisecond
}

// RequestTimeout bounds one redemption request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Redemption.RequestTimeout) * time.Second
}

// NotifyTimeout bounds one ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// CommandTimeout bounds one decoder command run.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Decoder.CommandTimeoutMS) * time.Millisecond
}

// DecoderBinaries lists the executables the decoder configuration needs.
func (c *Config) DecoderBinaries() []string {
	if c.Decoder.Kind != DecoderCommand {
		return nil
	}
	var out []string
	for _, argv := range [][]string{c.Decoder.CaptureCommand, c.Decoder.Command} {
		if len(argv) > 0 && strings.TrimSpace(argv[0]) != "" {
			out = append(out, argv[0])
		}
	}
	return out
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	out, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}
