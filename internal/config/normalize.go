package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRedemption()
	c.normalizeScanner()
	c.normalizeCamera()
	c.normalizeDecoder()
	if err := c.normalizeJournal(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRedemption() {
	c.Redemption.BaseURL = strings.TrimSpace(c.Redemption.BaseURL)
	if c.Redemption.BaseURL == "" {
		if value, ok := os.LookupEnv(envRedemptionURL); ok {
			c.Redemption.BaseURL = strings.TrimSpace(value)
		}
	}
	c.Redemption.BaseURL = strings.TrimRight(c.Redemption.BaseURL, "/")
	c.Redemption.APIToken = strings.TrimSpace(c.Redemption.APIToken)
	if c.Redemption.APIToken == "" {
		if value, ok := os.LookupEnv(envAPIToken); ok {
			c.Redemption.APIToken = strings.TrimSpace(value)
		}
	}
	if c.Redemption.RequestTimeout <= 0 {
		c.Redemption.RequestTimeout = defaultRequestTimeout
	}
	c.Redemption.UserAgent = strings.TrimSpace(c.Redemption.UserAgent)
	if c.Redemption.UserAgent == "" {
		c.Redemption.UserAgent = defaultUserAgent
	}
}

func (c *Config) normalizeScanner() {
	c.Scanner.Mode = strings.ToLower(strings.TrimSpace(c.Scanner.Mode))
	if c.Scanner.Mode == "" {
		c.Scanner.Mode = ModeAuto
	}
	if c.Scanner.ScanDelayMS < 0 {
		c.Scanner.ScanDelayMS = 0
	}
	if c.Scanner.RetryDelayMS <= 0 {
		c.Scanner.RetryDelayMS = defaultRetryDelayMS
	}
	if c.Scanner.FrameIntervalMS <= 0 {
		c.Scanner.FrameIntervalMS = defaultFrameIntervalMS
	}
	if c.Scanner.TimeoutSeconds == 0 {
		c.Scanner.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Scanner.SettleDelayMS < 0 {
		c.Scanner.SettleDelayMS = 0
	}
}

func (c *Config) normalizeCamera() {
	c.Camera.Device = strings.TrimSpace(c.Camera.Device)
	c.Camera.SysfsRoot = strings.TrimSpace(c.Camera.SysfsRoot)
	if c.Camera.SysfsRoot == "" {
		c.Camera.SysfsRoot = defaultSysfsRoot
	}
	c.Camera.DevRoot = strings.TrimSpace(c.Camera.DevRoot)
	if c.Camera.DevRoot == "" {
		c.Camera.DevRoot = defaultDevRoot
	}
}

func (c *Config) normalizeDecoder() {
	c.Decoder.Kind = strings.ToLower(strings.TrimSpace(c.Decoder.Kind))
	if c.Decoder.Kind == "" {
		c.Decoder.Kind = DecoderCommand
	}
	c.Decoder.CaptureCommand = trimArgs(c.Decoder.CaptureCommand)
	c.Decoder.Command = trimArgs(c.Decoder.Command)
	if c.Decoder.NotFoundExitCode == 0 {
		c.Decoder.NotFoundExitCode = defaultNotFoundExitCode
	}
	if c.Decoder.CommandTimeoutMS <= 0 {
		c.Decoder.CommandTimeoutMS = defaultCommandTimeoutMS
	}
	c.Decoder.Input = strings.TrimSpace(c.Decoder.Input)
	if c.Decoder.Input == "" {
		c.Decoder.Input = "-"
	}
}

func (c *Config) normalizeJournal() error {
	path := strings.TrimSpace(c.Journal.Path)
	if path == "" {
		path = filepath.Join(c.Paths.StateDir, defaultJournalFile)
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	c.Journal.Path = expanded
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format != "json" {
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func trimArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}
