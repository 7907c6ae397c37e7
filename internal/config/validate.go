package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRedemption(); err != nil {
		return err
	}
	if err := c.validateScanner(); err != nil {
		return err
	}
	if err := c.validateDecoder(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRedemption() error {
	if c.Redemption.BaseURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Redemption.BaseURL)
	if err != nil {
		return fmt.Errorf("redemption.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("redemption.base_url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("redemption.base_url must include a host")
	}
	return nil
}

func (c *Config) validateScanner() error {
	switch c.Scanner.Mode {
	case ModeAuto, ModeManual:
	default:
		return fmt.Errorf("scanner.mode must be %q or %q, got %q", ModeAuto, ModeManual, c.Scanner.Mode)
	}
	if c.Scanner.TimeoutSeconds < 0 {
		return errors.New("scanner.timeout_seconds must be positive")
	}
	if c.Scanner.RetryDelayMS > c.Scanner.ScanDelayMS && c.Scanner.ScanDelayMS > 0 {
		return errors.New("scanner.retry_delay_ms must not exceed scanner.scan_delay_ms")
	}
	return nil
}

func (c *Config) validateDecoder() error {
	switch c.Decoder.Kind {
	case DecoderCommand:
		if len(c.Decoder.Command) == 0 {
			return errors.New("decoder.command must be set when decoder.kind is \"command\"")
		}
		if len(c.Decoder.CaptureCommand) == 0 && !slices.Contains(c.Decoder.Command, DevicePlaceholder) {
			return fmt.Errorf("decoder.command must contain %s when decoder.capture_command is empty", DevicePlaceholder)
		}
		if len(c.Decoder.CaptureCommand) > 0 && !slices.Contains(c.Decoder.CaptureCommand, DevicePlaceholder) {
			return fmt.Errorf("decoder.capture_command must contain %s", DevicePlaceholder)
		}
	case DecoderLines:
	default:
		return fmt.Errorf("decoder.kind must be %q or %q, got %q", DecoderCommand, DecoderLines, c.Decoder.Kind)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	parsed, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", c.Notifications.NtfyTopic)
	}
	return nil
}
