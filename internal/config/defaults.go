package config

const (
	defaultConfigPath       = "~/.config/voucherscan/config.toml"
	defaultStateDir         = "~/.local/share/voucherscan"
	defaultLogDir           = "~/.local/share/voucherscan/logs"
	defaultLogRetentionDays = 30
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultRequestTimeout   = 10
	defaultUserAgent        = "voucherscan/dev"
	defaultScanDelayMS      = 1000
	defaultRetryDelayMS     = 100
	defaultFrameIntervalMS  = 100
	defaultTimeoutSeconds   = 60
	defaultSettleDelayMS    = 300
	defaultSysfsRoot        = "/sys/class/video4linux"
	defaultDevRoot          = "/dev"
	defaultNotFoundExitCode = 4
	defaultCommandTimeoutMS = 5000
	defaultNotifyTimeout    = 10
	defaultJournalFile      = "journal.db"

	envRedemptionURL = "VOUCHERSCAN_REDEMPTION_URL"
	envAPIToken      = "VOUCHERSCAN_API_TOKEN"
)

// defaultCaptureCommand grabs a single PNG frame from a V4L2 device.
func defaultCaptureCommand() []string {
	return []string{
		"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-f", "v4l2", "-i", DevicePlaceholder,
		"-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-",
	}
}

// defaultDecodeCommand reads a PNG from stdin and prints QR payloads only.
// zbarimg exits 4 when the image holds no symbol.
func defaultDecodeCommand() []string {
	return []string{"zbarimg", "--quiet", "--raw", "-Sdisable", "-Sqrcode.enable", "png:-"}
}

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Redemption: Redemption{
			RequestTimeout: defaultRequestTimeout,
			UserAgent:      defaultUserAgent,
		},
		Scanner: Scanner{
			Mode:            ModeAuto,
			ScanDelayMS:     defaultScanDelayMS,
			RetryDelayMS:    defaultRetryDelayMS,
			FrameIntervalMS: defaultFrameIntervalMS,
			TimeoutSeconds:  defaultTimeoutSeconds,
			SettleDelayMS:   defaultSettleDelayMS,
		},
		Camera: Camera{
			SysfsRoot: defaultSysfsRoot,
			DevRoot:   defaultDevRoot,
			Hotplug:   true,
		},
		Decoder: Decoder{
			Kind:             DecoderCommand,
			CaptureCommand:   defaultCaptureCommand(),
			Command:          defaultDecodeCommand(),
			NotFoundExitCode: defaultNotFoundExitCode,
			CommandTimeoutMS: defaultCommandTimeoutMS,
			Input:            "-",
		},
		Journal: Journal{
			Enabled: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
	}
}
