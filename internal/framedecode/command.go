package framedecode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"voucherscan/internal/camera"
	"voucherscan/internal/logging"
)

const (
	devicePlaceholder = "{device}"
	stderrLimit       = 512
)

// Executor runs an external command with optional stdin and returns stdout.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error)
}

// ExitError carries a command's exit status and captured stderr.
type ExitError struct {
	Binary string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Binary, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Binary, e.Code, e.Stderr)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, &ExitError{Binary: binary, Code: exitErr.ExitCode(), Stderr: trimStderr(stderr.String())}
		}
		return out, err
	}
	return out, nil
}

// CommandOptions configures a CommandDecoder.
type CommandOptions struct {
	// Capture grabs one frame from {device} and writes it to stdout. Optional.
	Capture []string
	// Decode reads the frame on stdin (or {device} directly when Capture is
	// empty) and prints one payload per line.
	Decode           []string
	NotFoundExitCode int
	Timeout          time.Duration
	Executor         Executor
	Logger           *slog.Logger
}

// CommandDecoder decodes frames by running external commands.
type CommandDecoder struct {
	capture  []string
	decode   []string
	notFound int
	timeout  time.Duration
	exec     Executor
	logger   *slog.Logger

	mu       sync.Mutex
	failures int
}

// NewCommandDecoder validates opts and builds a decoder.
func NewCommandDecoder(opts CommandOptions) (*CommandDecoder, error) {
	if len(opts.Decode) == 0 || strings.TrimSpace(opts.Decode[0]) == "" {
		return nil, errors.New("command decoder: decode command required")
	}
	executor := opts.Executor
	if executor == nil {
		executor = commandExecutor{}
	}
	return &CommandDecoder{
		capture:  append([]string(nil), opts.Capture...),
		decode:   append([]string(nil), opts.Decode...),
		notFound: opts.NotFoundExitCode,
		timeout:  opts.Timeout,
		exec:     executor,
		logger:   logging.NewComponentLogger(opts.Logger, "frame-decoder"),
	}, nil
}

// DecodeOneFrame captures and decodes a single frame from the sink's device.
func (d *CommandDecoder) DecodeOneFrame(ctx context.Context, sink camera.Sink) (string, error) {
	if sink == nil || sink.Stream() == nil {
		return "", ErrNoStream
	}
	device := sink.Stream().DeviceID()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var frame []byte
	if len(d.capture) > 0 {
		argv := substitute(d.capture, device)
		out, err := d.exec.Run(ctx, argv[0], argv[1:], nil)
		if err != nil {
			return "", d.fail(fmt.Errorf("capture frame: %w", err))
		}
		if len(out) == 0 {
			return "", d.fail(errors.New("capture frame: empty output"))
		}
		frame = out
	}

	argv := substitute(d.decode, device)
	out, err := d.exec.Run(ctx, argv[0], argv[1:], frame)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) && d.notFound != 0 && exitErr.Code == d.notFound {
			d.succeed()
			return "", ErrNotFound
		}
		return "", d.fail(fmt.Errorf("decode frame: %w", err))
	}
	d.succeed()

	text := firstLine(out)
	if text == "" {
		return "", ErrNotFound
	}
	return text, nil
}

// Reset clears the decoder's failure streak.
func (d *CommandDecoder) Reset() {
	d.mu.Lock()
	d.failures = 0
	d.mu.Unlock()
}

// Failures returns the number of consecutive command failures.
func (d *CommandDecoder) Failures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures
}

func (d *CommandDecoder) fail(err error) error {
	d.mu.Lock()
	d.failures++
	streak := d.failures
	d.mu.Unlock()
	if streak == 1 {
		d.logger.Debug("frame decode command failed", logging.Error(err))
	}
	return err
}

func (d *CommandDecoder) succeed() {
	d.mu.Lock()
	d.failures = 0
	d.mu.Unlock()
}

func substitute(argv []string, device string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = strings.ReplaceAll(arg, devicePlaceholder, device)
	}
	return out
}

func firstLine(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}

func trimStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrLimit {
		s = s[:stderrLimit]
	}
	return s
}
