package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"voucherscan/internal/config"
	"voucherscan/internal/deps"
	"voucherscan/internal/journal"
	"voucherscan/internal/v4l"
)

const endpointTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDecoder reports the executables the configured decoder needs. The
// lines decoder only needs its input to exist when it is not stdin.
func CheckDecoder(cfg *config.Config) []Result {
	if cfg.Decoder.Kind == config.DecoderLines {
		input := strings.TrimSpace(cfg.Decoder.Input)
		if input == "" || input == "-" {
			return []Result{{Name: "Line input", Passed: true, Detail: "stdin"}}
		}
		if _, err := os.Stat(input); err != nil {
			return []Result{{Name: "Line input", Detail: fmt.Sprintf("%s (error: %v)", input, err)}}
		}
		return []Result{{Name: "Line input", Passed: true, Detail: input}}
	}

	var reqs []deps.Requirement
	if len(cfg.Decoder.CaptureCommand) > 0 {
		reqs = append(reqs, deps.Requirement{
			Name:        "Frame capture",
			Command:     cfg.Decoder.CaptureCommand[0],
			Description: "Grabs one frame from the camera",
		})
	}
	if len(cfg.Decoder.Command) > 0 {
		reqs = append(reqs, deps.Requirement{
			Name:        "QR decoder",
			Command:     cfg.Decoder.Command[0],
			Description: "Decodes QR codes from a frame",
		})
	}
	statuses := deps.CheckBinaries(reqs)
	results := make([]Result, 0, len(statuses))
	for _, s := range statuses {
		detail := s.Path
		if !s.Available {
			detail = s.Detail
		}
		results = append(results, Result{Name: s.Name, Passed: s.Available, Detail: detail, Optional: s.Optional})
	}
	return results
}

// CheckCameras reports how many video devices are visible. Having none is
// informational; the permission gate reports prompt in that case.
func CheckCameras(ctx context.Context, cfg *config.Config) Result {
	const name = "Cameras"
	host := v4l.NewHost(cfg.Camera.SysfsRoot, cfg.Camera.DevRoot, nil)
	devices, err := host.ListMediaDevices(ctx)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("enumeration failed (%v)", err)}
	}
	if len(devices) == 0 {
		return Result{Name: name, Optional: true, Detail: "no video devices found"}
	}
	state, err := host.QueryCameraPermission(ctx)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%d found, permission query failed (%v)", len(devices), err)}
	}
	return Result{Name: name, Optional: true, Passed: true, Detail: fmt.Sprintf("%d found, permission %s", len(devices), state)}
}

// CheckJournal opens the journal database.
func CheckJournal(ctx context.Context, path string) Result {
	const name = "Journal"
	store, err := journal.Open(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()
	stats, err := store.Stats(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d entries)", path, total)}
}

// CheckEndpoint verifies the redemption service answers HTTP at its base
// URL. The webhook itself is never called.
func CheckEndpoint(ctx context.Context, baseURL, token string) Result {
	const name = "Redemption endpoint"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, endpointTimeout)
	defer cancel()

	client := &http.Client{Timeout: endpointTimeout}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, base, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeEndpointError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: fmt.Sprintf("auth failed (%d)", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("Reachable (%s)", base)}
	}
}

func summarizeEndpointError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "reachability check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "reachability check timed out"
	}
	return fmt.Sprintf("unreachable (%v)", err)
}
