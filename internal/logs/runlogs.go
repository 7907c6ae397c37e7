package logs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"voucherscan/internal/logging"
)

// ErrNoRunLogs is returned when the log directory holds no run logs.
var ErrNoRunLogs = errors.New("no run logs found")

const runLogStampLayout = "20060102T150405"

// RunLog describes one run log file.
type RunLog struct {
	Path    string
	Started time.Time
	Size    int64
}

// ListRunLogs returns the run logs in dir, newest first.
func ListRunLogs(dir string) ([]RunLog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log directory: %w", err)
	}
	var out []RunLog
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if matched, _ := filepath.Match(logging.LogFilePattern, name); !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, RunLog{
			Path:    filepath.Join(dir, name),
			Started: startedFromName(name, info.ModTime()),
			Size:    info.Size(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].Path > out[j].Path
		}
		return out[i].Started.After(out[j].Started)
	})
	return out, nil
}

// Latest returns the newest run log in dir.
func Latest(dir string) (string, error) {
	runs, err := ListRunLogs(dir)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrNoRunLogs
	}
	return runs[0].Path, nil
}

func startedFromName(name string, fallback time.Time) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "voucherscan-"), ".log")
	ts, err := time.ParseInLocation(runLogStampLayout, stamp, time.UTC)
	if err != nil {
		return fallback
	}
	return ts
}
