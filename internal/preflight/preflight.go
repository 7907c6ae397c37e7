package preflight

import (
	"context"

	"voucherscan/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Optional results are informational and never block scanning.
	Optional bool
}

// RunAll executes the checks that apply to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	results = append(results, CheckDecoder(cfg)...)
	if cfg.Decoder.Kind == config.DecoderCommand {
		results = append(results, CheckCameras(ctx, cfg))
	}
	if cfg.Journal.Enabled {
		results = append(results, CheckJournal(ctx, cfg.Journal.Path))
	}
	results = append(results, CheckEndpoint(ctx, cfg.Redemption.BaseURL, cfg.Redemption.APIToken))
	return results
}

// Failed returns the non-optional results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
