package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voucherscan/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run the startup health checks and report the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Configuration", colorize))
			fmt.Fprintln(out, renderStatusLine("Config", statusInfo, describeConfigSource(ctx), colorize))
			fmt.Fprintln(out, renderStatusLine("Mode", statusInfo, cfg.Scanner.Mode, colorize))
			fmt.Fprintln(out, renderStatusLine("Decoder", statusInfo, cfg.Decoder.Kind, colorize))
			fmt.Fprintln(out, renderStatusLine("Journal", statusInfo, yesNo(cfg.Journal.Enabled), colorize))
			fmt.Fprintln(out)

			results := preflight.RunAll(cmd.Context(), cfg)
			fmt.Fprintln(out, renderSectionHeader("Checks", colorize))
			for _, result := range results {
				kind := statusOK
				switch {
				case !result.Passed && result.Optional:
					kind = statusWarn
				case !result.Passed:
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}
