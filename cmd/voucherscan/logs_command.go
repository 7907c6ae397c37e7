package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"voucherscan/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		list   bool
		file   string
		filter logs.Filter
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show scanner run logs",
		Long: `Print the tail of the newest run log, or of --file. Records can be
filtered by session, voucher or minimum level; --follow keeps printing new
lines until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if list {
				runs, err := logs.ListRunLogs(cfg.Paths.LogDir)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No run logs")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.Started.Local().Format("2006-01-02 15:04:05"),
						humanize.IBytes(uint64(run.Size)),
						run.Path,
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Started", "Size", "Path"}, rows, 1))
				return nil
			}

			path := file
			if path == "" {
				path, err = logs.Latest(cfg.Paths.LogDir)
				if errors.Is(err, logs.ErrNoRunLogs) {
					return fmt.Errorf("no run logs in %s", cfg.Paths.LogDir)
				}
				if err != nil {
					return err
				}
			}

			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				if filter.Match(line) {
					fmt.Fprintln(out, line)
				}
			}
			if !follow {
				return nil
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return logs.Follow(runCtx, path, offset, 0, func(line string) {
				if filter.Match(line) {
					fmt.Fprintln(out, line)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().BoolVar(&list, "list", false, "List run log files instead of printing one")
	cmd.Flags().StringVar(&file, "file", "", "Log file to read instead of the newest run log")
	cmd.Flags().StringVar(&filter.SessionID, "session", "", "Only records from this session ID (prefix match)")
	cmd.Flags().StringVar(&filter.VoucherID, "voucher", "", "Only records for this voucher ID")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}
