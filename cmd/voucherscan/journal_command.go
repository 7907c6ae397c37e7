package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voucherscan/internal/journal"
)

const defaultJournalRetention = 30 * 24 * time.Hour

var errNoJournal = errors.New("journal is disabled; set journal.enabled = true")

func newJournalCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the redemption journal",
	}
	cmd.AddCommand(newJournalListCommand(ctx))
	cmd.AddCommand(newJournalStatsCommand(ctx))
	cmd.AddCommand(newJournalPruneCommand(ctx))
	return cmd
}

func openJournal(ctx *commandContext) (*journal.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, errNoJournal
	}
	return journal.Open(cfg.Journal.Path)
}

type journalEntryJSON struct {
	ID         int64  `json:"id"`
	SessionID  string `json:"session_id"`
	VoucherID  string `json:"voucher_id"`
	BuyerID    int64  `json:"buyer_id,omitempty"`
	Outcome    string `json:"outcome"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Message    string `json:"message,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

func newJournalListCommand(ctx *commandContext) *cobra.Command {
	var (
		session  string
		voucher  string
		outcomes []string
		since    string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journal entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := journal.Filter{
				SessionID: strings.TrimSpace(session),
				VoucherID: strings.TrimSpace(voucher),
				Limit:     limit,
			}
			for _, raw := range outcomes {
				outcome := journal.Outcome(strings.ToLower(strings.TrimSpace(raw)))
				if !outcome.Valid() {
					return fmt.Errorf("unknown outcome %q", raw)
				}
				filter.Outcomes = append(filter.Outcomes, outcome)
			}
			if strings.TrimSpace(since) != "" {
				age, err := parseAge(since)
				if err != nil {
					return err
				}
				filter.Since = time.Now().Add(-age)
			}

			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if asJSON {
				out := make([]journalEntryJSON, 0, len(entries))
				for _, e := range entries {
					out = append(out, journalEntryJSON{
						ID:         e.ID,
						SessionID:  e.SessionID,
						VoucherID:  e.VoucherID,
						BuyerID:    e.BuyerID,
						Outcome:    string(e.Outcome),
						ErrorKind:  e.ErrorKind,
						Message:    e.Message,
						RecordedAt: e.RecordedAt.UTC().Format(time.RFC3339),
					})
				}
				return writeJSON(cmd, out)
			}

			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No journal entries")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				buyer := "-"
				if e.BuyerID != 0 {
					buyer = strconv.FormatInt(e.BuyerID, 10)
				}
				rows = append(rows, []string{
					e.RecordedAt.Local().Format("2006-01-02 15:04:05"),
					shortSession(e.SessionID),
					valueOrDash(e.VoucherID),
					buyer,
					string(e.Outcome),
					valueOrDash(e.Message),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Recorded", "Session", "Voucher", "Buyer", "Outcome", "Message"}, rows, 3))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Only entries from this session ID")
	cmd.Flags().StringVar(&voucher, "voucher", "", "Only entries for this voucher ID")
	cmd.Flags().StringSliceVar(&outcomes, "outcome", nil, "Only these outcomes (attempted, redeemed, failed, duplicate, rejected)")
	cmd.Flags().StringVar(&since, "since", "", "Only entries newer than this age (e.g. 2h, 7d)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJournalStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts per outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				out := make(map[string]int, len(stats))
				for outcome, n := range stats {
					out[string(outcome)] = n
				}
				return writeJSON(cmd, out)
			}

			keys := make([]string, 0, len(stats))
			for outcome := range stats {
				keys = append(keys, string(outcome))
			}
			sort.Strings(keys)
			rows := make([][]string, 0, len(keys))
			for _, key := range keys {
				rows = append(rows, []string{key, strconv.Itoa(stats[journal.Outcome(key)])})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Outcome", "Entries"}, rows, 1))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJournalPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than an age",
		RunE: func(cmd *cobra.Command, args []string) error {
			age := defaultJournalRetention
			if strings.TrimSpace(olderThan) != "" {
				parsed, err := parseAge(olderThan)
				if err != nil {
					return err
				}
				age = parsed
			}

			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.PruneBefore(cmd.Context(), time.Now().Add(-age))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d journal entr%s\n", removed, pluralSuffix(removed))
			return nil
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "30d", "Age cutoff (e.g. 12h, 30d)")
	return cmd
}

// parseAge accepts Go durations plus a whole-day "Nd" form.
func parseAge(raw string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", raw)
	}
	return d, nil
}

func pluralSuffix(n int64) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return valueOrDash(id)
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
