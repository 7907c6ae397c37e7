package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"voucherscan/internal/journal"
	"voucherscan/internal/logging"
	"voucherscan/internal/redemption"
	"voucherscan/internal/scanerr"
	"voucherscan/internal/voucher"
)

func newRedeemCommand(ctx *commandContext) *cobra.Command {
	var (
		force  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "redeem <payload>",
		Short: "Redeem a single voucher payload without the camera",
		Long: `Decode one voucher payload and send it to the redemption service.

When the journal is enabled, a voucher already recorded as redeemed is refused
unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if _, err := cfg.RequireRedemptionURL(); err != nil {
				return err
			}

			token, err := voucher.Decode(voucher.Sanitize(args[0]))
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sessionID := uuid.NewString()
			logger, err := ctx.newLogger(sessionID)
			if err != nil {
				return err
			}
			runCtx = logging.WithSessionID(runCtx, sessionID)

			var store *journal.Store
			if cfg.Journal.Enabled {
				store, err = journal.Open(cfg.Journal.Path)
				if err != nil {
					return fmt.Errorf("open journal: %w", err)
				}
				defer store.Close()
			}
			record := func(outcome journal.Outcome, kind, message string) {
				if store == nil {
					return
				}
				err := store.Record(runCtx, journal.Entry{
					SessionID: sessionID,
					VoucherID: token.VoucherID,
					BuyerID:   token.BuyerID,
					Outcome:   outcome,
					ErrorKind: kind,
					Message:   message,
				})
				if err != nil {
					logging.WarnWithContext(logger, "journal write failed", "journal_write_failed",
						logging.Error(err),
						logging.String(logging.FieldImpact, "redemption history is incomplete"),
					)
				}
			}

			if store != nil && !force {
				prior, err := store.List(runCtx, journal.Filter{
					VoucherID: token.VoucherID,
					Outcomes:  []journal.Outcome{journal.OutcomeRedeemed},
					Limit:     1,
				})
				if err != nil {
					return fmt.Errorf("query journal: %w", err)
				}
				if len(prior) > 0 {
					msg := fmt.Sprintf("voucher %s was redeemed at %s", token.VoucherID, prior[0].RecordedAt.Local().Format("2006-01-02 15:04:05"))
					record(journal.OutcomeDuplicate, string(scanerr.KindDuplicate), msg)
					return scanerr.New(scanerr.KindDuplicate, "redeem", msg+"; use --force to send it again")
				}
			}

			client := redemption.NewClient(redemption.Config{
				BaseURL:        cfg.Redemption.BaseURL,
				APIToken:       cfg.Redemption.APIToken,
				UserAgent:      cfg.Redemption.UserAgent,
				TimeoutSeconds: cfg.Redemption.RequestTimeout,
			}, redemption.WithLogger(logger))

			record(journal.OutcomeAttempted, "", "")
			resp, err := client.Redeem(runCtx, token.VoucherID)
			if err != nil {
				record(journal.OutcomeFailed, string(scanerr.KindOf(err)), scanerr.UserMessage(err))
				return err
			}
			record(journal.OutcomeRedeemed, "", resp.Message)

			if asJSON {
				return writeJSON(cmd, resp)
			}
			msg := fmt.Sprintf("voucher %s (buyer %d)", token.VoucherID, token.BuyerID)
			if resp.Message != "" {
				msg += ": " + resp.Message
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine("Redeemed", statusOK, msg, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Redeem even if the journal already records this voucher as redeemed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the service response as JSON")
	return cmd
}
