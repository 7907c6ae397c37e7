package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"voucherscan/internal/coordinator"
	"voucherscan/internal/logging"
	"voucherscan/internal/notifications"
)

// sessionNotifier forwards coordinator events to a notification service
// without blocking the observer.
type sessionNotifier struct {
	svc     notifications.Service
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func newSessionNotifier(svc notifications.Service, logger *slog.Logger, timeout time.Duration) *sessionNotifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &sessionNotifier{svc: svc, logger: logger, timeout: timeout}
}

func (n *sessionNotifier) observe(ev coordinator.Event) {
	switch ev.Type {
	case coordinator.EventRedeemed:
		n.publish(notifications.EventRedeemed, notifications.Payload{"voucherID": ev.VoucherID, "buyerID": ev.BuyerID})
	case coordinator.EventRedeemFailed:
		n.publish(notifications.EventRedeemFailed, notifications.Payload{"voucherID": ev.VoucherID, "error": ev.Message})
	case coordinator.EventTimeout:
		n.publish(notifications.EventScanTimeout, nil)
	}
}

func (n *sessionNotifier) publish(event notifications.Event, payload notifications.Payload) {
	if n == nil || n.svc == nil {
		return
	}
	n.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.svc.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(n.logger, "notification failed", "notification_failed",
				logging.String("notification", string(event)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "push notification was not delivered"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			)
		}
	})
}

// close publishes the session summary and waits for outstanding pushes. No
// events may be observed after close is called.
func (n *sessionNotifier) close(redeemed int) {
	if n == nil {
		return
	}
	if redeemed > 0 {
		n.publish(notifications.EventSessionSummary, notifications.Payload{"redeemed": redeemed})
	}
	n.wg.Wait()
}

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test push notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notifications.NtfyTopic == "" {
				return errors.New("notifications.ntfy_topic is not set")
			}
			svc := notifications.NewService(cfg)
			if err := svc.Publish(cmd.Context(), notifications.EventTest, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test notification sent to %s\n", cfg.Notifications.NtfyTopic)
			return nil
		},
	}
}
