package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voucherscan/internal/config"
)

const defaultTimeout = 10 * time.Second

// Event identifies a notification type.
type Event string

const (
	EventRedeemed       Event = "redeemed"
	EventRedeemFailed   Event = "redeem_failed"
	EventScanTimeout    Event = "scan_timeout"
	EventSessionSummary Event = "session_summary"
	EventTest           Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op one when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := strings.TrimSpace(cfg.Redemption.UserAgent)
	if userAgent == "" {
		userAgent = "voucherscan"
	}
	return &ntfyService{
		endpoint:    topic,
		userAgent:   userAgent,
		redemptions: cfg.Notifications.Redemptions,
		client:      &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	userAgent   string
	redemptions bool
	client      *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) render(event Event, payload Payload) (message, bool) {
	voucherID := payload.text("voucherID")
	switch event {
	case EventRedeemed:
		if !n.redemptions {
			return message{}, false
		}
		body := "Redeemed voucher " + voucherID
		if buyer := payload.text("buyerID"); buyer != "" {
			body += " for buyer " + buyer
		}
		return message{
			title: "Voucher redeemed",
			body:  body,
			tags:  []string{"voucherscan", "redeemed"},
		}, true
	case EventRedeemFailed:
		body := "Redemption failed"
		if voucherID != "" {
			body += " for voucher " + voucherID
		}
		if reason := payload.text("error"); reason != "" {
			body += ": " + reason
		}
		return message{
			title:    "Voucher redemption failed",
			body:     body,
			tags:     []string{"voucherscan", "error", "alert"},
			priority: "high",
		}, true
	case EventScanTimeout:
		return message{
			title: "Scanner idle",
			body:  "Camera turned off after no code was scanned",
			tags:  []string{"voucherscan", "timeout"},
		}, true
	case EventSessionSummary:
		return message{
			title:    "Scan session ended",
			body:     fmt.Sprintf("%s voucher(s) redeemed", valueOr(payload.text("redeemed"), "0")),
			tags:     []string{"voucherscan", "session"},
			priority: "low",
		}, true
	case EventTest:
		return message{
			title:    "voucherscan test",
			body:     "Notification system test",
			tags:     []string{"voucherscan", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
