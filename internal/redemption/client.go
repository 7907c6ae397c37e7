package redemption

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voucherscan/internal/logging"
	"voucherscan/internal/scanerr"
)

const (
	// Path is appended to the configured base URL.
	Path = "/webhook/voucher-redeemed"

	// RedeemedAtLayout is the ISO-8601 form sent as redeemed_at.
	RedeemedAtLayout = "2006-01-02T15:04:05.000Z07:00"

	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 2048
	genericFailure     = "could not reach the redemption service; check the network and try again"
)

// Config captures the endpoint settings.
type Config struct {
	BaseURL        string
	APIToken       string
	UserAgent      string
	TimeoutSeconds int
}

// Request is the JSON body posted to the webhook.
type Request struct {
	VoucherID  string `json:"voucher_id"`
	RedeemedAt string `json:"redeemed_at"`
}

// Response is the webhook reply. A missing Success field counts as success.
type Response struct {
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Succeeded reports whether the body signals success.
func (r Response) Succeeded() bool {
	return r.Success == nil || *r.Success
}

// Client issues redemption calls.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithNow overrides the timestamp source used for redeemed_at.
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "redemption")
	}
}

// NewClient constructs a redemption client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIToken:       strings.TrimSpace(cfg.APIToken),
			UserAgent:      strings.TrimSpace(cfg.UserAgent),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Endpoint returns the full webhook URL.
func (c *Client) Endpoint() string {
	return c.cfg.BaseURL + Path
}

// Redeem posts one redemption for voucherID. On failure the returned error
// is KindNetwork and its user message is the server-supplied message when
// present.
func (c *Client) Redeem(ctx context.Context, voucherID string) (Response, error) {
	const op = "redeem voucher"
	if c.cfg.BaseURL == "" {
		return Response{}, scanerr.New(scanerr.KindNetwork, op, "redemption endpoint not configured")
	}

	payload, err := json.Marshal(Request{
		VoucherID:  voucherID,
		RedeemedAt: c.now().UTC().Format(RedeemedAtLayout),
	})
	if err != nil {
		return Response{}, scanerr.Wrap(scanerr.KindNetwork, op, genericFailure, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(payload))
	if err != nil {
		return Response{}, scanerr.Wrap(scanerr.KindNetwork, op, genericFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Response{}, scanerr.Wrap(scanerr.KindNetwork, op, "redemption cancelled", err)
		}
		return Response{}, scanerr.Wrap(scanerr.KindNetwork, op, genericFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		c.logger.Debug("redemption rejected",
			logging.Int("status", resp.StatusCode),
			logging.Duration("elapsed", time.Since(started)),
		)
		return Response{}, scanerr.New(scanerr.KindNetwork, op, msg)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, scanerr.Wrap(scanerr.KindNetwork, op, genericFailure, err)
	}
	var out Response
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return Response{}, scanerr.Wrap(scanerr.KindNetwork, op, "redemption service returned an unreadable response", err)
		}
	}
	if !out.Succeeded() {
		msg := strings.TrimSpace(out.Message)
		if msg == "" {
			msg = "redemption refused by the service"
		}
		return out, scanerr.New(scanerr.KindNetwork, op, msg)
	}

	c.logger.Debug("redemption accepted",
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)
	return out, nil
}
