package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"voucherscan/internal/config"
	"voucherscan/internal/coordinator"
	"voucherscan/internal/scanerr"
	"voucherscan/internal/voucher"
)

func TestScanManualModeRedeemsEachVoucherOnce(t *testing.T) {
	env := setupCLITestEnv(t, nil)

	stdin := strings.Join([]string{
		payload(voucherA, "12"),
		"not a voucher",
		payload(voucherA, "12"),
		voucher.Encode(voucher.Token{VoucherID: voucherB, BuyerID: 7}),
	}, "\n") + "\n"

	out, _, err := runCLI(t, []string{"scan"}, env.configPath, stdin)
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}

	requireContains(t, out,
		"Redeemed", voucherA, voucherB,
		"Rejected",
		"Duplicate", "already processed recently",
		"2 voucher(s) redeemed",
	)
	if got := env.server.voucherIDs(); !slices.Equal(got, []string{voucherA, voucherB}) {
		t.Fatalf("server saw %v, want A then B", got)
	}
	for _, token := range env.server.authHeaders() {
		if token != "Bearer test-token" {
			t.Fatalf("authorization header = %q", token)
		}
	}

	listOut, _, err := runCLI(t, []string{"journal", "list", "--json", "--limit", "0"}, env.configPath, "")
	if err != nil {
		t.Fatalf("journal list: %v", err)
	}
	var entries []journalEntryJSON
	if err := json.Unmarshal([]byte(listOut), &entries); err != nil {
		t.Fatalf("decode journal list: %v\n%s", err, listOut)
	}
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Outcome]++
	}
	want := map[string]int{"attempted": 2, "redeemed": 2, "duplicate": 1, "rejected": 1}
	for outcome, n := range want {
		if counts[outcome] != n {
			t.Fatalf("journal %s entries = %d, want %d (all: %v)", outcome, counts[outcome], n, counts)
		}
	}
}

func TestScanAutoModeStopsAfterFirstRedemption(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		cfg.Scanner.Mode = config.ModeAuto
	})

	stdin := payload(voucherA, "1") + "\n" + payload(voucherB, "2") + "\n"
	out, _, err := runCLI(t, []string{"scan", "--skip-preflight"}, env.configPath, stdin)
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	requireContains(t, out, "Redeemed", voucherA, "1 voucher(s) redeemed")
	if strings.Contains(out, voucherB) {
		t.Fatalf("auto mode should stop after the first redemption:\n%s", out)
	}
	if got := env.server.voucherIDs(); !slices.Equal(got, []string{voucherA}) {
		t.Fatalf("server saw %v", got)
	}
}

func TestScanModeFlagOverridesConfig(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		cfg.Scanner.Mode = config.ModeAuto
	})

	stdin := payload(voucherA, "1") + "\n" + payload(voucherB, "2") + "\n"
	out, _, err := runCLI(t, []string{"scan", "--skip-preflight", "--mode", "manual"}, env.configPath, stdin)
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	requireContains(t, out, "Mode:", "manual", "2 voucher(s) redeemed")
}

func TestScanReportsServiceRefusal(t *testing.T) {
	env := setupCLITestEnv(t, nil)

	out, _, err := runCLI(t, []string{"scan", "--skip-preflight"}, env.configPath, payload(voucherRefused, "5")+"\n")
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	requireContains(t, out, "Redemption failed", voucherRefused, "voucher expired", "0 voucher(s) redeemed")
}

func TestScanPublishesNotifications(t *testing.T) {
	var (
		mu     sync.Mutex
		titles []string
	)
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		titles = append(titles, r.Header.Get("Title"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ntfy.Close()

	env := setupCLITestEnv(t, func(cfg *config.Config) {
		cfg.Notifications.NtfyTopic = ntfy.URL
	})

	stdin := payload(voucherA, "1") + "\n" + payload(voucherRefused, "2") + "\n"
	if _, _, err := runCLI(t, []string{"scan", "--skip-preflight"}, env.configPath, stdin); err != nil {
		t.Fatalf("scan: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	slices.Sort(titles)
	want := []string{"Scan session ended", "Voucher redemption failed"}
	if !slices.Equal(titles, want) {
		t.Fatalf("notifications = %v, want %v", titles, want)
	}
}

func TestScanRequiresRedemptionURL(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		cfg.Redemption.BaseURL = ""
	})

	_, _, err := runCLI(t, []string{"scan"}, env.configPath, "")
	if err == nil || !strings.Contains(err.Error(), "redemption.base_url is required") {
		t.Fatalf("expected missing URL error, got %v", err)
	}
}

func TestScanFailsPreflightForMissingInput(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		cfg.Decoder.Input = "/nonexistent/payloads.txt"
	})

	out, _, err := runCLI(t, []string{"scan"}, env.configPath, "")
	if err == nil || !strings.Contains(err.Error(), "startup check(s) failed") {
		t.Fatalf("expected preflight failure, got %v", err)
	}
	requireContains(t, out, "Line input")
}

func TestReportedByEvent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"parse failure", &voucher.ParseError{Reason: voucher.ReasonMalformedPattern}, true},
		{"duplicate", scanerr.New(scanerr.KindDuplicate, "redeem", "already processed recently"), true},
		{"network", scanerr.New(scanerr.KindNetwork, "redeem", "HTTP 500"), true},
		{"nothing scanned", scanerr.New(scanerr.KindParse, "redeem last", "nothing has been scanned yet"), false},
		{"in progress", coordinator.ErrRedemptionInProgress, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reportedByEvent(tt.err); got != tt.want {
				t.Fatalf("reportedByEvent = %v, want %v", got, tt.want)
			}
		})
	}
}
