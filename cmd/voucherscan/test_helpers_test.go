package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"voucherscan/internal/config"
	"voucherscan/internal/redemption"
	"voucherscan/internal/testsupport"
)

const (
	voucherA       = "3f2b8c1e-4a5d-4e6f-9a7b-1c2d3e4f5a6b"
	voucherB       = "9d8c7b6a-5f4e-4d3c-8b2a-0f1e2d3c4b5a"
	voucherRefused = "11111111-2222-4333-8444-555555555555"
)

type redemptionServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []redemption.Request
	tokens   []string
}

func newRedemptionServer(t *testing.T) *redemptionServer {
	t.Helper()
	srv := &redemptionServer{}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != redemption.Path {
			w.WriteHeader(http.StatusOK)
			return
		}
		var req redemption.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		srv.mu.Lock()
		srv.requests = append(srv.requests, req)
		srv.tokens = append(srv.tokens, r.Header.Get("Authorization"))
		srv.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if req.VoucherID == voucherRefused {
			_, _ = w.Write([]byte(`{"success":false,"message":"voucher expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"enjoy"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *redemptionServer) voucherIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.requests))
	for _, req := range s.requests {
		ids = append(ids, req.VoucherID)
	}
	return ids
}

func (s *redemptionServer) authHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	server     *redemptionServer
}

// setupCLITestEnv writes a config that reads payloads line by line from stdin
// and redeems against a local test server.
func setupCLITestEnv(t *testing.T, mutate func(*config.Config)) *cliTestEnv {
	t.Helper()

	t.Setenv("VOUCHERSCAN_REDEMPTION_URL", "")
	t.Setenv("VOUCHERSCAN_API_TOKEN", "")

	server := newRedemptionServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRedemptionURL(server.URL), testsupport.WithMode(config.ModeManual))
	homeDir := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg.Redemption.APIToken = "test-token"
	cfg.Decoder.Kind = config.DecoderLines
	cfg.Decoder.Input = "-"
	cfg.Scanner.ScanDelayMS = 200
	cfg.Scanner.RetryDelayMS = 20
	cfg.Scanner.FrameIntervalMS = 20
	cfg.Scanner.SettleDelayMS = 10
	cfg.Logging.Level = "error"
	if mutate != nil {
		mutate(cfg)
	}

	configPath := filepath.Join(homeDir, ".config", "voucherscan", "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, server: server}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := config.Encode(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath, stdin string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack string, needles ...string) {
	t.Helper()
	for _, needle := range needles {
		if !strings.Contains(haystack, needle) {
			t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
		}
	}
}

func payload(voucherID string, buyer string) string {
	return "voucher:" + voucherID + ":buyer:" + buyer
}
