package testsupport

import (
	"testing"

	"voucherscan/internal/config"
	"voucherscan/internal/journal"
)

// MustOpenJournal opens the redemption journal for tests and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
