package testsupport

import (
	"context"
	"testing"

	"shadowcam/internal/config"
	"shadowcam/internal/history"
)

// MustOpenHistory opens the configured history.Store for tests and registers
// cleanup. The config must have history enabled (see WithHistory).
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.OpenFromConfig(cfg)
	if err != nil {
		t.Fatalf("history.OpenFromConfig: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// AppendVerdict records a verdict for tests using the provided store.
func AppendVerdict(t testing.TB, store *history.Store, sessionID, kind, verdict string, probability float64) history.Entry {
	t.Helper()

	entry, err := store.Append(context.Background(), history.Entry{
		SessionID:   sessionID,
		Kind:        kind,
		Verdict:     verdict,
		Probability: probability,
	})
	if err != nil {
		t.Fatalf("store.Append: %v", err)
	}
	return entry
}
