package exchange

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteTrigger_CreatesFileWithPayload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exchange")
	w := NewWriter(dir)

	payload := []byte(`action="generer" cible="/tmp/q.xlsx"`)
	start, err := w.WriteTrigger("Q1.rak", payload)
	if err != nil {
		t.Fatalf("WriteTrigger: %v", err)
	}
	if start.IsZero() {
		t.Fatalf("start time should be recorded")
	}

	data, err := os.ReadFile(filepath.Join(dir, "Q1.rak"))
	if err != nil {
		t.Fatalf("read trigger: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("trigger content = %q", data)
	}
}

func TestWriteTrigger_RewriteKeepsLatestBytesOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exchange")
	w := NewWriter(dir)

	first := []byte("first payload, quite a bit longer than the second")
	second := []byte("second")
	if _, err := w.WriteTrigger("Q1.rak", first); err != nil {
		t.Fatalf("WriteTrigger first: %v", err)
	}
	if _, err := w.WriteTrigger("Q1.rak", second); err != nil {
		t.Fatalf("WriteTrigger second: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "Q1.rak"))
	if err != nil {
		t.Fatalf("read trigger: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("rewrite left %q, want exactly the latest payload", data)
	}

	// No temp residue either.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("list exchange dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("exchange dir has %d entries, want 1", len(entries))
	}
}
