package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordWritesJSONL(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() { _ = Close() }()

	Record("allow", "link.verify", "identity verified", "subj-1")
	Record("deny", "link.verify", "subject already linked on discord", "subj-1")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("open trail: %v", err)
	}
	defer f.Close()

	var entries []entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad JSONL line: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Decision != "allow" || entries[1].Decision != "deny" {
		t.Errorf("entries = %+v", entries)
	}
	if entries[0].Timestamp == "" {
		t.Error("entry has no timestamp")
	}
}

func TestRecordRedactsTokenShapedStrings(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() { _ = Close() }()

	secret := strings.Repeat("a1B2", 12)
	Record("error", "link.verify", "exchange failed with token "+secret, "subj-1")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read trail: %v", err)
	}
	if strings.Contains(string(raw), secret) {
		t.Error("raw token landed in the audit trail")
	}
	if !strings.Contains(string(raw), "[REDACTED]") {
		t.Error("redaction marker missing")
	}
}

func TestRecordWithoutInitIsNoop(t *testing.T) {
	// Must not panic and must still count denials.
	before := DenyCount()
	Record("deny", "link.verify", "no trail open", "subj-1")
	if DenyCount() != before+1 {
		t.Error("deny count not incremented")
	}
}
