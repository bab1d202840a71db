package clientstate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRoundTripAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s.SetActiveThreadID("-1234")
	s.SetPendingQuery("what is up")

	s2, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := s2.ActiveThreadID(); got != "-1234" {
		t.Fatalf("active = %q", got)
	}
	if got := s2.TakePendingQuery(); got != "what is up" {
		t.Fatalf("pending = %q", got)
	}
	// one-shot: second take is empty, and the clear is persisted
	if got := s2.TakePendingQuery(); got != "" {
		t.Fatalf("pending not cleared: %q", got)
	}
	s3, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := s3.TakePendingQuery(); got != "" {
		t.Fatalf("pending clear not persisted: %q", got)
	}
}

func TestCorruptFileDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte("{nope"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.ActiveThreadID() != "" || s.TakePendingQuery() != "" {
		t.Fatalf("corrupt state not degraded to empty")
	}
}

func TestMissingDirIsCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	s, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s.SetActiveThreadID("42")
	if _, err := os.Stat(filepath.Join(dir, fileName)); err != nil {
		t.Fatalf("state file missing: %v", err)
	}
}
