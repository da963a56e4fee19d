package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"inspectbot/internal/domain"
)

func flowsTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadFlows_Full(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows.yaml")
	body := `
integrationFlows:
  - order-sync
  - billing
  - warehouse
statusSynonyms:
  broken: failure
  fine: success
  whatever: all
  bogus: unknown-status
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	flows, synonyms, err := LoadFlows(path, flowsTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(flows) != 3 || flows[1] != "billing" {
		t.Errorf("flows: %v", flows)
	}
	if synonyms["broken"] != domain.StatusFailure {
		t.Errorf("broken: %v", synonyms["broken"])
	}
	if synonyms["fine"] != domain.StatusSuccess {
		t.Errorf("fine: %v", synonyms["fine"])
	}
	if synonyms["whatever"] != domain.StatusAll {
		t.Errorf("whatever: %v", synonyms["whatever"])
	}
	if _, ok := synonyms["bogus"]; ok {
		t.Error("unknown status values should be skipped")
	}
}

func TestLoadFlows_MissingFile(t *testing.T) {
	flows, synonyms, err := LoadFlows(filepath.Join(t.TempDir(), "nope.yaml"), flowsTestLogger())
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if flows != nil || synonyms != nil {
		t.Error("missing file should yield nil results")
	}
}

func TestLoadFlows_EmptyPath(t *testing.T) {
	flows, _, err := LoadFlows("", flowsTestLogger())
	if err != nil || flows != nil {
		t.Errorf("empty path should be a no-op, got %v, %v", flows, err)
	}
}

func TestLoadFlows_BadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows.yaml")
	if err := os.WriteFile(path, []byte(":\tnot yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadFlows(path, flowsTestLogger()); err == nil {
		t.Fatal("expected parse error")
	}
}
