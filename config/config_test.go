package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesConstants(t *testing.T) {
	cfg := Default()
	if cfg.Cores != 1 {
		t.Fatalf("default Cores = %d, want 1", cfg.Cores)
	}
	if cfg.SlotCapacity <= 0 {
		t.Fatalf("default SlotCapacity must be positive, got %d", cfg.SlotCapacity)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load on missing file returned error: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("Load on missing file = %+v, want defaults", cfg)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("Load(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadOverlaysPartialDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	doc := `{"cores": 4, "diag_db_path": "diag.db"}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cores != 4 {
		t.Errorf("Cores = %d, want 4", cfg.Cores)
	}
	if cfg.DiagDBPath != "diag.db" {
		t.Errorf("DiagDBPath = %q, want %q", cfg.DiagDBPath, "diag.db")
	}
	if cfg.SlotCapacity != Default().SlotCapacity {
		t.Errorf("SlotCapacity should fall back to default, got %d", cfg.SlotCapacity)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load on malformed JSON returned nil error")
	}
}
