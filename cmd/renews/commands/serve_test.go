package commands

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteDefaultConfigRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "renews.toml")
	if err := os.WriteFile(path, []byte("addr = \"x\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := writeDefaultConfig(path); err == nil {
		t.Fatal("expected an error when the file already exists")
	}
}

func TestWriteDefaultConfigWritesParsableTOML(t *testing.T) {
	t.Setenv("HOSTNAME", "scaffold.example.org")
	dir := t.TempDir()
	path := filepath.Join(dir, "renews.toml")
	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("expected a non-empty scaffold")
	}
}
