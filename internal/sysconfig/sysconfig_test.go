package sysconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeResolvConf(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFile_Load(t *testing.T) {
	path := writeResolvConf(t, "nameserver 1.1.1.1\nnameserver 2001:db8::1\noptions timeout:5 attempts:3\n")

	cfg, err := New(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"1.1.1.1:53", "[2001:db8::1]:53"}
	if len(cfg.Nameservers) != 2 || cfg.Nameservers[0] != want[0] || cfg.Nameservers[1] != want[1] {
		t.Errorf("Nameservers = %v, want %v", cfg.Nameservers, want)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", cfg.Attempts)
	}
}

func TestFile_LoadMissing_ReturnsDefaults(t *testing.T) {
	cfg, err := New("/nonexistent/resolv.conf").Load()
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	want := DefaultConfig()
	if len(cfg.Nameservers) != len(want.Nameservers) || cfg.Timeout != want.Timeout || cfg.Attempts != want.Attempts {
		t.Errorf("got %+v, want default %+v", cfg, want)
	}
}
