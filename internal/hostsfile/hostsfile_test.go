package hostsfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeHosts(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFile_LoadParsesIPv4AndIPv6(t *testing.T) {
	path := writeHosts(t, "192.168.1.1 foo\n::1 bar baz\n# comment\n\n")
	f := New(path)

	data, err := f.Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if data.A["foo"] != "192.168.1.1" {
		t.Errorf("A[foo] = %q, want 192.168.1.1", data.A["foo"])
	}
	if data.AAAA["bar"] != "::1" || data.AAAA["baz"] != "::1" {
		t.Errorf("AAAA entries = %v", data.AAAA)
	}
}

func TestFile_ReloadsOnModTimeChange(t *testing.T) {
	path := writeHosts(t, "10.0.0.1 one\n")
	f := New(path)

	if _, err := f.Load(false); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.WriteFile(path, []byte("10.0.0.2 one\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	data, err := f.Load(false)
	if err != nil {
		t.Fatalf("Load reload: %v", err)
	}
	if data.A["one"] != "10.0.0.2" {
		t.Errorf("A[one] = %q, want 10.0.0.2 after reload", data.A["one"])
	}
}
