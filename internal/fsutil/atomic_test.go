package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWriteFile(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{name: "catalog", data: []byte("backendID: userRoot\n"), perm: 0644},
		{name: "key store", data: []byte("keys: []\n"), perm: 0600},
		{name: "empty", data: []byte{}, perm: 0644},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "backup.info")

			if err := AtomicWriteFile(path, tt.data, tt.perm); err != nil {
				t.Fatalf("AtomicWriteFile() error = %v", err)
			}

			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("reading file: %v", err)
			}
			if string(got) != string(tt.data) {
				t.Errorf("content = %q, want %q", got, tt.data)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != tt.perm {
				t.Errorf("permissions = %v, want %v", info.Mode().Perm(), tt.perm)
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 1 {
				t.Errorf("directory holds %d entries, temp file left behind", len(entries))
			}
		})
	}
}

func TestAtomicWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.info")
	if err := AtomicWriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWriteFile(path, []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "new" {
		t.Errorf("content = %q, want new", got)
	}
}

func TestAtomicWriteFileMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "backup.info")
	if err := AtomicWriteFile(path, []byte("x"), 0644); err == nil {
		t.Error("AtomicWriteFile() into a missing directory succeeded")
	}
}

func TestAtomicWriteYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	v := struct {
		Current string   `yaml:"current"`
		Keys    []string `yaml:"keys"`
	}{Current: "k2", Keys: []string{"k1", "k2"}}

	if err := AtomicWriteYAML(path, v, 0600); err != nil {
		t.Fatalf("AtomicWriteYAML() error = %v", err)
	}
	got, _ := os.ReadFile(path)
	want := "current: k2\nkeys:\n    - k1\n    - k2\n"
	if string(got) != want {
		t.Errorf("content = %q, want %q", got, want)
	}

	if err := AtomicWriteYAML(path, map[string]interface{}{"f": func() {}}, 0600); err == nil {
		t.Error("AtomicWriteYAML() of a func value succeeded")
	}
}
