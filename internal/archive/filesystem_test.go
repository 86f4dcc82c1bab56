package archive

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dbcfg/internal/dbcfg"
)

func TestNewFileSystemArchive(t *testing.T) {
	t.Run("creates root directory", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "snapshots")

		a, err := NewFileSystemArchive("local", root)
		if err != nil {
			t.Fatalf("NewFileSystemArchive() error = %v", err)
		}
		if _, err := os.Stat(root); err != nil {
			t.Errorf("root not created: %v", err)
		}
		if err := a.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemArchive("local", t.TempDir()); err != nil {
			t.Fatalf("NewFileSystemArchive() error = %v", err)
		}
	})
}

func TestFileSystemArchive_PutSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		size    int64
		wantErr bool
	}{
		{name: "store snapshot", data: "hello world", size: 11},
		{name: "size mismatch", data: "hello", size: 100, wantErr: true},
		{name: "empty snapshot", data: "", size: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewFileSystemArchive("local", t.TempDir())
			if err != nil {
				t.Fatal(err)
			}

			err = a.PutSnapshot("Sales", 4, strings.NewReader(tt.data), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PutSnapshot() error = %v, wantErr %v", err, tt.wantErr)
			}

			path := filepath.Join(a.root, "Sales", "4.snapshot")
			data, readErr := os.ReadFile(path)
			if tt.wantErr {
				if readErr == nil {
					t.Error("snapshot file exists after failed put")
				}
				return
			}
			if readErr != nil {
				t.Fatalf("failed to read snapshot file: %v", readErr)
			}
			if string(data) != tt.data {
				t.Errorf("snapshot = %q, want %q", data, tt.data)
			}
		})
	}
}

func TestFileSystemArchive_GetSnapshot(t *testing.T) {
	a, err := NewFileSystemArchive("local", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("existing snapshot", func(t *testing.T) {
		data := "[database]\nname = \"Sales\"\n"
		if err := a.PutSnapshot("Sales", 1, strings.NewReader(data), int64(len(data))); err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if err := a.GetSnapshot("Sales", 1, &buf); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if buf.String() != data {
			t.Errorf("GetSnapshot() = %q, want %q", buf.String(), data)
		}
	})

	t.Run("missing snapshot", func(t *testing.T) {
		var buf bytes.Buffer
		err := a.GetSnapshot("Sales", 99, &buf)
		if !errors.Is(err, dbcfg.ErrNotFound) {
			t.Errorf("GetSnapshot() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("database name with separator", func(t *testing.T) {
		if err := a.PutSnapshot("a/b", 1, strings.NewReader("x"), 1); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(a.root, "a%2Fb", "1.snapshot")); err != nil {
			t.Errorf("escaped path not used: %v", err)
		}
	})
}

func TestFileSystemArchive_LatestVersion(t *testing.T) {
	a, err := NewFileSystemArchive("local", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if got, err := a.LatestVersion("Sales"); err != nil || got != 0 {
		t.Errorf("LatestVersion() on empty archive = %d, %v; want 0, nil", got, err)
	}

	for _, v := range []int64{2, 10, 9} {
		if err := a.PutSnapshot("Sales", v, strings.NewReader("x"), 1); err != nil {
			t.Fatal(err)
		}
	}
	// Stray files are ignored.
	if err := os.WriteFile(filepath.Join(a.root, "Sales", "notes.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := a.LatestVersion("Sales")
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if got != 10 {
		t.Errorf("LatestVersion() = %d, want 10", got)
	}
}

func TestFileSystemArchive_ValidateSetup(t *testing.T) {
	t.Run("root removed", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "snapshots")
		a, err := NewFileSystemArchive("local", root)
		if err != nil {
			t.Fatal(err)
		}
		os.RemoveAll(root)
		if err := a.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() expected error for missing root")
		}
	})

	t.Run("root is a file", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "snapshots")
		a, err := NewFileSystemArchive("local", root)
		if err != nil {
			t.Fatal(err)
		}
		os.RemoveAll(root)
		if err := os.WriteFile(root, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := a.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() expected error when root is a file")
		}
	})
}
