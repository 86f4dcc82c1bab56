package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:  "test-host-abc",
		BaseDir: "/home/user/.local/share/dbcfg",
		LogDir:  "/home/user/.local/share/dbcfg/log",
		Engine: EngineConfig{
			Type:           "sqlserver",
			Host:           "sql01",
			Port:           1433,
			User:           "dbcfg",
			PasswordFile:   "/home/user/.local/share/dbcfg/keys/sql01.pass",
			Encrypt:        true,
			TimeoutSeconds: 45,
		},
		History: HistoryConfig{Type: "sqlite", DataDir: "/home/user/.local/share/dbcfg/db"},
		Archives: []ArchiveConfig{
			{Type: "filesystem", Name: "local", FSRoot: "/backup/snapshots"},
			{Type: "s3", Name: "offsite", S3Bucket: "configs", S3Region: "eu-west-1", S3PathStyle: true},
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/home/user/.local/share/dbcfg/keys/dbcfg.pub",
			PrivateKeyPath: "/home/user/.local/share/dbcfg/keys/dbcfg.key",
			SealSnapshots:  true,
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.Engine != original.Engine {
		t.Errorf("Engine = %+v, want %+v", got.Engine, original.Engine)
	}
	if got.History != original.History {
		t.Errorf("History = %+v, want %+v", got.History, original.History)
	}
	if len(got.Archives) != 2 {
		t.Fatalf("len(Archives) = %d, want 2", len(got.Archives))
	}
	if got.Archives[1].S3Bucket != "configs" || !got.Archives[1].S3PathStyle {
		t.Errorf("Archives[1] = %+v", got.Archives[1])
	}
	if !got.Encryption.SealSnapshots {
		t.Error("Encryption.SealSnapshots = false, want true")
	}
}

func TestManager_Read_UnknownKey(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("host_id = \"h\"\nvaults = []\n"))
	if err == nil {
		t.Fatal("Read() expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "vaults") {
		t.Errorf("error = %v, want it to name the key", err)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/dbcfg")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.LogDir != "/data/dbcfg/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/dbcfg/log")
	}
	if cfg.History.DataDir != "/data/dbcfg/db" {
		t.Errorf("History.DataDir = %q, want %q", cfg.History.DataDir, "/data/dbcfg/db")
	}
	if len(cfg.Archives) != 1 || cfg.Archives[0].FSRoot != "/data/dbcfg/snapshots" {
		t.Errorf("Archives = %+v", cfg.Archives)
	}
	if cfg.Encryption.PublicKeyPath != "/data/dbcfg/keys/dbcfg.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
	if cfg.Engine.Type != "sqlserver" || cfg.Engine.Port != 1433 {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
}

func TestEngineConfig_Timeout(t *testing.T) {
	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{-5, 30 * time.Second},
		{90, 90 * time.Second},
	}
	for _, tt := range tests {
		got := EngineConfig{TimeoutSeconds: tt.seconds}.Timeout()
		if got != tt.want {
			t.Errorf("Timeout() with %d = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dbcfg.toml")

		if err := Init(path, NewConfig("h1", dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dbcfg.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dbcfg.toml")
		cfg := NewConfig("read-test", dir)
		cfg.History = HistoryConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
		if got.History.Type != "memory" {
			t.Errorf("History.Type = %q, want memory", got.History.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/dbcfg.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
