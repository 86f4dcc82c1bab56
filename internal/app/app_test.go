package app

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dbcfg/internal/config"
	"dbcfg/internal/dbcfg"
	"dbcfg/internal/encryption"
	"dbcfg/internal/engine"
	"dbcfg/internal/manifest"
	"dbcfg/internal/model"
)

const salesManifest = `
name = "Sales"

[settings]
RecoveryModel = "SIMPLE"

[[filegroups]]
name = "ARCHIVE"

[[files]]
name = "archive1"
filegroup = "ARCHIVE"
size_mb = 64.0

[files.growth]
mb = 16.0
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		HostID:  "test-host",
		BaseDir: dir,
		LogDir:  filepath.Join(dir, "log"),
		Engine:  config.EngineConfig{Type: "memory"},
		History: config.HistoryConfig{Type: "memory"},
		Archives: []config.ArchiveConfig{
			{Type: "filesystem", Name: "local", FSRoot: filepath.Join(dir, "snapshots")},
		},
		Encryption: config.EncryptionConfig{Type: "test"},
	}
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestApp opens an app on the memory engine with a Sales database.
func newTestApp(t *testing.T, cfg *config.Config, opts Options) *DBCfgApp {
	t.Helper()
	a, err := NewDBCfgApp(cfg, "Test", opts)
	if err != nil {
		t.Fatalf("NewDBCfgApp() error = %v", err)
	}
	a.conn.(*engine.MemoryServer).AddDatabase("Sales")
	return a
}

func TestDBCfgApp_PlanAndApply(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, Options{})
	path := writeManifest(t, salesManifest)

	changes, err := a.Plan(path)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("Plan() = %d changes, want 3: %v", len(changes), changes)
	}
	if a.op.Recorded() {
		t.Error("Plan recorded an apply")
	}

	op, err := a.Apply(path, false)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if op == nil || op.Status != model.StatusSuccess {
		t.Fatalf("Apply() = %+v, want success", op)
	}
	if a.op.ApplyID != op.ID {
		t.Errorf("op.ApplyID = %d, want %d", a.op.ApplyID, op.ID)
	}

	t.Run("reapply is a no-op", func(t *testing.T) {
		again, err := a.Apply(path, false)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if again != nil {
			t.Errorf("Apply() = %+v, want nil", again)
		}
	})

	t.Run("history", func(t *testing.T) {
		ops, err := a.History("Sales", 10)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(ops) != 1 || ops[0].ID != op.ID {
			t.Fatalf("History() = %v, want the one apply", ops)
		}
		recorded, err := a.Changes(op.ID)
		if err != nil {
			t.Fatalf("Changes() error = %v", err)
		}
		if len(recorded) != len(changes) {
			t.Errorf("Changes() = %d, want %d", len(recorded), len(changes))
		}
	})

	t.Run("snapshot holds the applied state", func(t *testing.T) {
		var buf bytes.Buffer
		if err := a.Snapshot("Sales", 0, &buf); err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		m, err := manifest.Decode(&buf)
		if err != nil {
			t.Fatalf("decoding snapshot: %v", err)
		}
		if m.Name != "Sales" {
			t.Errorf("Name = %q, want Sales", m.Name)
		}
		if got := m.Settings["RecoveryModel"]; got != "SIMPLE" {
			t.Errorf("RecoveryModel = %v, want SIMPLE", got)
		}
	})

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	historyCopy := filepath.Join(cfg.Archives[0].FSRoot, HistorySnapshot, "1.snapshot")
	if _, err := os.Stat(historyCopy); err != nil {
		t.Errorf("history copy not archived: %v", err)
	}
}

func TestDBCfgApp_SealedSnapshots(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption.SealSnapshots = true
	a := newTestApp(t, cfg, Options{Passphrase: func() (string, error) { return "pw", nil }})
	defer a.Close()

	op, err := a.Apply(writeManifest(t, salesManifest), false)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(cfg.Archives[0].FSRoot, "Sales", "1.snapshot"))
	if err != nil {
		t.Fatalf("reading archived snapshot: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("DBCFGSEAL\n")) {
		t.Errorf("archived snapshot is not sealed: %q", raw)
	}

	var buf bytes.Buffer
	if err := a.Snapshot("Sales", op.ID, &buf); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !strings.Contains(buf.String(), `name = "Sales"`) {
		t.Errorf("Snapshot() = %q, want unsealed manifest", buf.String())
	}
}

func TestDBCfgApp_ScriptMode(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, Options{})

	var script bytes.Buffer
	if err := a.SetScript(&script); err != nil {
		t.Fatalf("SetScript() error = %v", err)
	}
	op, err := a.Apply(writeManifest(t, `name = "Sales"
[settings]
RecoveryModel = "SIMPLE"
`), false)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if op == nil || !op.ScriptOnly {
		t.Fatalf("Apply() = %+v, want a script-only operation", op)
	}
	if !strings.Contains(script.String(), "set option Sales.RecoveryModel") {
		t.Errorf("script = %q, want the recovery model change", script.String())
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, _ := os.ReadDir(cfg.Archives[0].FSRoot)
	if len(entries) != 0 {
		t.Errorf("script mode archived %d entries, want none", len(entries))
	}
}

func TestDBCfgApp_HistoryBehindArchive(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, Options{})
	if _, err := a.Apply(writeManifest(t, salesManifest), false); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The memory history starts empty, the archive does not.
	_, err := NewDBCfgApp(cfg, "Test", Options{})
	if err == nil || !strings.Contains(err.Error(), "behind the archive") {
		t.Fatalf("NewDBCfgApp() error = %v, want history behind archive", err)
	}
}

func TestDBCfgApp_Show(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{})
	defer a.Close()

	m, err := a.Show("Sales")
	if err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	if m.Name != "Sales" || len(m.Files) != 2 || len(m.Filegroups) != 1 {
		t.Errorf("Show() = %+v, want Sales with PRIMARY and two files", m)
	}

	if _, err := a.Show("Missing"); !errors.Is(err, dbcfg.ErrNotFound) {
		t.Errorf("Show(Missing) error = %v, want ErrNotFound", err)
	}
}

func TestDBCfgApp_SnapshotErrors(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, Options{})
	defer a.Close()

	if err := a.Snapshot("Sales", 0, &bytes.Buffer{}); !errors.Is(err, dbcfg.ErrNotFound) {
		t.Errorf("Snapshot() with no snapshots error = %v, want ErrNotFound", err)
	}
	if err := a.Snapshot("Sales", 7, &bytes.Buffer{}); !errors.Is(err, dbcfg.ErrNotFound) {
		t.Errorf("Snapshot(7) error = %v, want ErrNotFound", err)
	}

	a.archives = nil
	if err := a.Snapshot("Sales", 0, &bytes.Buffer{}); err == nil {
		t.Error("Snapshot() without archives succeeded")
	}
}

func TestEnginePassword(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Engine:     config.EngineConfig{Type: "sqlserver", Host: "db1", PasswordFile: filepath.Join(dir, "password")},
		Encryption: config.EncryptionConfig{Type: "test"},
	}
	if err := SealPassword(cfg, "s3cret"); err != nil {
		t.Fatalf("SealPassword() error = %v", err)
	}
	raw, _ := os.ReadFile(cfg.Engine.PasswordFile)
	if bytes.Contains(raw, []byte("s3cret\n")) || !bytes.HasPrefix(raw, []byte("DBCFGSEAL")) {
		t.Errorf("password file = %q, want sealed", raw)
	}

	passphrase := func() (string, error) { return "pw", nil }
	tests := []struct {
		name    string
		env     string
		cfg     *config.Config
		opts    Options
		want    string
		wantErr bool
	}{
		{name: "unsealed from file", cfg: cfg, opts: Options{Passphrase: passphrase}, want: "s3cret"},
		{name: "environment wins", env: "fromenv", cfg: cfg, want: "fromenv"},
		{name: "no passphrase source", cfg: cfg, wantErr: true},
		{name: "no password file", cfg: &config.Config{Engine: config.EngineConfig{Type: "sqlserver"}}, want: ""},
		{name: "memory engine", env: "ignored", cfg: &config.Config{Engine: config.EngineConfig{Type: "memory"}}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(PasswordEnv, tt.env)
			a := &DBCfgApp{cfg: tt.cfg, sealer: encryption.NewTestSealer(), opts: tt.opts}
			got, err := a.enginePassword()
			if (err != nil) != tt.wantErr {
				t.Fatalf("enginePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("enginePassword() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSealPassword_RequiresFile(t *testing.T) {
	if err := SealPassword(&config.Config{}, "pw"); err == nil {
		t.Error("SealPassword() without password_file succeeded")
	}
}
