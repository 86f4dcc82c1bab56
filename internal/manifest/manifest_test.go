package manifest_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dbcfg/internal/dbcfg"
	"dbcfg/internal/engine"
	"dbcfg/internal/manifest"
)

const salesManifest = `
name = "Sales"

[settings]
RecoveryModel = "simple"
AutoShrink = false
CompatibilityLevel = 150

[[filegroups]]
name = "ARCHIVE"
default = true

[[files]]
name = "archive1"
filegroup = "ARCHIVE"
size_mb = 64.0

[files.growth]
mb = 16.0
max_size_mb = 1024.0

[[files]]
name = "Sales_log2"
kind = "log"
size_mb = 32.0

[files.growth]
enabled = false
`

func TestDecode(t *testing.T) {
	m, err := manifest.Decode(strings.NewReader(salesManifest))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Name != "Sales" {
		t.Errorf("Name = %q", m.Name)
	}
	if got := m.Settings["CompatibilityLevel"]; got != int64(150) {
		t.Errorf("CompatibilityLevel = %#v, want int64(150)", got)
	}
	if len(m.Filegroups) != 1 || m.Filegroups[0].Default == nil || !*m.Filegroups[0].Default {
		t.Errorf("Filegroups = %+v", m.Filegroups)
	}
	if m.Filegroups[0].ReadOnly != nil {
		t.Error("unset read_only decoded as set")
	}
	if len(m.Files) != 2 {
		t.Fatalf("len(Files) = %d, want 2", len(m.Files))
	}
	g := m.Files[0].Growth
	if g == nil || g.MB != 16 || g.MaxSizeMB == nil || *g.MaxSizeMB != 1024 {
		t.Errorf("archive1 growth = %+v", g)
	}
	if g := m.Files[1].Growth; g == nil || g.Enabled == nil || *g.Enabled {
		t.Errorf("log growth = %+v", g)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "unknown key", doc: "name = \"Sales\"\ncolour = \"red\"", wantErr: "unknown manifest key"},
		{name: "missing name", doc: "[settings]\nAutoShrink = true", wantErr: "no database name"},
		{name: "bad syntax", doc: "name = ", wantErr: "failed to decode"},
		{name: "unknown filegroup kind", doc: "name = \"S\"\n[[filegroups]]\nname = \"X\"\nkind = \"columnstore\"", wantErr: "unknown filegroup kind"},
		{name: "log file in filegroup", doc: "name = \"S\"\n[[files]]\nname = \"l\"\nkind = \"log\"\nfilegroup = \"PRIMARY\"", wantErr: "cannot belong to a filegroup"},
		{name: "percent and mb", doc: "name = \"S\"\n[[files]]\nname = \"d\"\n[files.growth]\npercent = 10\nmb = 64.0", wantErr: "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manifest.Decode(strings.NewReader(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Decode() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.toml")
	if err := os.WriteFile(path, []byte(salesManifest), 0600); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if m.Name != "Sales" {
		t.Errorf("Name = %q", m.Name)
	}

	if _, err := manifest.ReadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("ReadFile() of a missing file should fail")
	}
}

func TestApply_NewDatabase(t *testing.T) {
	s := engine.NewMemoryServer()
	proto, err := dbcfg.NewDatabase(s, "Sales", nil)
	if err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Decode(strings.NewReader(salesManifest))
	if err != nil {
		t.Fatal(err)
	}

	if err := manifest.Apply(m, proto); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if got := proto.Settings().RecoveryModel; got != dbcfg.RecoverySimple {
		t.Errorf("RecoveryModel = %q, want SIMPLE", got)
	}
	archive := proto.Filegroup("ARCHIVE")
	if archive == nil || !archive.IsDefault() {
		t.Fatalf("ARCHIVE = %+v, want default", archive)
	}
	if proto.Filegroup("PRIMARY").IsDefault() {
		t.Error("PRIMARY still default")
	}
	f := proto.File("archive1")
	if f == nil || f.Filegroup() != archive {
		t.Fatalf("archive1 = %+v", f)
	}
	growth := f.Autogrowth()
	if f.SizeMB() != 64 || growth.IsGrowthInPercent || growth.GrowthInMB() != 16 || !growth.IsGrowthRestricted || growth.MaximumSizeInMB() != 1024 {
		t.Errorf("archive1 size %g MB, growth %s", f.SizeMB(), growth)
	}
	log := proto.File("Sales_log2")
	if log == nil || log.Kind() != dbcfg.LogFile || log.Autogrowth().IsEnabled {
		t.Errorf("Sales_log2 = %+v", log)
	}

	if err := proto.ApplyChanges(dbcfg.ApplyOptions{}); err != nil {
		t.Fatalf("ApplyChanges() error = %v", err)
	}

	loaded, err := dbcfg.Load(s, "Sales", nil)
	if err != nil {
		t.Fatal(err)
	}
	if def := loaded.DefaultFilegroup(dbcfg.RowsFilegroup); def == nil || def.Name() != "ARCHIVE" {
		t.Errorf("default filegroup after apply = %v", def)
	}
	if loaded.File("archive1") == nil || loaded.File("Sales_log2") == nil {
		t.Error("manifest files not created")
	}
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name    string
		m       manifest.Manifest
		wantErr error
		wantMsg string
	}{
		{
			name:    "other database",
			m:       manifest.Manifest{Name: "Inventory"},
			wantMsg: "manifest is for Inventory",
		},
		{
			name:    "unknown setting",
			m:       manifest.Manifest{Name: "Sales", Settings: map[string]any{"Colour": "red"}},
			wantErr: dbcfg.ErrUnknownProperty,
		},
		{
			name:    "setting of the wrong type",
			m:       manifest.Manifest{Name: "Sales", Settings: map[string]any{"AutoShrink": "yes"}},
			wantMsg: "AutoShrink",
		},
		{
			name:    "file in missing filegroup",
			m:       manifest.Manifest{Name: "Sales", Files: []manifest.File{{Name: "d2", Filegroup: "NOPE"}}},
			wantErr: dbcfg.ErrNotFound,
		},
		{
			name:    "filestream file without filegroup",
			m:       manifest.Manifest{Name: "Sales", Files: []manifest.File{{Name: "docs", Kind: "filestream"}}},
			wantMsg: "needs a filegroup",
		},
		{
			name:    "data file in filestream filegroup",
			m:       manifest.Manifest{Name: "Sales", Filegroups: []manifest.Filegroup{{Name: "DOCS", Kind: "filestream"}}, Files: []manifest.File{{Name: "d2", Kind: "data", Filegroup: "DOCS"}}},
			wantMsg: "cannot hold a data file",
		},
		{
			name:    "kind of existing filegroup",
			m:       manifest.Manifest{Name: "Sales", Filegroups: []manifest.Filegroup{{Name: "PRIMARY", Kind: "filestream"}}},
			wantMsg: "is a rows filegroup",
		},
		{
			name:    "remove primary",
			m:       manifest.Manifest{Name: "Sales", Filegroups: []manifest.Filegroup{{Name: "PRIMARY", Remove: true}}},
			wantErr: dbcfg.ErrPrimaryFilegroup,
		},
		{
			name:    "folder of existing file",
			m:       manifest.Manifest{Name: "Sales", Files: []manifest.File{{Name: "Sales", Folder: "/mnt/fast"}}},
			wantErr: dbcfg.ErrPathImmutable,
		},
		{
			name:    "physical name of existing file",
			m:       manifest.Manifest{Name: "Sales", Files: []manifest.File{{Name: "Sales_log", PhysicalName: "moved.ldf"}}},
			wantErr: dbcfg.ErrPathImmutable,
		},
		{
			name:    "clearing the only default",
			m:       manifest.Manifest{Name: "Sales", Filegroups: []manifest.Filegroup{{Name: "PRIMARY", Default: ptr(false)}}},
			wantErr: dbcfg.ErrDefaultRequired,
		},
		{
			name:    "invalid growth",
			m:       manifest.Manifest{Name: "Sales", Files: []manifest.File{{Name: "Sales", Growth: &manifest.Growth{Percent: -5}}}},
			wantErr: dbcfg.ErrInvalidGrowth,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := engine.NewMemoryServer()
			s.AddDatabase("Sales")
			proto, err := dbcfg.Load(s, "Sales", nil)
			if err != nil {
				t.Fatal(err)
			}
			err = manifest.Apply(&tt.m, proto)
			if err == nil {
				t.Fatal("Apply() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Apply() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Apply() error = %v, want containing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestApply_MovesDefault(t *testing.T) {
	s := engine.NewMemoryServer()
	s.AddDatabase("Sales")
	if err := s.AddFilegroup("Sales", "ARCHIVE", dbcfg.RowsFilegroup, "archive1"); err != nil {
		t.Fatal(err)
	}
	proto, err := dbcfg.Load(s, "Sales", nil)
	if err != nil {
		t.Fatal(err)
	}

	m := &manifest.Manifest{
		Name: "Sales",
		Filegroups: []manifest.Filegroup{
			{Name: "PRIMARY", Default: ptr(false)},
			{Name: "ARCHIVE", Default: ptr(true)},
		},
	}
	if err := manifest.Apply(m, proto); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if def := proto.DefaultFilegroup(dbcfg.RowsFilegroup); def == nil || def.Name() != "ARCHIVE" {
		t.Errorf("rows default = %v, want ARCHIVE", def)
	}
}

func TestApply_Remove(t *testing.T) {
	s := engine.NewMemoryServer()
	s.AddDatabase("Sales")
	if err := s.AddFilegroup("Sales", "ARCHIVE", dbcfg.RowsFilegroup, "archive1", "archive2"); err != nil {
		t.Fatal(err)
	}
	proto, err := dbcfg.Load(s, "Sales", nil)
	if err != nil {
		t.Fatal(err)
	}

	m := &manifest.Manifest{
		Name:       "Sales",
		Filegroups: []manifest.Filegroup{{Name: "ARCHIVE", Remove: true}, {Name: "GONE", Remove: true}},
		Files:      []manifest.File{{Name: "missing", Remove: true}},
	}
	if err := manifest.Apply(m, proto); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if proto.Filegroup("ARCHIVE") != nil || proto.File("archive1") != nil || proto.File("archive2") != nil {
		t.Error("ARCHIVE and its files still present")
	}

	var drops []string
	for _, c := range proto.Changes() {
		if c.Action == dbcfg.ActionDrop {
			drops = append(drops, c.Entity+" "+c.Name)
		}
	}
	if len(drops) != 3 {
		t.Errorf("drops = %v, want the filegroup and both files", drops)
	}
}

func TestExport_RoundTrip(t *testing.T) {
	s := engine.NewMemoryServer()
	s.AddDatabase("Sales")
	if err := s.AddFilegroup("Sales", "ARCHIVE", dbcfg.RowsFilegroup, "archive1"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddFilegroup("Sales", "DOCS", dbcfg.FileStreamFilegroup, "docs1"); err != nil {
		t.Fatal(err)
	}
	s.SetDefaultFilegroup("Sales", dbcfg.FileStreamFilegroup, "DOCS")

	proto, err := dbcfg.Load(s, "Sales", nil)
	if err != nil {
		t.Fatal(err)
	}
	exported, err := manifest.Export(proto)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if exported.Name != "Sales" || len(exported.Filegroups) != 3 || len(exported.Files) != 4 {
		t.Fatalf("Export() = %d filegroups, %d files", len(exported.Filegroups), len(exported.Files))
	}
	if got := exported.Settings["RecoveryModel"]; got != "FULL" {
		t.Errorf("exported RecoveryModel = %#v, want plain string FULL", got)
	}

	var buf bytes.Buffer
	if err := manifest.Encode(&buf, exported); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := manifest.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() of exported manifest error = %v\n%s", err, buf.String())
	}

	fresh, err := dbcfg.Load(s, "Sales", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := manifest.Apply(decoded, fresh); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if fresh.ChangesExist() {
		t.Errorf("round trip produced changes: %v", fresh.Changes())
	}
}

func TestExport_SkipsUnsupported(t *testing.T) {
	s := engine.NewMemoryServer()
	s.AddDatabase("Sales")
	s.SetSupported(dbcfg.PropRecoveryModel, dbcfg.PropCollation)

	proto, err := dbcfg.Load(s, "Sales", nil)
	if err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Export(proto)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Settings) != 2 {
		t.Errorf("Settings = %v, want RecoveryModel and Collation only", m.Settings)
	}
}

func ptr[T any](v T) *T { return &v }
