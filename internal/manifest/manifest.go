// Package manifest reads and writes desired-state documents for one
// database and applies them onto a DatabasePrototype.
package manifest

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"dbcfg/internal/dbcfg"
)

// Manifest is the desired state of one database.
type Manifest struct {
	Name       string         `toml:"name"`
	Settings   map[string]any `toml:"settings,omitempty"`
	Filegroups []Filegroup    `toml:"filegroups,omitempty"`
	Files      []File         `toml:"files,omitempty"`
}

// Filegroup is one [[filegroups]] entry. Unset flags keep the current
// value.
type Filegroup struct {
	Name             string `toml:"name"`
	Kind             string `toml:"kind,omitempty"` // "rows", "filestream" or "memory_optimized"
	Default          *bool  `toml:"default,omitempty"`
	ReadOnly         *bool  `toml:"read_only,omitempty"`
	AutogrowAllFiles *bool  `toml:"autogrow_all_files,omitempty"`
	Remove           bool   `toml:"remove,omitempty"`
}

// File is one [[files]] entry. Data files without a filegroup go to
// PRIMARY.
type File struct {
	Name         string   `toml:"name"`
	Kind         string   `toml:"kind,omitempty"` // "data", "log" or "filestream"
	Filegroup    string   `toml:"filegroup,omitempty"`
	Folder       string   `toml:"folder,omitempty"`
	PhysicalName string   `toml:"physical_name,omitempty"`
	SizeMB       *float64 `toml:"size_mb,omitempty"`
	Growth       *Growth  `toml:"growth,omitempty"`
	Remove       bool     `toml:"remove,omitempty"`
}

// Growth is the autogrowth of a file. Percent and MB are exclusive.
type Growth struct {
	Enabled *bool   `toml:"enabled,omitempty"`
	Percent int     `toml:"percent,omitempty"`
	MB      float64 `toml:"mb,omitempty"`
	// MaxSizeMB caps growth; 0 means unlimited and nil keeps the current cap.
	MaxSizeMB *float64 `toml:"max_size_mb,omitempty"`
}

// Decode reads a manifest from r. Unknown keys are an error.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	md, err := toml.NewDecoder(r).Decode(&m)
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown manifest key %q", undecoded[0].String())
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode writes m to w.
func Encode(w io.Writer, m *Manifest) error {
	if err := toml.NewEncoder(w).Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return nil
}

// ReadFile decodes the manifest at path.
func ReadFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return m, nil
}

// Validate checks what can be checked without a database.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("manifest has no database name")
	}
	for _, fg := range m.Filegroups {
		if fg.Name == "" {
			return fmt.Errorf("filegroup without a name")
		}
		if _, err := dbcfg.ParseFilegroupKind(fg.Kind); err != nil {
			return fmt.Errorf("filegroup %s: %w", fg.Name, err)
		}
	}
	for _, f := range m.Files {
		if f.Name == "" {
			return fmt.Errorf("file without a name")
		}
		kind, err := dbcfg.ParseFileKind(f.Kind)
		if err != nil {
			return fmt.Errorf("file %s: %w", f.Name, err)
		}
		if kind == dbcfg.LogFile && f.Filegroup != "" {
			return fmt.Errorf("log file %s cannot belong to a filegroup", f.Name)
		}
		if g := f.Growth; g != nil && g.Percent != 0 && g.MB != 0 {
			return fmt.Errorf("file %s: growth percent and mb are mutually exclusive", f.Name)
		}
	}
	return nil
}

// Apply edits proto to match m. Settings, filegroups and files not named
// in m are left as they are.
func Apply(m *Manifest, proto *dbcfg.DatabasePrototype) error {
	if !strings.EqualFold(m.Name, proto.Name()) {
		return fmt.Errorf("manifest is for %s, not %s", m.Name, proto.Name())
	}

	keys := make([]string, 0, len(m.Settings))
	for k := range m.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := proto.Set(dbcfg.Property(k), m.Settings[k]); err != nil {
			return fmt.Errorf("setting %s: %w", k, err)
		}
	}

	for _, fg := range m.Filegroups {
		if err := applyFilegroup(fg, proto); err != nil {
			return fmt.Errorf("filegroup %s: %w", fg.Name, err)
		}
	}
	// Cleared defaults are checked once every new default is in place.
	for _, spec := range m.Filegroups {
		if spec.Remove || spec.Default == nil || *spec.Default {
			continue
		}
		if fg := proto.Filegroup(spec.Name); fg != nil {
			if err := fg.SetDefault(false); err != nil {
				return fmt.Errorf("filegroup %s: %w", spec.Name, err)
			}
		}
	}
	for _, f := range m.Files {
		if err := applyFile(f, proto); err != nil {
			return fmt.Errorf("file %s: %w", f.Name, err)
		}
	}
	return nil
}

func applyFilegroup(spec Filegroup, proto *dbcfg.DatabasePrototype) error {
	kind, err := dbcfg.ParseFilegroupKind(spec.Kind)
	if err != nil {
		return err
	}
	fg := proto.Filegroup(spec.Name)
	if spec.Remove {
		if fg == nil {
			return nil
		}
		return proto.RemoveFilegroup(fg)
	}
	if fg == nil {
		if fg, err = proto.AddFilegroup(spec.Name, kind); err != nil {
			return err
		}
	} else if spec.Kind != "" && fg.Kind() != kind {
		return fmt.Errorf("is a %s filegroup, manifest says %s", fg.Kind(), kind)
	}

	if spec.Default != nil && *spec.Default {
		if err := fg.SetDefault(true); err != nil {
			return err
		}
	}
	if spec.ReadOnly != nil {
		fg.SetReadOnly(*spec.ReadOnly)
	}
	if spec.AutogrowAllFiles != nil {
		fg.SetAutogrowAllFiles(*spec.AutogrowAllFiles)
	}
	return nil
}

func applyFile(spec File, proto *dbcfg.DatabasePrototype) error {
	kind, err := dbcfg.ParseFileKind(spec.Kind)
	if err != nil {
		return err
	}
	f := proto.File(spec.Name)
	if spec.Remove {
		if f == nil {
			return nil
		}
		return proto.RemoveFile(f)
	}

	if f == nil {
		if f, err = addFile(spec, kind, proto); err != nil {
			return err
		}
	} else {
		if spec.Kind != "" && f.Kind() != kind {
			return fmt.Errorf("is a %s file, manifest says %s", f.Kind(), kind)
		}
		if spec.Filegroup != "" && (f.Filegroup() == nil || !strings.EqualFold(f.Filegroup().Name(), spec.Filegroup)) {
			fg := proto.Filegroup(spec.Filegroup)
			if fg == nil {
				return fmt.Errorf("filegroup %s: %w", spec.Filegroup, dbcfg.ErrNotFound)
			}
			if err := f.SetFilegroup(fg); err != nil {
				return err
			}
		}
	}

	if spec.Folder != "" {
		if err := f.SetFolder(spec.Folder); err != nil {
			return err
		}
	}
	if spec.PhysicalName != "" {
		if err := f.SetPhysicalName(spec.PhysicalName); err != nil {
			return err
		}
	}
	if spec.SizeMB != nil {
		if err := f.SetSizeMB(*spec.SizeMB); err != nil {
			return err
		}
	}
	if spec.Growth != nil {
		if err := f.SetAutogrowth(spec.Growth.policy(f.Autogrowth())); err != nil {
			return err
		}
	}
	return nil
}

func addFile(spec File, kind dbcfg.FileKind, proto *dbcfg.DatabasePrototype) (*dbcfg.FilePrototype, error) {
	if kind == dbcfg.LogFile {
		return proto.AddLogFile(spec.Name)
	}
	name := spec.Filegroup
	if name == "" {
		if kind != dbcfg.DataFile {
			return nil, fmt.Errorf("%s file needs a filegroup", kind)
		}
		name = dbcfg.PrimaryFilegroupName
	}
	fg := proto.Filegroup(name)
	if fg == nil {
		return nil, fmt.Errorf("filegroup %s: %w", name, dbcfg.ErrNotFound)
	}
	if spec.Kind != "" && (kind == dbcfg.DataFile) != (fg.Kind() == dbcfg.RowsFilegroup) {
		return nil, fmt.Errorf("%s filegroup %s cannot hold a %s file", fg.Kind(), fg.Name(), kind)
	}
	return proto.AddFile(spec.Name, fg)
}

// policy overlays g on the current policy.
func (g *Growth) policy(cur dbcfg.AutogrowthPolicy) dbcfg.AutogrowthPolicy {
	p := cur
	if g.Enabled != nil {
		p.IsEnabled = *g.Enabled
	}
	switch {
	case g.Percent != 0:
		p.IsGrowthInPercent = true
		p.GrowthInPercent = g.Percent
	case g.MB != 0:
		p.IsGrowthInPercent = false
		p.SetGrowthInMB(g.MB)
	}
	if g.MaxSizeMB != nil {
		if *g.MaxSizeMB == 0 {
			p.IsGrowthRestricted = false
		} else {
			p.IsGrowthRestricted = true
			p.SetMaximumSizeInMB(*g.MaxSizeMB)
		}
	}
	return p
}
