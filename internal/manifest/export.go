package manifest

import (
	"fmt"
	"reflect"

	"dbcfg/internal/dbcfg"
)

// Export describes the edited state of proto as a manifest. Settings the
// engine does not support and empty strings are left out.
func Export(proto *dbcfg.DatabasePrototype) (*Manifest, error) {
	m := &Manifest{Name: proto.Name(), Settings: make(map[string]any)}

	caps := proto.Capabilities()
	settings := proto.Settings()
	for _, p := range dbcfg.SettingProperties() {
		if !caps.Supports(p) {
			continue
		}
		v, err := settings.Get(p)
		if err != nil {
			return nil, fmt.Errorf("exporting %s: %w", p, err)
		}
		v = plain(v)
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		m.Settings[string(p)] = v
	}

	for _, fg := range proto.Filegroups() {
		m.Filegroups = append(m.Filegroups, Filegroup{
			Name:             fg.Name(),
			Kind:             fg.Kind().String(),
			Default:          ptr(fg.IsDefault()),
			ReadOnly:         ptr(fg.IsReadOnly()),
			AutogrowAllFiles: ptr(fg.AutogrowAllFiles()),
		})
	}

	for _, f := range proto.Files() {
		spec := File{
			Name:         f.Name(),
			Kind:         f.Kind().String(),
			Folder:       f.Folder(),
			PhysicalName: f.ExplicitPhysicalName(),
		}
		if fg := f.Filegroup(); fg != nil {
			spec.Filegroup = fg.Name()
		}
		if f.Kind() != dbcfg.FileStreamFile {
			spec.SizeMB = ptr(f.SizeKB() / 1024)
			spec.Growth = exportGrowth(f.Autogrowth())
		}
		m.Files = append(m.Files, spec)
	}
	return m, nil
}

func exportGrowth(p dbcfg.AutogrowthPolicy) *Growth {
	g := &Growth{Enabled: ptr(p.IsEnabled)}
	if p.IsGrowthInPercent {
		g.Percent = p.GrowthInPercent
	} else {
		g.MB = p.GrowthInKB / 1024
	}
	if p.IsGrowthRestricted {
		g.MaxSizeMB = ptr(p.MaximumSizeInKB / 1024)
	} else {
		g.MaxSizeMB = ptr(0.0)
	}
	return g
}

// plain turns named string types such as RecoveryModel into string.
func plain(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	return v
}

func ptr[T any](v T) *T { return &v }
