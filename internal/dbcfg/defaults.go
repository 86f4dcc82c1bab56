package dbcfg

import (
	"errors"
	"fmt"
)

// TemplateDatabase is the database new databases are copied from.
const TemplateDatabase = "model"

// Fallback sizes used when the template database cannot be read.
const (
	FallbackDataSizeKB = 5120
	FallbackLogSizeKB  = 1024
)

var errNoTemplateFile = errors.New("template database has no file of this kind")

type fileDefaults struct {
	folder string
	sizeKB float64
	growth AutogrowthPolicy
}

// templateDefaults resolves and caches per-kind file defaults from the
// engine's default folders and the template database. Permission failures
// fall back to fixed values.
type templateDefaults struct {
	conn   Connection
	logger Logger
	cache  map[FileKind]fileDefaults
}

func newTemplateDefaults(conn Connection, logger Logger) *templateDefaults {
	return &templateDefaults{conn: conn, logger: logger, cache: make(map[FileKind]fileDefaults)}
}

func (t *templateDefaults) forKind(kind FileKind) (fileDefaults, error) {
	if d, ok := t.cache[kind]; ok {
		return d, nil
	}
	folder, err := t.folder(kind)
	if err != nil {
		return fileDefaults{}, err
	}
	d := fileDefaults{folder: folder}
	switch kind {
	case FileStreamFile:
		d.growth = AutogrowthPolicy{}
	default:
		d.sizeKB, d.growth, err = t.sizing(kind)
		if err != nil {
			return fileDefaults{}, err
		}
	}
	t.cache[kind] = d
	return d, nil
}

func (t *templateDefaults) folder(kind FileKind) (string, error) {
	var (
		path string
		err  error
	)
	if kind == LogFile {
		path, err = t.conn.DefaultLogPath()
	} else {
		path, err = t.conn.DefaultDataPath()
	}
	if err != nil {
		if IsPermissionDenied(err) {
			t.logger.Warn("default folder unavailable", "kind", kind.String(), "error", err)
			return "", nil
		}
		return "", fmt.Errorf("reading default %s folder: %w", kind, err)
	}
	return path, nil
}

func (t *templateDefaults) sizing(kind FileKind) (float64, AutogrowthPolicy, error) {
	size, growth, err := t.readTemplateFile(kind)
	if err == nil {
		return size, growth, nil
	}
	if !IsPermissionDenied(err) && !errors.Is(err, errNoTemplateFile) {
		return 0, AutogrowthPolicy{}, err
	}
	t.logger.Warn("template file defaults unavailable, using fallbacks", "kind", kind.String(), "error", err)
	size = FallbackDataSizeKB
	if kind == LogFile {
		size = FallbackLogSizeKB
	}
	return size, DefaultAutogrowth(), nil
}

// readTemplateFile returns the rounded size and growth of the template
// database's first file of the given kind.
func (t *templateDefaults) readTemplateFile(kind FileKind) (float64, AutogrowthPolicy, error) {
	h, err := t.conn.Database(TemplateDatabase)
	if err != nil {
		return 0, AutogrowthPolicy{}, fmt.Errorf("opening template database: %w", err)
	}
	var fh FileHandle
	if kind == LogFile {
		logs, err := h.LogFiles()
		if err != nil {
			return 0, AutogrowthPolicy{}, fmt.Errorf("listing template log files: %w", err)
		}
		if len(logs) > 0 {
			fh = logs[0]
		}
	} else {
		fg, err := h.Filegroup(PrimaryFilegroupName)
		if err != nil {
			return 0, AutogrowthPolicy{}, fmt.Errorf("fetching template primary filegroup: %w", err)
		}
		if fg != nil {
			files, err := fg.Files()
			if err != nil {
				return 0, AutogrowthPolicy{}, fmt.Errorf("listing template data files: %w", err)
			}
			if len(files) > 0 {
				fh = files[0]
			}
		}
	}
	if fh == nil {
		return 0, AutogrowthPolicy{}, errNoTemplateFile
	}

	info, err := fh.Info()
	if err != nil {
		return 0, AutogrowthPolicy{}, fmt.Errorf("reading template file %s: %w", fh.Name(), err)
	}
	var growth AutogrowthPolicy
	if kind == LogFile {
		growth, err = NewLogFileAutogrowth(fh)
	} else {
		growth, err = NewDataFileAutogrowth(fh)
	}
	if err != nil {
		return 0, AutogrowthPolicy{}, err
	}
	return RoundUpToMB(info.SizeKB), growth, nil
}

// templateSettings returns the settings a new database starts with. The
// owner is left empty: a new database belongs to whoever creates it.
func (t *templateDefaults) templateSettings() (Settings, error) {
	s, err := t.readTemplateSettings()
	if err != nil {
		if !IsPermissionDenied(err) {
			return Settings{}, err
		}
		t.logger.Warn("template settings unavailable, using defaults", "error", err)
		s = DefaultSettings()
	}
	s.Owner = ""
	s.FilestreamDirectoryName = ""
	s.ReadOnly = false
	return s, nil
}

func (t *templateDefaults) readTemplateSettings() (Settings, error) {
	h, err := t.conn.Database(TemplateDatabase)
	if err != nil {
		return Settings{}, fmt.Errorf("opening template database: %w", err)
	}
	s, err := h.Settings()
	if err != nil {
		return Settings{}, fmt.Errorf("reading template settings: %w", err)
	}
	return s, nil
}
