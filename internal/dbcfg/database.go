package dbcfg

import (
	"fmt"
	"slices"
	"strings"
)

// DatabasePrototype is the desired configuration of one database: its
// scalar settings, filegroups and files. It keeps the state last read from
// the engine next to the edited state and applies the difference.
//
// A prototype is not safe for concurrent use.
type DatabasePrototype struct {
	conn     Connection
	handle   DatabaseHandle
	caps     CapabilitySet
	logger   Logger
	defaults *templateDefaults
	dispatch *dispatcher

	name     string
	exists   bool
	original Settings
	current  Settings

	filegroups        []*FilegroupPrototype
	files             []*FilePrototype
	removedFilegroups []*FilegroupPrototype
	removedFiles      []*FilePrototype

	listeners []func(p Property, prev, next any)
}

func newPrototype(conn Connection, h DatabaseHandle, logger Logger) *DatabasePrototype {
	if logger == nil {
		logger = NewNopLogger()
	}
	db := &DatabasePrototype{
		conn:     conn,
		handle:   h,
		caps:     ResolveCapabilities(conn),
		logger:   logger,
		defaults: newTemplateDefaults(conn, logger),
		dispatch: newDispatcher(),
		name:     h.Name(),
	}
	db.dispatch.nameTaken = func(fg *FilegroupPrototype, name string) bool {
		other := db.Filegroup(name)
		return other != nil && other != fg
	}
	db.dispatch.fileNameTaken = func(f *FilePrototype, name string) bool {
		other := db.File(name)
		return other != nil && other != f
	}
	db.dispatch.onEvent = db.filegroupEvent
	db.dispatch.onCascade = db.fileCascaded
	return db
}

// Load builds a prototype from an existing database.
func Load(conn Connection, name string, logger Logger) (*DatabasePrototype, error) {
	h, err := conn.Database(name)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", name, err)
	}
	if !h.Exists() {
		return nil, fmt.Errorf("database %s: %w", name, ErrNotFound)
	}
	db := newPrototype(conn, h, logger)
	db.exists = true

	settings, err := h.Settings()
	if err != nil {
		return nil, fmt.Errorf("reading settings of %s: %w", name, err)
	}
	db.original, db.current = settings, settings

	fgs, err := h.Filegroups()
	if err != nil {
		return nil, fmt.Errorf("listing filegroups of %s: %w", name, err)
	}
	for _, fgh := range fgs {
		info, err := fgh.Info()
		if err != nil {
			return nil, fmt.Errorf("reading filegroup %s: %w", fgh.Name(), err)
		}
		fg := filegroupFromInfo(db.dispatch, info)
		db.filegroups = append(db.filegroups, fg)

		fhs, err := fgh.Files()
		if err != nil {
			return nil, fmt.Errorf("listing files of filegroup %s: %w", fgh.Name(), err)
		}
		for _, fh := range fhs {
			f, err := fileFromDataHandle(db.dispatch, fh, fg)
			if err != nil {
				return nil, err
			}
			db.files = append(db.files, f)
		}
	}

	logs, err := h.LogFiles()
	if err != nil {
		return nil, fmt.Errorf("listing log files of %s: %w", name, err)
	}
	for _, fh := range logs {
		f, err := fileFromLogHandle(db.dispatch, fh)
		if err != nil {
			return nil, err
		}
		db.files = append(db.files, f)
	}

	db.sortCollections()
	db.logger.Debug("database loaded", "database", name, "filegroups", len(db.filegroups), "files", len(db.files))
	return db, nil
}

// NewDatabase builds a prototype for a database that does not exist yet,
// seeded from the template database: a default PRIMARY filegroup holding
// the primary data file, and one log file.
func NewDatabase(conn Connection, name string, logger Logger) (*DatabasePrototype, error) {
	if err := validateLogicalName(name); err != nil {
		return nil, err
	}
	h, err := conn.Database(name)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", name, err)
	}
	if h.Exists() {
		return nil, fmt.Errorf("database %s: %w", name, ErrAlreadyExists)
	}
	db := newPrototype(conn, h, logger)

	settings, err := db.defaults.templateSettings()
	if err != nil {
		return nil, err
	}
	db.original, db.current = settings, settings

	primary := newFilegroup(db.dispatch, PrimaryFilegroupName, RowsFilegroup)
	primary.original.isDefault = true
	primary.current.isDefault = true
	db.filegroups = append(db.filegroups, primary)

	data, err := db.AddFile(name, primary)
	if err != nil {
		return nil, err
	}
	data.original.primary = true
	data.current.primary = true
	if _, err := db.AddLogFile(name + "_log"); err != nil {
		return nil, err
	}
	return db, nil
}

// sortCollections puts PRIMARY first, the primary data file first and log
// files after data files, keeping the engine's order otherwise.
func (db *DatabasePrototype) sortCollections() {
	slices.SortStableFunc(db.filegroups, func(a, b *FilegroupPrototype) int {
		return boolRank(a.IsPrimary()) - boolRank(b.IsPrimary())
	})
	slices.SortStableFunc(db.files, func(a, b *FilePrototype) int {
		return fileRank(a) - fileRank(b)
	})
}

func boolRank(first bool) int {
	if first {
		return 0
	}
	return 1
}

func fileRank(f *FilePrototype) int {
	switch {
	case f.Kind() == LogFile:
		return 2
	case f.IsPrimary():
		return 0
	default:
		return 1
	}
}

func (db *DatabasePrototype) Name() string                { return db.name }
func (db *DatabasePrototype) Exists() bool                { return db.exists }
func (db *DatabasePrototype) Capabilities() CapabilitySet { return db.caps }

// Settings returns a copy of the edited settings.
func (db *DatabasePrototype) Settings() Settings { return db.current }

// OriginalSettings returns a copy of the settings last read from or
// written to the engine.
func (db *DatabasePrototype) OriginalSettings() Settings { return db.original }

// Get returns the edited value of a setting.
func (db *DatabasePrototype) Get(p Property) (any, error) {
	return db.current.Get(p)
}

// Set changes one setting. Properties the engine does not support are
// kept but never written.
func (db *DatabasePrototype) Set(p Property, value any) error {
	old, err := db.current.Get(p)
	if err != nil {
		return err
	}
	if err := db.current.Set(p, value); err != nil {
		return err
	}
	if !db.caps.Supports(p) {
		db.logger.Debug("setting not supported by engine", "database", db.name, "property", string(p))
	}
	updated, _ := db.current.Get(p)
	if updated != old {
		for _, fn := range db.listeners {
			fn(p, old, updated)
		}
	}
	return nil
}

// OnPropertyChanged registers fn to run after a setting changes value.
func (db *DatabasePrototype) OnPropertyChanged(fn func(p Property, prev, next any)) {
	db.listeners = append(db.listeners, fn)
}

// Filegroups returns the filegroups that are not marked for removal, PRIMARY
// first.
func (db *DatabasePrototype) Filegroups() []*FilegroupPrototype {
	return slices.Clone(db.filegroups)
}

// Files returns the files that are not marked for removal.
func (db *DatabasePrototype) Files() []*FilePrototype {
	return slices.Clone(db.files)
}

// Filegroup returns the filegroup with the given name, or nil.
func (db *DatabasePrototype) Filegroup(name string) *FilegroupPrototype {
	for _, fg := range db.filegroups {
		if strings.EqualFold(fg.Name(), name) {
			return fg
		}
	}
	return nil
}

// File returns the file with the given logical name, or nil.
func (db *DatabasePrototype) File(name string) *FilePrototype {
	for _, f := range db.files {
		if strings.EqualFold(f.Name(), name) {
			return f
		}
	}
	return nil
}

// FilesIn returns the files that belong to fg.
func (db *DatabasePrototype) FilesIn(fg *FilegroupPrototype) []*FilePrototype {
	var out []*FilePrototype
	for _, f := range db.files {
		if f.Filegroup() == fg {
			out = append(out, f)
		}
	}
	return out
}

// DefaultFilegroup returns the default filegroup of a kind, or nil.
func (db *DatabasePrototype) DefaultFilegroup(kind FilegroupKind) *FilegroupPrototype {
	for _, fg := range db.filegroups {
		if fg.Kind() == kind && fg.IsDefault() {
			return fg
		}
	}
	return nil
}

// AddFilegroup adds a pending filegroup.
func (db *DatabasePrototype) AddFilegroup(name string, kind FilegroupKind) (*FilegroupPrototype, error) {
	if err := validateLogicalName(name); err != nil {
		return nil, err
	}
	if db.Filegroup(name) != nil {
		return nil, fmt.Errorf("filegroup %s: %w", name, ErrAlreadyExists)
	}
	if p, gated := kind.capability(); gated && !db.caps.Supports(p) {
		return nil, fmt.Errorf("%s filegroup %s: %w", kind, name, ErrUnsupported)
	}
	fg := newFilegroup(db.dispatch, name, kind)
	db.filegroups = append(db.filegroups, fg)
	return fg, nil
}

// AddFile adds a pending data or FILESTREAM file to fg, seeded with the
// template defaults of its kind.
func (db *DatabasePrototype) AddFile(name string, fg *FilegroupPrototype) (*FilePrototype, error) {
	if fg == nil || !slices.Contains(db.filegroups, fg) {
		return nil, fmt.Errorf("file %s: filegroup: %w", name, ErrNotFound)
	}
	return db.addFile(name, fileKindFor(fg.Kind()), fg)
}

// AddLogFile adds a pending log file.
func (db *DatabasePrototype) AddLogFile(name string) (*FilePrototype, error) {
	return db.addFile(name, LogFile, nil)
}

func (db *DatabasePrototype) addFile(name string, kind FileKind, fg *FilegroupPrototype) (*FilePrototype, error) {
	if err := validateLogicalName(name); err != nil {
		return nil, err
	}
	if db.File(name) != nil {
		return nil, fmt.Errorf("file %s: %w", name, ErrAlreadyExists)
	}
	def, err := db.defaults.forKind(kind)
	if err != nil {
		return nil, err
	}
	f := newFile(db.dispatch, name, kind, fg, def)
	db.files = append(db.files, f)
	db.sortCollections()
	return f, nil
}

// RemoveFilegroup removes fg and cascades to its files: existing files are
// removed with it, pending files move to the default filegroup of the same
// kind.
func (db *DatabasePrototype) RemoveFilegroup(fg *FilegroupPrototype) error {
	if fg == nil || !slices.Contains(db.filegroups, fg) {
		return fmt.Errorf("filegroup: %w", ErrNotFound)
	}
	if fg.IsPrimary() {
		return fmt.Errorf("filegroup %s: %w", fg.Name(), ErrPrimaryFilegroup)
	}
	db.filegroups = slices.DeleteFunc(db.filegroups, func(x *FilegroupPrototype) bool { return x == fg })

	fallback := db.fallbackFor(fg)
	if fg.IsDefault() && fallback != nil {
		fallback.SetDefault(true)
	}
	fg.NotifyFileGroupDeleted(fallback)
	if fg.Removed() {
		db.removedFilegroups = append(db.removedFilegroups, fg)
	}
	db.logger.Debug("filegroup removed", "database", db.name, "filegroup", fg.Name(), "existing", fg.Exists())
	return nil
}

// fallbackFor picks where pending files of a removed filegroup go: the
// default of the same kind, else PRIMARY for row data.
func (db *DatabasePrototype) fallbackFor(fg *FilegroupPrototype) *FilegroupPrototype {
	if def := db.DefaultFilegroup(fg.Kind()); def != nil && def != fg {
		return def
	}
	if fg.Kind() == RowsFilegroup {
		return db.Filegroup(PrimaryFilegroupName)
	}
	for _, other := range db.filegroups {
		if other.Kind() == fg.Kind() {
			return other
		}
	}
	return nil
}

// RemoveFile removes a file. The primary data file cannot be removed.
func (db *DatabasePrototype) RemoveFile(f *FilePrototype) error {
	if f == nil || !slices.Contains(db.files, f) {
		return fmt.Errorf("file: %w", ErrNotFound)
	}
	if f.IsPrimary() {
		return fmt.Errorf("file %s: %w", f.Name(), ErrPrimaryFilegroup)
	}
	db.dispatch.unsubscribe(f.Filegroup(), f)
	db.dropFile(f)
	if f.Exists() {
		f.removed = true
		db.removedFiles = append(db.removedFiles, f)
	}
	return nil
}

func (db *DatabasePrototype) dropFile(f *FilePrototype) {
	db.files = slices.DeleteFunc(db.files, func(x *FilePrototype) bool { return x == f })
}

func (db *DatabasePrototype) filegroupEvent(ev filegroupEvent) {
	switch ev.kind {
	case eventDefaultChanged:
		for _, other := range db.filegroups {
			if other != ev.filegroup && other.Kind() == ev.filegroup.Kind() {
				other.current.isDefault = false
			}
		}
	case eventRenamed:
		db.logger.Debug("filegroup renamed", "database", db.name, "from", ev.oldName, "to", ev.filegroup.Name())
	}
}

func (db *DatabasePrototype) fileCascaded(f *FilePrototype, r cascadeResult) {
	switch r {
	case cascadeRemoved:
		db.dropFile(f)
		db.removedFiles = append(db.removedFiles, f)
	case cascadeDiscarded:
		db.dropFile(f)
		db.logger.Warn("pending file discarded with its filegroup", "database", db.name, "file", f.Name())
	}
}

// Status returns the engine state of the database. A permission failure is
// reported as StatusInaccessible.
func (db *DatabasePrototype) Status() (DatabaseStatus, error) {
	if !db.handle.Exists() {
		return StatusNotCreated, nil
	}
	st, err := db.handle.State()
	if err != nil {
		if IsPermissionDenied(err) {
			return StatusInaccessible, nil
		}
		return "", fmt.Errorf("reading state of %s: %w", db.name, err)
	}
	return st, nil
}

// ChangesExist reports whether ApplyChanges would touch the engine.
func (db *DatabasePrototype) ChangesExist() bool {
	if !db.exists || len(db.removedFilegroups) > 0 || len(db.removedFiles) > 0 {
		return true
	}
	if len(db.changedSettings()) > 0 {
		return true
	}
	for _, fg := range db.filegroups {
		if fg.ChangesExist() {
			return true
		}
	}
	for _, f := range db.files {
		if f.ChangesExist() {
			return true
		}
	}
	return false
}

// changedSettings returns the supported settings whose edited value
// differs from the original.
func (db *DatabasePrototype) changedSettings() []Property {
	var out []Property
	for _, p := range db.current.Diff(&db.original) {
		if db.caps.Supports(p) {
			out = append(out, p)
		}
	}
	return out
}

// Properties returns a flat view of the edited state.
func (db *DatabasePrototype) Properties() map[string]any {
	props := map[string]any{
		"name":           db.name,
		"exists":         db.exists,
		"owner":          db.current.Owner,
		"collation":      db.current.Collation,
		"recovery_model": string(db.current.RecoveryModel),
	}
	if st, err := db.Status(); err == nil {
		props["state"] = string(st)
	}

	fgs := make([]map[string]any, 0, len(db.filegroups))
	for _, fg := range db.filegroups {
		fgs = append(fgs, map[string]any{
			"name":               fg.Name(),
			"kind":               fg.Kind().String(),
			"default":            fg.IsDefault(),
			"read_only":          fg.IsReadOnly(),
			"autogrow_all_files": fg.AutogrowAllFiles(),
			"files":              len(db.FilesIn(fg)),
		})
	}
	props["filegroups"] = fgs

	files := make([]map[string]any, 0, len(db.files))
	for _, f := range db.files {
		m := map[string]any{
			"name":    f.Name(),
			"kind":    f.Kind().String(),
			"path":    f.FullPath(),
			"size_mb": f.SizeMB(),
			"growth":  f.Autogrowth().String(),
		}
		if fg := f.Filegroup(); fg != nil {
			m["filegroup"] = fg.Name()
		}
		files = append(files, m)
	}
	props["files"] = files
	return props
}
