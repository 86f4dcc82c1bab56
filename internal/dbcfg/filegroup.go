package dbcfg

import (
	"fmt"
	"strings"
)

// PrimaryFilegroupName is the name of the filegroup every database has.
const PrimaryFilegroupName = "PRIMARY"

// FilegroupKind is the kind of storage a filegroup holds. Each kind has its
// own default filegroup.
type FilegroupKind int

const (
	RowsFilegroup FilegroupKind = iota
	FileStreamFilegroup
	MemoryOptimizedFilegroup
)

// FilegroupKinds lists every kind in the order defaults are applied.
var FilegroupKinds = []FilegroupKind{RowsFilegroup, FileStreamFilegroup, MemoryOptimizedFilegroup}

func (k FilegroupKind) String() string {
	switch k {
	case FileStreamFilegroup:
		return "filestream"
	case MemoryOptimizedFilegroup:
		return "memory_optimized"
	default:
		return "rows"
	}
}

// ParseFilegroupKind is the inverse of FilegroupKind.String. An empty
// string means rows.
func ParseFilegroupKind(s string) (FilegroupKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rows":
		return RowsFilegroup, nil
	case "filestream":
		return FileStreamFilegroup, nil
	case "memory_optimized":
		return MemoryOptimizedFilegroup, nil
	}
	return 0, fmt.Errorf("unknown filegroup kind %q", s)
}

// capability returns the property gating the kind, if any.
func (k FilegroupKind) capability() (Property, bool) {
	switch k {
	case FileStreamFilegroup:
		return PropFileStreamFilegroups, true
	case MemoryOptimizedFilegroup:
		return PropMemoryOptimizedFilegroups, true
	}
	return "", false
}

type filegroupState struct {
	name             string
	kind             FilegroupKind
	readOnly         bool
	isDefault        bool
	autogrowAllFiles bool
}

// FilegroupPrototype is the desired state of one filegroup.
type FilegroupPrototype struct {
	original filegroupState
	current  filegroupState
	exists   bool
	removed  bool

	dispatch *dispatcher
}

func newFilegroup(d *dispatcher, name string, kind FilegroupKind) *FilegroupPrototype {
	st := filegroupState{name: name, kind: kind}
	return &FilegroupPrototype{original: st, current: st, dispatch: d}
}

func filegroupFromInfo(d *dispatcher, info FilegroupInfo) *FilegroupPrototype {
	st := filegroupState{
		name:             info.Name,
		kind:             info.Kind,
		readOnly:         info.ReadOnly,
		isDefault:        info.Default,
		autogrowAllFiles: info.AutogrowAllFiles,
	}
	return &FilegroupPrototype{original: st, current: st, exists: true, dispatch: d}
}

func (fg *FilegroupPrototype) Name() string           { return fg.current.name }
func (fg *FilegroupPrototype) Kind() FilegroupKind    { return fg.current.kind }
func (fg *FilegroupPrototype) IsReadOnly() bool       { return fg.current.readOnly }
func (fg *FilegroupPrototype) IsDefault() bool        { return fg.current.isDefault }
func (fg *FilegroupPrototype) AutogrowAllFiles() bool { return fg.current.autogrowAllFiles }
func (fg *FilegroupPrototype) Exists() bool           { return fg.exists }
func (fg *FilegroupPrototype) Removed() bool          { return fg.removed }

// IsPrimary reports whether fg is the PRIMARY filegroup.
func (fg *FilegroupPrototype) IsPrimary() bool {
	return fg.current.kind == RowsFilegroup && strings.EqualFold(fg.current.name, PrimaryFilegroupName)
}

// SetName renames a filegroup that has not been created yet.
func (fg *FilegroupPrototype) SetName(name string) error {
	if fg.exists {
		return fmt.Errorf("filegroup %s: %w", fg.current.name, ErrFilegroupRenameUnsupported)
	}
	if err := validateLogicalName(name); err != nil {
		return err
	}
	if name == fg.current.name {
		return nil
	}
	if fg.dispatch != nil && fg.dispatch.nameTaken != nil && fg.dispatch.nameTaken(fg, name) {
		return fmt.Errorf("filegroup %s: %w", name, ErrAlreadyExists)
	}
	old := fg.current.name
	fg.current.name = name
	fg.original.name = name
	fg.emit(filegroupEvent{kind: eventRenamed, filegroup: fg, oldName: old})
	return nil
}

// SetDefault marks fg as the default of its kind. The owning database
// clears the flag on the previous default. The default moves only by
// marking another filegroup, so clearing it on the current default fails.
func (fg *FilegroupPrototype) SetDefault(isDefault bool) error {
	if !isDefault {
		if fg.current.isDefault {
			return fmt.Errorf("filegroup %s: %w", fg.current.name, ErrDefaultRequired)
		}
		return nil
	}
	fg.current.isDefault = true
	fg.emit(filegroupEvent{kind: eventDefaultChanged, filegroup: fg})
	return nil
}

func (fg *FilegroupPrototype) SetReadOnly(readOnly bool) { fg.current.readOnly = readOnly }

func (fg *FilegroupPrototype) SetAutogrowAllFiles(enabled bool) {
	fg.current.autogrowAllFiles = enabled
}

// ChangesExist reports whether applying fg would touch the engine. Names
// only change before creation, so they are covered by the existence check.
func (fg *FilegroupPrototype) ChangesExist() bool {
	return !fg.exists || fg.removed ||
		fg.original.isDefault != fg.current.isDefault ||
		fg.original.readOnly != fg.current.readOnly ||
		fg.original.autogrowAllFiles != fg.current.autogrowAllFiles
}

// NotifyFileGroupDeleted marks fg removed and tells its member files.
// fallback is the filegroup that pending files move to; it may be nil.
func (fg *FilegroupPrototype) NotifyFileGroupDeleted(fallback *FilegroupPrototype) {
	if fg.exists {
		fg.removed = true
	}
	fg.emit(filegroupEvent{kind: eventDeleted, filegroup: fg, fallback: fallback})
}

func (fg *FilegroupPrototype) emit(ev filegroupEvent) {
	if fg.dispatch != nil {
		fg.dispatch.dispatch(ev)
	}
}

// ApplyChanges writes fg to the database handle. The default flag is
// applied separately by the database once all filegroups exist.
func (fg *FilegroupPrototype) ApplyChanges(db DatabaseHandle, caps CapabilitySet) error {
	if !fg.ChangesExist() {
		return nil
	}
	if fg.removed {
		if fg.exists {
			return fg.drop(db)
		}
		return nil
	}

	var (
		h    FilegroupHandle
		info FilegroupInfo
		err  error
	)
	if fg.exists {
		h, err = db.Filegroup(fg.original.name)
		if err != nil {
			return fmt.Errorf("fetching filegroup %s: %w", fg.original.name, err)
		}
		if h == nil {
			return fmt.Errorf("filegroup %s: %w", fg.original.name, ErrNotFound)
		}
		info, err = h.Info()
		if err != nil {
			return fmt.Errorf("reading filegroup %s: %w", fg.original.name, err)
		}
	} else {
		h, err = db.NewFilegroup(fg.current.name, fg.current.kind)
		if err != nil {
			return fmt.Errorf("preparing filegroup %s: %w", fg.current.name, err)
		}
	}

	written := false
	if fg.current.readOnly != info.ReadOnly {
		h.SetReadOnly(fg.current.readOnly)
		written = true
	}
	if fg.current.kind == RowsFilegroup && caps.Supports(PropAutogrowAllFiles) &&
		fg.current.autogrowAllFiles != info.AutogrowAllFiles {
		h.SetAutogrowAllFiles(fg.current.autogrowAllFiles)
		written = true
	}

	if !fg.exists {
		if err := h.Create(); err != nil {
			return fmt.Errorf("creating filegroup %s: %w", fg.current.name, err)
		}
		return nil
	}
	if written {
		if err := h.Alter(); err != nil {
			return fmt.Errorf("altering filegroup %s: %w", fg.current.name, err)
		}
	}
	return nil
}

func (fg *FilegroupPrototype) drop(db DatabaseHandle) error {
	h, err := db.Filegroup(fg.original.name)
	if err != nil {
		return fmt.Errorf("fetching filegroup %s: %w", fg.original.name, err)
	}
	if h == nil {
		return nil
	}
	if err := h.Drop(); err != nil {
		return fmt.Errorf("dropping filegroup %s: %w", fg.original.name, err)
	}
	return nil
}

// commit makes the current state the original after a successful apply.
func (fg *FilegroupPrototype) commit() {
	fg.original = fg.current
	fg.exists = true
}
