package dbcfg

import (
	"fmt"
	"strings"
	"unicode"
)

// FileKind is the kind of a database file.
type FileKind int

const (
	DataFile FileKind = iota
	LogFile
	FileStreamFile
)

func (k FileKind) String() string {
	switch k {
	case LogFile:
		return "log"
	case FileStreamFile:
		return "filestream"
	default:
		return "data"
	}
}

// ParseFileKind is the inverse of FileKind.String. An empty string means
// data.
func ParseFileKind(s string) (FileKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "data", "rows":
		return DataFile, nil
	case "log":
		return LogFile, nil
	case "filestream", "stream":
		return FileStreamFile, nil
	}
	return 0, fmt.Errorf("unknown file kind %q", s)
}

// fileKindFor returns the kind of file a filegroup holds.
func fileKindFor(k FilegroupKind) FileKind {
	if k == RowsFilegroup {
		return DataFile
	}
	return FileStreamFile
}

const reservedPathChars = `\/:*?"<>|`

func validateLogicalName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &InvalidNameError{Name: name, Reason: "name must not be blank"}
	}
	return nil
}

func validatePhysicalName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &InvalidNameError{Name: name, Reason: "name must not be blank"}
	}
	for _, r := range name {
		if strings.ContainsRune(reservedPathChars, r) || unicode.IsControl(r) {
			return &InvalidNameError{Name: name, Char: r}
		}
	}
	return nil
}

type fileState struct {
	name         string
	physicalName string // empty means derived from name
	folder       string
	kind         FileKind
	sizeKB       float64
	growth       AutogrowthPolicy
	filegroup    *FilegroupPrototype
	primary      bool
}

// FilePrototype is the desired state of one data, log or FILESTREAM file.
type FilePrototype struct {
	original fileState
	current  fileState
	exists   bool
	removed  bool

	dispatch *dispatcher
}

// newFile builds a pending file seeded with the template defaults of its
// kind.
func newFile(d *dispatcher, name string, kind FileKind, fg *FilegroupPrototype, def fileDefaults) *FilePrototype {
	st := fileState{
		name:      name,
		folder:    def.folder,
		kind:      kind,
		sizeKB:    def.sizeKB,
		growth:    def.growth,
		filegroup: fg,
	}
	f := &FilePrototype{original: st, current: st, dispatch: d}
	d.subscribe(fg, f)
	return f
}

func fileFromDataHandle(d *dispatcher, fh FileHandle, fg *FilegroupPrototype) (*FilePrototype, error) {
	info, err := fh.Info()
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", fh.Name(), err)
	}
	kind := fileKindFor(fg.Kind())
	var growth AutogrowthPolicy
	if kind != FileStreamFile {
		growth, err = NewDataFileAutogrowth(fh)
		if err != nil {
			return nil, err
		}
	}
	st := stateFromInfo(info, kind, growth)
	st.filegroup = fg
	f := &FilePrototype{original: st, current: st, exists: true, dispatch: d}
	d.subscribe(fg, f)
	return f, nil
}

func fileFromLogHandle(d *dispatcher, fh FileHandle) (*FilePrototype, error) {
	info, err := fh.Info()
	if err != nil {
		return nil, fmt.Errorf("reading log file %s: %w", fh.Name(), err)
	}
	growth, err := NewLogFileAutogrowth(fh)
	if err != nil {
		return nil, err
	}
	st := stateFromInfo(info, LogFile, growth)
	return &FilePrototype{original: st, current: st, exists: true, dispatch: d}, nil
}

func stateFromInfo(info FileInfo, kind FileKind, growth AutogrowthPolicy) fileState {
	folder, file := splitPath(info.PhysicalName)
	st := fileState{
		name:    info.Name,
		folder:  folder,
		kind:    kind,
		sizeKB:  info.SizeKB,
		growth:  growth,
		primary: info.IsPrimary,
	}
	if file != derivedFileName(info.Name, kind, info.IsPrimary) {
		st.physicalName = file
	}
	return st
}

// splitPath splits a physical path on its last separator of either style.
func splitPath(p string) (folder, file string) {
	i := strings.LastIndexAny(p, `\/`)
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

func derivedFileName(name string, kind FileKind, primary bool) string {
	switch {
	case kind == LogFile:
		return name + ".ldf"
	case kind == FileStreamFile:
		return name
	case primary:
		return name + ".mdf"
	default:
		return name + ".ndf"
	}
}

func (f *FilePrototype) Name() string                  { return f.current.name }
func (f *FilePrototype) Kind() FileKind                { return f.current.kind }
func (f *FilePrototype) Folder() string                { return f.current.folder }
func (f *FilePrototype) SizeKB() float64               { return f.current.sizeKB }
func (f *FilePrototype) SizeMB() float64               { return KBToMB(f.current.sizeKB) }
func (f *FilePrototype) Autogrowth() AutogrowthPolicy  { return f.current.growth }
func (f *FilePrototype) Filegroup() *FilegroupPrototype { return f.current.filegroup }
func (f *FilePrototype) IsPrimary() bool               { return f.current.primary }
func (f *FilePrototype) Exists() bool                  { return f.exists }
func (f *FilePrototype) Removed() bool                 { return f.removed }

// PhysicalFileName returns the on-disk file name: the explicit physical
// name if one was set, otherwise the logical name plus the kind's suffix.
func (f *FilePrototype) PhysicalFileName() string {
	if f.current.physicalName != "" {
		return f.current.physicalName
	}
	return derivedFileName(f.current.name, f.current.kind, f.current.primary)
}

// FullPath joins the folder and PhysicalFileName using the folder's own
// separator style.
func (f *FilePrototype) FullPath() string {
	return joinPath(f.current.folder, f.PhysicalFileName())
}

func joinPath(folder, file string) string {
	if folder == "" {
		return file
	}
	sep := "/"
	if strings.Contains(folder, `\`) && !strings.Contains(folder, "/") {
		sep = `\`
	}
	if strings.HasSuffix(folder, sep) {
		return folder + file
	}
	return folder + sep + file
}

// SetName sets the logical name. An existing file is renamed on apply and
// keeps its on-disk name.
func (f *FilePrototype) SetName(name string) error {
	if err := validateLogicalName(name); err != nil {
		return err
	}
	if name == f.current.name {
		return nil
	}
	if f.dispatch != nil && f.dispatch.fileNameTaken != nil && f.dispatch.fileNameTaken(f, name) {
		return fmt.Errorf("file %s: %w", name, ErrAlreadyExists)
	}
	if f.exists && f.original.physicalName == "" {
		pinned := derivedFileName(f.original.name, f.original.kind, f.original.primary)
		f.original.physicalName = pinned
		f.current.physicalName = pinned
	}
	f.current.name = name
	return nil
}

// SetPhysicalName overrides the derived on-disk file name of a pending
// file. On an existing file only its current name is accepted.
func (f *FilePrototype) SetPhysicalName(name string) error {
	if f.exists {
		if name != "" && name != f.PhysicalFileName() {
			return fmt.Errorf("file %s: physical name %s: %w", f.current.name, name, ErrPathImmutable)
		}
		return nil
	}
	if name == "" {
		f.current.physicalName = ""
		return nil
	}
	if err := validatePhysicalName(name); err != nil {
		return err
	}
	if name == derivedFileName(f.current.name, f.current.kind, f.current.primary) {
		name = ""
	}
	f.current.physicalName = name
	return nil
}

// ExplicitPhysicalName returns the physical name set with SetPhysicalName,
// or "" when the name is derived.
func (f *FilePrototype) ExplicitPhysicalName() string { return f.current.physicalName }

func (f *FilePrototype) SetFolder(folder string) error {
	if strings.TrimSpace(folder) == "" {
		return &InvalidNameError{Name: folder, Reason: "folder must not be blank"}
	}
	if f.exists {
		if folder != f.current.folder {
			return fmt.Errorf("file %s: folder %s: %w", f.current.name, folder, ErrPathImmutable)
		}
		return nil
	}
	f.current.folder = folder
	return nil
}

func (f *FilePrototype) SetSizeKB(kb float64) error {
	if kb < 0 {
		return fmt.Errorf("file %s: size must not be negative, got %g KB", f.current.name, kb)
	}
	f.current.sizeKB = kb
	return nil
}

func (f *FilePrototype) SetSizeMB(mb float64) error {
	return f.SetSizeKB(MBToKB(mb))
}

func (f *FilePrototype) SetAutogrowth(p AutogrowthPolicy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("file %s: %w", f.current.name, err)
	}
	f.current.growth = p
	return nil
}

// SetFilegroup moves a pending file to another filegroup of a matching
// kind.
func (f *FilePrototype) SetFilegroup(fg *FilegroupPrototype) error {
	if f.current.kind == LogFile {
		return fmt.Errorf("log file %s cannot belong to a filegroup", f.current.name)
	}
	if f.exists {
		return fmt.Errorf("file %s: moving an existing file between filegroups: %w", f.current.name, ErrUnsupported)
	}
	if fg == nil || fileKindFor(fg.Kind()) != f.current.kind {
		return fmt.Errorf("file %s: filegroup kind does not match file kind %s", f.current.name, f.current.kind)
	}
	f.dispatch.unsubscribe(f.current.filegroup, f)
	f.current.filegroup = fg
	f.dispatch.subscribe(fg, f)
	return nil
}

// ChangesExist reports whether applying f would touch the engine.
func (f *FilePrototype) ChangesExist() bool {
	o, c := f.original, f.current
	return !f.exists || f.removed ||
		o.kind != c.kind ||
		o.filegroup != c.filegroup ||
		o.primary != c.primary ||
		differs(o.sizeKB, c.sizeKB) ||
		!o.growth.HasSameValueAs(c.growth) ||
		o.name != c.name
}

// filegroupDeleted handles the removal of the file's filegroup. An existing
// file goes with it; a pending one moves to the fallback or is dropped.
func (f *FilePrototype) filegroupDeleted(ev filegroupEvent) cascadeResult {
	f.dispatch.unsubscribe(ev.filegroup, f)
	if f.exists {
		f.removed = true
		return cascadeRemoved
	}
	if ev.fallback == nil || ev.fallback.Kind() != ev.filegroup.Kind() {
		return cascadeDiscarded
	}
	f.current.filegroup = ev.fallback
	f.original.filegroup = ev.fallback
	f.dispatch.subscribe(ev.fallback, f)
	return cascadeReassigned
}

// ApplyChanges writes f to the database handle.
func (f *FilePrototype) ApplyChanges(db DatabaseHandle) error {
	if !f.ChangesExist() {
		return nil
	}
	if f.removed {
		return f.drop(db)
	}

	var (
		fh      FileHandle
		renamed bool
		err     error
	)
	switch f.current.kind {
	case LogFile:
		fh, renamed, err = f.resolveLog(db)
	default:
		fh, renamed, err = f.resolveInFilegroup(db)
	}
	if err != nil {
		return err
	}

	if f.current.kind == FileStreamFile {
		return f.applyStream(fh, renamed)
	}
	return f.applyStorage(fh, renamed)
}

func (f *FilePrototype) resolveLog(db DatabaseHandle) (FileHandle, bool, error) {
	if !f.exists {
		fh, err := db.NewLogFile(f.current.name)
		if err != nil {
			return nil, false, fmt.Errorf("preparing log file %s: %w", f.current.name, err)
		}
		return fh, false, nil
	}
	fh, err := db.LogFile(f.original.name)
	if err != nil {
		return nil, false, fmt.Errorf("fetching log file %s: %w", f.original.name, err)
	}
	if fh == nil {
		return nil, false, fmt.Errorf("log file %s: %w", f.original.name, ErrNotFound)
	}
	renamed, err := f.rename(fh)
	return fh, renamed, err
}

func (f *FilePrototype) resolveInFilegroup(db DatabaseHandle) (FileHandle, bool, error) {
	fg := f.current.filegroup
	if fg == nil {
		return nil, false, fmt.Errorf("file %s has no filegroup", f.current.name)
	}
	fgh, err := db.Filegroup(fg.Name())
	if err != nil {
		return nil, false, fmt.Errorf("fetching filegroup %s: %w", fg.Name(), err)
	}
	if fgh == nil {
		return nil, false, fmt.Errorf("filegroup %s: %w", fg.Name(), ErrNotFound)
	}
	if !f.exists {
		fh, err := fgh.NewFile(f.current.name)
		if err != nil {
			return nil, false, fmt.Errorf("preparing file %s: %w", f.current.name, err)
		}
		return fh, false, nil
	}
	fh, err := fgh.File(f.original.name)
	if err != nil {
		return nil, false, fmt.Errorf("fetching file %s: %w", f.original.name, err)
	}
	if fh == nil {
		return nil, false, fmt.Errorf("file %s: %w", f.original.name, ErrNotFound)
	}
	renamed, err := f.rename(fh)
	return fh, renamed, err
}

func (f *FilePrototype) rename(fh FileHandle) (bool, error) {
	if f.current.name == f.original.name {
		return false, nil
	}
	if err := fh.Rename(f.current.name); err != nil {
		return false, fmt.Errorf("renaming file %s to %s: %w", f.original.name, f.current.name, err)
	}
	return true, nil
}

func (f *FilePrototype) applyStream(fh FileHandle, renamed bool) error {
	if !f.exists {
		fh.SetPhysicalName(f.FullPath())
		if err := fh.Create(); err != nil {
			return fmt.Errorf("creating file %s: %w", f.current.name, err)
		}
		return nil
	}
	if renamed {
		if err := fh.Alter(); err != nil {
			return fmt.Errorf("altering file %s: %w", f.current.name, err)
		}
	}
	return nil
}

// applyStorage writes path, size and growth of a data or log file.
func (f *FilePrototype) applyStorage(fh FileHandle, renamed bool) error {
	cur := f.current
	if !f.exists {
		fh.SetPhysicalName(f.FullPath())
		fh.SetSizeKB(cur.sizeKB)
		fh.SetGrowth(cur.growth.GrowthType(), cur.growth.amount())
		maxKB := cur.growth.capKB()
		fh.SetMaxSize(maxKB, maxKB == 0)
		if err := fh.Create(); err != nil {
			return fmt.Errorf("creating file %s: %w", cur.name, err)
		}
		return nil
	}

	info, err := fh.Info()
	if err != nil {
		return fmt.Errorf("reading file %s: %w", f.original.name, err)
	}
	written := renamed

	orig := f.original
	switch {
	case cur.sizeKB-orig.sizeKB > Tolerance && cur.sizeKB-info.SizeKB > Tolerance:
		fh.SetSizeKB(cur.sizeKB)
		written = true
	case orig.sizeKB-cur.sizeKB > Tolerance && info.SizeKB-cur.sizeKB > Tolerance:
		if err := fh.Shrink(cur.sizeKB); err != nil {
			return fmt.Errorf("shrinking file %s: %w", cur.name, err)
		}
	}

	serverType, err := fh.GrowthType()
	if err != nil {
		if cur.kind != LogFile {
			return fmt.Errorf("reading growth type of %s: %w", cur.name, err)
		}
		serverType = GrowthNone
	}
	serverAmount := info.Growth
	if serverType == GrowthNone {
		serverAmount = 0
	}
	serverCap := info.MaxSizeKB
	if info.Unrestricted || serverCap <= 0 {
		serverCap = 0
	}

	newType, origType := cur.growth.GrowthType(), orig.growth.GrowthType()
	newAmount, origAmount := cur.growth.amount(), orig.growth.amount()
	typeChanged := newType != origType && newType != serverType
	amountChanged := differs(newAmount, origAmount) && differs(newAmount, serverAmount)
	if typeChanged || amountChanged {
		fh.SetGrowth(newType, newAmount)
		written = true
	}
	newCap, origCap := cur.growth.capKB(), orig.growth.capKB()
	if differs(newCap, origCap) && differs(newCap, serverCap) {
		fh.SetMaxSize(newCap, newCap == 0)
		written = true
	}

	if written {
		if err := fh.Alter(); err != nil {
			return fmt.Errorf("altering file %s: %w", cur.name, err)
		}
	}
	return nil
}

// drop removes the file unless the engine already dropped it along with
// its filegroup.
func (f *FilePrototype) drop(db DatabaseHandle) error {
	var (
		fh  FileHandle
		err error
	)
	if f.original.kind == LogFile {
		fh, err = db.LogFile(f.original.name)
	} else {
		fg := f.original.filegroup
		if fg == nil {
			return nil
		}
		var fgh FilegroupHandle
		fgh, err = db.Filegroup(fg.original.name)
		if err != nil {
			return fmt.Errorf("fetching filegroup %s: %w", fg.original.name, err)
		}
		if fgh == nil {
			return nil
		}
		fh, err = fgh.File(f.original.name)
	}
	if err != nil {
		return fmt.Errorf("fetching file %s: %w", f.original.name, err)
	}
	if fh == nil {
		return nil
	}
	if err := fh.Drop(); err != nil {
		return fmt.Errorf("dropping file %s: %w", f.original.name, err)
	}
	return nil
}

func (f *FilePrototype) commit() {
	f.original = f.current
	f.exists = true
}
