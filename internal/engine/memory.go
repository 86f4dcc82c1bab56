package engine

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"dbcfg/internal/dbcfg"
)

// ErrDatabaseInUse is returned by the memory engine when an exclusive alter
// meets open sessions without a rollback termination.
var ErrDatabaseInUse = errors.New("database is in use")

// MemoryServer is an in-memory engine. It keeps databases, filegroups and
// files in maps, logs every write in call order and can fail any call on
// request. It backs the "memory" engine type and the tests.
// This implementation is safe for concurrent use.
type MemoryServer struct {
	mu         sync.Mutex
	version    dbcfg.ServerVersion
	supported  map[string]bool // nil means everything is supported
	scriptOnly bool
	script     io.Writer
	dataPath   string
	logPath    string
	databases  map[string]*memDatabase
	calls      []string
	faults     map[string]error
}

type memDatabase struct {
	name        string
	settings    dbcfg.Settings
	state       dbcfg.DatabaseStatus
	filegroups  []*memFilegroup
	logs        []*memFile
	defaults    map[dbcfg.FilegroupKind]string
	connections int
}

type memFilegroup struct {
	name             string
	kind             dbcfg.FilegroupKind
	readOnly         bool
	autogrowAllFiles bool
	files            []*memFile
}

type memFile struct {
	name         string
	physicalName string
	primary      bool
	sizeKB       float64
	growthType   dbcfg.GrowthType
	growth       float64
	maxSizeKB    float64
	unrestricted bool
}

// NewMemoryServer creates a server holding a template "model" database.
func NewMemoryServer() *MemoryServer {
	s := &MemoryServer{
		version:   dbcfg.ServerVersion{Major: 16, Edition: "Developer Edition"},
		dataPath:  "/var/opt/mssql/data",
		logPath:   "/var/opt/mssql/data",
		databases: make(map[string]*memDatabase),
		faults:    make(map[string]error),
	}
	s.databases[key(dbcfg.TemplateDatabase)] = s.seed(dbcfg.TemplateDatabase, "modeldev", "modellog", 8192, 8192)
	return s
}

func key(name string) string { return strings.ToLower(name) }

func (s *MemoryServer) seed(name, dataName, logName string, dataKB, logKB float64) *memDatabase {
	settings := dbcfg.DefaultSettings()
	settings.Collation = "SQL_Latin1_General_CP1_CI_AS"
	settings.Owner = "sa"
	return &memDatabase{
		name:     name,
		settings: settings,
		state:    dbcfg.StatusNormal,
		filegroups: []*memFilegroup{{
			name: dbcfg.PrimaryFilegroupName,
			kind: dbcfg.RowsFilegroup,
			files: []*memFile{{
				name:         dataName,
				physicalName: s.dataPath + "/" + name + ".mdf",
				primary:      true,
				sizeKB:       dataKB,
				growthType:   dbcfg.GrowthKB,
				growth:       65536,
				unrestricted: true,
			}},
		}},
		logs: []*memFile{{
			name:         logName,
			physicalName: s.logPath + "/" + name + "_log.ldf",
			sizeKB:       logKB,
			growthType:   dbcfg.GrowthKB,
			growth:       65536,
			maxSizeKB:    2147483648,
		}},
		defaults: map[dbcfg.FilegroupKind]string{dbcfg.RowsFilegroup: dbcfg.PrimaryFilegroupName},
	}
}

// AddDatabase creates an existing database with a PRIMARY filegroup, a
// primary data file and a log file, bypassing the call log.
func (s *MemoryServer) AddDatabase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.databases[key(name)] = s.seed(name, name, name+"_log", 8192, 8192)
}

// AddFilegroup adds a filegroup with one file to an existing database,
// bypassing the call log.
func (s *MemoryServer) AddFilegroup(database, filegroup string, kind dbcfg.FilegroupKind, files ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[key(database)]
	if !ok {
		return fmt.Errorf("database %s: %w", database, dbcfg.ErrNotFound)
	}
	fg := &memFilegroup{name: filegroup, kind: kind}
	for _, f := range files {
		mf := &memFile{name: f, physicalName: s.dataPath + "/" + f + ".ndf", sizeKB: 8192, growthType: dbcfg.GrowthKB, growth: 65536, unrestricted: true}
		if kind != dbcfg.RowsFilegroup {
			mf = &memFile{name: f, physicalName: s.dataPath + "/" + f, unrestricted: true}
		}
		fg.files = append(fg.files, mf)
	}
	db.filegroups = append(db.filegroups, fg)
	return nil
}

// SetDefaultFilegroup points the default of a kind at a filegroup,
// bypassing the call log.
func (s *MemoryServer) SetDefaultFilegroup(database string, kind dbcfg.FilegroupKind, filegroup string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.databases[key(database)]; ok {
		db.defaults[kind] = filegroup
	}
}

// SetActiveConnections sets the session count reported for a database.
func (s *MemoryServer) SetActiveConnections(database string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.databases[key(database)]; ok {
		db.connections = n
	}
}

// SetSupported restricts the supported properties to props.
func (s *MemoryServer) SetSupported(props ...dbcfg.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supported = make(map[string]bool, len(props))
	for _, p := range props {
		s.supported[string(p)] = true
	}
}

// SetScriptOnly makes writes log without changing state.
func (s *MemoryServer) SetScriptOnly(scriptOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scriptOnly = scriptOnly
}

// SetScript switches script mode on and writes each call key to w as a
// line. A nil writer switches script mode off.
func (s *MemoryServer) SetScript(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = w
	s.scriptOnly = w != nil
}

// Fail makes the call with the given key return err until cleared with a
// nil err. Keys are the strings reported by Calls, plus read keys such as
// "read file model.modeldev".
func (s *MemoryServer) Fail(call string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, call)
		return
	}
	s.faults[call] = err
}

// Calls returns the writes issued so far, in order.
func (s *MemoryServer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// ResetCalls clears the call log.
func (s *MemoryServer) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// write logs a write and returns its injected fault. The lock must be held.
func (s *MemoryServer) write(call string) error {
	s.calls = append(s.calls, call)
	if s.script != nil {
		fmt.Fprintln(s.script, call)
	}
	return s.faults[call]
}

// read returns the injected fault of a read. The lock must be held.
func (s *MemoryServer) read(call string) error {
	return s.faults[call]
}

// Connection interface

func (s *MemoryServer) IsSupportedProperty(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supported == nil || s.supported[name]
}

func (s *MemoryServer) ScriptOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scriptOnly
}

func (s *MemoryServer) ServerVersion() dbcfg.ServerVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *MemoryServer) Database(name string) (dbcfg.DatabaseHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read("open " + name); err != nil {
		return nil, err
	}
	return &memDatabaseHandle{s: s, name: name}, nil
}

func (s *MemoryServer) DefaultDataPath() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read("default data path"); err != nil {
		return "", err
	}
	return s.dataPath, nil
}

func (s *MemoryServer) DefaultLogPath() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read("default log path"); err != nil {
		return "", err
	}
	return s.logPath, nil
}

func (s *MemoryServer) FilestreamDirectoryInUse(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, db := range s.databases {
		if strings.EqualFold(db.settings.FilestreamDirectoryName, name) {
			return true, nil
		}
	}
	return false, nil
}

var _ dbcfg.Connection = (*MemoryServer)(nil)

// memDatabaseHandle queues settings and filegroup/file creations until
// Create or Alter.
type memDatabaseHandle struct {
	s       *MemoryServer
	name    string
	options []pendingOption

	pendingFilegroups []*memFilegroup
	pendingLogs       []*memFile
}

type pendingOption struct {
	prop  dbcfg.Property
	value any
}

// db returns the live database or nil. The lock must be held.
func (h *memDatabaseHandle) db() *memDatabase {
	return h.s.databases[key(h.name)]
}

func (h *memDatabaseHandle) Name() string { return h.name }

func (h *memDatabaseHandle) Exists() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.db() != nil
}

func (h *memDatabaseHandle) State() (dbcfg.DatabaseStatus, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.read("read state " + h.name); err != nil {
		return "", err
	}
	db := h.db()
	if db == nil {
		return dbcfg.StatusNotCreated, nil
	}
	return db.state, nil
}

func (h *memDatabaseHandle) Settings() (dbcfg.Settings, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.read("read settings " + h.name); err != nil {
		return dbcfg.Settings{}, err
	}
	db := h.db()
	if db == nil {
		return dbcfg.Settings{}, fmt.Errorf("database %s: %w", h.name, dbcfg.ErrNotFound)
	}
	return db.settings, nil
}

func (h *memDatabaseHandle) SetOption(p dbcfg.Property, value any) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.write(fmt.Sprintf("set option %s.%s", h.name, p)); err != nil {
		return err
	}
	h.options = append(h.options, pendingOption{prop: p, value: value})
	return nil
}

func (h *memDatabaseHandle) Create() error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.write("create database " + h.name); err != nil {
		return err
	}
	if h.s.scriptOnly {
		h.options = nil
		return nil
	}
	if h.db() != nil {
		return fmt.Errorf("database %s: %w", h.name, dbcfg.ErrAlreadyExists)
	}
	db := &memDatabase{
		name:     h.name,
		settings: h.s.databases[key(dbcfg.TemplateDatabase)].settings,
		state:    dbcfg.StatusNormal,
		defaults: map[dbcfg.FilegroupKind]string{dbcfg.RowsFilegroup: dbcfg.PrimaryFilegroupName},
	}
	db.settings.Owner = "dbcfg"
	db.filegroups = h.pendingFilegroups
	db.logs = h.pendingLogs
	if err := applyOptions(&db.settings, h.options); err != nil {
		return err
	}
	h.options, h.pendingFilegroups, h.pendingLogs = nil, nil, nil
	h.s.databases[key(h.name)] = db
	return nil
}

func applyOptions(s *dbcfg.Settings, opts []pendingOption) error {
	for _, o := range opts {
		if err := s.Set(o.prop, o.value); err != nil {
			return err
		}
	}
	return nil
}

func (h *memDatabaseHandle) Alter(t dbcfg.Termination) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.write(fmt.Sprintf("alter database %s %s", h.name, t)); err != nil {
		return err
	}
	if h.s.scriptOnly {
		h.options = nil
		return nil
	}
	db := h.db()
	if db == nil {
		return fmt.Errorf("database %s: %w", h.name, dbcfg.ErrNotFound)
	}
	exclusive := slices.ContainsFunc(h.options, func(o pendingOption) bool { return dbcfg.IsExclusive(o.prop) })
	if exclusive && db.connections > 0 && t != dbcfg.RollbackImmediate {
		return fmt.Errorf("database %s: %w", h.name, ErrDatabaseInUse)
	}
	if err := applyOptions(&db.settings, h.options); err != nil {
		return err
	}
	h.options = nil
	return nil
}

func (h *memDatabaseHandle) Drop() error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.write("drop database " + h.name); err != nil {
		return err
	}
	if !h.s.scriptOnly {
		delete(h.s.databases, key(h.name))
	}
	return nil
}

func (h *memDatabaseHandle) ActiveConnections() (int, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.read("count connections " + h.name); err != nil {
		return 0, err
	}
	if db := h.db(); db != nil {
		return db.connections, nil
	}
	return 0, nil
}

// filegroups returns the live filegroups, or the pending ones of a database
// that is not created yet. The lock must be held.
func (h *memDatabaseHandle) filegroups() []*memFilegroup {
	if db := h.db(); db != nil {
		return append(slices.Clone(db.filegroups), h.pendingFilegroups...)
	}
	return h.pendingFilegroups
}

func (h *memDatabaseHandle) logs() []*memFile {
	if db := h.db(); db != nil {
		return db.logs
	}
	return h.pendingLogs
}

func (h *memDatabaseHandle) Filegroups() ([]dbcfg.FilegroupHandle, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.read("list filegroups " + h.name); err != nil {
		return nil, err
	}
	var out []dbcfg.FilegroupHandle
	for _, fg := range h.filegroups() {
		out = append(out, &memFilegroupHandle{db: h, fg: fg, exists: true})
	}
	return out, nil
}

func (h *memDatabaseHandle) Filegroup(name string) (dbcfg.FilegroupHandle, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.read(fmt.Sprintf("read filegroup %s.%s", h.name, name)); err != nil {
		return nil, err
	}
	for _, fg := range h.filegroups() {
		if strings.EqualFold(fg.name, name) {
			return &memFilegroupHandle{db: h, fg: fg, exists: true}, nil
		}
	}
	return nil, nil
}

func (h *memDatabaseHandle) NewFilegroup(name string, kind dbcfg.FilegroupKind) (dbcfg.FilegroupHandle, error) {
	return &memFilegroupHandle{db: h, fg: &memFilegroup{name: name, kind: kind}}, nil
}

func (h *memDatabaseHandle) LogFiles() ([]dbcfg.FileHandle, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.read("list log files " + h.name); err != nil {
		return nil, err
	}
	var out []dbcfg.FileHandle
	for _, f := range h.logs() {
		out = append(out, h.fileHandle(f, nil))
	}
	return out, nil
}

func (h *memDatabaseHandle) LogFile(name string) (dbcfg.FileHandle, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	for _, f := range h.logs() {
		if strings.EqualFold(f.name, name) {
			return h.fileHandle(f, nil), nil
		}
	}
	return nil, nil
}

func (h *memDatabaseHandle) NewLogFile(name string) (dbcfg.FileHandle, error) {
	return &memFileHandle{db: h, staged: memFile{name: name}}, nil
}

func (h *memDatabaseHandle) fileHandle(f *memFile, fg *memFilegroup) *memFileHandle {
	return &memFileHandle{db: h, fg: fg, live: f, staged: *f}
}

func (h *memDatabaseHandle) DefaultFilegroup(kind dbcfg.FilegroupKind) (string, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if db := h.db(); db != nil {
		return db.defaults[kind], nil
	}
	return "", nil
}

func (h *memDatabaseHandle) SetDefaultFilegroup(kind dbcfg.FilegroupKind, name string) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.write(fmt.Sprintf("set default %s.%s %s", h.name, kind, name)); err != nil {
		return err
	}
	if h.s.scriptOnly {
		return nil
	}
	db := h.db()
	if db == nil {
		return fmt.Errorf("database %s: %w", h.name, dbcfg.ErrNotFound)
	}
	db.defaults[kind] = name
	return nil
}

func (h *memDatabaseHandle) SetSnapshotIsolation(enabled bool) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.write("set snapshot isolation " + h.name); err != nil {
		return err
	}
	if db := h.db(); db != nil && !h.s.scriptOnly {
		db.settings.AllowSnapshotIsolation = enabled
	}
	return nil
}

func (h *memDatabaseHandle) SetOwner(login string) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.write("set owner " + h.name); err != nil {
		return err
	}
	if db := h.db(); db != nil && !h.s.scriptOnly {
		db.settings.Owner = login
	}
	return nil
}

var _ dbcfg.DatabaseHandle = (*memDatabaseHandle)(nil)

type memFilegroupHandle struct {
	db     *memDatabaseHandle
	fg     *memFilegroup
	exists bool

	readOnly         *bool
	autogrowAllFiles *bool
}

func (h *memFilegroupHandle) Name() string               { return h.fg.name }
func (h *memFilegroupHandle) Kind() dbcfg.FilegroupKind  { return h.fg.kind }
func (h *memFilegroupHandle) SetReadOnly(v bool)         { h.readOnly = &v }
func (h *memFilegroupHandle) SetAutogrowAllFiles(v bool) { h.autogrowAllFiles = &v }

func (h *memFilegroupHandle) Info() (dbcfg.FilegroupInfo, error) {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read(fmt.Sprintf("read filegroup info %s.%s", h.db.name, h.fg.name)); err != nil {
		return dbcfg.FilegroupInfo{}, err
	}
	isDefault := false
	if db := h.db.db(); db != nil {
		isDefault = strings.EqualFold(db.defaults[h.fg.kind], h.fg.name)
	}
	return dbcfg.FilegroupInfo{
		Name:             h.fg.name,
		Kind:             h.fg.kind,
		ReadOnly:         h.fg.readOnly,
		Default:          isDefault,
		AutogrowAllFiles: h.fg.autogrowAllFiles,
	}, nil
}

func (h *memFilegroupHandle) applyStaged() {
	if h.readOnly != nil {
		h.fg.readOnly = *h.readOnly
	}
	if h.autogrowAllFiles != nil {
		h.fg.autogrowAllFiles = *h.autogrowAllFiles
	}
	h.readOnly, h.autogrowAllFiles = nil, nil
}

func (h *memFilegroupHandle) Create() error {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(fmt.Sprintf("create filegroup %s.%s", h.db.name, h.fg.name)); err != nil {
		return err
	}
	// In script-only mode the filegroup stays on the handle so that files
	// created in it later in the same run can find it.
	h.applyStaged()
	if db := h.db.db(); db != nil && !s.scriptOnly {
		db.filegroups = append(db.filegroups, h.fg)
	} else {
		h.db.pendingFilegroups = append(h.db.pendingFilegroups, h.fg)
	}
	h.exists = true
	return nil
}

func (h *memFilegroupHandle) Alter() error {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(fmt.Sprintf("alter filegroup %s.%s", h.db.name, h.fg.name)); err != nil {
		return err
	}
	if !s.scriptOnly {
		h.applyStaged()
	}
	return nil
}

// Drop removes the filegroup together with its files.
func (h *memFilegroupHandle) Drop() error {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(fmt.Sprintf("drop filegroup %s.%s", h.db.name, h.fg.name)); err != nil {
		return err
	}
	if s.scriptOnly {
		return nil
	}
	db := h.db.db()
	if db == nil {
		return fmt.Errorf("database %s: %w", h.db.name, dbcfg.ErrNotFound)
	}
	if h.fg.kind == dbcfg.RowsFilegroup && strings.EqualFold(db.defaults[h.fg.kind], h.fg.name) {
		return fmt.Errorf("filegroup %s is the default filegroup and cannot be removed", h.fg.name)
	}
	if strings.EqualFold(db.defaults[h.fg.kind], h.fg.name) {
		delete(db.defaults, h.fg.kind)
	}
	db.filegroups = slices.DeleteFunc(db.filegroups, func(fg *memFilegroup) bool { return fg == h.fg })
	return nil
}

func (h *memFilegroupHandle) Files() ([]dbcfg.FileHandle, error) {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dbcfg.FileHandle
	for _, f := range h.fg.files {
		out = append(out, h.db.fileHandle(f, h.fg))
	}
	return out, nil
}

func (h *memFilegroupHandle) File(name string) (dbcfg.FileHandle, error) {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range h.fg.files {
		if strings.EqualFold(f.name, name) {
			return h.db.fileHandle(f, h.fg), nil
		}
	}
	return nil, nil
}

func (h *memFilegroupHandle) NewFile(name string) (dbcfg.FileHandle, error) {
	return &memFileHandle{db: h.db, fg: h.fg, staged: memFile{name: name}}, nil
}

var _ dbcfg.FilegroupHandle = (*memFilegroupHandle)(nil)

// memFileHandle edits a staged copy of a file; Create and Alter publish it.
type memFileHandle struct {
	db     *memDatabaseHandle
	fg     *memFilegroup // nil for log files
	live   *memFile      // nil until created
	staged memFile
}

func (h *memFileHandle) Name() string { return h.staged.name }

// path identifies the file in call keys.
func (h *memFileHandle) path() string {
	name := h.staged.name
	if h.live != nil {
		name = h.live.name
	}
	return h.db.name + "." + name
}

func (h *memFileHandle) Info() (dbcfg.FileInfo, error) {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read("read file " + h.path()); err != nil {
		return dbcfg.FileInfo{}, err
	}
	f := h.staged
	if h.live != nil {
		f = *h.live
	}
	return dbcfg.FileInfo{
		Name:         f.name,
		PhysicalName: f.physicalName,
		IsPrimary:    f.primary,
		SizeKB:       f.sizeKB,
		Growth:       f.growth,
		MaxSizeKB:    f.maxSizeKB,
		Unrestricted: f.unrestricted || f.maxSizeKB <= 0,
	}, nil
}

func (h *memFileHandle) GrowthType() (dbcfg.GrowthType, error) {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read("read growth " + h.path()); err != nil {
		return dbcfg.GrowthNone, err
	}
	if h.live != nil {
		return h.live.growthType, nil
	}
	return h.staged.growthType, nil
}

func (h *memFileHandle) Rename(newName string) error {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(fmt.Sprintf("rename file %s to %s", h.path(), newName)); err != nil {
		return err
	}
	h.staged.name = newName
	return nil
}

func (h *memFileHandle) SetPhysicalName(path string) { h.staged.physicalName = path }
func (h *memFileHandle) SetSizeKB(kb float64)         { h.staged.sizeKB = kb }

func (h *memFileHandle) SetGrowth(t dbcfg.GrowthType, amount float64) {
	h.staged.growthType = t
	h.staged.growth = amount
}

func (h *memFileHandle) SetMaxSize(kb float64, unrestricted bool) {
	h.staged.maxSizeKB = kb
	h.staged.unrestricted = unrestricted
}

func (h *memFileHandle) Shrink(targetKB float64) error {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("shrink file " + h.path()); err != nil {
		return err
	}
	if h.live != nil && !s.scriptOnly {
		h.live.sizeKB = targetKB
		h.staged.sizeKB = targetKB
	}
	return nil
}

func (h *memFileHandle) Create() error {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("create file " + h.path()); err != nil {
		return err
	}
	if s.scriptOnly {
		return nil
	}
	f := h.staged
	h.live = &f
	if h.fg != nil {
		f.primary = strings.EqualFold(h.fg.name, dbcfg.PrimaryFilegroupName) && len(h.fg.files) == 0
		h.fg.files = append(h.fg.files, h.live)
		return nil
	}
	if db := h.db.db(); db != nil {
		db.logs = append(db.logs, h.live)
	} else {
		h.db.pendingLogs = append(h.db.pendingLogs, h.live)
	}
	return nil
}

func (h *memFileHandle) Alter() error {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("alter file " + h.path()); err != nil {
		return err
	}
	if s.scriptOnly || h.live == nil {
		return nil
	}
	*h.live = h.staged
	return nil
}

func (h *memFileHandle) Drop() error {
	s := h.db.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("drop file " + h.path()); err != nil {
		return err
	}
	if s.scriptOnly || h.live == nil {
		return nil
	}
	if h.fg != nil {
		h.fg.files = slices.DeleteFunc(h.fg.files, func(f *memFile) bool { return f == h.live })
		return nil
	}
	if db := h.db.db(); db != nil {
		db.logs = slices.DeleteFunc(db.logs, func(f *memFile) bool { return f == h.live })
	}
	return nil
}

var _ dbcfg.FileHandle = (*memFileHandle)(nil)
