package dbcfg

// Connection is a session with a database engine. It hands out live handles
// and answers capability questions for the engine's version and edition.
type Connection interface {
	// IsSupportedProperty reports whether the engine supports the named
	// optional property.
	IsSupportedProperty(name string) bool

	// ScriptOnly reports whether writes are captured as a script instead of
	// being executed against the engine.
	ScriptOnly() bool

	// ServerVersion returns the engine's version.
	ServerVersion() ServerVersion

	// Database returns a handle for the named database. The handle is
	// returned even when the database does not exist yet; use Exists to tell.
	Database(name string) (DatabaseHandle, error)

	// DefaultDataPath and DefaultLogPath return the engine's default folders
	// for new data and log files.
	DefaultDataPath() (string, error)
	DefaultLogPath() (string, error)

	// FilestreamDirectoryInUse reports whether another database already uses
	// the given FILESTREAM directory name.
	FilestreamDirectoryInUse(name string) (bool, error)
}

// ServerVersion identifies the engine generation and edition.
type ServerVersion struct {
	Major   int
	Minor   int
	Build   int
	Edition string
	Cloud   bool
}

// Termination selects how an alter treats open transactions.
type Termination int

const (
	// FailOnOpenTransactions makes the alter fail if other sessions hold
	// open transactions.
	FailOnOpenTransactions Termination = iota
	// RollbackImmediate rolls back open transactions before the alter.
	RollbackImmediate
)

func (t Termination) String() string {
	if t == RollbackImmediate {
		return "rollback-immediate"
	}
	return "fail-on-open-transactions"
}

// DatabaseHandle is the engine object model for one database. Setters queue
// changes; Create and Alter commit them.
type DatabaseHandle interface {
	Name() string
	Exists() bool

	// State returns the database status as reported by the engine.
	State() (DatabaseStatus, error)

	// Settings returns the engine's current values for the scalar settings.
	Settings() (Settings, error)

	// SetOption queues a scalar setting write.
	SetOption(p Property, value any) error

	Create() error
	Alter(t Termination) error
	Drop() error

	// ActiveConnections returns the number of sessions using the database.
	ActiveConnections() (int, error)

	Filegroups() ([]FilegroupHandle, error)
	// Filegroup returns nil without error if the filegroup does not exist.
	Filegroup(name string) (FilegroupHandle, error)
	NewFilegroup(name string, kind FilegroupKind) (FilegroupHandle, error)

	LogFiles() ([]FileHandle, error)
	// LogFile returns nil without error if the log file does not exist.
	LogFile(name string) (FileHandle, error)
	NewLogFile(name string) (FileHandle, error)

	// DefaultFilegroup returns the name of the default filegroup of the
	// given kind, or "" if there is none.
	DefaultFilegroup(kind FilegroupKind) (string, error)
	SetDefaultFilegroup(kind FilegroupKind, name string) error

	// SetSnapshotIsolation and SetOwner act on an existing database only.
	SetSnapshotIsolation(enabled bool) error
	SetOwner(login string) error
}

// FilegroupInfo is the engine's view of a filegroup.
type FilegroupInfo struct {
	Name             string
	Kind             FilegroupKind
	ReadOnly         bool
	Default          bool
	AutogrowAllFiles bool
}

// FilegroupHandle is the engine object model for one filegroup.
type FilegroupHandle interface {
	Name() string
	Kind() FilegroupKind
	Info() (FilegroupInfo, error)

	SetReadOnly(readOnly bool)
	SetAutogrowAllFiles(enabled bool)

	Create() error
	Alter() error
	Drop() error

	Files() ([]FileHandle, error)
	// File returns nil without error if the file does not exist.
	File(name string) (FileHandle, error)
	NewFile(name string) (FileHandle, error)
}

// GrowthType is the engine's growth mode for a file.
type GrowthType int

const (
	GrowthNone GrowthType = iota
	GrowthPercent
	GrowthKB
)

func (g GrowthType) String() string {
	switch g {
	case GrowthPercent:
		return "percent"
	case GrowthKB:
		return "kb"
	default:
		return "none"
	}
}

// FileInfo is the engine's view of a file. Adapters normalize the engine's
// "unlimited" sentinel into Unrestricted; MaxSizeKB is meaningful only when
// Unrestricted is false.
type FileInfo struct {
	Name         string
	PhysicalName string
	IsPrimary    bool
	SizeKB       float64
	Growth       float64 // percent or KB depending on the growth type
	MaxSizeKB    float64
	Unrestricted bool
}

// FileHandle is the engine object model for one file.
type FileHandle interface {
	Name() string
	Info() (FileInfo, error)
	// GrowthType may fail for log files on some engines.
	GrowthType() (GrowthType, error)

	Rename(newName string) error
	SetPhysicalName(path string)
	SetSizeKB(kb float64)
	// Shrink shrinks the file right away; it does not wait for Alter.
	Shrink(targetKB float64) error
	SetGrowth(t GrowthType, amount float64)
	SetMaxSize(kb float64, unrestricted bool)

	Create() error
	Alter() error
	Drop() error
}
