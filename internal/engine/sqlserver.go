package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	"dbcfg/internal/dbcfg"
)

// SQLServerConfig holds the connection settings for a SQL Server instance.
type SQLServerConfig struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	Encrypt                bool
	TrustServerCertificate bool
	// Timeout bounds each statement. Zero means 30 seconds.
	Timeout time.Duration
}

// DSN returns the go-mssqldb connection URL for the config. It always
// connects to master; databases are addressed by name in each statement.
func (c SQLServerConfig) DSN() string {
	port := c.Port
	if port == 0 {
		port = 1433
	}
	q := url.Values{}
	q.Set("database", "master")
	q.Set("app name", "dbcfg")
	if c.Encrypt {
		q.Set("encrypt", "true")
		if c.TrustServerCertificate {
			q.Set("trustservercertificate", "true")
		}
	} else {
		q.Set("encrypt", "disable")
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// SQLServer is a Connection to a live SQL Server or Azure SQL instance.
// In script mode every write is written to the script instead of being
// executed; reads still go to the server.
type SQLServer struct {
	db      *sql.DB
	timeout time.Duration
	version dbcfg.ServerVersion
	caps    map[dbcfg.Property]bool

	mu     sync.Mutex
	script io.Writer
}

// OpenSQLServer connects, verifies the connection and reads the server
// version.
func OpenSQLServer(cfg SQLServerConfig) (*SQLServer, error) {
	db, err := sql.Open("sqlserver", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s := &SQLServer{db: db, timeout: timeout}

	ctx, cancel := s.context()
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", mapError(err))
	}
	if err := s.readVersion(); err != nil {
		db.Close()
		return nil, err
	}
	s.caps = capabilitiesFor(s.version)
	return s, nil
}

// Close closes the underlying connection pool.
func (s *SQLServer) Close() error {
	return s.db.Close()
}

// SetScript switches the connection to script mode, writing every change
// statement to w. A nil writer switches back to executing.
func (s *SQLServer) SetScript(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = w
}

func (s *SQLServer) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *SQLServer) readVersion() error {
	ctx, cancel := s.context()
	defer cancel()
	var product, edition string
	var engineEdition int
	err := s.db.QueryRowContext(ctx, `SELECT
		CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128)),
		CAST(SERVERPROPERTY('Edition') AS nvarchar(128)),
		CAST(SERVERPROPERTY('EngineEdition') AS int)`).Scan(&product, &edition, &engineEdition)
	if err != nil {
		return fmt.Errorf("failed to get server version: %w", mapError(err))
	}
	v, err := parseProductVersion(product)
	if err != nil {
		return err
	}
	v.Edition = edition
	v.Cloud = engineEdition == engineEditionAzureSQL
	s.version = v
	return nil
}

// parseProductVersion parses "16.0.4135.4" style versions.
func parseProductVersion(product string) (dbcfg.ServerVersion, error) {
	parts := strings.Split(product, ".")
	if len(parts) < 2 {
		return dbcfg.ServerVersion{}, fmt.Errorf("unexpected product version %q", product)
	}
	nums := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return dbcfg.ServerVersion{}, fmt.Errorf("unexpected product version %q: %w", product, err)
		}
		nums[i] = n
	}
	return dbcfg.ServerVersion{Major: nums[0], Minor: nums[1], Build: nums[2]}, nil
}

// exec runs a change statement, or writes it to the script.
func (s *SQLServer) exec(stmt string) error {
	s.mu.Lock()
	w := s.script
	s.mu.Unlock()
	if w != nil {
		_, err := fmt.Fprintf(w, "%s\nGO\n\n", stmt)
		return err
	}
	ctx, cancel := s.context()
	defer cancel()
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", firstLine(stmt), mapError(err))
	}
	return nil
}

func (s *SQLServer) queryRow(dest []any, query string, args ...any) error {
	ctx, cancel := s.context()
	defer cancel()
	return mapError(s.db.QueryRowContext(ctx, query, args...).Scan(dest...))
}

func (s *SQLServer) query(scan func(*sql.Rows) error, query string, args ...any) error {
	ctx, cancel := s.context()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return mapError(rows.Err())
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}

func (s *SQLServer) IsSupportedProperty(name string) bool {
	return s.caps[dbcfg.Property(name)]
}

func (s *SQLServer) ScriptOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.script != nil
}

func (s *SQLServer) ServerVersion() dbcfg.ServerVersion { return s.version }

func (s *SQLServer) Database(name string) (dbcfg.DatabaseHandle, error) {
	var n int
	if err := s.queryRow([]any{&n}, `SELECT COUNT(*) FROM sys.databases WHERE name = @p1`, name); err != nil {
		return nil, fmt.Errorf("looking up database %s: %w", name, err)
	}
	return &sqlDatabaseHandle{s: s, name: name, exists: n > 0}, nil
}

func (s *SQLServer) DefaultDataPath() (string, error) {
	return s.serverPath("InstanceDefaultDataPath")
}

func (s *SQLServer) DefaultLogPath() (string, error) {
	return s.serverPath("InstanceDefaultLogPath")
}

func (s *SQLServer) serverPath(property string) (string, error) {
	if s.version.Cloud {
		return "", nil
	}
	var path sql.NullString
	err := s.queryRow([]any{&path}, `SELECT CAST(SERVERPROPERTY(@p1) AS nvarchar(260))`, property)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", property, err)
	}
	return path.String, nil
}

func (s *SQLServer) FilestreamDirectoryInUse(name string) (bool, error) {
	if !s.caps[dbcfg.PropFilestreamDirectoryName] {
		return false, nil
	}
	var n int
	err := s.queryRow([]any{&n}, `SELECT COUNT(*) FROM sys.database_filestream_options WHERE directory_name = @p1`, name)
	if err != nil {
		return false, fmt.Errorf("reading filestream directories: %w", err)
	}
	return n > 0, nil
}

var _ dbcfg.Connection = (*SQLServer)(nil)

// permissionErrors are the SQL Server error numbers that mean the login
// lacks rights on the object.
var permissionErrors = map[int32]bool{
	229:   true, // permission denied on object
	230:   true, // permission denied on column
	262:   true, // permission denied in database
	297:   true, // user does not have permission
	300:   true, // VIEW SERVER STATE or similar missing
	916:   true, // server principal cannot access database
	15151: true, // cannot find object or no permission
	15247: true, // no permission to perform action
}

type permissionError struct {
	err error
}

func (e *permissionError) Error() string { return e.err.Error() }
func (e *permissionError) Unwrap() error { return e.err }

func (e *permissionError) Is(target error) bool {
	return target == dbcfg.ErrPermissionDenied
}

// mapError marks SQL Server permission failures so they match
// dbcfg.ErrPermissionDenied and turns a missing row into dbcfg.ErrNotFound.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", dbcfg.ErrNotFound, err)
	}
	var me mssql.Error
	if errors.As(err, &me) && permissionErrors[me.Number] {
		return &permissionError{err: err}
	}
	return err
}
