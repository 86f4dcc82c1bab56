package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"dbcfg/internal/archive"
	"dbcfg/internal/config"
	"dbcfg/internal/database"
	"dbcfg/internal/dbcfg"
	"dbcfg/internal/encryption"
	"dbcfg/internal/engine"
	"dbcfg/internal/manifest"
	"dbcfg/internal/model"
)

// PasswordEnv overrides the sealed engine password file.
const PasswordEnv = "DBCFG_PASSWORD"

// HistorySnapshot is the archive name under which copies of the apply
// history are stored, versioned by the apply that produced them.
const HistorySnapshot = ".history"

// Options configures a DBCfgApp.
type Options struct {
	// Passphrase is called when the private key must be unlocked: to read
	// the sealed engine password or a sealed snapshot.
	Passphrase func() (string, error)

	// Verbose logs debug records.
	Verbose bool
}

// DBCfgApp is the application layer between the CLI and dbcfg.Service.
// It builds every dependency from config, exposes the commands as methods
// that take raw manifest paths and names, and archives the history on
// Close.
type DBCfgApp struct {
	cfg      *config.Config
	conn     dbcfg.Connection
	history  *database.SQLiteHistory
	archives []dbcfg.Archive
	sealer   dbcfg.Sealer
	service  *dbcfg.Service
	log      dbcfg.Logger
	opts     Options
	op       *Operation
	logFile  *os.File
	scripted bool
}

// NewDBCfgApp creates a fully wired DBCfgApp from the given config.
// operation names the CLI command being run (e.g. "Apply", "History").
// The caller must call Close when done.
func NewDBCfgApp(cfg *config.Config, operation string, opts Options) (*DBCfgApp, error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	a := &DBCfgApp{cfg: cfg, log: log, opts: opts, op: NewOperation(operation, ""), logFile: logFile}
	if err := a.wire(); err != nil {
		a.closeResources()
		return nil, err
	}
	a.service = dbcfg.NewService(a.conn, a.history, log, dbcfg.RealClock{}, dbcfg.UUIDGenerator{})
	return a, nil
}

func (a *DBCfgApp) wire() error {
	var err error
	a.history, err = database.NewHistoryFromConfig(a.cfg.History, a.cfg.HostID)
	if err != nil {
		return fmt.Errorf("creating history: %w", err)
	}
	if err := a.history.CheckMigrations(); err != nil {
		return fmt.Errorf("history schema out of date: %w", err)
	}

	for _, ac := range a.cfg.Archives {
		ar, err := archive.NewArchiveFromConfig(ac)
		if err != nil {
			return fmt.Errorf("creating archive %s: %w", ac.Name, err)
		}
		a.archives = append(a.archives, ar)
	}
	if err := a.checkHistoryVersion(); err != nil {
		return err
	}

	a.sealer, err = encryption.NewSealerFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating sealer: %w", err)
	}

	password, err := a.enginePassword()
	if err != nil {
		return err
	}
	a.conn, err = engine.NewConnectionFromConfig(a.cfg.Engine, password)
	if err != nil {
		return fmt.Errorf("connecting to engine: %w", err)
	}
	return nil
}

// checkHistoryVersion refuses to run when the first archive holds a newer
// copy of the history than the local one.
func (a *DBCfgApp) checkHistoryVersion() error {
	if len(a.archives) == 0 {
		return nil
	}
	remote, err := a.archives[0].LatestVersion(HistorySnapshot)
	if err != nil {
		return fmt.Errorf("checking archived history version: %w", err)
	}
	var local int64
	latest, err := a.history.ListApplies("", 1)
	if err != nil {
		return fmt.Errorf("checking local history version: %w", err)
	}
	if len(latest) > 0 {
		local = latest[0].ID
	}
	if remote > local {
		return fmt.Errorf("local history is behind the archive (local=%d, archive=%d): restore it with `dbcfg snapshot get %s %d`", local, remote, HistorySnapshot, remote)
	}
	return nil
}

// enginePassword reads the password from the environment or unseals the
// configured password file. The memory engine needs none.
func (a *DBCfgApp) enginePassword() (string, error) {
	if a.cfg.Engine.Type == "memory" {
		return "", nil
	}
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	if a.cfg.Engine.PasswordFile == "" {
		return "", nil
	}

	f, err := os.Open(a.cfg.Engine.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("opening password file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := a.unseal(f, &buf); err != nil {
		return "", fmt.Errorf("unsealing password file: %w", err)
	}
	return strings.TrimRight(buf.String(), "\r\n"), nil
}

func (a *DBCfgApp) unseal(r io.Reader, w io.Writer) error {
	if a.opts.Passphrase == nil {
		return fmt.Errorf("a passphrase is required to unlock the private key")
	}
	passphrase, err := a.opts.Passphrase()
	if err != nil {
		return fmt.Errorf("reading passphrase: %w", err)
	}
	u, err := a.sealer.Unlock(passphrase)
	if err != nil {
		return err
	}
	return u.Unseal(r, w)
}

// SealPassword seals password into the configured engine password file.
func SealPassword(cfg *config.Config, password string) error {
	if cfg.Engine.PasswordFile == "" {
		return fmt.Errorf("engine.password_file is not set")
	}
	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating sealer: %w", err)
	}

	var buf bytes.Buffer
	if err := sealer.Seal(strings.NewReader(password), &buf); err != nil {
		return fmt.Errorf("sealing password: %w", err)
	}
	if err := os.WriteFile(cfg.Engine.PasswordFile, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing password file: %w", err)
	}
	return nil
}

// SetScript switches the engine to script mode: statements are written to
// w instead of being executed, and nothing is archived.
func (a *DBCfgApp) SetScript(w io.Writer) error {
	s, ok := a.conn.(interface{ SetScript(io.Writer) })
	if !ok {
		return fmt.Errorf("engine %s cannot script changes", a.cfg.Engine.Type)
	}
	s.SetScript(w)
	a.scripted = w != nil
	return nil
}

// Show describes the current state of a database as a manifest.
func (a *DBCfgApp) Show(name string) (*manifest.Manifest, error) {
	a.op.Parameters = name
	proto, err := dbcfg.Load(a.conn, name, a.log)
	if err != nil {
		return nil, err
	}
	return manifest.Export(proto)
}

// Plan returns the changes applying the manifest at path would make.
func (a *DBCfgApp) Plan(path string) ([]dbcfg.Change, error) {
	a.op.Parameters = path
	proto, err := a.prepare(path)
	if err != nil {
		return nil, err
	}
	return a.service.Plan(proto), nil
}

// Apply applies the manifest at path. A successful apply archives the
// resulting state under the apply ID. It returns nil when there was
// nothing to change.
func (a *DBCfgApp) Apply(path string, force bool) (*model.ApplyOperation, error) {
	a.op.Parameters = path
	proto, err := a.prepare(path)
	if err != nil {
		return nil, err
	}

	op, err := a.service.Apply(proto, dbcfg.ApplyOptions{Force: force})
	if op != nil {
		a.op.ApplyID = op.ID
		a.op.Status = op.Status
	}
	if err != nil || op == nil || a.scripted {
		return op, err
	}

	if err := a.archiveState(proto.Name(), op.ID); err != nil {
		return op, err
	}
	return op, nil
}

func (a *DBCfgApp) prepare(path string) (*dbcfg.DatabasePrototype, error) {
	m, err := manifest.ReadFile(path)
	if err != nil {
		return nil, err
	}
	proto, err := a.service.Open(m.Name)
	if err != nil {
		return nil, err
	}
	if err := manifest.Apply(m, proto); err != nil {
		return nil, fmt.Errorf("applying manifest %s: %w", path, err)
	}
	return proto, nil
}

// archiveState re-reads the database and stores it as a manifest in every
// archive.
func (a *DBCfgApp) archiveState(name string, version int64) error {
	if len(a.archives) == 0 {
		return nil
	}
	proto, err := dbcfg.Load(a.conn, name, a.log)
	if err != nil {
		return fmt.Errorf("reloading %s for archive: %w", name, err)
	}
	m, err := manifest.Export(proto)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := manifest.Encode(&buf, m); err != nil {
		return err
	}
	return a.putSnapshot(name, version, buf.Bytes())
}

func (a *DBCfgApp) putSnapshot(name string, version int64, data []byte) error {
	if a.cfg.Encryption.SealSnapshots {
		var sealed bytes.Buffer
		if err := a.sealer.Seal(bytes.NewReader(data), &sealed); err != nil {
			return fmt.Errorf("sealing snapshot: %w", err)
		}
		data = sealed.Bytes()
	}

	var errs []error
	for i, ar := range a.archives {
		if err := ar.PutSnapshot(name, version, bytes.NewReader(data), int64(len(data))); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", a.cfg.Archives[i].Name, err))
			continue
		}
		a.log.Debug("snapshot archived", "database", name, "version", version, "archive", a.cfg.Archives[i].Name)
	}
	return errors.Join(errs...)
}

// Snapshot writes an archived snapshot from the first archive to w. A zero
// version selects the latest.
func (a *DBCfgApp) Snapshot(name string, version int64, w io.Writer) error {
	a.op.Parameters = name
	if len(a.archives) == 0 {
		return fmt.Errorf("no archives configured")
	}
	ar := a.archives[0]
	if version == 0 {
		latest, err := ar.LatestVersion(name)
		if err != nil {
			return err
		}
		if latest == 0 {
			return fmt.Errorf("no snapshots of %s: %w", name, dbcfg.ErrNotFound)
		}
		version = latest
	}

	if !a.cfg.Encryption.SealSnapshots {
		return ar.GetSnapshot(name, version, w)
	}
	var sealed bytes.Buffer
	if err := ar.GetSnapshot(name, version, &sealed); err != nil {
		return err
	}
	return a.unseal(&sealed, w)
}

// CheckArchives verifies every configured archive is reachable.
func (a *DBCfgApp) CheckArchives() error {
	var errs []error
	for i, ar := range a.archives {
		if err := ar.ValidateSetup(); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", a.cfg.Archives[i].Name, err))
		}
	}
	return errors.Join(errs...)
}

// History returns the most recent apply operations. An empty database
// lists every database.
func (a *DBCfgApp) History(database string, limit int) ([]*model.ApplyOperation, error) {
	return a.service.History(database, limit)
}

// Changes returns the changes recorded for an apply operation.
func (a *DBCfgApp) Changes(id int64) ([]*model.ApplyChange, error) {
	return a.service.ChangesFor(id)
}

// Close releases every resource. After a recorded apply that was not
// scripted, a copy of the history is archived under the apply ID.
func (a *DBCfgApp) Close() error {
	var firstErr error
	if a.op.Recorded() && !a.scripted && a.history != nil {
		if err := a.archiveHistory(); err != nil {
			firstErr = err
		}
	}
	if err := a.closeResources(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *DBCfgApp) archiveHistory() error {
	if len(a.archives) == 0 {
		return nil
	}
	tmp, err := os.CreateTemp("", "dbcfg-history-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for history copy: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	// VACUUM INTO refuses an existing file.
	os.Remove(path)
	defer os.Remove(path)

	if err := a.history.BackupTo(path); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading history copy: %w", err)
	}
	return a.putSnapshot(HistorySnapshot, a.op.ApplyID, data)
}

func (a *DBCfgApp) closeResources() error {
	var firstErr error
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			firstErr = fmt.Errorf("closing history: %w", err)
		}
	}
	if c, ok := a.conn.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing engine connection: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
