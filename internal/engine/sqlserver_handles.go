package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"dbcfg/internal/dbcfg"
)

type queuedOption struct {
	prop  dbcfg.Property
	value any
}

// sqlDatabaseHandle is a database on a SQL Server. Filegroups and log files
// created before the database exists, or in script mode, are kept on the
// handle so later lookups see them.
type sqlDatabaseHandle struct {
	s       *SQLServer
	name    string
	exists  bool
	options []queuedOption
	created []*sqlFilegroupHandle
	logs    []*sqlFileHandle
}

func (h *sqlDatabaseHandle) Name() string { return h.name }
func (h *sqlDatabaseHandle) Exists() bool { return h.exists }

func (h *sqlDatabaseHandle) State() (dbcfg.DatabaseStatus, error) {
	if !h.exists {
		return dbcfg.StatusNotCreated, nil
	}
	var state string
	if err := h.s.queryRow([]any{&state}, `SELECT state_desc FROM sys.databases WHERE name = @p1`, h.name); err != nil {
		return "", fmt.Errorf("reading state of %s: %w", h.name, err)
	}
	switch state {
	case "RECOVERY_PENDING":
		return dbcfg.StatusRecovering, nil
	case "COPYING":
		return dbcfg.StatusRestoring, nil
	case "OFFLINE_SECONDARY":
		return dbcfg.StatusOffline, nil
	}
	return dbcfg.DatabaseStatus(state), nil
}

func (h *sqlDatabaseHandle) Settings() (dbcfg.Settings, error) {
	if !h.exists {
		return dbcfg.Settings{}, fmt.Errorf("database %s: %w", h.name, dbcfg.ErrNotFound)
	}
	return h.s.readSettings(h.name)
}

func (h *sqlDatabaseHandle) SetOption(p dbcfg.Property, value any) error {
	if _, ok := options[p]; !ok {
		return fmt.Errorf("%w: %s", dbcfg.ErrUnknownProperty, p)
	}
	h.options = append(h.options, queuedOption{prop: p, value: value})
	return nil
}

// takeOption removes a queued option and returns its value.
func (h *sqlDatabaseHandle) takeOption(p dbcfg.Property) (any, bool) {
	for i, o := range h.options {
		if o.prop == p {
			h.options = slices.Delete(h.options, i, i+1)
			return o.value, true
		}
	}
	return nil, false
}

func (h *sqlDatabaseHandle) queued(p dbcfg.Property) (any, bool) {
	for _, o := range h.options {
		if o.prop == p {
			return o.value, true
		}
	}
	return nil, false
}

func (h *sqlDatabaseHandle) Create() error {
	stmt := createDatabase{name: h.name}
	if v, ok := h.takeOption(dbcfg.PropCollation); ok {
		collation, err := ident(v)
		if err != nil {
			return fmt.Errorf("collation: %w", err)
		}
		stmt.collation = collation
	}
	if v, ok := h.queued(dbcfg.PropContainmentType); ok {
		stmt.containment = fmt.Sprint(v)
	}
	if h.s.version.Cloud {
		for _, p := range []dbcfg.Property{dbcfg.PropAzureEdition, dbcfg.PropAzureServiceObjective, dbcfg.PropAzureMaxSizeMB} {
			if v, ok := h.takeOption(p); ok {
				clause, err := options[p].clause(v)
				if err != nil {
					return err
				}
				stmt.cloud = append(stmt.cloud, clause)
			}
		}
	}

	// PRIMARY has to come first in the ON clause.
	fgs := slices.Clone(h.created)
	slices.SortStableFunc(fgs, func(a, b *sqlFilegroupHandle) int {
		return boolRank(b.isPrimary()) - boolRank(a.isPrimary())
	})
	var empty []*sqlFilegroupHandle
	for _, fg := range fgs {
		if len(fg.pending) == 0 {
			if !fg.isPrimary() {
				empty = append(empty, fg)
			}
			continue
		}
		c := createFilegroup{name: fg.name, kind: fg.kind}
		for _, f := range fg.pending {
			c.files = append(c.files, f.spec)
		}
		stmt.filegroups = append(stmt.filegroups, c)
	}
	for _, f := range h.logs {
		stmt.logs = append(stmt.logs, f.spec)
	}
	if err := h.s.exec(stmt.String()); err != nil {
		return err
	}

	for _, fg := range empty {
		if err := h.s.exec(addFilegroupStatement(h.name, fg.name, fg.kind)); err != nil {
			return err
		}
	}
	for _, fg := range fgs {
		if err := fg.writeProperties(); err != nil {
			return err
		}
	}

	// A new database copies the template, so options equal to the
	// template's values need no statement.
	inherited, readErr := h.s.readSettings(dbcfg.TemplateDatabase)
	err := h.writeOptions(dbcfg.FailOnOpenTransactions, func(o queuedOption) bool {
		if o.prop == dbcfg.PropContainmentType {
			return true
		}
		if readErr != nil {
			return false
		}
		v, _ := inherited.Get(o.prop)
		return v == o.value
	})
	if err != nil {
		return err
	}

	if h.s.ScriptOnly() {
		return nil
	}
	h.exists = true
	for _, fg := range h.created {
		fg.exists = true
		for _, f := range fg.pending {
			f.exists = true
		}
		fg.pending = nil
	}
	for _, f := range h.logs {
		f.exists = true
	}
	h.created, h.logs = nil, nil
	return nil
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (h *sqlDatabaseHandle) Alter(t dbcfg.Termination) error {
	return h.writeOptions(t, func(queuedOption) bool { return false })
}

// writeOptions executes the queued options, except those skip reports and
// those the database cannot accept.
func (h *sqlDatabaseHandle) writeOptions(t dbcfg.Termination, skip func(queuedOption) bool) error {
	defer func() { h.options = nil }()
	contained, err := h.contained()
	if err != nil {
		return err
	}
	for _, o := range h.options {
		if skip(o) {
			continue
		}
		if containedOnly[o.prop] && !contained {
			continue
		}
		if o.prop == dbcfg.PropMirroringTimeout && o.value == 0 {
			continue
		}
		stmt, err := optionStatement(h.name, o.prop, o.value, t)
		if err != nil {
			return err
		}
		if err := h.s.exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// contained reports whether the database is, or is about to become,
// partially contained.
func (h *sqlDatabaseHandle) contained() (bool, error) {
	if v, ok := h.queued(dbcfg.PropContainmentType); ok {
		return fmt.Sprint(v) == string(dbcfg.ContainmentPartial), nil
	}
	if !h.exists || !h.s.caps[dbcfg.PropContainmentType] {
		return false, nil
	}
	var containment string
	err := h.s.queryRow([]any{&containment}, `SELECT containment_desc FROM sys.databases WHERE name = @p1`, h.name)
	if err != nil {
		return false, fmt.Errorf("reading containment of %s: %w", h.name, err)
	}
	return containment == string(dbcfg.ContainmentPartial), nil
}

func (h *sqlDatabaseHandle) Drop() error {
	if err := h.s.exec(dropDatabaseStatement(h.name)); err != nil {
		return err
	}
	if !h.s.ScriptOnly() {
		h.exists = false
	}
	return nil
}

func (h *sqlDatabaseHandle) ActiveConnections() (int, error) {
	var n int
	err := h.s.queryRow([]any{&n}, `SELECT COUNT(*) FROM sys.dm_exec_sessions
WHERE database_id = DB_ID(@p1) AND session_id <> @@SPID`, h.name)
	if err != nil {
		return 0, fmt.Errorf("counting sessions in %s: %w", h.name, err)
	}
	return n, nil
}

func (h *sqlDatabaseHandle) Filegroups() ([]dbcfg.FilegroupHandle, error) {
	var out []dbcfg.FilegroupHandle
	if h.exists {
		rows, err := h.s.readFilegroups(h.name)
		if err != nil {
			return nil, fmt.Errorf("listing filegroups of %s: %w", h.name, err)
		}
		for _, r := range rows {
			out = append(out, &sqlFilegroupHandle{db: h, name: r.name, kind: r.kind, exists: true})
		}
	}
	for _, fg := range h.created {
		out = append(out, fg)
	}
	return out, nil
}

func (h *sqlDatabaseHandle) Filegroup(name string) (dbcfg.FilegroupHandle, error) {
	for _, fg := range h.created {
		if strings.EqualFold(fg.name, name) {
			return fg, nil
		}
	}
	if !h.exists {
		return nil, nil
	}
	row, err := h.findFilegroup(name)
	if err != nil || row == nil {
		return nil, err
	}
	return &sqlFilegroupHandle{db: h, name: row.name, kind: row.kind, exists: true}, nil
}

func (h *sqlDatabaseHandle) findFilegroup(name string) (*catalogFilegroup, error) {
	rows, err := h.s.readFilegroups(h.name)
	if err != nil {
		return nil, fmt.Errorf("reading filegroup %s.%s: %w", h.name, name, err)
	}
	for i := range rows {
		if strings.EqualFold(rows[i].name, name) {
			return &rows[i], nil
		}
	}
	return nil, nil
}

func (h *sqlDatabaseHandle) NewFilegroup(name string, kind dbcfg.FilegroupKind) (dbcfg.FilegroupHandle, error) {
	return &sqlFilegroupHandle{db: h, name: name, kind: kind}, nil
}

func (h *sqlDatabaseHandle) LogFiles() ([]dbcfg.FileHandle, error) {
	var out []dbcfg.FileHandle
	if h.exists {
		rows, err := h.s.readFiles(h.name, "")
		if err != nil {
			return nil, fmt.Errorf("listing log files of %s: %w", h.name, err)
		}
		for _, r := range rows {
			out = append(out, &sqlFileHandle{db: h, name: r.name, exists: true})
		}
	}
	for _, f := range h.logs {
		out = append(out, f)
	}
	return out, nil
}

func (h *sqlDatabaseHandle) LogFile(name string) (dbcfg.FileHandle, error) {
	for _, f := range h.logs {
		if strings.EqualFold(f.name, name) {
			return f, nil
		}
	}
	if !h.exists {
		return nil, nil
	}
	rows, err := h.s.readFiles(h.name, "")
	if err != nil {
		return nil, fmt.Errorf("reading log file %s.%s: %w", h.name, name, err)
	}
	for _, r := range rows {
		if strings.EqualFold(r.name, name) {
			return &sqlFileHandle{db: h, name: r.name, exists: true}, nil
		}
	}
	return nil, nil
}

func (h *sqlDatabaseHandle) NewLogFile(name string) (dbcfg.FileHandle, error) {
	return &sqlFileHandle{db: h, name: name, spec: fileSpec{name: name}}, nil
}

func (h *sqlDatabaseHandle) DefaultFilegroup(kind dbcfg.FilegroupKind) (string, error) {
	if !h.exists {
		// A new database starts with PRIMARY as its only default.
		if kind == dbcfg.RowsFilegroup {
			return dbcfg.PrimaryFilegroupName, nil
		}
		return "", nil
	}
	var name string
	err := h.s.queryRow([]any{&name}, `SELECT name FROM `+quoteName(h.name)+`.sys.filegroups
WHERE is_default = 1 AND type = @p1`, filegroupTypeOf(kind))
	if dbcfgNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading default %s filegroup of %s: %w", kind, h.name, err)
	}
	return name, nil
}

func (h *sqlDatabaseHandle) SetDefaultFilegroup(kind dbcfg.FilegroupKind, name string) error {
	return h.s.exec(modifyFilegroupStatement(h.name, name, "DEFAULT"))
}

func (h *sqlDatabaseHandle) SetSnapshotIsolation(enabled bool) error {
	return h.s.exec(snapshotIsolationStatement(h.name, enabled))
}

func (h *sqlDatabaseHandle) SetOwner(login string) error {
	return h.s.exec(ownerStatement(h.name, login))
}

var _ dbcfg.DatabaseHandle = (*sqlDatabaseHandle)(nil)

// sqlFilegroupHandle is a filegroup; pending holds the files created while
// the filegroup is not on the server yet.
type sqlFilegroupHandle struct {
	db     *sqlDatabaseHandle
	name   string
	kind   dbcfg.FilegroupKind
	exists bool

	readOnly         *bool
	autogrowAllFiles *bool
	pending          []*sqlFileHandle
}

func (h *sqlFilegroupHandle) Name() string              { return h.name }
func (h *sqlFilegroupHandle) Kind() dbcfg.FilegroupKind { return h.kind }
func (h *sqlFilegroupHandle) SetReadOnly(v bool)        { h.readOnly = &v }
func (h *sqlFilegroupHandle) SetAutogrowAllFiles(v bool) {
	h.autogrowAllFiles = &v
}

func (h *sqlFilegroupHandle) isPrimary() bool {
	return strings.EqualFold(h.name, dbcfg.PrimaryFilegroupName)
}

func (h *sqlFilegroupHandle) Info() (dbcfg.FilegroupInfo, error) {
	if !h.exists {
		info := dbcfg.FilegroupInfo{Name: h.name, Kind: h.kind}
		if h.readOnly != nil {
			info.ReadOnly = *h.readOnly
		}
		if h.autogrowAllFiles != nil {
			info.AutogrowAllFiles = *h.autogrowAllFiles
		}
		return info, nil
	}
	row, err := h.db.findFilegroup(h.name)
	if err != nil {
		return dbcfg.FilegroupInfo{}, err
	}
	if row == nil {
		return dbcfg.FilegroupInfo{}, fmt.Errorf("filegroup %s.%s: %w", h.db.name, h.name, dbcfg.ErrNotFound)
	}
	return dbcfg.FilegroupInfo{
		Name:             row.name,
		Kind:             row.kind,
		ReadOnly:         row.readOnly,
		Default:          row.isDefault,
		AutogrowAllFiles: row.autogrowAllFiles,
	}, nil
}

// writeProperties executes the staged property changes.
func (h *sqlFilegroupHandle) writeProperties() error {
	if h.readOnly != nil {
		clause := "READ_WRITE"
		if *h.readOnly {
			clause = "READ_ONLY"
		}
		if err := h.db.s.exec(modifyFilegroupStatement(h.db.name, h.name, clause)); err != nil {
			return err
		}
		h.readOnly = nil
	}
	if h.autogrowAllFiles != nil {
		clause := "AUTOGROW_SINGLE_FILE"
		if *h.autogrowAllFiles {
			clause = "AUTOGROW_ALL_FILES"
		}
		if err := h.db.s.exec(modifyFilegroupStatement(h.db.name, h.name, clause)); err != nil {
			return err
		}
		h.autogrowAllFiles = nil
	}
	return nil
}

func (h *sqlFilegroupHandle) Create() error {
	if !h.db.exists {
		if !slices.Contains(h.db.created, h) {
			h.db.created = append(h.db.created, h)
		}
		return nil
	}
	if err := h.db.s.exec(addFilegroupStatement(h.db.name, h.name, h.kind)); err != nil {
		return err
	}
	if err := h.writeProperties(); err != nil {
		return err
	}
	if h.db.s.ScriptOnly() {
		h.db.created = append(h.db.created, h)
		return nil
	}
	h.exists = true
	return nil
}

func (h *sqlFilegroupHandle) Alter() error {
	return h.writeProperties()
}

func (h *sqlFilegroupHandle) Drop() error {
	files, err := h.db.s.readFiles(h.db.name, h.name)
	if err != nil {
		return fmt.Errorf("listing files of %s.%s: %w", h.db.name, h.name, err)
	}
	for _, f := range files {
		if err := h.db.s.exec(removeFileStatement(h.db.name, f.name)); err != nil {
			return err
		}
	}
	if err := h.db.s.exec(removeFilegroupStatement(h.db.name, h.name)); err != nil {
		return err
	}
	if !h.db.s.ScriptOnly() {
		h.exists = false
	}
	return nil
}

func (h *sqlFilegroupHandle) Files() ([]dbcfg.FileHandle, error) {
	var out []dbcfg.FileHandle
	if h.exists {
		rows, err := h.db.s.readFiles(h.db.name, h.name)
		if err != nil {
			return nil, fmt.Errorf("listing files of %s.%s: %w", h.db.name, h.name, err)
		}
		for _, r := range rows {
			out = append(out, &sqlFileHandle{db: h.db, fg: h, name: r.name, exists: true})
		}
	}
	for _, f := range h.pending {
		out = append(out, f)
	}
	return out, nil
}

func (h *sqlFilegroupHandle) File(name string) (dbcfg.FileHandle, error) {
	for _, f := range h.pending {
		if strings.EqualFold(f.name, name) {
			return f, nil
		}
	}
	if !h.exists {
		return nil, nil
	}
	rows, err := h.db.s.readFiles(h.db.name, h.name)
	if err != nil {
		return nil, fmt.Errorf("reading file %s.%s: %w", h.db.name, name, err)
	}
	for _, r := range rows {
		if strings.EqualFold(r.name, name) {
			return &sqlFileHandle{db: h.db, fg: h, name: r.name, exists: true}, nil
		}
	}
	return nil, nil
}

func (h *sqlFilegroupHandle) NewFile(name string) (dbcfg.FileHandle, error) {
	spec := fileSpec{name: name, stream: h.kind != dbcfg.RowsFilegroup}
	return &sqlFileHandle{db: h.db, fg: h, name: name, spec: spec}, nil
}

var _ dbcfg.FilegroupHandle = (*sqlFilegroupHandle)(nil)

// sqlFileHandle is a data, log or container file. For an existing file the
// setters stage MODIFY FILE clauses; for a new one they fill in spec.
type sqlFileHandle struct {
	db     *sqlDatabaseHandle
	fg     *sqlFilegroupHandle // nil for log files
	name   string
	exists bool

	spec    fileSpec
	changes []string
}

func (h *sqlFileHandle) Name() string { return h.name }

func (h *sqlFileHandle) catalog() (catalogFile, error) {
	fg := ""
	if h.fg != nil {
		fg = h.fg.name
	}
	rows, err := h.db.s.readFiles(h.db.name, fg)
	if err != nil {
		return catalogFile{}, fmt.Errorf("reading file %s.%s: %w", h.db.name, h.name, err)
	}
	for _, r := range rows {
		if strings.EqualFold(r.name, h.name) {
			return r, nil
		}
	}
	return catalogFile{}, fmt.Errorf("file %s.%s: %w", h.db.name, h.name, dbcfg.ErrNotFound)
}

func (h *sqlFileHandle) Info() (dbcfg.FileInfo, error) {
	if !h.exists {
		return dbcfg.FileInfo{
			Name:         h.spec.name,
			PhysicalName: h.spec.path,
			SizeKB:       h.spec.sizeKB,
			Growth:       h.spec.growth,
			MaxSizeKB:    h.spec.maxSizeKB,
			Unrestricted: h.spec.unrestricted,
		}, nil
	}
	f, err := h.catalog()
	if err != nil {
		return dbcfg.FileInfo{}, err
	}
	return f.info(), nil
}

func (h *sqlFileHandle) GrowthType() (dbcfg.GrowthType, error) {
	if !h.exists {
		return h.spec.growthType, nil
	}
	f, err := h.catalog()
	if err != nil {
		return dbcfg.GrowthNone, err
	}
	return f.growthType(), nil
}

func (h *sqlFileHandle) Rename(newName string) error {
	if h.exists {
		if err := h.db.s.exec(renameFileStatement(h.db.name, h.name, newName)); err != nil {
			return err
		}
	}
	h.name = newName
	h.spec.name = newName
	return nil
}

func (h *sqlFileHandle) SetPhysicalName(path string) {
	h.spec.path = path
	h.changes = append(h.changes, "FILENAME = "+quoteString(path))
}

func (h *sqlFileHandle) SetSizeKB(kb float64) {
	h.spec.sizeKB = kb
	h.changes = append(h.changes, fmt.Sprintf("SIZE = %dKB", wholeKB(kb)))
}

func (h *sqlFileHandle) SetGrowth(t dbcfg.GrowthType, amount float64) {
	h.spec.growthType = t
	h.spec.growth = amount
	h.changes = append(h.changes, "FILEGROWTH = "+growthClause(t, amount))
}

func (h *sqlFileHandle) SetMaxSize(kb float64, unrestricted bool) {
	h.spec.maxSizeKB = kb
	h.spec.unrestricted = unrestricted
	h.changes = append(h.changes, "MAXSIZE = "+maxSizeClause(kb, unrestricted))
}

func (h *sqlFileHandle) Shrink(targetKB float64) error {
	return h.db.s.exec(shrinkFileStatement(h.db.name, h.name, targetKB))
}

func (h *sqlFileHandle) Create() error {
	h.changes = nil
	h.spec.name = h.name
	pending := !h.db.exists || (h.fg != nil && !h.fg.exists && !h.db.s.ScriptOnly())
	if !pending {
		fg := ""
		if h.fg != nil {
			fg = h.fg.name
		}
		if err := h.db.s.exec(addFileStatement(h.db.name, h.spec, fg)); err != nil {
			return err
		}
		if !h.db.s.ScriptOnly() {
			h.exists = true
			return nil
		}
	}
	if h.fg != nil {
		h.fg.pending = append(h.fg.pending, h)
	} else {
		h.db.logs = append(h.db.logs, h)
	}
	return nil
}

func (h *sqlFileHandle) Alter() error {
	defer func() { h.changes = nil }()
	for _, c := range h.changes {
		if err := h.db.s.exec(modifyFileStatement(h.db.name, h.name, c)); err != nil {
			return err
		}
	}
	return nil
}

func (h *sqlFileHandle) Drop() error {
	return h.db.s.exec(removeFileStatement(h.db.name, h.name))
}

var _ dbcfg.FileHandle = (*sqlFileHandle)(nil)

func dbcfgNotFound(err error) bool {
	return errors.Is(err, dbcfg.ErrNotFound)
}
