package dbcfg

import (
	"fmt"
	"strings"
)

// ApplyOptions control ApplyChanges.
type ApplyOptions struct {
	// Force lets alters that need exclusive access proceed while other
	// sessions are connected; their open transactions are rolled back.
	Force bool
}

// ApplyChanges converges the engine to the edited state. Steps run in a
// fixed order and the first failure aborts the rest:
//
//  1. exclusive-access precondition
//  2. filegroups
//  3. files
//  4. scalar settings
//  5. create or alter the database
//  6. default filegroups
//  7. removals
//  8. settings that need an existing database
//
// After a successful live run the edited state becomes the original state,
// so a second call without edits does nothing.
func (db *DatabasePrototype) ApplyChanges(opts ApplyOptions) error {
	if !db.ChangesExist() {
		db.logger.Debug("no changes", "database", db.name)
		return nil
	}
	h := db.handle
	scriptOnly := db.conn.ScriptOnly()

	termination, err := db.checkExclusiveAccess(opts, scriptOnly)
	if err != nil {
		return err
	}

	db.logger.Debug("applying filegroups", "database", db.name, "count", len(db.filegroups))
	for _, fg := range db.filegroups {
		if err := fg.ApplyChanges(h, db.caps); err != nil {
			return err
		}
	}

	db.logger.Debug("applying files", "database", db.name, "count", len(db.files))
	for _, f := range db.files {
		if err := f.ApplyChanges(h); err != nil {
			return err
		}
	}

	if err := db.applySettings(h); err != nil {
		return err
	}

	if db.exists {
		db.logger.Info("altering database", "database", db.name, "termination", termination.String())
		if err := h.Alter(termination); err != nil {
			return fmt.Errorf("altering database %s: %w", db.name, err)
		}
	} else {
		if err := db.validateFilestreamDirectory(); err != nil {
			return err
		}
		db.logger.Info("creating database", "database", db.name)
		if err := h.Create(); err != nil {
			return fmt.Errorf("creating database %s: %w", db.name, err)
		}
	}

	if err := db.applyDefaultFilegroups(h); err != nil {
		return err
	}
	if err := db.applyRemovals(h); err != nil {
		return err
	}
	if h.Exists() && !scriptOnly {
		if err := db.applyDeferred(h); err != nil {
			return err
		}
	}

	if !scriptOnly {
		db.commit()
	}
	return nil
}

// exclusiveChanging reports whether a setting that needs exclusive access
// to the database is being changed.
func (db *DatabasePrototype) exclusiveChanging() bool {
	for _, p := range db.changedSettings() {
		if settingsByProp[p].exclusive {
			return true
		}
	}
	return false
}

func (db *DatabasePrototype) checkExclusiveAccess(opts ApplyOptions, scriptOnly bool) (Termination, error) {
	if !db.exists || scriptOnly || !db.exclusiveChanging() {
		return FailOnOpenTransactions, nil
	}
	n, err := db.handle.ActiveConnections()
	if err == nil && n == 0 {
		return FailOnOpenTransactions, nil
	}
	if opts.Force {
		db.logger.Warn("forcing exclusive alter", "database", db.name, "connections", n, "error", err)
		return RollbackImmediate, nil
	}
	return FailOnOpenTransactions, &PreconditionError{
		Database:          db.name,
		ActiveConnections: n,
		Unknown:           err != nil,
		Cause:             err,
	}
}

// applySettings queues every supported, non-deferred setting that is new or
// differs from the engine.
func (db *DatabasePrototype) applySettings(h DatabaseHandle) error {
	var server Settings
	if db.exists {
		var err error
		server, err = h.Settings()
		if err != nil {
			return fmt.Errorf("reading settings of %s: %w", db.name, err)
		}
	}
	written := 0
	for i := range settings {
		s := &settings[i]
		if s.deferred || !db.caps.Supports(s.prop) {
			continue
		}
		v := s.get(&db.current)
		if db.exists && v == s.get(&server) {
			continue
		}
		if !db.exists && isZeroSetting(v) {
			continue
		}
		if err := h.SetOption(s.prop, v); err != nil {
			return fmt.Errorf("setting %s on %s: %w", s.prop, db.name, err)
		}
		written++
	}
	db.logger.Debug("settings queued", "database", db.name, "count", written)
	return nil
}

// isZeroSetting reports an unset string setting, which a new database
// takes from the engine.
func isZeroSetting(v any) bool {
	s, ok := v.(string)
	return ok && s == ""
}

func (db *DatabasePrototype) validateFilestreamDirectory() error {
	dir := db.current.FilestreamDirectoryName
	if dir == "" || !db.caps.Supports(PropFilestreamDirectoryName) {
		return nil
	}
	if err := validatePhysicalName(dir); err != nil {
		return fmt.Errorf("filestream directory: %w", err)
	}
	inUse, err := db.conn.FilestreamDirectoryInUse(dir)
	if err != nil {
		return fmt.Errorf("checking filestream directory %s: %w", dir, err)
	}
	if inUse {
		return fmt.Errorf("filestream directory %s: %w", dir, ErrAlreadyExists)
	}
	return nil
}

func (db *DatabasePrototype) applyDefaultFilegroups(h DatabaseHandle) error {
	for _, kind := range FilegroupKinds {
		def := db.DefaultFilegroup(kind)
		if def == nil {
			continue
		}
		server, err := h.DefaultFilegroup(kind)
		if err != nil {
			return fmt.Errorf("reading default %s filegroup: %w", kind, err)
		}
		if strings.EqualFold(server, def.Name()) {
			continue
		}
		db.logger.Info("setting default filegroup", "database", db.name, "kind", kind.String(), "filegroup", def.Name())
		if err := h.SetDefaultFilegroup(kind, def.Name()); err != nil {
			return fmt.Errorf("setting default %s filegroup to %s: %w", kind, def.Name(), err)
		}
	}
	return nil
}

// removalOrder returns the filegroups to drop, keeping their order but
// moving each kind's former default to the end.
func removalOrder(fgs []*FilegroupPrototype) []*FilegroupPrototype {
	out := make([]*FilegroupPrototype, 0, len(fgs))
	var defaults []*FilegroupPrototype
	for _, fg := range fgs {
		if fg.original.isDefault {
			defaults = append(defaults, fg)
			continue
		}
		out = append(out, fg)
	}
	return append(out, defaults...)
}

func (db *DatabasePrototype) applyRemovals(h DatabaseHandle) error {
	for _, fg := range removalOrder(db.removedFilegroups) {
		db.logger.Info("dropping filegroup", "database", db.name, "filegroup", fg.original.name)
		if err := fg.drop(h); err != nil {
			return err
		}
	}
	for _, f := range db.removedFiles {
		db.logger.Info("dropping file", "database", db.name, "file", f.original.name)
		if err := f.drop(h); err != nil {
			return err
		}
	}
	return nil
}

// applyDeferred writes snapshot isolation and the owner, which the engine
// only accepts on an existing database.
func (db *DatabasePrototype) applyDeferred(h DatabaseHandle) error {
	server, err := h.Settings()
	if err != nil {
		return fmt.Errorf("reading settings of %s: %w", db.name, err)
	}
	if db.caps.Supports(PropAllowSnapshotIsolation) && db.current.AllowSnapshotIsolation != server.AllowSnapshotIsolation {
		if err := h.SetSnapshotIsolation(db.current.AllowSnapshotIsolation); err != nil {
			return fmt.Errorf("setting snapshot isolation on %s: %w", db.name, err)
		}
	}
	owner := db.current.Owner
	if db.caps.Supports(PropOwner) && owner != "" && !strings.EqualFold(owner, server.Owner) {
		db.logger.Info("transferring ownership", "database", db.name, "owner", owner)
		if err := h.SetOwner(owner); err != nil {
			return &OwnerTransferError{Database: db.name, Owner: owner, Cause: err}
		}
	}
	return nil
}

func (db *DatabasePrototype) commit() {
	db.exists = true
	db.original = db.current
	for _, fg := range db.filegroups {
		fg.commit()
	}
	for _, f := range db.files {
		f.commit()
	}
	db.removedFilegroups = nil
	db.removedFiles = nil
}
