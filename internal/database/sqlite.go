package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dbcfg/internal/dbcfg"
	"dbcfg/internal/database/migrations"
	"dbcfg/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteHistory implements dbcfg.History on a SQLite database.
type SQLiteHistory struct {
	db     *sql.DB
	path   string
	hostID string
}

// NewSQLiteHistory opens the history database at path. path can be a file
// path or ":memory:". Operations started through it are stamped with hostID.
// The schema is not migrated; call Migrate or CheckMigrations.
func NewSQLiteHistory(path, hostID string) (*SQLiteHistory, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}
	return &SQLiteHistory{db: db, path: path, hostID: hostID}, nil
}

// NewSQLiteHistoryFromDB wraps an open connection whose schema is already
// in place.
func NewSQLiteHistoryFromDB(db *sql.DB, hostID string) *SQLiteHistory {
	return &SQLiteHistory{db: db, path: ":memory:", hostID: hostID}
}

// OpenConnection opens and configures a SQLite database connection with the
// PRAGMAs the history store relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// apply_changes rows cascade with their operation.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

const operationColumns = `id, ref, host_id, database_name, started_at, finished_at,
	status, forced, script_only, message`

func scanOperation(row interface{ Scan(...any) error }) (*model.ApplyOperation, error) {
	var (
		op       model.ApplyOperation
		finished sql.NullTime
	)
	err := row.Scan(&op.ID, &op.Ref, &op.HostID, &op.Database, &op.StartedAt, &finished,
		&op.Status, &op.Forced, &op.ScriptOnly, &op.Message)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		op.FinishedAt = &t
	}
	return &op, nil
}

// Apply operations

func (s *SQLiteHistory) StartApply(op *model.ApplyOperation) (*model.ApplyOperation, error) {
	rec := *op
	if rec.HostID == "" {
		rec.HostID = s.hostID
	}
	if rec.Status == "" {
		rec.Status = model.StatusRunning
	}
	res, err := s.db.ExecContext(context.Background(), `
		INSERT INTO apply_operations (ref, host_id, database_name, started_at, status, forced, script_only, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Ref, rec.HostID, rec.Database, rec.StartedAt.UTC(), rec.Status, rec.Forced, rec.ScriptOnly, rec.Message)
	if err != nil {
		return nil, fmt.Errorf("creating apply operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating apply operation: %w", err)
	}
	rec.ID = id
	return &rec, nil
}

func (s *SQLiteHistory) RecordChanges(operationID int64, changes []*model.ApplyChange) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO apply_changes (operation_id, seq, entity, name, action, properties)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing change insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range changes {
		seq := c.Seq
		if seq == 0 {
			seq = i + 1
		}
		if _, err := stmt.ExecContext(ctx, operationID, seq, c.Entity, c.Name, c.Action, c.Properties); err != nil {
			return fmt.Errorf("recording change %d of operation %d: %w", seq, operationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing changes: %w", err)
	}
	return nil
}

func (s *SQLiteHistory) FinishApply(operationID int64, status, message string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(context.Background(), `
		UPDATE apply_operations SET status = ?, message = ?, finished_at = ?
		WHERE id = ?`,
		status, message, finishedAt.UTC(), operationID)
	if err != nil {
		return fmt.Errorf("finishing apply operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("apply operation %d: %w", operationID, dbcfg.ErrNotFound)
	}
	return nil
}

func (s *SQLiteHistory) ListApplies(database string, limit int) ([]*model.ApplyOperation, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT `+operationColumns+` FROM apply_operations
		WHERE ? = '' OR database_name = ?
		ORDER BY id DESC
		LIMIT ?`,
		database, database, limit)
	if err != nil {
		return nil, fmt.Errorf("listing apply operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.ApplyOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("listing apply operations: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing apply operations: %w", err)
	}
	return ops, nil
}

func (s *SQLiteHistory) FindApply(id int64) (*model.ApplyOperation, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT `+operationColumns+` FROM apply_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding apply operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteHistory) ChangesFor(operationID int64) ([]*model.ApplyChange, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT id, operation_id, seq, entity, name, action, properties
		FROM apply_changes WHERE operation_id = ?
		ORDER BY seq`, operationID)
	if err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}
	defer rows.Close()

	var changes []*model.ApplyChange
	for rows.Next() {
		var c model.ApplyChange
		if err := rows.Scan(&c.ID, &c.OperationID, &c.Seq, &c.Entity, &c.Name, &c.Action, &c.Properties); err != nil {
			return nil, fmt.Errorf("listing changes: %w", err)
		}
		changes = append(changes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}
	return changes, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteHistory) Path() string {
	return s.path
}

// Migrate brings the schema to the latest version.
func (s *SQLiteHistory) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteHistory) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteHistory) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up history: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteHistory) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ dbcfg.History = (*SQLiteHistory)(nil)
