package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dbcfg/internal/dbcfg"
)

const snapshotExt = ".snapshot"

// FileSystemArchive stores snapshots as files:
//
//	<root>/
//	  <database>/
//	    <version>.snapshot
//
// Database names are path-escaped.
type FileSystemArchive struct {
	name string
	root string
}

// NewFileSystemArchive creates an archive rooted at root, creating the
// directory if needed.
func NewFileSystemArchive(name, root string) (*FileSystemArchive, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileSystemArchive{name: name, root: root}, nil
}

func (a *FileSystemArchive) databaseDir(database string) string {
	return filepath.Join(a.root, url.PathEscape(database))
}

func (a *FileSystemArchive) snapshotPath(database string, version int64) string {
	return filepath.Join(a.databaseDir(database), strconv.FormatInt(version, 10)+snapshotExt)
}

func (a *FileSystemArchive) PutSnapshot(database string, version int64, r io.Reader, size int64) error {
	dir := a.databaseDir(database)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return writeFile(a.snapshotPath(database, version), r, size)
}

func (a *FileSystemArchive) GetSnapshot(database string, version int64, w io.Writer) error {
	f, err := os.Open(a.snapshotPath(database, version))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("snapshot %s/%d: %w", database, version, dbcfg.ErrNotFound)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// LatestVersion scans the database directory. Files that do not parse as
// a version are ignored.
func (a *FileSystemArchive) LatestVersion(database string) (int64, error) {
	entries, err := os.ReadDir(a.databaseDir(database))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading archive directory: %w", err)
	}

	var latest int64
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), snapshotExt)
		if !ok || e.IsDir() {
			continue
		}
		v, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		latest = max(latest, v)
	}
	return latest, nil
}

// ValidateSetup verifies that the archive root is a writable directory.
func (a *FileSystemArchive) ValidateSetup() error {
	info, err := os.Stat(a.root)
	if err != nil {
		return fmt.Errorf("archive root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive root is not a directory: %s", a.root)
	}

	probe, err := os.CreateTemp(a.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("archive root not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// writeFile writes r to destPath through a temp file and rename, so a
// reader never sees a partial snapshot.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ dbcfg.Archive = (*FileSystemArchive)(nil)
