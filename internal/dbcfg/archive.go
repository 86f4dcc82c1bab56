package dbcfg

import "io"

// Archive stores snapshots of applied manifests. Snapshots are versioned
// per database by the ID of the apply operation that produced them.
type Archive interface {
	// PutSnapshot stores a snapshot. size is the number of bytes that will
	// be read from r.
	PutSnapshot(database string, version int64, r io.Reader, size int64) error

	// GetSnapshot writes the snapshot with the given version to w.
	GetSnapshot(database string, version int64, w io.Writer) error

	// LatestVersion returns the highest stored version for a database, or 0.
	LatestVersion(database string) (int64, error)

	// ValidateSetup verifies that the archive is reachable and writable.
	ValidateSetup() error
}
