package testutil

import (
	"dbcfg/internal/archive"
	"dbcfg/internal/encryption"
)

// NewTestArchive creates an in-memory snapshot archive.
func NewTestArchive() *archive.MemoryArchive {
	return archive.NewMemoryArchive("test-archive")
}

// NewTestSealer creates a sealer that marks data instead of encrypting it.
func NewTestSealer() *encryption.TestSealer {
	return encryption.NewTestSealer()
}
