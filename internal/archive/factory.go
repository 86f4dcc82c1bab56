package archive

import (
	"context"
	"fmt"

	"dbcfg/internal/config"
	"dbcfg/internal/dbcfg"
)

// NewArchiveFromConfig creates an Archive based on the archive config type.
func NewArchiveFromConfig(cfg config.ArchiveConfig) (dbcfg.Archive, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryArchive(cfg.Name), nil
	case "s3":
		a, err := NewS3Archive(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_root to be set")
		}
		a, err := NewFileSystemArchive(cfg.Name, cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
