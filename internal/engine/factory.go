package engine

import (
	"fmt"

	"dbcfg/internal/config"
	"dbcfg/internal/dbcfg"
)

// NewConnectionFromConfig creates an engine connection based on the
// configuration type. password is used by engines that log in; the caller
// reads it from the sealed password file or the environment.
func NewConnectionFromConfig(cfg config.EngineConfig, password string) (dbcfg.Connection, error) {
	switch cfg.Type {
	case "sqlserver", "":
		if cfg.Host == "" {
			return nil, fmt.Errorf("sqlserver engine requires host")
		}
		s, err := OpenSQLServer(SQLServerConfig{
			Host:                   cfg.Host,
			Port:                   cfg.Port,
			User:                   cfg.User,
			Password:               password,
			Encrypt:                cfg.Encrypt,
			TrustServerCertificate: cfg.TrustServerCertificate,
			Timeout:                cfg.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryServer(), nil
	default:
		return nil, fmt.Errorf("unknown engine type: %q", cfg.Type)
	}
}
