package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("DBCFG_CONFIG_PATH", "/etc/dbcfg/prod.toml")
		t.Setenv("DBCFG_HOME", "/srv/dbcfg")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		want := map[string]string{
			"config_path": "/etc/dbcfg/prod.toml",
			"base_dir":    "/srv/dbcfg",
			"log_dir":     "/srv/dbcfg/log",
		}
		for k, v := range want {
			if defaults[k] != v {
				t.Errorf("%s = %q, want %q", k, defaults[k], v)
			}
		}
	})

	t.Run("home directory layout", func(t *testing.T) {
		t.Setenv("DBCFG_CONFIG_PATH", "")
		t.Setenv("DBCFG_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		wantBase := filepath.Join(homeDir, ".local", "share", "dbcfg")
		want := map[string]string{
			"config_path": filepath.Join(homeDir, ".config", "dbcfg.toml"),
			"base_dir":    wantBase,
			"log_dir":     filepath.Join(wantBase, "log"),
		}
		for k, v := range want {
			if defaults[k] != v {
				t.Errorf("%s = %q, want %q", k, defaults[k], v)
			}
		}
	})
}
