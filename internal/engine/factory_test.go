package engine

import (
	"strings"
	"testing"

	"dbcfg/internal/config"
)

func TestNewConnectionFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EngineConfig
		wantErr string
	}{
		{name: "memory", cfg: config.EngineConfig{Type: "memory"}},
		{name: "sqlserver without host", cfg: config.EngineConfig{Type: "sqlserver"}, wantErr: "requires host"},
		{name: "default type without host", cfg: config.EngineConfig{}, wantErr: "requires host"},
		{name: "unknown type", cfg: config.EngineConfig{Type: "oracle"}, wantErr: "unknown engine type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := NewConnectionFromConfig(tt.cfg, "secret")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				if conn != nil {
					t.Error("connection returned with error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewConnectionFromConfig() error = %v", err)
			}
			if _, ok := conn.(*MemoryServer); !ok {
				t.Errorf("connection = %T, want *MemoryServer", conn)
			}
		})
	}
}
