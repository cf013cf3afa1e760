package backend

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"budget/internal/config"
)

var errNilConfig = errors.New("backend: app config is nil")

// FromAppConfig picks the store named by DATA_BACKEND. The sqlite path is
// cleaned; memory ignores it.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errNilConfig
	}
	cfg := Config{Type: BackendType(strings.ToLower(strings.TrimSpace(appConfig.DataBackend)))}
	if cfg.Type == SQLiteBackend && appConfig.SQLiteDBPath != "" {
		cfg.SQLiteDBPath = filepath.Clean(appConfig.SQLiteDBPath)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the type is known and sqlite has somewhere to live.
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("backend: unknown type %q (want one of %s)",
			c.Type, strings.Join(GetBackendTypeStrings(), ", "))
	}
	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return errors.New("backend: sqlite needs a database path")
	}
	return nil
}

// GetBackendTypes lists the stores this build can open.
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend}
}

// GetBackendTypeStrings is GetBackendTypes as strings.
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}
