package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds tool defaults applied when the corresponding flags are not
// given. It never overrides parameters persisted in a map's descriptor.
type Config struct {
	BlockSize int `json:"block_size,omitempty"`
	NumShards int `json:"num_shards,omitempty"`
}

// ConfigFileName is the defaults file looked up in the working directory.
// In the user's config directory the file is multimap/config.json.
const ConfigFileName = ".multimap.json"

// LoadConfig reads the defaults file, preferring a project-local file over
// the per-user one. A missing file yields the zero config. The file may
// contain comments and trailing commas (HuJSON).
func LoadConfig(workDir string, env map[string]string) (Config, error) {
	paths := []string{filepath.Join(workDir, ConfigFileName)}

	if dir := userConfigDir(env); dir != "" {
		paths = append(paths, filepath.Join(dir, "multimap", "config.json"))
	}

	for _, path := range paths {
		raw, err := os.ReadFile(path) //nolint:gosec // config paths are well-known locations
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}

		standardized, err := hujson.Standardize(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}

		var cfg Config
		if err := json.Unmarshal(standardized, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}

		return cfg, nil
	}

	return Config{}, nil
}

// userConfigDir resolves $XDG_CONFIG_HOME or ~/.config from the provided
// environment.
func userConfigDir(env map[string]string) string {
	if dir := env["XDG_CONFIG_HOME"]; dir != "" {
		return dir
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config")
	}

	return ""
}
