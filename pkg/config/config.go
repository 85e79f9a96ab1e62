// Package config loads settings for the um commands. Values come from the
// defaults, then an optional TOML file, then UM_* environment variables.
// Command-line flags are applied by the commands on top.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"
)

// Config is the complete settings tree.
type Config struct {
	Log      Log      `toml:"log"`
	Snapshot Snapshot `toml:"snapshot"`
	Console  Console  `toml:"console"`
}

// Log configures the process logger.
type Log struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Journal bool   `toml:"journal"`
}

// Snapshot configures the suspended machine store.
type Snapshot struct {
	Dir string `toml:"dir"`
}

// Console configures the remote console.
type Console struct {
	Listen string `toml:"listen"`
	// Fingerprint pins the server certificate on the client side.
	Fingerprint string `toml:"fingerprint"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Log:      Log{Level: "info"},
		Snapshot: Snapshot{Dir: "um-snapshots"},
		Console:  Console{Listen: "localhost:4850"},
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parse error in %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, key := range undecoded {
				keys[i] = key.String()
			}
			return Config{}, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	env.Load()
	c.Log.Level = env.Str("UM_LOG_LEVEL", c.Log.Level)
	c.Log.File = env.Str("UM_LOG_FILE", c.Log.File)
	if env.Has("UM_LOG_JOURNAL") {
		c.Log.Journal = env.Bool("UM_LOG_JOURNAL")
	}
	c.Snapshot.Dir = env.Str("UM_SNAPSHOT_DIR", c.Snapshot.Dir)
	c.Console.Listen = env.Str("UM_LISTEN", c.Console.Listen)
	c.Console.Fingerprint = env.Str("UM_FINGERPRINT", c.Console.Fingerprint)
}
